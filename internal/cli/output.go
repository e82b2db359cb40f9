package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormatter writes command results as text or JSON lines.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Result writes one check result.
func (f *OutputFormatter) Result(r CheckResult) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(r)
	}
	if r.Passed {
		_, err := fmt.Fprintf(f.Writer, "PASS\t%s\n", r.Query)
		return err
	}
	label := strings.ToUpper(string(r.Action))
	if _, err := fmt.Fprintf(f.Writer, "%s\t%s\t[%s]\n", label, r.Query, strings.Join(r.MatchedTerms, ", ")); err != nil {
		return err
	}
	for _, m := range r.Matches {
		if _, err := fmt.Fprintf(f.Writer, "\t%q at %d+%d\n", m.Term, m.Offset, m.Length); err != nil {
			return err
		}
	}
	return nil
}

// Summary writes a key/value summary.
func (f *OutputFormatter) Summary(v any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(v)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}
