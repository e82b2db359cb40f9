package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swarmguard/termguard/internal/config"
	"github.com/swarmguard/termguard/matcher"
	"github.com/swarmguard/termguard/querycheck"
	"github.com/swarmguard/termguard/termcache"
	"github.com/swarmguard/termguard/wordstore"
)

// ErrRejected is returned by check --fail-on-match when any query is rejected.
var ErrRejected = errors.New("one or more queries rejected")

// CheckResult is one line of check output.
type CheckResult struct {
	Query        string            `json:"query"`
	Passed       bool              `json:"passed"`
	Action       querycheck.Action `json:"action"`
	MatchedTerms []string          `json:"matched_terms"`
	Matches      []matcher.Match   `json:"matches,omitempty"`
}

type checkOptions struct {
	locate      bool
	failOnMatch bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [query...]",
		Short: "Check queries against the configured dictionary",
		Long: `Load the dictionary once and check each query argument, or each line of
stdin when no arguments are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			queries := args
			if len(queries) == 0 {
				queries, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			return runCheck(cmd.Context(), cfg, opts, queries, &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()})
		},
	}
	cmd.Flags().BoolVar(&opts.locate, "locate", false, "report byte offsets of every occurrence")
	cmd.Flags().BoolVar(&opts.failOnMatch, "fail-on-match", false, "exit non-zero when a query is rejected")
	return cmd
}

func runCheck(ctx context.Context, cfg *config.Config, opts *checkOptions, queries []string, out *OutputFormatter) error {
	store, err := wordstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open term store: %w", err)
	}
	defer store.Close()

	cache := termcache.New()
	if cfg.Enabled {
		if err := cache.RebuildFrom(ctx, store); err != nil {
			return err
		}
	}
	policy, err := buildPolicy(ctx, cfg)
	if err != nil {
		return err
	}
	svc := querycheck.NewService(cache, querycheck.Options{
		Enabled:  cfg.Enabled,
		FailMode: querycheck.FailMode(cfg.FailMode),
		Policy:   policy,
	})

	rejected := false
	for _, q := range queries {
		d := svc.Evaluate(ctx, q)
		res := CheckResult{Query: q, Passed: d.Passed, Action: d.Action, MatchedTerms: d.MatchedTerms}
		if opts.locate && d.HasMatches() {
			res.Matches = cache.Active().Automaton.Locate(q)
		}
		if d.Action == querycheck.ActionReject {
			rejected = true
		}
		if err := out.Result(res); err != nil {
			return err
		}
	}
	if rejected && opts.failOnMatch {
		return ErrRejected
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
