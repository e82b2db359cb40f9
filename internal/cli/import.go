package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swarmguard/termguard/internal/config"
	"github.com/swarmguard/termguard/internal/notify"
	"github.com/swarmguard/termguard/wordstore"
)

// ImportSummary reports what an import did.
type ImportSummary struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
}

type importOptions struct {
	harmLevel int
	disabled  bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import terms into the configured store",
		Long: `Import terms from a JSON document ({"terms": [...]}) or a plain text file
with one term per line. Duplicates are skipped. When NATS is configured a change
event is published so running instances refresh immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			sum, err := runImport(cmd.Context(), cfg, args[0], opts)
			if err != nil {
				return err
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Summary(sum, fmt.Sprintf("imported %d, duplicates %d, invalid %d",
				sum.Imported, sum.Duplicates, sum.Invalid))
		},
	}
	cmd.Flags().IntVar(&opts.harmLevel, "harm-level", 1, "harm level (1-5) for plain text terms")
	cmd.Flags().BoolVar(&opts.disabled, "disabled", false, "import plain text terms as disabled")
	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, path string, opts *importOptions) (ImportSummary, error) {
	entries, err := loadImport(path, opts)
	if err != nil {
		return ImportSummary{}, err
	}
	store, err := wordstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return ImportSummary{}, fmt.Errorf("open term store: %w", err)
	}
	defer store.Close()

	var sum ImportSummary
	if fs, ok := store.(*wordstore.FileStore); ok {
		sum, err = importIntoFile(ctx, fs, entries)
	} else {
		var w wordstore.Writer
		w, err = wordstore.AsWriter(store)
		if err == nil {
			sum, err = importInto(ctx, w, entries)
		}
	}
	if err != nil {
		return sum, err
	}
	if sum.Imported > 0 {
		announce(ctx, cfg, sum)
	}
	return sum, nil
}

func loadImport(path string, opts *importOptions) ([]wordstore.Entry, error) {
	if filepath.Ext(path) == ".json" {
		return wordstore.ReadTermFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []wordstore.Entry
	for _, line := range strings.Split(string(data), "\n") {
		term := strings.TrimSpace(line)
		if term == "" || strings.HasPrefix(term, "#") {
			continue
		}
		entries = append(entries, wordstore.Entry{Term: term, HarmLevel: opts.harmLevel, Enabled: !opts.disabled})
	}
	return entries, nil
}

func importInto(ctx context.Context, w wordstore.Writer, entries []wordstore.Entry) (ImportSummary, error) {
	var sum ImportSummary
	for _, e := range entries {
		_, err := w.Put(ctx, e)
		switch {
		case err == nil:
			sum.Imported++
		case errors.Is(err, wordstore.ErrDuplicateTerm):
			sum.Duplicates++
		case errors.Is(err, wordstore.ErrInvalidEntry):
			sum.Invalid++
			slog.Warn("skipping invalid term", "term", e.Term, "error", err)
		default:
			return sum, err
		}
	}
	return sum, nil
}

// importIntoFile merges into a single-file store by staging in memory and
// rewriting the file atomically.
func importIntoFile(ctx context.Context, fs *wordstore.FileStore, entries []wordstore.Entry) (ImportSummary, error) {
	if info, err := os.Stat(fs.Path()); err == nil && info.IsDir() {
		return ImportSummary{}, fmt.Errorf("import into directory store %s: %w", fs.Path(), wordstore.ErrReadOnly)
	}
	staging := wordstore.NewMemory()
	current, err := fs.List(ctx)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ImportSummary{}, err
	}
	for _, e := range current {
		if _, err := staging.Put(ctx, e); err != nil {
			return ImportSummary{}, fmt.Errorf("existing entry %q: %w", e.Term, err)
		}
	}
	sum, err := importInto(ctx, staging, entries)
	if err != nil {
		return sum, err
	}
	merged, err := staging.List(ctx)
	if err != nil {
		return sum, err
	}
	return sum, wordstore.WriteTermFile(fs.Path(), merged)
}

func announce(ctx context.Context, cfg *config.Config, sum ImportSummary) {
	if cfg.NATS.URL == "" {
		return
	}
	nc, err := notify.Connect(cfg.NATS.URL, service+"-import")
	if err != nil {
		slog.Warn("change not announced", "error", err)
		return
	}
	defer nc.Close()
	n := notify.New(nc, cfg.NATS.RefreshSubject, cfg.NATS.PublishSubject, hostname())
	ev := notify.ChangeEvent{Reason: fmt.Sprintf("import of %d terms", sum.Imported)}
	if err := n.AnnounceChange(ctx, ev); err != nil {
		slog.Warn("change not announced", "error", err)
		return
	}
	_ = nc.Flush()
}
