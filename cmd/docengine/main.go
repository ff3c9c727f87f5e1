// Command docengine is the reference CLI driving the reactive document
// engine: it discovers documents under a configured root, serves render and
// edit operations against the incremental query database, and optionally
// archives each run's diagnostics. Its command shape follows the teacher's
// own demo CLI (root command plus task subcommands), minus the color output
// since this module carries no color dependency.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/femtomc/monowiki-sub001/internal/diag"
	"github.com/femtomc/monowiki-sub001/internal/diagstore"
	"github.com/femtomc/monowiki-sub001/internal/engineconfig"
	"github.com/femtomc/monowiki-sub001/internal/invalidate"
	"github.com/femtomc/monowiki-sub001/internal/pipeline"
	"github.com/femtomc/monowiki-sub001/internal/query"
	"github.com/femtomc/monowiki-sub001/internal/sourcestore"
)

// engine bundles the pieces a subcommand needs: the reactive pipeline, the
// filesystem-backed source store feeding it, the invalidation bridge CRDT
// changes flow through, and an optional diagnostic archive.
type engine struct {
	cfg     engineconfig.Config
	store   *sourcestore.Store
	p       *pipeline.Pipeline
	bridge  *invalidate.Bridge[pipeline.ParseResult]
	archive *diagstore.Store
}

func newEngine(cfg engineconfig.Config) (*engine, error) {
	store := sourcestore.New(sourcestore.Scope{
		Root:    cfg.SourceRoot,
		Include: cfg.Include,
		Exclude: cfg.Exclude,
	})

	p := pipeline.New(query.NewDatabase())
	p.UseStorage(store)
	query.Set(p.DB, p.ActiveMacros, struct{}{}, pipeline.MacroConfig{})

	e := &engine{cfg: cfg, store: store, p: p, bridge: p.Bridge()}

	if cfg.DiagStorePath != "" {
		archive, err := diagstore.Open(cfg.DiagStorePath, cfg.RetentionRuns, cfg.Verbose)
		if err != nil {
			return nil, fmt.Errorf("opening diagnostic archive: %w", err)
		}
		e.archive = archive
	}
	return e, nil
}

func (e *engine) close() {
	if e.archive != nil {
		e.archive.Close()
	}
}

// diagnostics collects every diagnostic currently valid for doc across the
// parse and expand stages, the union view spec §4.13 describes.
func (e *engine) diagnostics(doc string) ([]diag.Diagnostic, error) {
	sess := query.NewSession(e.p.DB)
	expandResult, err := query.Ask(sess, e.p.Expand, doc)
	if err != nil {
		return nil, err
	}
	return expandResult.Errors, nil
}

func (e *engine) render(doc string) (string, []diag.Diagnostic, error) {
	sess := query.NewSession(e.p.DB)
	expandResult, err := query.Ask(sess, e.p.Expand, doc)
	if err != nil {
		return "", nil, err
	}
	return pipeline.RenderText(expandResult.Content), expandResult.Errors, nil
}

func buildRootCmd() *cobra.Command {
	var (
		root          string
		include       []string
		exclude       []string
		diagStorePath string
		retentionRuns int
		verbose       bool
	)

	loadConfig := func(args []string) (engineconfig.Config, error) {
		cfg := engineconfig.LoadEnv()
		flagArgs := []string{}
		if root != "" {
			flagArgs = append(flagArgs, "--root", root)
		}
		for _, inc := range include {
			flagArgs = append(flagArgs, "--include", inc)
		}
		for _, exc := range exclude {
			flagArgs = append(flagArgs, "--exclude", exc)
		}
		if diagStorePath != "" {
			flagArgs = append(flagArgs, "--diagstore", diagStorePath)
		}
		if retentionRuns != 0 {
			flagArgs = append(flagArgs, "--retention-runs", fmt.Sprint(retentionRuns))
		}
		if verbose {
			flagArgs = append(flagArgs, "--verbose")
		}
		return engineconfig.BuildFromFlags(cfg, flagArgs)
	}

	rootCmd := &cobra.Command{
		Use:   "docengine",
		Short: "Reactive document computation engine",
		Long:  "Incremental query engine over staged, hygienic documents with CRDT-driven invalidation.",
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", "", "Root directory documents are discovered under.")
	rootCmd.PersistentFlags().StringSliceVar(&include, "include", nil, "Include glob patterns.")
	rootCmd.PersistentFlags().StringSliceVar(&exclude, "exclude", nil, "Exclude glob patterns.")
	rootCmd.PersistentFlags().StringVar(&diagStorePath, "diagstore", "", "Path to the diagnostic archive database.")
	rootCmd.PersistentFlags().IntVar(&retentionRuns, "retention-runs", 0, "Archived diagnostic runs to retain (0 keeps the configured default).")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output.")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List documents found under the configured root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}
			store := sourcestore.New(sourcestore.Scope{Root: cfg.SourceRoot, Include: cfg.Include, Exclude: cfg.Exclude})
			docs, err := store.Discover()
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Println(doc)
			}
			return nil
		},
	}

	renderCmd := &cobra.Command{
		Use:   "render <doc>",
		Short: "Render a document's expanded content as plain text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			text, diags, err := eng.render(args[0])
			if err != nil {
				return err
			}
			fmt.Println(text)
			printDiagnostics(diags)

			if eng.archive != nil {
				if _, err := eng.archive.RecordRun(args[0], uint64(eng.p.DB.Revision()), diags); err != nil {
					return err
				}
			}
			return nil
		},
	}

	diagCmd := &cobra.Command{
		Use:   "diagnostics <doc>",
		Short: "Show every diagnostic currently valid for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			diags, err := eng.diagnostics(args[0])
			if err != nil {
				return err
			}
			printDiagnostics(diags)
			return nil
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit <doc> <new-text>",
		Short: "Replace a document's full text and show a unified diff of the effect on its rendered output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			doc, newText := args[0], args[1]

			before, _, err := eng.render(doc)
			if err != nil {
				return err
			}

			if err := eng.store.SetDocument(doc, newText); err != nil {
				return err
			}
			eng.bridge.OnChange(invalidate.TextChanged{Doc: doc, NewText: newText})

			after, diags, err := eng.render(doc)
			if err != nil {
				return err
			}

			fmt.Print(pipeline.UnifiedDiff(before, after, doc))
			printDiagnostics(diags)
			return nil
		},
	}

	rootCmd.AddCommand(discoverCmd, renderCmd, diagCmd, editCmd)
	return rootCmd
}

func printDiagnostics(diags []diag.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, strings.Repeat("-", 40))
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.String())
	}
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
