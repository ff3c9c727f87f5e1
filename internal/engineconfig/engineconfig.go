// Package engineconfig resolves the document engine's ambient configuration
// from a .env file, environment variables, and CLI flags, in that order of
// increasing precedence — the same layering the teacher's own config
// package uses (LoadConfig for env defaults, cli.go's pflag set for the
// command line), generalized from a single flat struct into this engine's
// settings.
package engineconfig

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config holds the document engine's resolved settings.
type Config struct {
	// SourceRoot is the directory sourcestore discovers documents under.
	SourceRoot string

	// Include/Exclude are glob patterns bounding document discovery.
	Include []string
	Exclude []string

	// DiagStorePath is the sqlite file (or libsql URL) diagstore opens;
	// empty disables the diagnostic archive entirely.
	DiagStorePath string

	// RetentionRuns bounds how many archived diagnostic runs diagstore keeps.
	RetentionRuns int

	// Viewport is the default layout viewport when none is given on the CLI.
	ViewportWidth  int
	ViewportHeight int

	Verbose bool
	JSON    bool
}

// defaults mirrors the teacher's own LoadConfig: every field has a sane
// fallback before env vars or flags are consulted.
func defaults() Config {
	return Config{
		SourceRoot:     ".",
		Include:        []string{"**/*.doc"},
		RetentionRuns:  20,
		ViewportWidth:  80,
		ViewportHeight: 24,
	}
}

// LoadEnv loads configuration from a .env file (if present) and environment
// variables, the same two-step LoadConfig performs. A missing .env file is
// not an error — godotenv.Load's error is deliberately ignored, matching the
// teacher's own main().
func LoadEnv() Config {
	_ = godotenv.Load()

	cfg := defaults()

	if v := os.Getenv("DOCENGINE_SOURCE_ROOT"); v != "" {
		cfg.SourceRoot = v
	}
	if v := os.Getenv("DOCENGINE_DIAGSTORE_PATH"); v != "" {
		cfg.DiagStorePath = v
	}
	if v := os.Getenv("DOCENGINE_RETENTION_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetentionRuns = n
		}
	}
	if v := os.Getenv("DOCENGINE_VIEWPORT_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ViewportWidth = n
		}
	}
	if v := os.Getenv("DOCENGINE_VIEWPORT_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ViewportHeight = n
		}
	}

	return cfg
}

// BuildFromFlags layers a pflag.FlagSet over base (typically LoadEnv's
// result), the same precedence order as the teacher's own
// BuildConfigFromFlags: flags win over env, env wins over defaults.
func BuildFromFlags(base Config, args []string) (Config, error) {
	fs := pflag.NewFlagSet("docengine", pflag.ContinueOnError)
	cfg := base

	root := fs.String("root", base.SourceRoot, "Root directory documents are discovered under.")
	include := fs.StringSlice("include", base.Include, "Include glob patterns for document discovery.")
	exclude := fs.StringSlice("exclude", base.Exclude, "Exclude glob patterns for document discovery.")
	diagStore := fs.String("diagstore", base.DiagStorePath, "Path to the diagnostic archive database (empty disables it).")
	retention := fs.Int("retention-runs", base.RetentionRuns, "Number of archived diagnostic runs to retain.")
	width := fs.Int("viewport-width", base.ViewportWidth, "Default layout viewport width.")
	height := fs.Int("viewport-height", base.ViewportHeight, "Default layout viewport height.")
	verbose := fs.BoolP("verbose", "v", base.Verbose, "Enable verbose output.")
	jsonOut := fs.BoolP("json", "j", base.JSON, "Output diagnostics as JSON.")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return cfg, flag.ErrHelp
		}
		return cfg, fmt.Errorf("engineconfig: parsing flags: %w", err)
	}

	cfg.SourceRoot = *root
	cfg.Include = *include
	cfg.Exclude = *exclude
	cfg.DiagStorePath = *diagStore
	cfg.RetentionRuns = *retention
	cfg.ViewportWidth = *width
	cfg.ViewportHeight = *height
	cfg.Verbose = *verbose
	cfg.JSON = *jsonOut

	if cfg.RetentionRuns < 0 {
		return cfg, fmt.Errorf("engineconfig: retention-runs must be >= 0, got %d", cfg.RetentionRuns)
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return cfg, fmt.Errorf("engineconfig: viewport dimensions must be positive, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}

	return cfg, nil
}
