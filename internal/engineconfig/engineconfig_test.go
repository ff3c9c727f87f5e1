package engineconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/engineconfig"
)

func TestLoadEnvUsesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("DOCENGINE_SOURCE_ROOT", "")
	t.Setenv("DOCENGINE_RETENTION_RUNS", "")

	cfg := engineconfig.LoadEnv()
	require.Equal(t, ".", cfg.SourceRoot)
	require.Equal(t, 20, cfg.RetentionRuns)
	require.Equal(t, 80, cfg.ViewportWidth)
	require.Equal(t, 24, cfg.ViewportHeight)
}

func TestLoadEnvHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("DOCENGINE_SOURCE_ROOT", "/docs")
	t.Setenv("DOCENGINE_RETENTION_RUNS", "5")

	cfg := engineconfig.LoadEnv()
	require.Equal(t, "/docs", cfg.SourceRoot)
	require.Equal(t, 5, cfg.RetentionRuns)
}

func TestLoadEnvIgnoresInvalidRetentionRuns(t *testing.T) {
	t.Setenv("DOCENGINE_RETENTION_RUNS", "not-a-number")

	cfg := engineconfig.LoadEnv()
	require.Equal(t, 20, cfg.RetentionRuns)
}

func TestBuildFromFlagsOverridesBase(t *testing.T) {
	base := engineconfig.Config{SourceRoot: ".", RetentionRuns: 20, ViewportWidth: 80, ViewportHeight: 24}

	cfg, err := engineconfig.BuildFromFlags(base, []string{"--root", "/docs", "--retention-runs", "3", "--verbose"})
	require.NoError(t, err)
	require.Equal(t, "/docs", cfg.SourceRoot)
	require.Equal(t, 3, cfg.RetentionRuns)
	require.True(t, cfg.Verbose)
}

func TestBuildFromFlagsRejectsNegativeRetention(t *testing.T) {
	base := engineconfig.Config{ViewportWidth: 80, ViewportHeight: 24}
	_, err := engineconfig.BuildFromFlags(base, []string{"--retention-runs", "-1"})
	require.Error(t, err)
}

func TestBuildFromFlagsRejectsZeroViewport(t *testing.T) {
	base := engineconfig.Config{ViewportWidth: 80, ViewportHeight: 24}
	_, err := engineconfig.BuildFromFlags(base, []string{"--viewport-width", "0"})
	require.Error(t, err)
}
