package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "afpanel.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://api.dnanexus.com", cfg.Catalog.BaseURL)
	assert.InDelta(t, 10.0, cfg.Catalog.RatePerSec, 0.001)
	assert.Equal(t, 1000, cfg.Catalog.PageSize)
	assert.Equal(t, 4, cfg.Discovery.Concurrency)
	assert.Equal(t, "002", cfg.Discovery.ProjectPrefix)
	assert.Equal(t, "38", cfg.Discovery.BuildSuffix)
	assert.Equal(t, "", cfg.Discovery.LegacyBuildSuffix)
	assert.Equal(t, "*QC*.xlsx", cfg.Discovery.QCGlob)
	assert.Equal(t, "Sheet2", cfg.Discovery.QCFallbackSheet)
	assert.Equal(t, []string{`^\d{9}$`, `^X\d{6}$`}, cfg.Discovery.InstrumentPatterns)
	assert.Equal(t, []string{`^GM\d{7}$`, `^\d{5}R\d{4}$`}, cfg.Discovery.SpecimenPatterns)
	assert.Equal(t, "native", cfg.Toolkit.Engine)
	assert.Equal(t, "merged.vcf.gz", cfg.Merge.OutputName)
	assert.Positive(t, cfg.Merge.Concurrency)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/afpanel
log:
  level: debug
  format: console
discovery:
  concurrency: 8
  build_suffix: "_b38"
toolkit:
  engine: bcftools
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Discovery.Concurrency)
	assert.Equal(t, "_b38", cfg.Discovery.BuildSuffix)
	assert.Equal(t, "bcftools", cfg.Toolkit.Engine)
	// Defaults still apply for unset values
	assert.Equal(t, "002", cfg.Discovery.ProjectPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("AFPANEL_STORE_DRIVER", "postgres")
	t.Setenv("AFPANEL_LOG_LEVEL", "warn")
	t.Setenv("AFPANEL_CATALOG_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "secret", cfg.Catalog.Token)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Catalog.BaseURL = "https://api.dnanexus.com"
	cfg.Catalog.Token = "token"
	cfg.Discovery.Concurrency = 4
	cfg.Discovery.InstrumentPatterns = []string{`^\d{9}$`}
	cfg.Discovery.SpecimenPatterns = []string{`^GM\d{7}$`}
	cfg.Merge.Concurrency = 2
	cfg.Merge.Reference = "/ref/GRCh38.fa"
	cfg.Toolkit.Engine = "native"
	return cfg
}

func TestValidateDiscover_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("discover"))
}

func TestValidateDiscover_MissingToken(t *testing.T) {
	cfg := validDefaults()
	cfg.Catalog.Token = ""

	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.token is required")
}

func TestValidateDiscover_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Discovery.Concurrency = 0
	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.concurrency must be between 1 and 64")

	cfg.Discovery.Concurrency = 65
	assert.Error(t, cfg.Validate("discover"))

	cfg.Discovery.Concurrency = 64
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateMerge(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("merge"))

	cfg.Merge.Reference = ""
	cfg.Toolkit.Engine = "gatk"
	err := cfg.Validate("merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge.reference is required")
	assert.Contains(t, err.Error(), "toolkit.engine must be native or bcftools")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
