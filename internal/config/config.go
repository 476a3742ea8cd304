// Package config loads afpanel settings from config.yaml, AFPANEL_* environment
// variables and built-in defaults, and initializes the global logger.
package config

import (
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Toolkit    ToolkitConfig    `yaml:"toolkit" mapstructure:"toolkit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run audit database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// CatalogConfig holds remote catalog API settings.
type CatalogConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Token            string  `yaml:"token" mapstructure:"token"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageSize         int     `yaml:"page_size" mapstructure:"page_size"`
	RequestUnarchive bool    `yaml:"request_unarchive" mapstructure:"request_unarchive"`
}

// DiscoveryConfig configures project location, QC resolution and sample
// classification.
type DiscoveryConfig struct {
	Concurrency        int      `yaml:"concurrency" mapstructure:"concurrency"`
	ProjectPrefix      string   `yaml:"project_prefix" mapstructure:"project_prefix"`
	BuildSuffix        string   `yaml:"build_suffix" mapstructure:"build_suffix"`
	LegacyBuildSuffix  string   `yaml:"legacy_build_suffix" mapstructure:"legacy_build_suffix"`
	VCFGlob            string   `yaml:"vcf_glob" mapstructure:"vcf_glob"`
	QCGlob             string   `yaml:"qc_glob" mapstructure:"qc_glob"`
	QCFallbackSheet    string   `yaml:"qc_fallback_sheet" mapstructure:"qc_fallback_sheet"`
	InstrumentPatterns []string `yaml:"instrument_patterns" mapstructure:"instrument_patterns"`
	SpecimenPatterns   []string `yaml:"specimen_patterns" mapstructure:"specimen_patterns"`
	OutputDir          string   `yaml:"output_dir" mapstructure:"output_dir"`
	ValidationFileName string   `yaml:"validation_file_name" mapstructure:"validation_file_name"`
	DecisionsFileName  string   `yaml:"decisions_file_name" mapstructure:"decisions_file_name"`
	TempDir            string   `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// MergeConfig configures the merge stage.
type MergeConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	WorkDir     string `yaml:"work_dir" mapstructure:"work_dir"`
	PublishDir  string `yaml:"publish_dir" mapstructure:"publish_dir"`
	SourceDir   string `yaml:"source_dir" mapstructure:"source_dir"`
	OutputName  string `yaml:"output_name" mapstructure:"output_name"`
	Reference   string `yaml:"reference" mapstructure:"reference"`
	KeepWorkDir bool   `yaml:"keep_work_dir" mapstructure:"keep_work_dir"`
}

// ToolkitConfig selects and configures the variant-manipulation engine.
type ToolkitConfig struct {
	Engine       string `yaml:"engine" mapstructure:"engine"`
	BcftoolsPath string `yaml:"bcftools_path" mapstructure:"bcftools_path"`
	TabixPath    string `yaml:"tabix_path" mapstructure:"tabix_path"`
	Threads      int    `yaml:"threads" mapstructure:"threads"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AlertOnSkipped     bool   `yaml:"alert_on_skipped" mapstructure:"alert_on_skipped"`
	WebhookTimeoutSecs int    `yaml:"webhook_timeout_secs" mapstructure:"webhook_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AFPANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "afpanel.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("catalog.base_url", "https://api.dnanexus.com")
	v.SetDefault("catalog.rate_per_sec", 10)
	v.SetDefault("catalog.max_retries", 3)
	v.SetDefault("catalog.timeout_secs", 60)
	v.SetDefault("catalog.page_size", 1000)
	v.SetDefault("catalog.request_unarchive", false)
	v.SetDefault("catalog.token", "")
	v.SetDefault("discovery.concurrency", 4)
	v.SetDefault("discovery.project_prefix", "002")
	v.SetDefault("discovery.build_suffix", "38")
	v.SetDefault("discovery.legacy_build_suffix", "")
	v.SetDefault("discovery.vcf_glob", "*_markdup_recalibrated_Haplotyper.vcf.gz")
	v.SetDefault("discovery.qc_glob", "*QC*.xlsx")
	v.SetDefault("discovery.qc_fallback_sheet", "Sheet2")
	v.SetDefault("discovery.instrument_patterns", []string{`^\d{9}$`, `^X\d{6}$`})
	v.SetDefault("discovery.specimen_patterns", []string{`^GM\d{7}$`, `^\d{5}R\d{4}$`})
	v.SetDefault("discovery.output_dir", ".")
	v.SetDefault("discovery.validation_file_name", "validation_samples.tsv")
	v.SetDefault("discovery.decisions_file_name", "decisions.tsv")
	v.SetDefault("discovery.temp_dir", "/tmp/afpanel/qc")
	v.SetDefault("merge.concurrency", runtime.NumCPU())
	v.SetDefault("merge.work_dir", "/tmp/afpanel/merge")
	v.SetDefault("merge.publish_dir", "published")
	v.SetDefault("merge.output_name", "merged.vcf.gz")
	v.SetDefault("merge.reference", "")
	v.SetDefault("merge.source_dir", "")
	v.SetDefault("toolkit.engine", "native")
	v.SetDefault("toolkit.bcftools_path", "bcftools")
	v.SetDefault("toolkit.tabix_path", "tabix")
	v.SetDefault("toolkit.threads", 1)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.alert_on_skipped", true)
	v.SetDefault("monitoring.webhook_timeout_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command are present.
// mode is "discover" or "merge".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "discover":
		if c.Catalog.BaseURL == "" {
			errs = append(errs, "catalog.base_url is required")
		}
		if c.Catalog.Token == "" {
			errs = append(errs, "catalog.token is required")
		}
		if c.Discovery.Concurrency < 1 || c.Discovery.Concurrency > 64 {
			errs = append(errs, "discovery.concurrency must be between 1 and 64")
		}
		if len(c.Discovery.InstrumentPatterns) == 0 || len(c.Discovery.SpecimenPatterns) == 0 {
			errs = append(errs, "discovery.instrument_patterns and discovery.specimen_patterns are required")
		}
	case "merge":
		if c.Merge.Reference == "" {
			errs = append(errs, "merge.reference is required")
		}
		if c.Merge.Concurrency < 1 {
			errs = append(errs, "merge.concurrency must be > 0")
		}
		switch c.Toolkit.Engine {
		case "native", "bcftools":
		default:
			errs = append(errs, "toolkit.engine must be native or bcftools")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or none")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
