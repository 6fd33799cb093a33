package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Veto  VetoConfig  `yaml:"veto" mapstructure:"veto"`
	Job   JobConfig   `yaml:"job" mapstructure:"job"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// VetoConfig selects the veto map. Profile, when set, supplies era,
// correction and mode; explicit values override it.
type VetoConfig struct {
	Profile     string `yaml:"profile" mapstructure:"profile"`
	POGDir      string `yaml:"pog_dir" mapstructure:"pog_dir"`
	Era         string `yaml:"era" mapstructure:"era"`
	Correction  string `yaml:"correction" mapstructure:"correction"`
	VetoMapName string `yaml:"veto_map_name" mapstructure:"veto_map_name"`
	Mode        string `yaml:"mode" mapstructure:"mode"`
	IsMC        bool   `yaml:"is_mc" mapstructure:"is_mc"`
}

// JobConfig configures file processing.
type JobConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
	Compress    bool   `yaml:"compress" mapstructure:"compress"`
}

// StoreConfig configures the run ledger. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
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
	v.SetEnvPrefix("JETVETO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("veto.profile", "")
	v.SetDefault("veto.pog_dir", "/cvmfs/cms.cern.ch/rsync/cms-nanoAOD/jsonpog-integration/")
	v.SetDefault("veto.era", "")
	v.SetDefault("veto.correction", "")
	v.SetDefault("veto.veto_map_name", "jetvetomap")
	v.SetDefault("veto.mode", "auto")
	v.SetDefault("veto.is_mc", true)
	v.SetDefault("job.concurrency", 4)
	v.SetDefault("job.output_dir", "out")
	v.SetDefault("job.compress", false)
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields a command needs. Mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "process", "lookup":
		if c.Veto.Profile == "" && (c.Veto.Era == "" || c.Veto.Correction == "") {
			errs = append(errs, "veto.profile or both veto.era and veto.correction are required")
		}
		if c.Veto.POGDir == "" {
			errs = append(errs, "veto.pog_dir is required")
		}
		switch strings.ToLower(c.Veto.Mode) {
		case "", "auto", "perjet", "event":
		default:
			errs = append(errs, fmt.Sprintf("veto.mode must be auto, perjet or event (got %q)", c.Veto.Mode))
		}
		if mode == "process" {
			if c.Job.Concurrency < 1 || c.Job.Concurrency > 64 {
				errs = append(errs, "job.concurrency must be between 1 and 64")
			}
			if c.Job.OutputDir == "" {
				errs = append(errs, "job.output_dir is required")
			}
		}
	case "runs":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
