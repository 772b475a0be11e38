// Package config loads the taxifare run configuration.
//
// Values come from, in increasing precedence: built-in defaults, an
// optional YAML file, and environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ezoic/taxifare/dataset"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
	"github.com/ezoic/taxifare/tracking"
	"github.com/ezoic/taxifare/trainer"
)

// Environment variables that override the file.
const (
	EnvTrackingURI     = "TAXIFARE_TRACKING_URI"
	EnvTrackingBackend = "TAXIFARE_TRACKING_BACKEND"
	EnvExperiment      = "TAXIFARE_EXPERIMENT"
	EnvLogLevel        = "TAXIFARE_LOG_LEVEL"
	EnvRabbitURL       = "RABBIT_URL"
)

// Defaults.
const (
	DefaultExperiment  = "[PT] [Lisbon] [FatT0ny1] TaxiFareModel.1"
	DefaultTrackingURI = "https://mlflow.lewagon.ai/"
	DefaultNRows       = 10000
	DefaultTestSize    = 0.3
	DefaultSeed        = 42
	DefaultRetries     = 3
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultTimeout     = 30 * time.Second
)

// Config is the full run configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Model    ModelConfig    `yaml:"model"`
	Tracking TrackingConfig `yaml:"tracking"`
	Events   EventsConfig   `yaml:"events"`
	Report   ReportConfig   `yaml:"report"`
	Log      LogConfig      `yaml:"log"`
}

// DataConfig selects the training data.
type DataConfig struct {
	Source   string  `yaml:"source"`
	NRows    int     `yaml:"nrows"`
	TestSize float64 `yaml:"test_size"`
	Seed     int64   `yaml:"seed"`
}

// ModelConfig tunes the pipeline and its artifact.
type ModelConfig struct {
	Timezone     string `yaml:"timezone"`
	ArtifactPath string `yaml:"artifact_path"`
	Verbose      bool   `yaml:"verbose"`
}

// TrackingConfig selects the experiment-tracking backend.
type TrackingConfig struct {
	Backend    string        `yaml:"backend"`
	URI        string        `yaml:"uri"`
	Experiment string        `yaml:"experiment"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
	Strict     bool          `yaml:"strict"`
}

// EventsConfig enables the AMQP event mirror when AMQPURL is set.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// ReportConfig controls evaluation outputs.
type ReportConfig struct {
	PlotPath string `yaml:"plot_path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Data: DataConfig{
			Source:   dataset.DefaultURL,
			NRows:    DefaultNRows,
			TestSize: DefaultTestSize,
			Seed:     DefaultSeed,
		},
		Model: ModelConfig{
			Timezone:     "America/New_York",
			ArtifactPath: trainer.DefaultArtifactPath,
		},
		Tracking: TrackingConfig{
			Backend:    tracking.BackendMLflow,
			URI:        DefaultTrackingURI,
			Experiment: DefaultExperiment,
			Retries:    DefaultRetries,
			RetryDelay: DefaultRetryDelay,
			Timeout:    DefaultTimeout,
		},
		Events: EventsConfig{
			Exchange: tracking.DefaultExchange,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, taxiErrors.Wrap(err, "failed to open file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, taxiErrors.Wrapf(err, "config: parse %s", path)
		}
	}
	cfg.applyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvTrackingURI, &c.Tracking.URI)
	set(EnvTrackingBackend, &c.Tracking.Backend)
	set(EnvExperiment, &c.Tracking.Experiment)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvRabbitURL, &c.Events.AMQPURL)
}

// Validate checks every section.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Data.Source) == "" {
		return taxiErrors.NewValidationError("data.source", "must not be empty", c.Data.Source)
	}
	if c.Data.NRows < 0 {
		return taxiErrors.NewValidationError("data.nrows", "must be non-negative (0 reads every row)", c.Data.NRows)
	}
	if c.Data.TestSize <= 0 || c.Data.TestSize >= 1 {
		return taxiErrors.NewValidationError("data.test_size", "must be in the open interval (0, 1)", c.Data.TestSize)
	}
	if strings.TrimSpace(c.Model.ArtifactPath) == "" {
		return taxiErrors.NewValidationError("model.artifact_path", "must not be empty", c.Model.ArtifactPath)
	}
	if _, err := time.LoadLocation(c.Model.Timezone); err != nil {
		return taxiErrors.NewValidationError("model.timezone", "unknown timezone", c.Model.Timezone)
	}
	if err := c.TrackingConfig().Validate(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return taxiErrors.NewValidationError("log.level", "must be one of [debug, info, warn, error]", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return taxiErrors.NewValidationError("log.format", "must be one of [json, console]", c.Log.Format)
	}
	return nil
}

// TrackingConfig returns the settings for tracking.NewExperimentLogger.
func (c Config) TrackingConfig() tracking.Config {
	return tracking.Config{
		Backend:    c.Tracking.Backend,
		URI:        c.Tracking.URI,
		Experiment: c.Tracking.Experiment,
		Retries:    c.Tracking.Retries,
		RetryDelay: c.Tracking.RetryDelay,
		Timeout:    c.Tracking.Timeout,
		Strict:     c.Tracking.Strict,
	}
}

// TrainerConfig returns the settings for trainer.New.
func (c Config) TrainerConfig() trainer.Config {
	return trainer.Config{
		Timezone:     c.Model.Timezone,
		ArtifactPath: c.Model.ArtifactPath,
		PlotPath:     c.Report.PlotPath,
		Verbose:      c.Model.Verbose,
	}
}
