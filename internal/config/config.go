package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir   string  `yaml:"data_dir"`
	RubricDir string  `yaml:"rubric_dir"`
	Runtime   Runtime `yaml:"runtime"`
	Staging   Staging `yaml:"staging"`
	Batch     Batch   `yaml:"batch"`
	Metrics   Metrics `yaml:"metrics"`
}

type Runtime struct {
	Backend      string        `yaml:"backend"`
	Binary       string        `yaml:"binary"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
	ReapTimeout  time.Duration `yaml:"reap_timeout"`
	LabelKey     string        `yaml:"label_key"`
}

type Staging struct {
	Layout string `yaml:"layout"`
}

type Batch struct {
	BaselineDir       string        `yaml:"baseline_dir"`
	RecipeName        string        `yaml:"recipe_name"`
	ReportsByModelDir string        `yaml:"reports_by_model_dir"`
	ReportsByRepoDir  string        `yaml:"reports_by_repo_dir"`
	Width             int           `yaml:"width"`
	PruneBetweenWaves bool          `yaml:"prune_between_waves"`
	WaveDelay         time.Duration `yaml:"wave_delay"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

const (
	BackendCLI    = "cli"
	BackendEngine = "engine"

	LayoutAuto   = "auto"
	LayoutFlat   = "flat"
	LayoutNested = "nested"
)

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Batch.PruneBetweenWaves = true
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := &Config{Batch: Batch{PruneBetweenWaves: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault reads path when it exists. A missing file is only an error
// when the caller asked for it explicitly.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return Default(), nil
	}
	return Load(path)
}

// LoadEnvFile merges a dotenv file into the process environment without
// overriding variables that are already set.
func LoadEnvFile(path string, explicit bool) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file values with ENVGRADE_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ENVGRADE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ENVGRADE_RUBRIC_DIR"); v != "" {
		c.RubricDir = v
	}
	if v := os.Getenv("ENVGRADE_DOCKER_BINARY"); v != "" {
		c.Runtime.Binary = v
	}
	if v := os.Getenv("ENVGRADE_BACKEND"); v != "" {
		c.Runtime.Backend = v
	}
	if v := os.Getenv("ENVGRADE_CHECK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ENVGRADE_CHECK_TIMEOUT: %w", err)
		}
		c.Runtime.CheckTimeout = d
	}
	return validate(c)
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.RubricDir == "" {
		cfg.RubricDir = "rubrics"
	}
	if cfg.Runtime.Backend == "" {
		cfg.Runtime.Backend = BackendCLI
	}
	if cfg.Runtime.Binary == "" {
		cfg.Runtime.Binary = "docker"
	}
	if cfg.Runtime.BuildTimeout == 0 {
		cfg.Runtime.BuildTimeout = time.Hour
	}
	if cfg.Runtime.CheckTimeout == 0 {
		cfg.Runtime.CheckTimeout = 30 * time.Second
	}
	if cfg.Runtime.ReapTimeout == 0 {
		cfg.Runtime.ReapTimeout = 2 * time.Minute
	}
	if cfg.Runtime.LabelKey == "" {
		cfg.Runtime.LabelKey = "envgrade.run"
	}
	if cfg.Staging.Layout == "" {
		cfg.Staging.Layout = LayoutAuto
	}
	if cfg.Batch.BaselineDir == "" {
		cfg.Batch.BaselineDir = "ENVGYM-baseline"
	}
	if cfg.Batch.RecipeName == "" {
		cfg.Batch.RecipeName = "envgym.dockerfile"
	}
	if cfg.Batch.ReportsByModelDir == "" {
		cfg.Batch.ReportsByModelDir = "reports-by-model"
	}
	if cfg.Batch.ReportsByRepoDir == "" {
		cfg.Batch.ReportsByRepoDir = "reports-by-repo"
	}
	if cfg.Batch.Width == 0 {
		cfg.Batch.Width = 8
	}
	if cfg.Batch.WaveDelay == 0 {
		cfg.Batch.WaveDelay = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Runtime.Backend {
	case BackendCLI, BackendEngine:
	default:
		return fmt.Errorf("runtime.backend: unknown backend %q", cfg.Runtime.Backend)
	}
	switch cfg.Staging.Layout {
	case LayoutAuto, LayoutFlat, LayoutNested:
	default:
		return fmt.Errorf("staging.layout: unknown layout %q", cfg.Staging.Layout)
	}
	if cfg.Runtime.BuildTimeout < 0 || cfg.Runtime.CheckTimeout < 0 {
		return fmt.Errorf("runtime timeouts must be positive")
	}
	if cfg.Batch.Width < 1 {
		return fmt.Errorf("batch.width must be at least 1")
	}
	return nil
}
