// Package config loads the uirefine YAML configuration.
//
// Secrets never live in the file: GEMINI_API_KEY, S3_ACCESS_KEY and
// S3_SECRET_KEY are read from the environment by ApplyEnv.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/browser"
	"github.com/hazyhaar/uirefine/guard"
	"github.com/hazyhaar/uirefine/quality"
	"github.com/hazyhaar/uirefine/refine"
	"github.com/hazyhaar/uirefine/shots"
)

// Refiner providers.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config is the top-level configuration.
type Config struct {
	Loop    LoopConfig     `yaml:"loop"`
	Browser browser.Config `yaml:"browser"`
	Refiner RefinerConfig  `yaml:"refiner"`
	Archive ArchiveConfig  `yaml:"archive"`
	Shots   ShotsConfig    `yaml:"shots"`
	Sinks   []SinkConfig   `yaml:"sinks"`
	Jobs    JobsConfig     `yaml:"jobs"`
	Server  ServerConfig   `yaml:"server"`
}

// LoopConfig mirrors refine.Config. The analysis toggles default to true,
// hence the pointers.
type LoopConfig struct {
	MaxIterations    int     `yaml:"max_iterations"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	MinImprovement   float64 `yaml:"min_improvement"`
	Layout           *bool   `yaml:"layout"`
	Accessibility    *bool   `yaml:"accessibility"`
	ScreenshotDir    string  `yaml:"screenshot_dir"`
	Mode             string  `yaml:"mode"` // detailed | lightweight
	LayoutWeight     float64 `yaml:"layout_weight"`
	AccessWeight     float64 `yaml:"accessibility_weight"`
	CacheSize        int     `yaml:"cache_size"`
}

// RefinerConfig selects the model behind the refiner.
type RefinerConfig struct {
	Provider       string `yaml:"provider"` // none | gemini | ollama
	Model          string `yaml:"model"`
	URL            string `yaml:"url"` // ollama base URL
	MaxPromptBytes int    `yaml:"max_prompt_bytes"`
	Sanitize       *bool  `yaml:"sanitize"`
	APIKey         string `yaml:"-"`
}

// ArchiveConfig enables the SQLite run archive when Path is set.
type ArchiveConfig struct {
	Path          string        `yaml:"path"`
	MetricsBuffer int           `yaml:"metrics_buffer"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"`
}

// JobsConfig configures the background job queue. The queue lives in the
// archive database and is enabled with it.
type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	// Retention deletes finished jobs older than this at startup. Zero keeps
	// them.
	Retention time.Duration `yaml:"retention"`
}

// ShotsConfig enables S3 screenshot publishing when Bucket is set.
type ShotsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string        `yaml:"type"` // stdout | webhook
	URL     string        `yaml:"url"`  // for webhook
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`

	// PublicOnly rejects webhook URLs that resolve to private addresses.
	PublicOnly bool `yaml:"public_only"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RefinePerMinute limits POST /refine and POST /jobs per client IP.
	// Zero disables.
	RefinePerMinute int `yaml:"refine_per_minute"`
	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file, applies defaults and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := refine.DefaultConfig()
	if c.Loop.MaxIterations <= 0 {
		c.Loop.MaxIterations = d.MaxIterations
	}
	if c.Loop.QualityThreshold <= 0 {
		c.Loop.QualityThreshold = d.QualityThreshold
	}
	if c.Loop.MinImprovement <= 0 {
		c.Loop.MinImprovement = d.MinImprovement
	}
	if c.Loop.Layout == nil {
		c.Loop.Layout = boolPtr(true)
	}
	if c.Loop.Accessibility == nil {
		c.Loop.Accessibility = boolPtr(true)
	}
	if c.Loop.Mode == "" {
		c.Loop.Mode = analysis.Detailed.String()
	}
	if c.Loop.LayoutWeight <= 0 && c.Loop.AccessWeight <= 0 {
		c.Loop.LayoutWeight = quality.DefaultWeights.Layout
		c.Loop.AccessWeight = quality.DefaultWeights.Accessibility
	}
	if c.Loop.CacheSize <= 0 {
		c.Loop.CacheSize = 256
	}
	if c.Refiner.Provider == "" {
		c.Refiner.Provider = ProviderNone
	}
	if c.Refiner.Sanitize == nil {
		c.Refiner.Sanitize = boolPtr(true)
	}
	switch c.Refiner.Provider {
	case ProviderGemini:
		if c.Refiner.Model == "" {
			c.Refiner.Model = "gemini-2.5-flash"
		}
	case ProviderOllama:
		if c.Refiner.Model == "" {
			c.Refiner.Model = "qwen2.5-coder"
		}
		if c.Refiner.URL == "" {
			c.Refiner.URL = "http://localhost:11434"
		}
	}
	if c.Archive.FlushInterval <= 0 {
		c.Archive.FlushInterval = 5 * time.Second
	}
	if c.Archive.MetricsBuffer <= 0 {
		c.Archive.MetricsBuffer = 100
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 1
	}
	if c.Jobs.Visibility <= 0 {
		c.Jobs.Visibility = 10 * time.Minute
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = time.Second
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = 2
	}
	if c.Shots.Region == "" {
		c.Shots.Region = "us-east-1"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Backoff <= 0 {
			c.Sinks[i].Backoff = time.Second
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks values the defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := analysis.ParseMode(c.Loop.Mode); err != nil {
		return fmt.Errorf("config: loop.mode: %w", err)
	}
	if err := c.LoopConfig().Validate(); err != nil {
		return fmt.Errorf("config: loop: %w", err)
	}
	switch c.Refiner.Provider {
	case ProviderNone, ProviderGemini:
	case ProviderOllama:
		if err := guard.ValidateURL(c.Refiner.URL); err != nil {
			return fmt.Errorf("config: refiner.url: %w", err)
		}
	default:
		return fmt.Errorf("config: refiner.provider: unknown %q", c.Refiner.Provider)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook url is required", i)
			}
			check := guard.ValidateURL
			if s.PublicOnly {
				check = guard.ValidatePublicURL
			}
			if err := check(s.URL); err != nil {
				return fmt.Errorf("config: sinks[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if c.Browser.RecycleAfter < 0 {
		return fmt.Errorf("config: browser.recycle_after must not be negative")
	}
	if c.Shots.Bucket != "" && c.Shots.Endpoint == "" {
		return fmt.Errorf("config: shots.endpoint is required with a bucket")
	}
	return nil
}

// ApplyEnv fills secrets from the environment.
func (c *Config) ApplyEnv() {
	c.Refiner.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	c.Shots.AccessKey = firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER"))
	c.Shots.SecretKey = firstNonEmpty(os.Getenv("S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD"))
}

// LoopConfig converts the loop section to a refine.Config. The mode must
// have been validated.
func (c *Config) LoopConfig() refine.Config {
	mode, _ := analysis.ParseMode(c.Loop.Mode)
	return refine.Config{
		MaxIterations:            c.Loop.MaxIterations,
		QualityThreshold:         c.Loop.QualityThreshold,
		MinImprovement:           c.Loop.MinImprovement,
		EnableLayoutAnalysis:     c.Loop.Layout == nil || *c.Loop.Layout,
		EnableAccessibilityCheck: c.Loop.Accessibility == nil || *c.Loop.Accessibility,
		ScreenshotDir:            c.Loop.ScreenshotDir,
		Mode:                     mode,
		Weights:                  quality.Weights{Layout: c.Loop.LayoutWeight, Accessibility: c.Loop.AccessWeight},
	}
}

// ShotsEnabled reports whether screenshots are published to S3.
func (c *Config) ShotsEnabled() bool { return c.Shots.Bucket != "" }

// ShotsConfig converts the shots section.
func (c *Config) ShotsConfig() shots.Config {
	return shots.Config{
		Endpoint:  c.Shots.Endpoint,
		Region:    c.Shots.Region,
		AccessKey: c.Shots.AccessKey,
		SecretKey: c.Shots.SecretKey,
		Bucket:    c.Shots.Bucket,
		UseSSL:    c.Shots.UseSSL,
		Prefix:    c.Shots.Prefix,
	}
}

func boolPtr(b bool) *bool { return &b }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
