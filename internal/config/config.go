// Package config provides YAML-based configuration loading for the ingest
// pipeline.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pipeline configuration, loaded from cingest.yaml.
type Config struct {
	InputDir       string          `yaml:"input_dir"`
	PlaceholderDir string          `yaml:"placeholder_dir"`
	DB             DBConfig        `yaml:"db"`
	Ingest         IngestConfig    `yaml:"ingest"`
	Queue          QueueConfig     `yaml:"queue"`
	Workers        WorkerConfig    `yaml:"workers"`
	Executor       ExecutorConfig  `yaml:"executor"`
	Dashboard      DashboardConfig `yaml:"dashboard"`
	Alerting       AlertingConfig  `yaml:"alerting"`
}

// DBConfig selects and configures the queue's backing store. The default
// backend is a local SQLite file; mysql points at a shared server when
// multiple hosts run workers against one queue.
type DBConfig struct {
	Backend  string `yaml:"backend"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`    // sqlite only
	Host     string `yaml:"host"`    // mysql only
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// IngestConfig controls discovery and group assembly.
type IngestConfig struct {
	ExpectedSubbands  int     `yaml:"expected_subbands"`
	SemiCompleteFloor float64 `yaml:"semi_complete_floor"` // fraction of expected
	ScanIntervalS     int     `yaml:"scan_interval_s"`
	ClusterToleranceS int     `yaml:"cluster_tolerance_s"` // -1 disables clustering
	FullRescanCron    string  `yaml:"full_rescan_cron"`    // 5-field cron expr, empty disables
}

// QueueConfig controls retry and lease-reaping behavior.
type QueueConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	StaleAfterS   int `yaml:"stale_after_s"`
	ReapIntervalS int `yaml:"reap_interval_s"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Count              int     `yaml:"count"`
	PollIntervalS      int     `yaml:"poll_interval_s"`
	HeartbeatIntervalS int     `yaml:"heartbeat_interval_s"`
	MinFreeGB          float64 `yaml:"min_free_gb"` // -1 disables the disk guard
}

// ExecutorConfig configures the external conversion command.
type ExecutorConfig struct {
	Command  string `yaml:"command"`
	OutDir   string `yaml:"out_dir"`
	TimeoutS int    `yaml:"timeout_s"`
}

// DashboardConfig configures the read-only status server.
type DashboardConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// AlertingConfig configures completion/failure notification channels. All
// channels are optional and best-effort.
type AlertingConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
	Command        string `yaml:"command"` // shell template, e.g. "notify-send 'contimg' '{{.Detail}}'"
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Backend == "" {
		c.DB.Backend = "sqlite"
	}
	if c.DB.Backend == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "cingest.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "contimg_ingest"
	}
	if c.PlaceholderDir == "" {
		c.PlaceholderDir = c.InputDir
	}
	if c.Ingest.ExpectedSubbands == 0 {
		c.Ingest.ExpectedSubbands = 16
	}
	if c.Ingest.SemiCompleteFloor == 0 {
		c.Ingest.SemiCompleteFloor = 0.75
	}
	if c.Ingest.ScanIntervalS == 0 {
		c.Ingest.ScanIntervalS = 30
	}
	if c.Ingest.ClusterToleranceS == 0 {
		c.Ingest.ClusterToleranceS = 60
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.StaleAfterS == 0 {
		c.Queue.StaleAfterS = 600
	}
	if c.Queue.ReapIntervalS == 0 {
		c.Queue.ReapIntervalS = 60
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 2
	}
	if c.Workers.PollIntervalS == 0 {
		c.Workers.PollIntervalS = 5
	}
	if c.Workers.HeartbeatIntervalS == 0 {
		c.Workers.HeartbeatIntervalS = 10
	}
	if c.Workers.MinFreeGB == 0 {
		c.Workers.MinFreeGB = 10
	}
	if c.Executor.TimeoutS == 0 {
		c.Executor.TimeoutS = 7200
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":8090"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.InputDir == "" {
		errs = append(errs, "input_dir is required")
	}
	switch c.DB.Backend {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.backend %q is not one of sqlite, mysql", c.DB.Backend))
	}
	if c.Ingest.ExpectedSubbands < 1 {
		errs = append(errs, "ingest.expected_subbands must be positive")
	}
	if c.Ingest.SemiCompleteFloor <= 0 || c.Ingest.SemiCompleteFloor > 1 {
		errs = append(errs, "ingest.semi_complete_floor must be in (0, 1]")
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, "queue.max_retries must not be negative")
	}
	if c.Executor.Command == "" {
		errs = append(errs, "executor.command is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FloorCount returns the semi-complete floor as an absolute slot count.
func (c *Config) FloorCount() int {
	return int(math.Ceil(c.Ingest.SemiCompleteFloor * float64(c.Ingest.ExpectedSubbands)))
}

// ScanInterval returns the incremental scan cadence.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Ingest.ScanIntervalS) * time.Second
}

// ClusterTolerance returns the timestamp window within which sub-band files
// are clustered into one group, or 0 when clustering is disabled.
func (c *Config) ClusterTolerance() time.Duration {
	if c.Ingest.ClusterToleranceS < 0 {
		return 0
	}
	return time.Duration(c.Ingest.ClusterToleranceS) * time.Second
}

// MinFreeBytes returns the worker disk-space floor in bytes, or 0 when the
// guard is disabled.
func (c *Config) MinFreeBytes() uint64 {
	if c.Workers.MinFreeGB <= 0 {
		return 0
	}
	return uint64(c.Workers.MinFreeGB * float64(1<<30))
}

// StaleAfter returns the claim staleness threshold.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Queue.StaleAfterS) * time.Second
}

// ReapInterval returns the reaper cadence.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Queue.ReapIntervalS) * time.Second
}

// PollInterval returns the worker poll backoff interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalS) * time.Second
}

// HeartbeatInterval returns the per-claim heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workers.HeartbeatIntervalS) * time.Second
}

// ExecutorTimeout returns the per-group conversion timeout.
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutS) * time.Second
}
