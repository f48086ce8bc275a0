// Package config loads the engine's YAML configuration document and applies
// environment variable overrides. Grounded directly on the teacher's
// internal/config package: a single root struct decoded with
// gopkg.in/yaml.v2, followed by an applyEnvOverrides pass using the same
// getEnv/getEnvInt/getEnvFloat helpers.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Links     LinksConfig     `yaml:"links"`
	Worker    WorkerConfig    `yaml:"worker"`
	Pool      PoolConfig      `yaml:"pool"`
	Clock     ClockConfig     `yaml:"clock"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the address cmd/graphd serves its control API and
// wsbridge on, and its shutdown timeout. The metrics endpoint is configured
// by MetricsConfig.
type ServerConfig struct {
	Env              string `yaml:"env"`
	WebSocketAddr    string `yaml:"websocket_addr"`
	ShutdownTimeoutSec int  `yaml:"shutdown_timeout_sec"`
}

// LinksConfig sets the default ring capacities per port category.
type LinksConfig struct {
	VideoCapacity int `yaml:"video_capacity"`
	AudioCapacity int `yaml:"audio_capacity"`
	DataCapacity  int `yaml:"data_capacity"`
}

// WorkerConfig tunes the worker runtime.
type WorkerConfig struct {
	JoinTimeoutSec  int `yaml:"join_timeout_sec"`
	WakeupCapacity  int `yaml:"wakeup_capacity"`
}

// PoolConfig sets the default texture pool bucket policy.
type PoolConfig struct {
	DefaultInitialCap int    `yaml:"default_initial_cap"`
	DefaultPolicy     string `yaml:"default_policy"` // "block" | "grow" | "error"
	DefaultMaxCap     int    `yaml:"default_max_cap"`
	BlockTimeoutMs    int    `yaml:"block_timeout_ms"`
}

// ClockConfig sets the default Continuous processor tick rate.
type ClockConfig struct {
	DefaultRateHz float64 `yaml:"default_rate_hz"`
}

// SnapshotConfig configures optional out-of-process snapshot persistence.
type SnapshotConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

// Default returns the engine's built-in defaults, overlaid with any
// environment overrides.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Env:                "development",
			WebSocketAddr:      ":9090",
			ShutdownTimeoutSec: 5,
		},
		Links: LinksConfig{
			VideoCapacity: 3,
			AudioCapacity: 64,
			DataCapacity:  16,
		},
		Worker: WorkerConfig{
			JoinTimeoutSec: 3,
			WakeupCapacity: 32,
		},
		Pool: PoolConfig{
			DefaultInitialCap: 4,
			DefaultPolicy:     "block",
			DefaultMaxCap:     16,
			BlockTimeoutMs:    250,
		},
		Clock: ClockConfig{
			DefaultRateHz: 60,
		},
		Snapshot: SnapshotConfig{
			KeyPrefix: "streamgraph:snapshot:",
		},
		Metrics: MetricsConfig{
			BindAddr: ":9091",
		},
	}
	cfg.applyEnvOverrides()
	return cfg
}

// Load reads a YAML document from path, then applies environment overrides
// on top of whatever it set.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// JoinTimeout is the worker teardown join-timeout as a time.Duration.
func (c *Config) JoinTimeout() time.Duration {
	return time.Duration(c.Worker.JoinTimeoutSec) * time.Second
}

// BlockTimeout is the pool's default Block-policy timeout.
func (c *Config) BlockTimeout() time.Duration {
	return time.Duration(c.Pool.BlockTimeoutMs) * time.Millisecond
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("STREAMGRAPH_ENV", c.Server.Env)
	c.Server.WebSocketAddr = getEnv("STREAMGRAPH_WS_ADDR", c.Server.WebSocketAddr)
	c.Server.ShutdownTimeoutSec = getEnvInt("STREAMGRAPH_SHUTDOWN_TIMEOUT_SEC", c.Server.ShutdownTimeoutSec)

	c.Links.VideoCapacity = getEnvInt("STREAMGRAPH_VIDEO_CAPACITY", c.Links.VideoCapacity)
	c.Links.AudioCapacity = getEnvInt("STREAMGRAPH_AUDIO_CAPACITY", c.Links.AudioCapacity)
	c.Links.DataCapacity = getEnvInt("STREAMGRAPH_DATA_CAPACITY", c.Links.DataCapacity)

	c.Worker.JoinTimeoutSec = getEnvInt("STREAMGRAPH_JOIN_TIMEOUT_SEC", c.Worker.JoinTimeoutSec)
	c.Worker.WakeupCapacity = getEnvInt("STREAMGRAPH_WAKEUP_CAPACITY", c.Worker.WakeupCapacity)

	c.Pool.DefaultInitialCap = getEnvInt("STREAMGRAPH_POOL_INITIAL_CAP", c.Pool.DefaultInitialCap)
	c.Pool.DefaultPolicy = getEnv("STREAMGRAPH_POOL_POLICY", c.Pool.DefaultPolicy)
	c.Pool.DefaultMaxCap = getEnvInt("STREAMGRAPH_POOL_MAX_CAP", c.Pool.DefaultMaxCap)
	c.Pool.BlockTimeoutMs = getEnvInt("STREAMGRAPH_POOL_BLOCK_TIMEOUT_MS", c.Pool.BlockTimeoutMs)

	c.Clock.DefaultRateHz = getEnvFloat("STREAMGRAPH_CLOCK_RATE_HZ", c.Clock.DefaultRateHz)

	c.Snapshot.RedisAddr = getEnv("STREAMGRAPH_SNAPSHOT_REDIS_ADDR", c.Snapshot.RedisAddr)
	c.Snapshot.KeyPrefix = getEnv("STREAMGRAPH_SNAPSHOT_KEY_PREFIX", c.Snapshot.KeyPrefix)

	c.Metrics.BindAddr = getEnv("STREAMGRAPH_METRICS_ADDR", c.Metrics.BindAddr)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
