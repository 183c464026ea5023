package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLEETSIM_"

// Config captures the settings required to boot the simulator service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	History    HistoryConfig    `yaml:"history"`
	World      WorldConfig      `yaml:"world"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	Reflection      bool          `yaml:"reflection"`
	StreamBuffer    int           `yaml:"streamBuffer"`
}

// SimulationConfig tunes the tick loop and evolution engine.
type SimulationConfig struct {
	TickInterval    time.Duration `yaml:"tickInterval"`
	Seed            int64         `yaml:"seed"`
	EscalationTicks int           `yaml:"escalationTicks"`
	DispatchBuffer  int           `yaml:"dispatchBuffer"`
	ResolutionTTL   time.Duration `yaml:"resolutionTTL"`
}

// HistoryConfig bounds the in-memory history rings.
type HistoryConfig struct {
	Snapshots          int `yaml:"snapshots"`
	Metrics            int `yaml:"metrics"`
	AppHealth          int `yaml:"appHealth"`
	HealthHistoryLimit int `yaml:"healthHistoryLimit"`
}

// WorldConfig points at the world fixture and discovery rule files.
type WorldConfig struct {
	Path       string `yaml:"path"`
	RulesPath  string `yaml:"rulesPath"`
	WatchRules bool   `yaml:"watchRules"`
}

// AnalysisConfig controls root-cause analysis.
type AnalysisConfig struct {
	Window           time.Duration `yaml:"window"`
	MaxHypotheses    int           `yaml:"maxHypotheses"`
	AnomalyThreshold float64       `yaml:"anomalyThreshold"`
	AnomalyWindow    time.Duration `yaml:"anomalyWindow"`
	RulesPath        string        `yaml:"rulesPath"`
}

// IncidentsConfig controls incident injection.
type IncidentsConfig struct {
	Retention    int     `yaml:"retention"`
	InjectRate   float64 `yaml:"injectRate"`
	InjectBurst  int     `yaml:"injectBurst"`
	ScenarioPath string  `yaml:"scenarioPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls the Redis/Valkey-backed cache of frames and reports.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	FrameTTL     time.Duration `yaml:"frameTTL"`
	ReportTTL    time.Duration `yaml:"reportTTL"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	Pretty      bool   `yaml:"pretty"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
			StreamBuffer:    16,
		},
		Simulation: SimulationConfig{
			TickInterval:    5 * time.Second,
			EscalationTicks: 2,
			DispatchBuffer:  8,
			ResolutionTTL:   30 * time.Second,
		},
		History: HistoryConfig{
			Snapshots:          1000,
			Metrics:            1000,
			AppHealth:          1000,
			HealthHistoryLimit: 100,
		},
		Analysis: AnalysisConfig{
			Window:           30 * time.Minute,
			MaxHypotheses:    10,
			AnomalyThreshold: 3,
			AnomalyWindow:    10 * time.Minute,
			RulesPath:        "configs/rules/remediation.yaml",
		},
		Incidents: IncidentsConfig{
			Retention:   200,
			InjectRate:  1,
			InjectBurst: 5,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			KeyPrefix:    "fleetsim:",
			FrameTTL:     30 * time.Second,
			ReportTTL:    time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Tracing: TracingConfig{ServiceName: "fleet-sim"},
	}
}

// Validate rejects settings the simulator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tickInterval must be positive, got %s", c.Simulation.TickInterval))
	}
	if c.Analysis.AnomalyThreshold < 0 {
		errs = append(errs, fmt.Errorf("analysis.anomalyThreshold must not be negative"))
	}
	if c.Incidents.InjectRate < 0 || c.Incidents.InjectBurst < 0 {
		errs = append(errs, fmt.Errorf("incidents.injectRate and injectBurst must not be negative"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, fmt.Errorf("cache.addr is required when the cache is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString("SERVER_ADDRESS", &cfg.Server.Address)
	envString("METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	envDuration("GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout)
	envBool("REFLECTION", &cfg.Server.Reflection)

	envDuration("TICK_INTERVAL", &cfg.Simulation.TickInterval)
	if v := os.Getenv(EnvPrefix + "SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Simulation.Seed = seed
		}
	}
	envInt("ESCALATION_TICKS", &cfg.Simulation.EscalationTicks)
	envDuration("RESOLUTION_TTL", &cfg.Simulation.ResolutionTTL)

	envInt("HISTORY_SNAPSHOTS", &cfg.History.Snapshots)
	envInt("HISTORY_METRICS", &cfg.History.Metrics)
	envInt("HISTORY_APP_HEALTH", &cfg.History.AppHealth)

	envString("WORLD_PATH", &cfg.World.Path)
	envString("DISCOVERY_RULES_PATH", &cfg.World.RulesPath)
	envBool("WATCH_RULES", &cfg.World.WatchRules)

	envDuration("ANALYSIS_WINDOW", &cfg.Analysis.Window)
	envInt("ANALYSIS_MAX_HYPOTHESES", &cfg.Analysis.MaxHypotheses)
	envString("REMEDIATION_RULES_PATH", &cfg.Analysis.RulesPath)
	if v := os.Getenv(EnvPrefix + "ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.AnomalyThreshold = f
		}
	}

	envInt("INCIDENT_RETENTION", &cfg.Incidents.Retention)
	envInt("INJECT_BURST", &cfg.Incidents.InjectBurst)
	envString("SCENARIO_PATH", &cfg.Incidents.ScenarioPath)
	if v := os.Getenv(EnvPrefix + "INJECT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Incidents.InjectRate = f
		}
	}

	envString("LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	envBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	envString("CACHE_ADDR", &cfg.Cache.Addr)
	envString("CACHE_USERNAME", &cfg.Cache.Username)
	envString("CACHE_PASSWORD", &cfg.Cache.Password)
	envInt("CACHE_DB", &cfg.Cache.DB)
	envBool("CACHE_TLS", &cfg.Cache.TLS)
	envDuration("CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envDuration("CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	envDuration("CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	envInt("CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
	envDuration("CACHE_FRAME_TTL", &cfg.Cache.FrameTTL)
	envDuration("CACHE_REPORT_TTL", &cfg.Cache.ReportTTL)

	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}
