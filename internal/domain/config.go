package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure backends
	Tier Tier `json:"tier"`

	// Engine holds the scoring pipeline parameters
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds the named, validated scoring parameters.
// Every knob the pipeline consults lives here rather than in ad hoc
// per-call parameters.
type EngineConfig struct {
	// Ensemble weights; must sum to 1.
	SupervisedWeight   float64 `json:"supervisedWeight"`
	UnsupervisedWeight float64 `json:"unsupervisedWeight"`

	// Dynamic threshold bounds and age saturation.
	MinThreshold      float64 `json:"minThreshold"`
	MaxThreshold      float64 `json:"maxThreshold"`
	AgeSaturationDays int     `json:"ageSaturationDays"`

	// Risk level banding over the 0-100 score.
	RiskLevels RiskLevelCutoffs `json:"riskLevels"`

	// Impossible-travel speed cap in km/h.
	MaxTravelSpeedKPH float64 `json:"maxTravelSpeedKph"`

	// Graph contagion search depth.
	GraphMaxHops int `json:"graphMaxHops"`

	// Champion/challenger retraining.
	RetrainMinFeedback int           `json:"retrainMinFeedback"`
	RetrainInterval    time.Duration `json:"retrainInterval"`
	PromotionMargin    float64       `json:"promotionMargin"`
}

// Validate checks ordering and range constraints on engine parameters.
func (c *EngineConfig) Validate() error {
	if sum := c.SupervisedWeight + c.UnsupervisedWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.4f", sum)
	}
	if c.SupervisedWeight < 0 || c.UnsupervisedWeight < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if c.MinThreshold <= 0 || c.MaxThreshold >= 1 || c.MinThreshold >= c.MaxThreshold {
		return fmt.Errorf("thresholds must satisfy 0 < min < max < 1, got min=%.2f max=%.2f",
			c.MinThreshold, c.MaxThreshold)
	}
	if c.AgeSaturationDays <= 0 {
		return fmt.Errorf("ageSaturationDays must be positive")
	}
	if c.RiskLevels.Medium <= 0 || c.RiskLevels.Medium >= c.RiskLevels.High || c.RiskLevels.High > 100 {
		return fmt.Errorf("risk level cutoffs must satisfy 0 < medium < high <= 100")
	}
	if c.MaxTravelSpeedKPH <= 0 {
		return fmt.Errorf("maxTravelSpeedKph must be positive")
	}
	if c.GraphMaxHops <= 0 {
		return fmt.Errorf("graphMaxHops must be positive")
	}
	if c.PromotionMargin < 0 {
		return fmt.Errorf("promotionMargin must be non-negative")
	}
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process cache + channel bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS.
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the standard pipeline parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SupervisedWeight:   0.70,
		UnsupervisedWeight: 0.30,
		MinThreshold:       0.30,
		MaxThreshold:       0.70,
		AgeSaturationDays:  90,
		RiskLevels:         DefaultRiskLevelCutoffs(),
		MaxTravelSpeedKPH:  900,
		GraphMaxHops:       2,
		RetrainMinFeedback: 25,
		RetrainInterval:    time.Hour,
		PromotionMargin:    0.02,
	}
}

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
