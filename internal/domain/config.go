package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ConfigurationError reports invalid configuration at startup. It is fatal:
// the engine must not start with nonsensical thresholds or weights.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config holds the complete Shrike configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	Ingest   IngestConfig   `yaml:"ingest"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Signals  SignalsConfig  `yaml:"signals"`
	Verdict  VerdictConfig  `yaml:"verdict"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds

	// RateLimit is the max scoring requests per client per minute.
	// Zero disables rate limiting.
	RateLimit int `yaml:"rateLimit"`
}

// IngestConfig holds normalization settings.
type IngestConfig struct {
	// ClockSkewTolerance bounds how far in the future a transaction
	// timestamp may be before it is rejected as malformed.
	ClockSkewTolerance time.Duration `yaml:"clockSkewTolerance"`
}

// BehaviorConfig bounds the per-user behavior window.
type BehaviorConfig struct {
	// WindowCapacity is the max transactions kept per user.
	WindowCapacity int `yaml:"windowCapacity"`

	// WindowSpan is the max age of a windowed transaction.
	WindowSpan time.Duration `yaml:"windowSpan"`
}

// SignalsConfig configures the built-in evaluators.
type SignalsConfig struct {
	Velocity  VelocityConfig  `yaml:"velocity"`
	Deviation DeviationConfig `yaml:"deviation"`
	Geo       GeoConfig       `yaml:"geo"`
	Novelty   NoveltyConfig   `yaml:"novelty"`
	Merchant  MerchantConfig  `yaml:"merchant"`
	Model     ModelConfig     `yaml:"model"`

	// Expressions are operator-defined CEL evaluators compiled at startup.
	Expressions []ExpressionConfig `yaml:"expressions"`
}

// VelocityConfig configures the high-value velocity evaluator.
type VelocityConfig struct {
	Enabled bool          `yaml:"enabled"`
	Weight  float64       `yaml:"weight"`
	Window  time.Duration `yaml:"window"`

	// HighValueThreshold is the amount above which a windowed transaction
	// counts toward the velocity signal.
	HighValueThreshold float64 `yaml:"highValueThreshold"`
}

// DeviationConfig configures the amount-deviation evaluator.
type DeviationConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`

	// ZLow and ZHigh bound the linear ramp from 0 to 1 over the z-score.
	ZLow  float64 `yaml:"zLow"`
	ZHigh float64 `yaml:"zHigh"`

	// MinHistory is the minimum baseline size before the evaluator
	// considers the statistics meaningful.
	MinHistory int `yaml:"minHistory"`
}

// GeoConfig configures the impossible-travel evaluator.
type GeoConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`

	// MaxSpeedKmh is the travel speed considered physically implausible.
	MaxSpeedKmh float64 `yaml:"maxSpeedKmh"`
}

// NoveltyConfig configures the device/IP novelty evaluator.
type NoveltyConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`

	// PartialScore is the signal when exactly one of device or IP is known.
	PartialScore float64 `yaml:"partialScore"`
}

// MerchantConfig configures the merchant-risk evaluator.
type MerchantConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`

	// LookupTimeout bounds the registry lookup; on timeout the evaluator
	// degrades to its neutral signal.
	LookupTimeout time.Duration `yaml:"lookupTimeout"`
}

// ModelConfig configures the external model-score evaluator.
type ModelConfig struct {
	Enabled bool          `yaml:"enabled"`
	Weight  float64       `yaml:"weight"`
	Timeout time.Duration `yaml:"timeout"`
}

// ExpressionConfig is an operator-defined CEL evaluator.
type ExpressionConfig struct {
	ID         string  `yaml:"id"`
	Expression string  `yaml:"expression"`
	Weight     float64 `yaml:"weight"`
	Enabled    bool    `yaml:"enabled"`
}

// AggregationPolicy selects how signals combine into one score.
type AggregationPolicy string

const (
	// AggregateWeightedMean divides the weighted signal sum by the total
	// weight. Balanced: moderate agreement outweighs one outlier.
	AggregateWeightedMean AggregationPolicy = "weighted_mean"

	// AggregateMax takes the strongest single signal. More sensitive to
	// one sharp disagreement among evaluators.
	AggregateMax AggregationPolicy = "max"
)

// VerdictConfig maps aggregate scores to decisions.
type VerdictConfig struct {
	Policy AggregationPolicy `yaml:"policy"`

	// Boundaries are inclusive: a score exactly at a threshold resolves
	// to the higher-severity decision.
	ReviewThreshold float64 `yaml:"reviewThreshold"`
	BlockThreshold  float64 `yaml:"blockThreshold"`
}

// PipelineConfig bounds per-transaction processing and emission.
type PipelineConfig struct {
	// Deadline is the overall per-transaction budget; evaluators that
	// miss it degrade to their neutral signal.
	Deadline time.Duration `yaml:"deadline"`

	EmitQueueSize int           `yaml:"emitQueueSize"`
	EmitWorkers   int           `yaml:"emitWorkers"`
	EmitRetries   int           `yaml:"emitRetries"`
	EmitBackoff   time.Duration `yaml:"emitBackoff"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	Endpoint    string `yaml:"endpoint"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite repository, in-memory cache, channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ingest: IngestConfig{
			ClockSkewTolerance: 2 * time.Minute,
		},
		Behavior: BehaviorConfig{
			WindowCapacity: 200,
			WindowSpan:     30 * 24 * time.Hour,
		},
		Signals: SignalsConfig{
			Velocity: VelocityConfig{
				Enabled:            true,
				Weight:             1.0,
				Window:             5 * time.Minute,
				HighValueThreshold: 1000,
			},
			Deviation: DeviationConfig{
				Enabled:    true,
				Weight:     1.0,
				ZLow:       2.0,
				ZHigh:      4.0,
				MinHistory: 5,
			},
			Geo: GeoConfig{
				Enabled:     true,
				Weight:      1.0,
				MaxSpeedKmh: 900,
			},
			Novelty: NoveltyConfig{
				Enabled:      true,
				Weight:       1.0,
				PartialScore: 0.4,
			},
			Merchant: MerchantConfig{
				Enabled:       true,
				Weight:        1.0,
				LookupTimeout: 100 * time.Millisecond,
			},
			Model: ModelConfig{
				Enabled: false,
				Weight:  1.0,
				Timeout: 150 * time.Millisecond,
			},
		},
		Verdict: VerdictConfig{
			Policy:          AggregateWeightedMean,
			ReviewThreshold: 0.4,
			BlockThreshold:  0.75,
		},
		Pipeline: PipelineConfig{
			Deadline:      300 * time.Millisecond,
			EmitQueueSize: 1000,
			EmitWorkers:   4,
			EmitRetries:   3,
			EmitBackoff:   100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
		},
	}
}

// LoadFile overlays a YAML config file onto defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration surface the scoring engine consumes.
// Any violation is a ConfigurationError and must prevent startup.
func (c *Config) Validate() error {
	if c.Verdict.ReviewThreshold <= 0 || c.Verdict.ReviewThreshold > 1 {
		return &ConfigurationError{Field: "verdict.reviewThreshold", Reason: "must be in (0,1]"}
	}
	if c.Verdict.BlockThreshold <= 0 || c.Verdict.BlockThreshold > 1 {
		return &ConfigurationError{Field: "verdict.blockThreshold", Reason: "must be in (0,1]"}
	}
	if c.Verdict.ReviewThreshold > c.Verdict.BlockThreshold {
		return &ConfigurationError{Field: "verdict.reviewThreshold", Reason: "must not exceed blockThreshold"}
	}
	switch c.Verdict.Policy {
	case AggregateWeightedMean, AggregateMax, "":
	default:
		return &ConfigurationError{Field: "verdict.policy", Reason: fmt.Sprintf("unknown policy %q", c.Verdict.Policy)}
	}

	for name, weight := range map[string]float64{
		"signals.velocity.weight":  c.Signals.Velocity.Weight,
		"signals.deviation.weight": c.Signals.Deviation.Weight,
		"signals.geo.weight":       c.Signals.Geo.Weight,
		"signals.novelty.weight":   c.Signals.Novelty.Weight,
		"signals.merchant.weight":  c.Signals.Merchant.Weight,
		"signals.model.weight":     c.Signals.Model.Weight,
	} {
		if weight < 0 {
			return &ConfigurationError{Field: name, Reason: "must not be negative"}
		}
	}
	for _, expr := range c.Signals.Expressions {
		if expr.Weight < 0 {
			return &ConfigurationError{Field: "signals.expressions." + expr.ID + ".weight", Reason: "must not be negative"}
		}
		if expr.Enabled && expr.Expression == "" {
			return &ConfigurationError{Field: "signals.expressions." + expr.ID, Reason: "expression is required"}
		}
	}

	if c.Signals.Velocity.Window <= 0 {
		return &ConfigurationError{Field: "signals.velocity.window", Reason: "must be positive"}
	}
	if c.Signals.Velocity.HighValueThreshold < 0 {
		return &ConfigurationError{Field: "signals.velocity.highValueThreshold", Reason: "must not be negative"}
	}
	if c.Signals.Deviation.ZLow <= 0 || c.Signals.Deviation.ZHigh <= c.Signals.Deviation.ZLow {
		return &ConfigurationError{Field: "signals.deviation", Reason: "requires 0 < zLow < zHigh"}
	}
	if c.Signals.Geo.MaxSpeedKmh <= 0 {
		return &ConfigurationError{Field: "signals.geo.maxSpeedKmh", Reason: "must be positive"}
	}
	if c.Signals.Novelty.PartialScore < 0 || c.Signals.Novelty.PartialScore > 1 {
		return &ConfigurationError{Field: "signals.novelty.partialScore", Reason: "must be in [0,1]"}
	}

	if c.Behavior.WindowCapacity <= 0 && c.Behavior.WindowSpan <= 0 {
		return &ConfigurationError{Field: "behavior", Reason: "windowCapacity or windowSpan must be set"}
	}
	if c.Pipeline.Deadline <= 0 {
		return &ConfigurationError{Field: "pipeline.deadline", Reason: "must be positive"}
	}
	if c.Ingest.ClockSkewTolerance < 0 {
		return &ConfigurationError{Field: "ingest.clockSkewTolerance", Reason: "must not be negative"}
	}

	return nil
}
