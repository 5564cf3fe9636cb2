// Package config loads the engine's YAML configuration: which storage
// variant backs a Store, the tuning knobs for parallel hashing, the
// metrics namespace, and the backend connection settings for whichever
// kvdb adapter the flat variant is pointed at.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling from Go duration
// strings ("30s", "5m") instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Variant selects which storage implementation a Store operates as.
type Variant string

const (
	VariantPointer Variant = "pointer"
	VariantFlat    Variant = "flat"
)

// LeafHashDiscipline selects how a leaf's hash is computed. It must
// match Variant: the pointer variant always hashes the value alone, the
// flat variant always hashes key and value together.
type LeafHashDiscipline string

const (
	LeafHashValue    LeafHashDiscipline = "value"
	LeafHashKeyValue LeafHashDiscipline = "key_value"
)

// BackendKind selects the kvdb.OrderedKV adapter the flat variant
// persists into. Unused when Variant is pointer.
type BackendKind string

const (
	BackendMemory   BackendKind = "memory"
	BackendCometBFT BackendKind = "cometbft"
	BackendPostgres BackendKind = "postgres"
)

// EngineSettings tunes the core tree/store behavior shared by both
// variants.
type EngineSettings struct {
	Variant               Variant            `yaml:"variant"`
	LeafHashDiscipline    LeafHashDiscipline `yaml:"leaf_hash_discipline"`
	ParallelStemThreshold int                `yaml:"parallel_stem_threshold"`
	ParallelHashThreshold int                `yaml:"parallel_hash_threshold"`
}

// BackendSettings configures the flat variant's kvdb.OrderedKV adapter.
type BackendSettings struct {
	Kind BackendKind `yaml:"kind"`

	// CometBFT
	CometBFTDir    string `yaml:"cometbft_dir"`
	CometBFTName   string `yaml:"cometbft_name"`
	CometBFTDriver string `yaml:"cometbft_driver"`

	// Postgres
	PostgresDSN             string   `yaml:"postgres_dsn"`
	PostgresMaxOpenConns    int      `yaml:"postgres_max_open_conns"`
	PostgresMaxIdleConns    int      `yaml:"postgres_max_idle_conns"`
	PostgresConnMaxIdleTime Duration `yaml:"postgres_conn_max_idle_time"`
	PostgresConnMaxLifetime Duration `yaml:"postgres_conn_max_lifetime"`
}

// MetricsSettings configures the shared telemetry.Recorder.
type MetricsSettings struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingSettings configures the package-wide *log.Logger construction.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineConfig is the top-level configuration document for a running
// instance of the state store: which variant, how it's tuned, where the
// flat variant's hash nodes live, and how logging/metrics are exposed.
type EngineConfig struct {
	Environment string          `yaml:"environment"`
	Engine      EngineSettings  `yaml:"engine"`
	Backend     BackendSettings `yaml:"backend"`
	Metrics     MetricsSettings `yaml:"metrics"`
	Logging     LoggingSettings `yaml:"logging"`
}

// LoadEngineConfig reads path, substitutes ${VAR_NAME} / ${VAR_NAME:-default}
// references against the process environment, and parses the result as
// YAML.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg EngineConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEngineConfigWithDefaults loads path and fills any unset field with
// its default value.
func LoadEngineConfigWithDefaults(path string) (*EngineConfig, error) {
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func (c *EngineConfig) applyDefaults() {
	if c.Engine.Variant == "" {
		c.Engine.Variant = VariantPointer
	}
	if c.Engine.LeafHashDiscipline == "" {
		switch c.Engine.Variant {
		case VariantFlat:
			c.Engine.LeafHashDiscipline = LeafHashKeyValue
		default:
			c.Engine.LeafHashDiscipline = LeafHashValue
		}
	}
	if c.Engine.ParallelStemThreshold == 0 {
		c.Engine.ParallelStemThreshold = 2048
	}
	if c.Engine.ParallelHashThreshold == 0 {
		c.Engine.ParallelHashThreshold = 512
	}

	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendMemory
	}
	if c.Backend.CometBFTName == "" {
		c.Backend.CometBFTName = "bintree"
	}
	if c.Backend.CometBFTDriver == "" {
		c.Backend.CometBFTDriver = "goleveldb"
	}
	if c.Backend.PostgresMaxOpenConns == 0 {
		c.Backend.PostgresMaxOpenConns = 25
	}
	if c.Backend.PostgresMaxIdleConns == 0 {
		c.Backend.PostgresMaxIdleConns = 5
	}
	if c.Backend.PostgresConnMaxIdleTime == 0 {
		c.Backend.PostgresConnMaxIdleTime = Duration(5 * time.Minute)
	}
	if c.Backend.PostgresConnMaxLifetime == 0 {
		c.Backend.PostgresConnMaxLifetime = Duration(1 * time.Hour)
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "bintree"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the config for internal consistency, returning a
// descriptive error for a combination that cannot run.
func (c *EngineConfig) Validate() error {
	switch c.Engine.Variant {
	case VariantPointer, VariantFlat:
	default:
		return fmt.Errorf("config: unknown engine.variant %q", c.Engine.Variant)
	}
	switch c.Engine.LeafHashDiscipline {
	case LeafHashValue:
		if c.Engine.Variant != VariantPointer {
			return fmt.Errorf("config: leaf_hash_discipline=value requires engine.variant=pointer")
		}
	case LeafHashKeyValue:
		if c.Engine.Variant != VariantFlat {
			return fmt.Errorf("config: leaf_hash_discipline=key_value requires engine.variant=flat")
		}
	default:
		return fmt.Errorf("config: unknown engine.leaf_hash_discipline %q", c.Engine.LeafHashDiscipline)
	}
	if c.Engine.Variant == VariantFlat {
		switch c.Backend.Kind {
		case BackendMemory, BackendCometBFT, BackendPostgres:
		default:
			return fmt.Errorf("config: unknown backend.kind %q", c.Backend.Kind)
		}
		if c.Backend.Kind == BackendPostgres && c.Backend.PostgresDSN == "" {
			return fmt.Errorf("config: backend.postgres_dsn is required for backend.kind=postgres")
		}
		if c.Backend.Kind == BackendCometBFT && c.Backend.CometBFTDir == "" {
			return fmt.Errorf("config: backend.cometbft_dir is required for backend.kind=cometbft")
		}
	}
	if c.Engine.ParallelStemThreshold < 0 {
		return fmt.Errorf("config: engine.parallel_stem_threshold must be >= 0")
	}
	if c.Engine.ParallelHashThreshold < 0 {
		return fmt.Errorf("config: engine.parallel_hash_threshold must be >= 0")
	}
	return nil
}

// IsProduction reports whether Environment is "production". Validate
// does not consult it.
func (c *EngineConfig) IsProduction() bool {
	return c.Environment == "production"
}
