// Package config loads benchmark-service configuration: coordinator
// bind address, executor capability flags, liveness thresholds, and
// default percentile sets. It follows the teacher's plain-struct
// Config/DefaultConfig idiom (scheduler.Config, raft.ClusterConfig),
// with values optionally overlaid from a YAML file and environment
// variables via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings a benchctl server process needs at
// startup. Zero-value fields are filled in from DefaultConfig() by
// Load.
type Config struct {
	NodeID   string `mapstructure:"node_id"`
	BindAddr string `mapstructure:"bind_addr"`

	RaftBindAddr string `mapstructure:"raft_bind_addr"`
	RaftDataDir  string `mapstructure:"raft_data_dir"`
	Bootstrap    bool   `mapstructure:"bootstrap"`
	JoinAddr     string `mapstructure:"join_addr"`

	// CanRunBenchmarks decides whether this node starts an executor. The
	// coordinator does not read it when assigning nodes: StartBenchmark
	// chooses among every id the transport reports as alive.
	CanRunBenchmarks bool `mapstructure:"can_run_benchmarks"`

	DefaultPercentiles []float64 `mapstructure:"default_percentiles"`

	LivenessFailThreshold int           `mapstructure:"liveness_fail_threshold"`
	LivenessPingInterval  time.Duration `mapstructure:"liveness_ping_interval"`

	// AuthMode is "", "oidc", or "shared-secret". "" disables the
	// bearer-auth gate on /_bench*.
	AuthMode      string `mapstructure:"auth_mode"`
	OIDCIssuerURL string `mapstructure:"oidc_issuer_url"`
	OIDCClientID  string `mapstructure:"oidc_client_id"`
	SharedSecret  string `mapstructure:"shared_secret"`

	// TracingEnabled turns on OpenTelemetry span export for this node
	// (see internal/observability.InitTracer). TracingOTLPEndpoint
	// selects OTLP/HTTP export; empty means stdout export.
	TracingEnabled      bool   `mapstructure:"tracing_enabled"`
	TracingOTLPEndpoint string `mapstructure:"tracing_otlp_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring
// spec.md's default percentile set and a conservative liveness
// threshold.
func DefaultConfig() Config {
	return Config{
		NodeID:                "node-1",
		BindAddr:              "0.0.0.0:8080",
		RaftBindAddr:          "0.0.0.0:7000",
		RaftDataDir:           "./data",
		Bootstrap:             false,
		CanRunBenchmarks:      true,
		DefaultPercentiles:    []float64{10, 25, 50, 75, 90, 99},
		LivenessFailThreshold: 3,
		LivenessPingInterval:  2 * time.Second,
		AuthMode:              "",
		TracingEnabled:        false,
	}
}

// Load builds a Config starting from DefaultConfig(), then overlays
// values from path (a YAML file, skipped silently if empty or not
// found) and from BENCHCTL_-prefixed environment variables, the
// latter taking precedence. Grounded on the teacher's own config
// loading (internal/common.LoadConfig: SetConfigName/AddConfigPath/
// ReadInConfig/Unmarshal), extended with AutomaticEnv the way the
// teacher's own command_line.go does for its CLI flags.
func Load(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("benchctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
			case *os.PathError:
				// missing config file is fine, defaults/env still apply
			default:
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("node_id", def.NodeID)
	v.SetDefault("bind_addr", def.BindAddr)
	v.SetDefault("raft_bind_addr", def.RaftBindAddr)
	v.SetDefault("raft_data_dir", def.RaftDataDir)
	v.SetDefault("bootstrap", def.Bootstrap)
	v.SetDefault("join_addr", def.JoinAddr)
	v.SetDefault("can_run_benchmarks", def.CanRunBenchmarks)
	v.SetDefault("default_percentiles", def.DefaultPercentiles)
	v.SetDefault("liveness_fail_threshold", def.LivenessFailThreshold)
	v.SetDefault("liveness_ping_interval", def.LivenessPingInterval)
	v.SetDefault("auth_mode", def.AuthMode)
	v.SetDefault("oidc_issuer_url", def.OIDCIssuerURL)
	v.SetDefault("oidc_client_id", def.OIDCClientID)
	v.SetDefault("shared_secret", def.SharedSecret)
	v.SetDefault("tracing_enabled", def.TracingEnabled)
	v.SetDefault("tracing_otlp_endpoint", def.TracingOTLPEndpoint)
}
