package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/phiaccrual/pkg/gossip"
	"github.com/ryandielhenn/phiaccrual/pkg/phi"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen           = ":8080"
	DefaultEtcdEndpoint     = "http://etcd:2379"
	DefaultEtcdPrefix       = "/phiaccrual/nodes/"
	DefaultLeaseTTL         = 10
	DefaultDialTimeout      = 5 * time.Second
	DefaultEvaluateInterval = 250 * time.Millisecond
	DefaultProbeInterval    = 500 * time.Millisecond
	DefaultProbeTimeout     = 400 * time.Millisecond
	DefaultProbePath        = "/healthz"
	DefaultReplicas         = 2
	DefaultLogLevel         = "info"
)

// Config is the monitor node configuration. Fields map 1:1 to the YAML file;
// a handful of environment variables override them (see applyEnv).
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Etcd       EtcdConfig       `yaml:"etcd"`
	Detector   DetectorConfig   `yaml:"detector"`
	Membership MembershipConfig `yaml:"membership"`
	Probe      ProbeConfig      `yaml:"probe"`
	Log        LogConfig        `yaml:"log"`
}

type NodeConfig struct {
	// ID names this node in etcd and on the monitor ring.
	ID string `yaml:"id"`

	// Addr is the host:port other nodes use to reach this one.
	Addr string `yaml:"addr"`

	// Listen is the local HTTP listen address.
	Listen string `yaml:"listen"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	LeaseTTL    int64         `yaml:"lease_ttl"` // seconds
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DetectorConfig is the per-peer phi detector configuration.
type DetectorConfig struct {
	MaxSampleSize            int           `yaml:"max_sample_size"`
	MinStdDeviation          time.Duration `yaml:"min_std_deviation"`
	AcceptableHeartbeatPause time.Duration `yaml:"acceptable_heartbeat_pause"`
	FirstHeartbeatEstimate   time.Duration `yaml:"first_heartbeat_estimate"`
}

func (d DetectorConfig) Phi() phi.Config {
	return phi.Config{
		MaxSampleSize:            d.MaxSampleSize,
		MinStdDeviation:          d.MinStdDeviation,
		AcceptableHeartbeatPause: d.AcceptableHeartbeatPause,
		FirstHeartbeatEstimate:   d.FirstHeartbeatEstimate,
	}
}

type MembershipConfig struct {
	// Thresholds can be changed on a running node by editing the file.
	Thresholds gossip.Thresholds `yaml:"thresholds"`

	// EvaluateInterval controls how often member states are recomputed.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
}

type ProbeConfig struct {
	// Enabled turns on active /healthz probing of owned peers. Pushed
	// heartbeats are always accepted.
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Path     string        `yaml:"path"`

	// Replicas is how many monitors probe each peer.
	Replicas int `yaml:"replicas"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	det := phi.DefaultConfig()
	return &Config{
		Node: NodeConfig{Listen: DefaultListen},
		Etcd: EtcdConfig{
			Endpoints:   []string{DefaultEtcdEndpoint},
			Prefix:      DefaultEtcdPrefix,
			LeaseTTL:    DefaultLeaseTTL,
			DialTimeout: DefaultDialTimeout,
		},
		Detector: DetectorConfig{
			MaxSampleSize:            det.MaxSampleSize,
			MinStdDeviation:          det.MinStdDeviation,
			AcceptableHeartbeatPause: det.AcceptableHeartbeatPause,
			FirstHeartbeatEstimate:   det.FirstHeartbeatEstimate,
		},
		Membership: MembershipConfig{
			Thresholds:       gossip.DefaultThresholds(),
			EvaluateInterval: DefaultEvaluateInterval,
		},
		Probe: ProbeConfig{
			Enabled:  true,
			Interval: DefaultProbeInterval,
			Timeout:  DefaultProbeTimeout,
			Path:     DefaultProbePath,
			Replicas: DefaultReplicas,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// applyEnv keeps the container-style overrides the compose files rely on.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("SELF_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("SELF_ADDR"); v != "" {
		cfg.Node.Addr = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.Listen = v
	}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		cfg.Etcd.Endpoints = splitList(v)
	}
	if v := os.Getenv("MONITOR_REPLICAS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MONITOR_REPLICAS: %w", err)
		}
		cfg.Probe.Replicas = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Node.ID == "" {
		return errors.New("node.id is required")
	}
	if cfg.Node.Addr == "" {
		cfg.Node.Addr = cfg.Node.ID
	}
	if len(cfg.Etcd.Endpoints) == 0 {
		return errors.New("etcd.endpoints must not be empty")
	}
	if !strings.HasSuffix(cfg.Etcd.Prefix, "/") {
		return fmt.Errorf("etcd.prefix %q must end with /", cfg.Etcd.Prefix)
	}
	if cfg.Etcd.LeaseTTL <= 0 {
		return errors.New("etcd.lease_ttl must be positive")
	}
	if err := cfg.Detector.Phi().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := cfg.Membership.Thresholds.Validate(); err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if cfg.Membership.EvaluateInterval <= 0 {
		return errors.New("membership.evaluate_interval must be positive")
	}
	if cfg.Probe.Enabled {
		if cfg.Probe.Interval <= 0 || cfg.Probe.Timeout <= 0 {
			return errors.New("probe.interval and probe.timeout must be positive")
		}
		if cfg.Probe.Replicas <= 0 {
			return errors.New("probe.replicas must be positive")
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
