package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ApprovalMode controls which actions the executor may apply unsupervised
type ApprovalMode string

const (
	// ApprovalManual holds every mutating action for operator approval.
	ApprovalManual ApprovalMode = "manual"
	// ApprovalAutoSafeOnly applies safe-auto actions and holds the rest.
	ApprovalAutoSafeOnly ApprovalMode = "auto-approve-safe-only"
)

// Config is the full engine configuration, loaded once at startup
type Config struct {
	Namespaces []string `yaml:"namespaces"`

	CycleIntervalSeconds     int `yaml:"cycle_interval_seconds"`
	CycleDeadlineSeconds     int `yaml:"cycle_deadline_seconds"`
	CollectionTimeoutSeconds int `yaml:"collection_timeout_seconds"`
	WorkerPoolSize           int `yaml:"worker_pool_size"`

	FlappingWindowMinutes   int `yaml:"flapping_window_minutes"`
	EscalationThreshold     int `yaml:"escalation_threshold"`
	EscalationWindowMinutes int `yaml:"escalation_window_minutes"`

	ApprovalMode                ApprovalMode `yaml:"approval_mode"`
	PerCallTimeoutSeconds       int          `yaml:"per_call_timeout_seconds"`
	RetryAttempts               int          `yaml:"retry_attempts"`
	RetryBaseSeconds            float64      `yaml:"retry_base_seconds"`
	PostconditionTimeoutSeconds int          `yaml:"postcondition_timeout_seconds"`
	PostconditionPollSeconds    float64      `yaml:"postcondition_poll_seconds"`

	CrashLoopRestartThreshold int `yaml:"crashloop_restart_threshold"`
	CrashLoopWindowMinutes    int `yaml:"crashloop_window_minutes"`
	PendingGraceSeconds       int `yaml:"pending_grace_seconds"`
	MetricsStaleMinutes       int `yaml:"metrics_stale_minutes"`

	MinReplicaFloor     int32 `yaml:"min_replica_floor"`
	ResourceStepPercent int   `yaml:"resource_step_percent"`
	MinCPUMillis        int64 `yaml:"min_cpu_millis"`
	MinMemoryMiB        int64 `yaml:"min_memory_mib"`
	LogExcerptBytes     int64 `yaml:"log_excerpt_bytes"`

	LedgerPath           string `yaml:"ledger_path"`
	LedgerRetentionHours int    `yaml:"ledger_retention_hours"`

	APIAddr  string `yaml:"api_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	Kubeconfig                string        `yaml:"kubeconfig"`
	KubeContext               string        `yaml:"kube_context"`
	IngressControllerSelector string        `yaml:"ingress_controller_selector"`
	MetricsServer             MetricsServer `yaml:"metrics_server"`
	Probes                    []Probe       `yaml:"probes"`

	Log Log `yaml:"log"`
}

// MetricsServer locates the metrics-server deployment
type MetricsServer struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Container string `yaml:"container"`
}

// Probe is a cross-call health probe originating at a workload
type Probe struct {
	Namespace string `yaml:"namespace"`
	From      string `yaml:"from"`
	URL       string `yaml:"url"`
	Address   string `yaml:"address"`
}

// Log configures the global logger
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with every documented default applied
func Default() Config {
	return Config{
		Namespaces:                  []string{"default"},
		CycleIntervalSeconds:        30,
		CycleDeadlineSeconds:        120,
		CollectionTimeoutSeconds:    20,
		WorkerPoolSize:              4,
		FlappingWindowMinutes:       10,
		EscalationThreshold:         3,
		EscalationWindowMinutes:     60,
		ApprovalMode:                ApprovalManual,
		PerCallTimeoutSeconds:       10,
		RetryAttempts:               3,
		RetryBaseSeconds:            2,
		PostconditionTimeoutSeconds: 60,
		PostconditionPollSeconds:    2,
		CrashLoopRestartThreshold:   5,
		CrashLoopWindowMinutes:      10,
		PendingGraceSeconds:         120,
		MetricsStaleMinutes:         5,
		MinReplicaFloor:             1,
		ResourceStepPercent:         25,
		MinCPUMillis:                50,
		MinMemoryMiB:                64,
		LogExcerptBytes:             4096,
		LedgerRetentionHours:        168,
		APIAddr:                     ":9090",
		IngressControllerSelector:   "app.kubernetes.io/name=ingress-nginx",
		MetricsServer: MetricsServer{
			Namespace: "kube-system",
			Name:      "metrics-server",
			Container: "metrics-server",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace is required")
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns == "" {
			return fmt.Errorf("namespace names must not be empty")
		}
		if seen[ns] {
			return fmt.Errorf("duplicate namespace %q", ns)
		}
		seen[ns] = true
	}

	switch c.ApprovalMode {
	case ApprovalManual, ApprovalAutoSafeOnly:
	default:
		return fmt.Errorf("approval_mode must be %q or %q, got %q", ApprovalManual, ApprovalAutoSafeOnly, c.ApprovalMode)
	}

	positive := map[string]int{
		"cycle_interval_seconds":        c.CycleIntervalSeconds,
		"cycle_deadline_seconds":        c.CycleDeadlineSeconds,
		"collection_timeout_seconds":    c.CollectionTimeoutSeconds,
		"worker_pool_size":              c.WorkerPoolSize,
		"flapping_window_minutes":       c.FlappingWindowMinutes,
		"escalation_threshold":          c.EscalationThreshold,
		"escalation_window_minutes":     c.EscalationWindowMinutes,
		"per_call_timeout_seconds":      c.PerCallTimeoutSeconds,
		"retry_attempts":                c.RetryAttempts,
		"postcondition_timeout_seconds": c.PostconditionTimeoutSeconds,
		"crashloop_restart_threshold":   c.CrashLoopRestartThreshold,
		"crashloop_window_minutes":      c.CrashLoopWindowMinutes,
		"metrics_stale_minutes":         c.MetricsStaleMinutes,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.RetryBaseSeconds <= 0 || c.PostconditionPollSeconds <= 0 {
		return fmt.Errorf("retry_base_seconds and postcondition_poll_seconds must be positive")
	}
	if c.MinReplicaFloor < 1 {
		return fmt.Errorf("min_replica_floor must be at least 1, got %d", c.MinReplicaFloor)
	}
	if c.ResourceStepPercent <= 0 || c.ResourceStepPercent >= 100 {
		return fmt.Errorf("resource_step_percent must be between 1 and 99, got %d", c.ResourceStepPercent)
	}
	if c.PendingGraceSeconds < 0 {
		return fmt.Errorf("pending_grace_seconds must not be negative")
	}

	for i, p := range c.Probes {
		if p.From == "" {
			return fmt.Errorf("probes[%d]: from is required", i)
		}
		if (p.URL == "") == (p.Address == "") {
			return fmt.Errorf("probes[%d]: exactly one of url or address is required", i)
		}
	}

	return nil
}

// Durations derived from the raw configuration values

func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalSeconds) * time.Second
}

func (c *Config) CycleDeadline() time.Duration {
	return time.Duration(c.CycleDeadlineSeconds) * time.Second
}

func (c *Config) CollectionTimeout() time.Duration {
	return time.Duration(c.CollectionTimeoutSeconds) * time.Second
}

func (c *Config) FlappingWindow() time.Duration {
	return time.Duration(c.FlappingWindowMinutes) * time.Minute
}

func (c *Config) EscalationWindow() time.Duration {
	return time.Duration(c.EscalationWindowMinutes) * time.Minute
}

func (c *Config) PerCallTimeout() time.Duration {
	return time.Duration(c.PerCallTimeoutSeconds) * time.Second
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds * float64(time.Second))
}

func (c *Config) PostconditionTimeout() time.Duration {
	return time.Duration(c.PostconditionTimeoutSeconds) * time.Second
}

func (c *Config) PostconditionPoll() time.Duration {
	return time.Duration(c.PostconditionPollSeconds * float64(time.Second))
}

func (c *Config) CrashLoopWindow() time.Duration {
	return time.Duration(c.CrashLoopWindowMinutes) * time.Minute
}

func (c *Config) PendingGrace() time.Duration {
	return time.Duration(c.PendingGraceSeconds) * time.Second
}

func (c *Config) MetricsStale() time.Duration {
	return time.Duration(c.MetricsStaleMinutes) * time.Minute
}

func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.LedgerRetentionHours) * time.Hour
}

// ProbesFor returns the probes configured for a namespace. Probes without a
// namespace apply to every namespace.
func (c *Config) ProbesFor(namespace string) []Probe {
	var out []Probe
	for _, p := range c.Probes {
		if p.Namespace == "" || p.Namespace == namespace {
			out = append(out, p)
		}
	}
	return out
}
