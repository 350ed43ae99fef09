package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestDefault tests the documented defaults
func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.CycleInterval())
	assert.Equal(t, 10*time.Minute, cfg.FlappingWindow())
	assert.Equal(t, 3, cfg.EscalationThreshold)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, 10*time.Second, cfg.PerCallTimeout())
	assert.Equal(t, ApprovalManual, cfg.ApprovalMode)
	assert.Equal(t, 2*time.Minute, cfg.CycleDeadline())
	assert.Equal(t, 2*time.Second, cfg.RetryBase())
	assert.Equal(t, time.Hour, cfg.EscalationWindow())
	assert.NoError(t, cfg.Validate())
}

// TestLoadEmptyPath tests that an empty path yields defaults
func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

// TestLoadOverrides tests that file values override defaults and the rest survive
func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
namespaces: [shop, payments]
cycle_interval_seconds: 15
approval_mode: auto-approve-safe-only
worker_pool_size: 8
retry_base_seconds: 0.5
probes:
  - namespace: shop
    from: frontend
    url: http://backend.shop.svc:8080/healthz
  - from: backend
    address: redis.shop.svc:6379
log:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"shop", "payments"}, cfg.Namespaces)
	assert.Equal(t, 15*time.Second, cfg.CycleInterval())
	assert.Equal(t, ApprovalAutoSafeOnly, cfg.ApprovalMode)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBase())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	// Untouched defaults survive
	assert.Equal(t, 10, cfg.FlappingWindowMinutes)
	assert.Equal(t, "metrics-server", cfg.MetricsServer.Name)

	assert.Len(t, cfg.ProbesFor("shop"), 2)
	assert.Len(t, cfg.ProbesFor("payments"), 1)
}

// TestLoadMissingFile tests the error path for a missing file
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestValidate tests validation failures
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no namespaces", func(c *Config) { c.Namespaces = nil }},
		{"duplicate namespace", func(c *Config) { c.Namespaces = []string{"a", "a"} }},
		{"bad approval mode", func(c *Config) { c.ApprovalMode = "yolo" }},
		{"zero worker pool", func(c *Config) { c.WorkerPoolSize = 0 }},
		{"zero escalation threshold", func(c *Config) { c.EscalationThreshold = 0 }},
		{"replica floor below one", func(c *Config) { c.MinReplicaFloor = 0 }},
		{"resource step out of range", func(c *Config) { c.ResourceStepPercent = 100 }},
		{"probe without target", func(c *Config) { c.Probes = []Probe{{From: "web"}} }},
		{"probe with both targets", func(c *Config) {
			c.Probes = []Probe{{From: "web", URL: "http://x", Address: "x:1"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoadInvalidValues tests that validation runs on load
func TestLoadInvalidValues(t *testing.T) {
	path := writeConfig(t, "approval_mode: sometimes\n")
	_, err := Load(path)
	assert.Error(t, err)
}
