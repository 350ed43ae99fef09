package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	prev := healthChecker
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
	t.Cleanup(func() { healthChecker = prev })
}

func serve(t *testing.T, h http.HandlerFunc, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestReadinessNeedsCollectorLedgerAndEngine(t *testing.T) {
	tests := []struct {
		name        string
		register    map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{
			name:        "nothing registered",
			wantStatus:  "not_ready",
			wantMessage: "initialization",
		},
		{
			name:        "engine not started",
			register:    map[string]bool{"collector": true, "ledger": true},
			wantStatus:  "not_ready",
			wantMessage: "waiting for engine initialization",
		},
		{
			name:        "ledger failed to open",
			register:    map[string]bool{"collector": true, "ledger": false, "engine": true},
			wantStatus:  "not_ready",
			wantMessage: "waiting for ledger",
		},
		{
			name:       "failed namespace does not gate readiness",
			register:   map[string]bool{"collector": true, "ledger": true, "engine": true},
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			for name, healthy := range tt.register {
				RegisterComponent(name, healthy, "")
			}
			UpdateNamespace("shop", false, "CollectionFailure")

			r := GetReadiness()
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Contains(t, r.Message, tt.wantMessage)
			assert.Len(t, r.Components, 3)
		})
	}
}

func TestNamespaceFailureDegradesHealth(t *testing.T) {
	resetHealth(t)
	SetVersion("v0.3.0")
	RegisterComponent("collector", true, "")
	RegisterComponent("ledger", true, "/var/lib/triage/ledger.db")
	RegisterComponent("engine", true, "")

	UpdateNamespace("shop", true, "")
	UpdateNamespace("payments", false, "CollectionFailure: timed out")

	h := GetHealth()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "healthy", h.Components["namespace:shop"])
	assert.Equal(t, "degraded: CollectionFailure: timed out", h.Components["namespace:payments"])
	assert.Equal(t, "v0.3.0", h.Version)

	code, body := serve(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusOK, code, "a degraded namespace keeps /health at 200")
	assert.Equal(t, "degraded", body["status"])

	UpdateNamespace("payments", true, "")
	assert.Equal(t, "healthy", GetHealth().Status)
}

func TestComponentFailureOverridesNamespace(t *testing.T) {
	resetHealth(t)
	RegisterComponent("collector", true, "")
	RegisterComponent("engine", true, "")
	UpdateNamespace("shop", false, "CollectionFailure")
	UpdateComponent("ledger", false, "bbolt: timeout")

	h := GetHealth()
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "unhealthy: bbolt: timeout", h.Components["ledger"])

	code, body := serve(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	code, body = serve(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])
}

func TestReadyHandler(t *testing.T) {
	resetHealth(t)
	for _, name := range []string{"collector", "ledger", "engine"} {
		RegisterComponent(name, true, "")
	}

	code, body := serve(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestLivenessHandler(t *testing.T) {
	resetHealth(t)
	UpdateComponent("ledger", false, "closed")

	code, body := serve(t, LivenessHandler(), "/live")
	assert.Equal(t, http.StatusOK, code, "liveness ignores component health")
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}
