package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/idp"
	"github.com/opsdesk/opsdesk/internal/session"
)

type staticChecker struct {
	name   string
	result *Result
}

func (c *staticChecker) Name() string                    { return c.name }
func (c *staticChecker) Check(_ context.Context) *Result { return c.result }

func TestManager_CheckAggregates(t *testing.T) {
	m := NewManager()
	m.AddChecker(&staticChecker{name: "a", result: Healthy("ok")})
	m.AddChecker(&staticChecker{name: "b", result: Degraded("slow")})

	results := m.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["a"].Status)
	assert.Equal(t, StatusDegraded, results["b"].Status)
	assert.Equal(t, StatusDegraded, m.OverallStatus(results))
}

func TestManager_OverallStatus(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name    string
		results map[string]*Result
		want    Status
	}{
		{"empty", map[string]*Result{}, StatusHealthy},
		{"all healthy", map[string]*Result{"a": Healthy("")}, StatusHealthy},
		{"one degraded", map[string]*Result{"a": Healthy(""), "b": Degraded("")}, StatusDegraded},
		{"one unhealthy", map[string]*Result{"a": Degraded(""), "b": Unhealthy("")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.OverallStatus(tt.results))
		})
	}
}

func TestManager_RemoveChecker(t *testing.T) {
	m := NewManager()
	m.AddChecker(&staticChecker{name: "a", result: Healthy("")})

	assert.True(t, m.RemoveChecker("a"))
	assert.False(t, m.RemoveChecker("a"))
	assert.Equal(t, 0, m.Count())
}

func TestProbeManager_Lifecycle(t *testing.T) {
	pm := NewProbeManager("test")

	// Before initialization only liveness passes.
	assert.Equal(t, StatusUnhealthy, pm.CheckStartup(context.Background()).Status)
	assert.Equal(t, StatusHealthy, pm.CheckLiveness(context.Background()).Status)

	pm.MarkInitialized()
	assert.Equal(t, StatusHealthy, pm.CheckStartup(context.Background()).Status)
	assert.Equal(t, StatusHealthy, pm.CheckReadiness(context.Background()).Status)

	pm.MarkShutdown()
	assert.Equal(t, StatusUnhealthy, pm.CheckReadiness(context.Background()).Status)
	assert.Equal(t, StatusDegraded, pm.CheckLiveness(context.Background()).Status)
}

func TestProbeManager_ReadinessRunsChecks(t *testing.T) {
	pm := NewProbeManager("test")
	pm.MarkInitialized()
	pm.AddChecker(&staticChecker{name: "dep", result: Unhealthy("down")})

	result := pm.CheckReadiness(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	require.Contains(t, result.Checks, "dep")
	assert.Equal(t, "down", result.Checks["dep"].Message)
}

func TestIdentityProviderChecker(t *testing.T) {
	signer := idp.NewTokenSigner([]byte("health-test-signing-key-0123456789ab"), "opsdesk-test", time.Hour)
	provider := idp.NewLocalProvider(signer, idp.LocalProviderConfig{})

	checker := NewIdentityProviderChecker(provider)
	assert.Equal(t, "identity-provider", checker.Name())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, false, result.Details["session_present"])

	_, err := provider.SignUp(context.Background(), "health@example.com", "correct-horse", "")
	require.NoError(t, err)

	result = checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, true, result.Details["session_present"])
}

func TestStateStoreChecker(t *testing.T) {
	store := session.NewStateStore(filepath.Join(t.TempDir(), "state.yaml"))
	checker := NewStateStoreChecker(store)
	assert.Equal(t, "state-store", checker.Name())

	// Missing file is fine.
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	require.NoError(t, store.Save(session.PersistedState{RememberMe: true}))
	result = checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}
