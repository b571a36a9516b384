package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellyhimself/POS-sub002/internal/config"
	"github.com/Kellyhimself/POS-sub002/internal/domain"
)

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"POS_STORE_ID":    "store-1",
		"POS_DB_PATH":     filepath.Join(t.TempDir(), "pos.db"),
		"MODE_PREFERENCE": "offline",
	}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)
	return cfg
}

func TestNewApp_WiresLocalOnlyDaemon(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, map[string]string{"REDIS_ADDR": mr.Addr()})

	a, err := NewApp(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.NotEmpty(t, a.deviceID)
	assert.NotNil(t, a.redis, "reachable redis shares the rate-limit windows")
	assert.Nil(t, a.pool)
	assert.Nil(t, a.producer)
	assert.Equal(t, domain.ModeOffline, a.mode.CurrentMode())
	assert.Equal(t, []domain.Domain{domain.DomainSales, domain.DomainStock, domain.DomainProducts, domain.DomainTax}, a.engine.Domains())

	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Checks, "local_store")
	assert.Contains(t, body.Checks, "redis")
	assert.Contains(t, body.Checks, "remote")
}

func TestNewApp_UnreachableRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t, map[string]string{"REDIS_ADDR": "127.0.0.1:1"})

	a, err := NewApp(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.Nil(t, a.redis)
}

func TestNewApp_StoreIsSingleWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out lock retries")
	}
	cfg := testConfig(t, map[string]string{"POS_DB_BUSY_TIMEOUT": "50ms"})

	a, err := NewApp(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	_, err = NewApp(cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
