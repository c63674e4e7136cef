package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

func TestHeartbeat_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "heartbeat.json")

	hb, err := ReadHeartbeat(path)
	require.NoError(t, err)
	assert.Nil(t, hb)

	next := time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, WriteHeartbeat(path, Heartbeat{
		Status:      StatusIdle,
		Cycle:       3,
		NextRunAt:   &next,
		LastSummary: &model.RunSummary{RunID: "r3", LeadsTotal: 2},
	}))

	hb, err = ReadHeartbeat(path)
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, StatusIdle, hb.Status)
	assert.Equal(t, 3, hb.Cycle)
	assert.False(t, hb.UpdatedAt.IsZero())
	assert.Equal(t, next, hb.NextRunAt.UTC())
	assert.Equal(t, "r3", hb.LastSummary.RunID)
}

func TestWriteHeartbeat_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, WriteHeartbeat("", Heartbeat{Status: StatusIdle}))
}

func TestStatusServer_Healthz(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", filepath.Join(t.TempDir(), "hb.json"), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusServer_StatusWithoutHeartbeat(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", filepath.Join(t.TempDir(), "hb.json"), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusServer_Status(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.json")
	require.NoError(t, WriteHeartbeat(path, Heartbeat{Status: StatusRunning, Cycle: 1}))

	runs := &fakeRuns{runs: []store.RunRecord{{ID: "r1", LeadsTotal: 2}}}
	s := NewStatusServer("127.0.0.1:0", path, NewCollector(runs))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Heartbeat Heartbeat       `json:"heartbeat"`
		Runs      MetricsSnapshot `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusRunning, body.Heartbeat.Status)
	assert.Equal(t, 1, body.Runs.Runs)
	assert.Equal(t, recentRuns, runs.asked)
}

func TestStatusServer_StartAndShutdown(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", filepath.Join(t.TempDir(), "hb.json"), nil)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
