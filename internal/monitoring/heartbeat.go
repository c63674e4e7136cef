package monitoring

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/artifact"
	"github.com/sells-group/leadscout/internal/model"
)

// Heartbeat statuses.
const (
	StatusRunning = "running"
	StatusIdle    = "idle"
	StatusFailed  = "failed"
)

// Heartbeat is the scheduler's liveness record, rewritten after every cycle.
type Heartbeat struct {
	UpdatedAt   time.Time         `json:"updated_at"`
	Status      string            `json:"status"`
	Cycle       int               `json:"cycle"`
	NextRunAt   *time.Time        `json:"next_run_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Alerts      []Alert           `json:"alerts,omitempty"`
	LastSummary *model.RunSummary `json:"last_summary,omitempty"`
}

// WriteHeartbeat replaces the heartbeat file at path.
func WriteHeartbeat(path string, hb Heartbeat) error {
	if path == "" {
		return nil
	}
	if hb.UpdatedAt.IsZero() {
		hb.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal heartbeat")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "monitoring: create heartbeat dir")
	}
	return artifact.WriteFileAtomic(path, data)
}

// ReadHeartbeat loads the heartbeat at path. A missing file returns nil, nil.
func ReadHeartbeat(path string) (*Heartbeat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read heartbeat")
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, eris.Wrap(err, "monitoring: decode heartbeat")
	}
	return &hb, nil
}
