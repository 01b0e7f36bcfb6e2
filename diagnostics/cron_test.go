package diagnostics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coremodular/imc/bus"
)

type recordingLogger struct {
	mu    sync.Mutex
	infos []string
}

func (r *recordingLogger) Info(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingLogger) Error(string, ...any) {}
func (r *recordingLogger) Warn(string, ...any)  {}
func (r *recordingLogger) Debug(string, ...any) {}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.infos)
}

func TestSnapshotterRejectsBadSchedule(t *testing.T) {
	s := NewStatsSnapshotter(bus.New(bus.DefaultConfig()), nil)
	assert.Error(t, s.Start("not a cron expression"))
}

func TestSnapshotterLogsOnSchedule(t *testing.T) {
	log := &recordingLogger{}
	s := NewStatsSnapshotter(bus.New(bus.DefaultConfig()), log)
	require.NoError(t, s.Start("@every 10ms"))
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for log.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, log.count(), 0, "at least one snapshot should have been logged")
}

func TestSnapshotterStopWithNoJobInFlight(t *testing.T) {
	s := NewStatsSnapshotter(bus.New(bus.DefaultConfig()), nil)
	require.NoError(t, s.Start("@every 1h"))
	assert.NotPanics(t, s.Stop)
}
