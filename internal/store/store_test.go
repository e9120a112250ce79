package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "status.json")
	appendPath := filepath.Join(dir, "history.csv")
	s, err := New(snapPath, appendPath, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, snapPath, appendPath
}

func TestSeedInstallsPendingPlaceholder(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Seed("svc-a", []string{"web"})

	snap := s.Snapshot()
	require.Contains(t, snap, "svc-a")
	assert.Equal(t, model.StatusPending, snap["svc-a"].Status)
}

func TestPutOverwritesLatestAndAppendsRow(t *testing.T) {
	s, _, appendPath := newTestStore(t)
	s.Put(&model.ProbeResult{ServiceName: "svc-a", Status: model.StatusPass, Timestamp: time.Now(), CorrelationID: "c1"})
	s.Put(&model.ProbeResult{ServiceName: "svc-a", Status: model.StatusFail, Timestamp: time.Now(), CorrelationID: "c2"})

	snap := s.Snapshot()
	assert.Equal(t, model.StatusFail, snap["svc-a"].Status)

	f, err := os.Open(appendPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// header + two rows
	require.Len(t, rows, 3)
	assert.Equal(t, appendHeader, rows[0])
}

func TestAppendHeaderWrittenOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "status.json")
	appendPath := filepath.Join(dir, "history.csv")

	s1, err := New(snapPath, appendPath, nil, nil)
	require.NoError(t, err)
	s1.Put(&model.ProbeResult{ServiceName: "svc-a", Status: model.StatusPass, Timestamp: time.Now()})
	require.NoError(t, s1.Close())

	s2, err := New(snapPath, appendPath, nil, nil)
	require.NoError(t, err)
	s2.Put(&model.ProbeResult{ServiceName: "svc-a", Status: model.StatusPass, Timestamp: time.Now()})
	require.NoError(t, s2.Close())

	f, err := os.Open(appendPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3) // one header + two data rows
}

func TestWriteSnapshotSortsByStatusThenName(t *testing.T) {
	s, snapPath, _ := newTestStore(t)
	s.Put(&model.ProbeResult{ServiceName: "zeta", Status: model.StatusPass, Timestamp: time.Now()})
	s.Put(&model.ProbeResult{ServiceName: "alpha", Status: model.StatusFail, Timestamp: time.Now()})
	s.Put(&model.ProbeResult{ServiceName: "beta", Status: model.StatusDegraded, Timestamp: time.Now()})
	s.Seed("omega", nil)

	require.NoError(t, s.WriteSnapshot())

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	var entries []snapshotEntry
	require.NoError(t, json.Unmarshal(data, &entries))

	require.Len(t, entries, 4)
	assert.Equal(t, []string{"alpha", "beta", "zeta", "omega"},
		[]string{entries[0].Name, entries[1].Name, entries[2].Name, entries[3].Name})
}

func TestWriteSnapshotSkippedWhenEmpty(t *testing.T) {
	s, snapPath, _ := newTestStore(t)
	require.NoError(t, s.WriteSnapshot())
	_, err := os.Stat(snapPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunPeriodicWriterStopsOnContextCancel(t *testing.T) {
	s, snapPath, _ := newTestStore(t)
	s.Put(&model.ProbeResult{ServiceName: "svc-a", Status: model.StatusPass, Timestamp: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunPeriodicWriter(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(snapPath)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicWriter did not stop after context cancel")
	}
}
