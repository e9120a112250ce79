// Package store implements the Result Store: an in-memory
// latest-result map behind two sinks — a periodically rewritten JSON
// snapshot and an append-only CSV historical log. Grounded on the
// write-then-rename discipline in the teacher's pkg/snap/snap.go and
// the per-service latest-result bookkeeping in pkg/probe/probe.go's
// results map, generalized to the two fixed file sinks spec.md §4.5
// requires instead of a SQL-backed history (excluded by the spec's
// own Non-goals — see DESIGN.md).
package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsecheck/pulsecheck/internal/metrics"
	"github.com/pulsecheck/pulsecheck/internal/model"
)

var appendHeader = []string{
	"timestamp", "service_name", "status", "latency_ms",
	"http_status_code", "failure_reason", "correlation_id",
}

// statusRank orders the snapshot array: FAIL, DEGRADED, PASS, PENDING.
var statusRank = map[model.Status]int{
	model.StatusFail:     0,
	model.StatusDegraded: 1,
	model.StatusPass:     2,
	model.StatusPending:  3,
}

// snapshotEntry is the external JSON schema for one service in the
// snapshot array (spec.md §6).
type snapshotEntry struct {
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	LatencyMs      *int64   `json:"latency_ms"`
	LastCheckTime  *string  `json:"last_check_time"`
	Tags           []string `json:"tags"`
	HTTPStatusCode *int     `json:"http_status_code"`
	FailureReason  string   `json:"failure_reason"`
}

// Store is the Result Store: one in-memory map of the latest result
// per service, a JSON snapshot sink, and a CSV append sink.
type Store struct {
	mu     sync.RWMutex
	latest map[string]*model.ProbeResult
	tags   map[string][]string

	snapshotPath string

	appendMu     sync.Mutex
	appendPath   string
	appendFile   *os.File
	appendWriter *csv.Writer

	metricsSink *metrics.Metrics
	logger      *zap.Logger
}

// New opens (or creates) the append log at appendPath, writing the
// CSV header exactly once if the file did not already exist, and
// returns a Store ready to accept results.
func New(snapshotPath, appendPath string, metricsSink *metrics.Metrics, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(snapshotPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create snapshot dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(appendPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create append dir: %w", err)
	}

	info, statErr := os.Stat(appendPath)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(appendPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open append log: %w", err)
	}

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(appendHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: write append header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: flush append header: %w", err)
		}
	}

	return &Store{
		latest:       make(map[string]*model.ProbeResult),
		tags:         make(map[string][]string),
		snapshotPath: snapshotPath,
		appendPath:   appendPath,
		appendFile:   f,
		appendWriter: w,
		metricsSink:  metricsSink,
		logger:       logger,
	}, nil
}

// Seed registers a service's tags and installs a synthetic PENDING
// result so the snapshot always lists every configured service, even
// before its first probe completes.
func (s *Store) Seed(name string, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[name] = tags
	if _, ok := s.latest[name]; !ok {
		s.latest[name] = &model.ProbeResult{ServiceName: name, Status: model.StatusPending}
	}
}

// Put overwrites the latest result for result.ServiceName and appends
// one row to the historical log. Never mutates result.
func (s *Store) Put(result *model.ProbeResult) {
	s.mu.Lock()
	s.latest[result.ServiceName] = result
	s.mu.Unlock()

	if err := s.appendRow(result); err != nil && s.logger != nil {
		s.logger.Warn("append log write failed", zap.String("service", result.ServiceName), zap.Error(err))
	}
}

// Snapshot returns a defensive copy of the latest-result map.
func (s *Store) Snapshot() map[string]*model.ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.ProbeResult, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

func (s *Store) appendRow(result *model.ProbeResult) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	row := []string{
		formatTimestamp(result.Timestamp),
		result.ServiceName,
		string(result.Status),
		formatLatency(result),
		formatHTTPStatus(result),
		result.FailureReason,
		result.CorrelationID,
	}
	if err := s.appendWriter.Write(row); err != nil {
		return err
	}
	s.appendWriter.Flush()
	if err := s.appendWriter.Error(); err != nil {
		return err
	}
	if s.metricsSink != nil {
		s.metricsSink.AppendRowsTotal.Inc()
	}
	return nil
}

// WriteSnapshot rewrites the entire latest-result map to the snapshot
// path using write-then-rename so readers never observe a partial
// file. Skipped entirely when the map is empty.
func (s *Store) WriteSnapshot() error {
	s.mu.RLock()
	entries := make([]snapshotEntry, 0, len(s.latest))
	for name, result := range s.latest {
		entries = append(entries, projectSnapshotEntry(name, result, s.tags[name]))
	}
	s.mu.RUnlock()

	if len(entries) == 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		ri, rj := statusRank[model.Status(entries[i].Status)], statusRank[model.Status(entries[j].Status)]
		if ri != rj {
			return ri < rj
		}
		return entries[i].Name < entries[j].Name
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write snapshot temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.snapshotPath); err != nil {
		return fmt.Errorf("store: rename snapshot into place: %w", err)
	}

	if s.metricsSink != nil {
		s.metricsSink.SnapshotWritesTotal.Inc()
	}
	return nil
}

// RunPeriodicWriter rewrites the snapshot every interval until ctx is
// cancelled. Write failures are logged and do not stop the loop; the
// next tick retries from scratch, per spec.md §7's sink-error policy.
func (s *Store) RunPeriodicWriter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WriteSnapshot(); err != nil && s.logger != nil {
				s.logger.Warn("periodic snapshot write failed", zap.Error(err))
			}
		}
	}
}

// Close flushes and closes the append log.
func (s *Store) Close() error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	s.appendWriter.Flush()
	return s.appendFile.Close()
}

func projectSnapshotEntry(name string, result *model.ProbeResult, tags []string) snapshotEntry {
	entry := snapshotEntry{
		Name:          name,
		Status:        string(result.Status),
		Tags:          tags,
		FailureReason: result.FailureReason,
	}
	if result.Status == model.StatusPending {
		return entry
	}
	latency := result.LatencyMs
	entry.LatencyMs = &latency
	ts := result.Timestamp.UTC().Format(time.RFC3339Nano)
	entry.LastCheckTime = &ts
	code := result.HTTPStatusCode
	entry.HTTPStatusCode = &code
	return entry
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatLatency(r *model.ProbeResult) string {
	if r.Status == model.StatusPending {
		return ""
	}
	return fmt.Sprintf("%d", r.LatencyMs)
}

func formatHTTPStatus(r *model.ProbeResult) string {
	if r.Status == model.StatusPending {
		return ""
	}
	return fmt.Sprintf("%d", r.HTTPStatusCode)
}
