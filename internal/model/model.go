// Package model holds the data types shared across the probe engine:
// the static configuration of a monitored service, the outcome of one
// probe execution, and the scheduler's long-lived view of a service.
package model

import "time"

// Status is the three-tier health classification of a ProbeResult.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPass     Status = "PASS"
	StatusDegraded Status = "DEGRADED"
	StatusFail     Status = "FAIL"
)

// Method is the HTTP method a probe issues.
type Method string

const (
	MethodGET  Method = "GET"
	MethodHEAD Method = "HEAD"
	MethodPOST Method = "POST"
)

// ServiceConfig is one configured probe target. Immutable after Load.
type ServiceConfig struct {
	Name               string
	URL                string
	Method             Method
	ExpectedStatus     int
	ExpectedText       string
	ExpectedHeaders    map[string]string
	RequestHeaders     map[string]string
	RequestPayload     []byte
	Interval           time.Duration
	WarningThreshold   time.Duration
	Timeout            time.Duration
	MaxRetries         int
	Tags               []string
}

// ProbeResult is produced once per probe execution and never mutated
// after creation.
type ProbeResult struct {
	ServiceName     string
	CorrelationID   string
	Timestamp       time.Time
	Status          Status
	LatencyMs       int64
	HTTPStatusCode  int
	ExpectedStatus  int
	FailureReason   string
}

// ScheduledEntry is the Scheduler's long-lived record for one service.
type ScheduledEntry struct {
	Config   *ServiceConfig
	NextDue  time.Time
	Interval time.Duration
}

// Settings is the typed projection of the configuration file's
// top-level "settings" block; every field is a default that a
// ServiceConfig entry may override.
type Settings struct {
	CheckInterval     time.Duration
	WarningThreshold  time.Duration
	Timeout           time.Duration
	MaxRetries        int
	WorkerPoolSize    int
	SnapshotPath      string
	AppendLogPath     string
	DataWriteInterval time.Duration
}
