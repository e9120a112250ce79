// Package executor performs a single HTTP probe against a configured
// service and classifies the outcome into a model.ProbeResult. It is
// the only component that touches the network.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

// defaultMaxBodyBytes is the response body truncation cap. Not
// externally configurable via the config schema yet (spec.md §9 open
// question); Executor.MaxBodyBytes exists so a future config field can
// set it without touching this package's API.
const defaultMaxBodyBytes = 100 * 1024

// Executor performs one HTTP request per call to Execute.
type Executor struct {
	// MaxBodyBytes caps how much of the response body is read before
	// truncation. Zero means defaultMaxBodyBytes.
	MaxBodyBytes int64

	// transport lets tests substitute a RoundTripper; production code
	// leaves it nil and gets http.DefaultTransport (see
	// transportOrDefault below).
	transport http.RoundTripper
}

// New returns an Executor that sends requests through
// http.DefaultTransport. The client built in Execute never
// auto-follows redirects, so a 3xx is classified as a response, not
// silently chased.
func New() *Executor {
	return &Executor{}
}

// NewWithTransport returns an Executor that issues requests through rt
// instead of http.DefaultTransport, for tests that need to simulate
// transport faults without a real socket.
func NewWithTransport(rt http.RoundTripper) *Executor {
	return &Executor{transport: rt}
}

func (e *Executor) maxBodyBytes() int64 {
	if e.MaxBodyBytes > 0 {
		return e.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// Execute performs exactly one HTTP request against cfg and returns a
// fully classified ProbeResult. correlationID is echoed into the
// result for tracing; it is generated per-dispatch by the caller, not
// by the Executor.
func (e *Executor) Execute(ctx context.Context, cfg *model.ServiceConfig, correlationID string) *model.ProbeResult {
	start := time.Now()

	result := &model.ProbeResult{
		ServiceName:    cfg.Name,
		CorrelationID:  correlationID,
		ExpectedStatus: cfg.ExpectedStatus,
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: e.transportOrDefault(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var body io.Reader
	if len(cfg.RequestPayload) > 0 {
		body = bytes.NewReader(cfg.RequestPayload)
	}

	req, err := http.NewRequestWithContext(reqCtx, string(cfg.Method), cfg.URL, body)
	if err != nil {
		result.Timestamp = time.Now()
		result.LatencyMs = time.Since(start).Milliseconds()
		result.Status = model.StatusFail
		result.FailureReason = fmt.Sprintf("request construction: %v", err)
		return result
	}
	for k, v := range cfg.RequestHeaders {
		req.Header.Set(k, v)
	}
	if len(cfg.RequestPayload) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	latency := time.Since(start)
	result.Timestamp = time.Now()
	result.LatencyMs = latency.Milliseconds()

	if err != nil {
		result.HTTPStatusCode = 0
		result.Status = model.StatusFail
		result.FailureReason = classifyTransportError(reqCtx, err)
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatusCode = resp.StatusCode

	limited := io.LimitReader(resp.Body, e.maxBodyBytes())
	raw, _ := io.ReadAll(limited)

	switch {
	case resp.StatusCode != cfg.ExpectedStatus:
		result.Status = model.StatusFail
		result.FailureReason = fmt.Sprintf("HTTP %d (expected %d)", resp.StatusCode, cfg.ExpectedStatus)

	case cfg.ExpectedText != "" && !strings.Contains(string(raw), cfg.ExpectedText):
		result.Status = model.StatusFail
		result.FailureReason = "text validation failed"

	case !headersSatisfied(resp.Header, cfg.ExpectedHeaders):
		result.Status = model.StatusFail
		result.FailureReason = "header validation failed"

	case latency > cfg.WarningThreshold:
		result.Status = model.StatusDegraded

	default:
		result.Status = model.StatusPass
	}

	return result
}

func (e *Executor) transportOrDefault() http.RoundTripper {
	if e.transport != nil {
		return e.transport
	}
	return http.DefaultTransport
}

func headersSatisfied(got http.Header, expected map[string]string) bool {
	for name, want := range expected {
		if got.Get(name) != want {
			return false
		}
	}
	return true
}

// classifyTransportError classifies a transport-level error into the
// short prefix the Retry Envelope looks for. Order matters: timeout is
// checked before the generic net.Error fallthrough.
func classifyTransportError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timeout: %v", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("timeout: %v", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("dns failure: %v", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case strings.Contains(opErr.Error(), "connection refused"):
			return fmt.Sprintf("connection refused: %v", err)
		case strings.Contains(opErr.Error(), "connection reset"):
			return fmt.Sprintf("connection reset: %v", err)
		case strings.Contains(opErr.Error(), "network is unreachable"):
			return fmt.Sprintf("network unreachable: %v", err)
		}
	}

	return fmt.Sprintf("transport error: %v", err)
}
