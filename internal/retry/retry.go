// Package retry wraps a single probe execution with a bounded retry
// loop for transport faults only. Validation faults (wrong status,
// text, or headers) propagate on the first attempt — retries mask
// flakiness, not misconfiguration. Grounded on the retry/transport
// classification shape in
// other_examples/89e542f2_denkhaus-open-notebook-cli__pkg-services-http_retryable.go.go.
package retry

import (
	"context"
	"strings"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

// transportClassPrefixes are the failure-reason prefixes the Probe
// Executor produces for faults where no HTTP response was received.
var transportClassPrefixes = []string{
	"timeout",
	"connection refused",
	"dns failure",
	"connection reset",
	"network unreachable",
	"host not found",
	"transport error",
}

// Retryable reports whether result represents a retryable transport
// fault: no response reached (HTTPStatusCode == 0) and the failure
// reason is classified as a transport fault rather than, say, a
// request-construction error.
func Retryable(result *model.ProbeResult) bool {
	if result.HTTPStatusCode != 0 {
		return false
	}
	for _, prefix := range transportClassPrefixes {
		if strings.HasPrefix(result.FailureReason, prefix) {
			return true
		}
	}
	return false
}

// Prober is the single-attempt operation the envelope wraps; in
// production it is Executor.Execute.
type Prober func(ctx context.Context, cfg *model.ServiceConfig, correlationID string) *model.ProbeResult

// RetryObserver is notified once per retry attempt beyond the first,
// letting the caller update a metrics counter without the envelope
// importing the metrics package directly.
type RetryObserver func(serviceName string)

// Execute runs prober up to cfg.MaxRetries+1 times. It returns the
// first PASS/DEGRADED result, or the last FAIL result once attempts
// are exhausted. A validation fault (HTTPStatusCode > 0) is returned
// immediately without consuming a retry.
func Execute(ctx context.Context, cfg *model.ServiceConfig, correlationID string, prober Prober, onRetry RetryObserver) *model.ProbeResult {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last *model.ProbeResult
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 && onRetry != nil {
			onRetry(cfg.Name)
		}

		result := prober(ctx, cfg, correlationID)
		last = result

		if result.Status == model.StatusPass || result.Status == model.StatusDegraded {
			return result
		}
		if !Retryable(result) {
			return result
		}
		// Transport fault and retries remain: loop immediately, no backoff.
	}
	return last
}
