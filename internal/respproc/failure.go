package respproc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// FailureCategory names the bucket a failed call is recorded under
// (spec.md §4.5 "Failure model for a single request").
type FailureCategory string

const (
	FailureNone            FailureCategory = ""
	FailureSSL             FailureCategory = "ssl"
	FailureTimeout         FailureCategory = "timeout"
	FailureConnect         FailureCategory = "connect"
	FailureHTTPStatus      FailureCategory = "http_status"
	FailureJSONParse       FailureCategory = "json_parse"
	FailureStreamFraming   FailureCategory = "stream_framing"
	FailureProviderError   FailureCategory = "provider_error"
	FailureCancelled       FailureCategory = "cancelled"
	FailureUnknown         FailureCategory = "unknown"
)

// Failure pairs a category with a human-readable message, the unit
// recorded against a job's failed-request counters.
type Failure struct {
	Category FailureCategory
	Message  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Category, f.Message)
}

// Classify maps a transport-level error into a Failure category,
// adapted from mcpdrill's internal/transport/error_mapping.go chain of
// errors.As probes.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return &Failure{Category: FailureCancelled, Message: "request cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Category: FailureTimeout, Message: "request timeout exceeded"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &Failure{Category: FailureTimeout, Message: err.Error()}
		}
		if strings.Contains(strings.ToLower(urlErr.Err.Error()), "tls") {
			return &Failure{Category: FailureSSL, Message: err.Error()}
		}
		return Classify(urlErr.Err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Failure{Category: FailureConnect, Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Category: FailureTimeout, Message: err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Failure{Category: FailureConnect, Message: err.Error()}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "tls") || strings.Contains(lower, "certificate") || strings.Contains(lower, "x509") {
		return &Failure{Category: FailureSSL, Message: err.Error()}
	}

	return &Failure{Category: FailureUnknown, Message: err.Error()}
}

// ClassifyHTTPStatus records an HTTP-status failure for status codes
// >= 400 (spec.md §4.5); a nil Failure indicates any status below 400.
func ClassifyHTTPStatus(status int) *Failure {
	if status < 400 {
		return nil
	}
	return &Failure{Category: FailureHTTPStatus, Message: fmt.Sprintf("HTTP %d", status)}
}
