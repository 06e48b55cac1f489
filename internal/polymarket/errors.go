package polymarket

import "fmt"

// ErrorKind classifies API failures by how the tracker should react.
type ErrorKind string

const (
	// KindUnavailable means retries were exhausted against a transient
	// failure. Scoped to the batch or a single market; retried next cycle.
	KindUnavailable ErrorKind = "unavailable"
	// KindNotFound means the API rejected the identifier itself. Scoped
	// to the offending market only.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited means the API answered 429 on the final attempt.
	KindRateLimited ErrorKind = "rate_limited"
	// KindMalformed means the response decoded but failed validation,
	// e.g. prices not summing to 1. Scoped to the offending market;
	// retrying within the cycle will not help.
	KindMalformed ErrorKind = "malformed"
)

// APIError describes a failed fetch for one market or a whole batch.
type APIError struct {
	Kind     ErrorKind
	MarketID string
	Status   int
	Err      error
}

func (e *APIError) Error() string {
	scope := "batch"
	if e.MarketID != "" {
		scope = "market " + e.MarketID
	}
	if e.Err != nil {
		return fmt.Sprintf("polymarket: %s for %s: %v", e.Kind, scope, e.Err)
	}
	return fmt.Sprintf("polymarket: %s for %s (status %d)", e.Kind, scope, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
