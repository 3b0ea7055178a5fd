// Package httpclient implements the two typed HTTP clients of spec §4.1:
// source (TestRail-shaped) and target (Qase-shaped). Both share a resty-based
// base client with retry/backoff/auth, grounded on the shape of the teacher's
// internal/infrastructure/publishing/webhook_client.go (tuned transport,
// doRequestWithRetry loop, Retry-After honoring) but built on
// github.com/go-resty/resty/v2 (pulled from the compozy example) instead of
// raw net/http, and on original_source/api/testrail.py for the exact retry
// taxonomy (429 handled outside the attempt budget, 403/400 fatal).
package httpclient

import "fmt"

// ErrorCategory classifies an HTTP/transport failure for retry purposes.
type ErrorCategory int

const (
	// ErrorCategoryRetryable covers timeouts, resets, disconnects and
	// {429,500,502,503,504} (spec §4.1).
	ErrorCategoryRetryable ErrorCategory = iota
	// ErrorCategoryPermanent covers everything else (4xx other than 429,
	// validation failures, auth failures).
	ErrorCategoryPermanent
)

// TransportError wraps a network or HTTP-status failure.
type TransportError struct {
	StatusCode int
	Message    string
	Category   ErrorCategory
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsRetryable reports whether e should trigger another attempt.
func (e *TransportError) IsRetryable() bool { return e.Category == ErrorCategoryRetryable }

// SemanticError represents a target-side rejection of an otherwise
// well-formed request (spec §7 "Target semantic error on entity create").
type SemanticError struct {
	Entity  string
	Message string
	Payload any
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error creating %s: %s", e.Entity, e.Message)
}

// ClassifyStatus maps an HTTP status code to a retry category per spec §4.1's
// transient-class list: {429,500,502,503,504} retryable, everything else
// permanent.
func ClassifyStatus(status int) ErrorCategory {
	switch status {
	case 429, 500, 502, 503, 504:
		return ErrorCategoryRetryable
	default:
		return ErrorCategoryPermanent
	}
}

// IsRetryableNetworkError reports whether a low-level transport error
// (timeout, connection reset, remote disconnect) should be retried. resty
// surfaces these as generic errors from the underlying net/http round
// tripper; we treat any non-HTTP-response error as retryable, matching
// original_source/api/testrail.py's send_request, which retries on any
// requests.RequestException.
func IsRetryableNetworkError(err error) bool {
	return err != nil
}
