package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Common errors returned by the client.
var (
	// ErrNoData is returned when the upstream has no data for the request,
	// including after every dataflow version has been probed.
	ErrNoData = errors.New("no data available for the selected parameters")

	// ErrRetryExhausted is returned when a retry budget (version probing or
	// transport retries) ran out. Version exhaustion also matches ErrNoData.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 3xx/4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCancelled represents caller cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// maxSnippet bounds the body excerpt kept in an UpstreamError.
const maxSnippet = 512

// UpstreamError is returned for any non-success status that the fetcher
// does not handle itself.
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       string
	ErrorClass ErrorClass
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream %s error (status %d) for %s: %s", e.ErrorClass, e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("upstream %s error (status %d) for %s", e.ErrorClass, e.StatusCode, e.URL)
}

func newUpstreamError(status int, url string, body []byte) *UpstreamError {
	return &UpstreamError{
		StatusCode: status,
		URL:        url,
		Body:       snippet(body),
		ErrorClass: classifyStatus(status),
	}
}

func snippet(body []byte) string {
	if len(body) <= maxSnippet {
		return string(body)
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}

func classifyStatus(status int) ErrorClass {
	if status >= http.StatusInternalServerError {
		return ErrorClassServer
	}
	return ErrorClassClient
}

// classifyError categorizes a transport-level failure.
func classifyError(err error) ErrorClass {
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		return upstream.ErrorClass
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassCancelled
	default:
		return ErrorClassNetwork
	}
}

// shouldRetry determines if an error should be retried based on its classification.
// Only network failures are retried; status codes are handled by the fetch loop.
func shouldRetry(errorClass ErrorClass) bool {
	return errorClass == ErrorClassNetwork
}
