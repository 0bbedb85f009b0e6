package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error is handled by the fetch loop",
			errorClass: ErrorClassServer,
			expected:   false,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "cancellation should not retry",
			errorClass: ErrorClassCancelled,
			expected:   false,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"upstream 404", newUpstreamError(404, "u", nil), ErrorClassClient},
		{"upstream 503", newUpstreamError(503, "u", nil), ErrorClassServer},
		{"wrapped cancel", fmt.Errorf("get: %w", context.Canceled), ErrorClassCancelled},
		{"deadline", context.DeadlineExceeded, ErrorClassCancelled},
		{"connection reset", errors.New("read: connection reset by peer"), ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError(t *testing.T) {
	err := newUpstreamError(400, "https://example.org/x", []byte("bad filter"))

	var target *UpstreamError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &target) {
		t.Fatal("errors.As should find *UpstreamError")
	}
	if target.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want 400", target.StatusCode)
	}
	msg := err.Error()
	for _, want := range []string{"400", "https://example.org/x", "bad filter"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestUpstreamError_BodySnippet(t *testing.T) {
	body := []byte("a" + strings.Repeat("é", maxSnippet))
	err := newUpstreamError(500, "u", body)

	if len(err.Body) > maxSnippet+len("...") {
		t.Errorf("snippet length = %d, want <= %d", len(err.Body), maxSnippet+3)
	}
	if !strings.HasSuffix(err.Body, "...") {
		t.Error("truncated snippet should end with ...")
	}
	if strings.ContainsRune(err.Body, '�') {
		t.Error("snippet must not split a UTF-8 sequence")
	}
}
