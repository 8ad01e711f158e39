package notion

import (
	"errors"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{403, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
	}
	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestSentinelForStatus(t *testing.T) {
	apiErr := &APIError{
		StatusCode: 404,
		Class:      ErrorClassClient,
		Endpoint:   "pages/x",
		Message:    "object_not_found",
		Err:        sentinelForStatus(404),
	}
	if !errors.Is(apiErr, ErrNotFound) {
		t.Error("404 APIError should match ErrNotFound")
	}

	authErr := &APIError{
		StatusCode: 401,
		Class:      ErrorClassClient,
		Err:        sentinelForStatus(401),
	}
	if !errors.Is(authErr, ErrUnauthorized) {
		t.Error("401 APIError should match ErrUnauthorized")
	}

	if sentinelForStatus(500) != nil {
		t.Error("500 should have no sentinel")
	}
}

func TestIsResolutionMiss(t *testing.T) {
	notFound := &APIError{StatusCode: 404, Class: ErrorClassClient, Err: ErrNotFound}
	if !isResolutionMiss(notFound) {
		t.Error("404 should be a resolution miss")
	}

	badRequest := &APIError{StatusCode: 400, Class: ErrorClassClient}
	if !isResolutionMiss(badRequest) {
		t.Error("400 should be a resolution miss (wrong endpoint for the object type)")
	}

	serverErr := &APIError{StatusCode: 500, Class: ErrorClassServer}
	if isResolutionMiss(serverErr) {
		t.Error("500 should not be a resolution miss")
	}
}
