package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"location not found", ErrLocationNotFound, ErrorCategoryLocationNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", fmt.Errorf("%w: HTTP 502", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"circuit open", ErrCircuitOpen, ErrorCategoryCircuitOpen},
		{"malformed", fmt.Errorf("%w: parse response: eof", ErrMalformedResponse), ErrorCategoryMalformed},
		{"network sentinel", fmt.Errorf("%w: %w: dial", ErrTransientFetch, errNetwork), ErrorCategoryNetwork},
		{"network in message", errors.New("connection refused"), ErrorCategoryNetwork},
		{"timeout in message", errors.New("i/o timeout"), ErrorCategoryTimeout},
		{"validation in message", errors.New("invalid location"), ErrorCategoryValidation},
		{"cache in message", errors.New("cache get failed"), ErrorCategoryCache},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinelHierarchy(t *testing.T) {
	for _, err := range []error{ErrInvalidAPIKey, ErrLocationNotFound, ErrRateLimited, ErrUpstreamFailure, ErrCircuitOpen} {
		if !errors.Is(err, ErrTransientFetch) {
			t.Errorf("errors.Is(%v, ErrTransientFetch) = false", err)
		}
	}
	if errors.Is(ErrMalformedResponse, ErrTransientFetch) {
		t.Error("ErrMalformedResponse must not match ErrTransientFetch")
	}
}
