package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported by ChatModel implementations.
var (
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("completion service rate limited")

	// ErrTimeout indicates the provider or the call deadline timed out.
	ErrTimeout = errors.New("completion service timed out")

	// ErrServiceError indicates any other provider failure. It is not
	// worth retrying.
	ErrServiceError = errors.New("completion service error")

	// ErrEmptyResponse indicates the provider returned no text.
	ErrEmptyResponse = errors.New("completion service returned no text")
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       error
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}
	return ErrServiceError
}

// Classify wraps err as a ProviderError. Context deadline errors become
// ErrTimeout; a known status code uses KindForStatus; anything else is
// ErrServiceError. Cancellation is returned unchanged.
func Classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	kind := ErrServiceError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case status != 0:
		kind = KindForStatus(status)
	}
	return &ProviderError{Provider: provider, StatusCode: status, Kind: kind, Cause: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
