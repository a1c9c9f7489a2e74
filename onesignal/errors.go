package onesignal

import (
	"fmt"
	"strings"
)

// ConfigurationError is returned before any network call when credentials are missing.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("onesignal: missing configuration: %s", strings.Join(e.Missing, ", "))
}

// ProviderError describes a failed call to the OneSignal API. StatusCode is 0 when the
// request never got a response.
type ProviderError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("onesignal %s %s: %v", e.Method, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("onesignal %s %s -> %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
