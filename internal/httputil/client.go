package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds every request to the survey API.
const DefaultTimeout = 15 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client with the given timeout,
// falling back to DefaultTimeout for non-positive values.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}
