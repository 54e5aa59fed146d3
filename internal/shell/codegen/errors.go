package codegen

import (
	"errors"
	"fmt"
)

// ErrNoAPIKey means the client was asked to generate without a configured
// API key.
var ErrNoAPIKey = errors.New("codegen api key not configured")

// APIError is a failure reported by the model API, either as a non-200
// response or as an error event inside the stream.
type APIError struct {
	StatusCode int    // 0 for in-stream errors
	Type       string // api error type, e.g. "invalid_request_error"
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("codegen api error (%d %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("codegen api error (%s): %s", e.Type, e.Message)
}
