package voc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by the SDK.
var (
	// ErrNoToken is returned when no session token is found in the request.
	ErrNoToken = errors.New("voc: no session token provided")

	// ErrTokenInvalid is returned when the session is invalid or expired.
	ErrTokenInvalid = errors.New("voc: session is invalid or expired")
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voc: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// apiErrorWrapper matches the API error envelope.
type apiErrorWrapper struct {
	Error APIError `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		apiErr := wrapper.Error
		apiErr.StatusCode = statusCode
		return &apiErr
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
