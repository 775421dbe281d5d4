package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidCredentials is returned when the login endpoint rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when the backend rejects the bearer credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshFailed is returned when the refresh endpoint rejects the refresh token.
	ErrRefreshFailed = errors.New("session refresh failed")
	// ErrNetwork is returned when no response was received at all.
	ErrNetwork = errors.New("network failure")
	// ErrSendFailed is returned when a chat message could not be delivered.
	ErrSendFailed = errors.New("send failed")
	// ErrValidation is returned when the backend rejects a request body (400).
	ErrValidation = errors.New("validation failed")
	// ErrPasswordMismatch is returned before any request when a password and its
	// confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is lets errors.Is match 401 responses against ErrUnauthorized and 400
// responses against ErrValidation.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrValidation:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// FieldErrors decodes a validation body of the form {"field": ["msg", ...]} or
// {"field": "msg"}. It returns nil when the body is not a JSON object.
func (e *APIError) FieldErrors() map[string][]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(e.Body), &raw); err != nil || len(raw) == 0 {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for field, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out[field] = list
			continue
		}
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out[field] = []string{one}
		}
	}
	return out
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
