package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tasksync/internal/service"
)

// APIError is a non-2xx response from one of the hosted services.
// The auth, rest and storage services each use a different error body;
// all of them decode into this type. Callers can use errors.As:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict { ... }
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
	// Code is the service error code, e.g. "invalid_credentials" or "PGRST116".
	Code string `json:"-"`
	// Message is the human-readable description from the server.
	Message string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("supabase: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("supabase: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// errorBody covers the auth ({"error_code","msg"} or {"error","error_description"}),
// rest ({"code","message"}) and storage ({"statusCode","error","message"}) shapes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	var code string
	if len(eb.Code) > 0 && json.Unmarshal(eb.Code, &code) != nil {
		// numeric codes repeat the status
		code = ""
	}
	apiErr.Code = firstNonEmpty(eb.ErrorCode, code, eb.Error)
	apiErr.Message = firstNonEmpty(eb.ErrorDescription, eb.Msg, eb.Message, eb.Error, http.StatusText(status))
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// wrapError classifies err under class with a user-friendly message.
func wrapError(class, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out", class)
	}

	// A failed token refresh is already classified.
	if errors.Is(err, service.ErrAuth) && class != service.ErrAuth {
		return fmt.Errorf("%w: %w", class, err)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && class != service.ErrAuth {
		return fmt.Errorf("%w: %w: session expired or revoked (run: tasksync login)", class, service.ErrAuth)
	}

	return fmt.Errorf("%w: %w", class, err)
}
