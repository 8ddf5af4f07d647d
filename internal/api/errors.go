package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/keystone-storage/objseal/internal/byterange"
	"github.com/keystone-storage/objseal/internal/dare"
	"github.com/keystone-storage/objseal/internal/storage"
)

// APIError is the error body returned to clients.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Resource   string `json:"resource,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteJSON writes the error response.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	json.NewEncoder(w).Encode(e)
}

// TranslateError maps internal errors onto client-facing ones. Corrupted
// or tampered ciphertext surfaces as a bad gateway: the stored object,
// not the client's request, is at fault.
func TranslateError(err error, resource, requestID string) *APIError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &APIError{
			Code:       "NoSuchKey",
			Message:    "The specified key does not exist.",
			Resource:   resource,
			RequestID:  requestID,
			HTTPStatus: http.StatusNotFound,
		}
	case errors.Is(err, byterange.ErrInvalidRange):
		return &APIError{
			Code:       "InvalidRange",
			Message:    "The requested range is not satisfiable.",
			Resource:   resource,
			RequestID:  requestID,
			HTTPStatus: http.StatusRequestedRangeNotSatisfiable,
		}
	case errors.Is(err, dare.ErrAuthentication), errors.Is(err, dare.ErrMalformedHeader):
		return &APIError{
			Code:       "ObjectCorrupted",
			Message:    "The stored object failed integrity verification.",
			Resource:   resource,
			RequestID:  requestID,
			HTTPStatus: http.StatusBadGateway,
		}
	default:
		return &APIError{
			Code:       "InternalError",
			Message:    "We encountered an internal error. Please try again.",
			Resource:   resource,
			RequestID:  requestID,
			HTTPStatus: http.StatusInternalServerError,
		}
	}
}

// ErrInvalidRequest is returned for malformed request parameters.
var ErrInvalidRequest = &APIError{
	Code:       "InvalidRequest",
	Message:    "Invalid Request",
	HTTPStatus: http.StatusBadRequest,
}
