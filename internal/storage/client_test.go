package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestWrapNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{
			name:     "NoSuchKey",
			err:      &smithy.GenericAPIError{Code: "NoSuchKey", Message: "key does not exist"},
			notFound: true,
		},
		{
			name:     "NotFound",
			err:      &smithy.GenericAPIError{Code: "NotFound", Message: "not found"},
			notFound: true,
		},
		{
			name:     "AccessDenied passes through",
			err:      &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
			notFound: false,
		},
		{
			name:     "non-API error passes through",
			err:      fmt.Errorf("connection refused"),
			notFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapNotFound(tt.err)
			if got := errors.Is(wrapped, ErrNotFound); got != tt.notFound {
				t.Errorf("errors.Is(wrapped, ErrNotFound) = %v, want %v", got, tt.notFound)
			}
			if !tt.notFound && !errors.Is(wrapped, tt.err) {
				t.Error("non-matching error was not passed through")
			}
		})
	}
}
