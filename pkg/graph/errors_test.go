package graph

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "type only",
			err:  NewError(ErrorTypeValidation, "query cannot be empty"),
			want: "[validation_failed] query cannot be empty",
		},
		{
			name: "auth reason",
			err:  newAuthError(ReasonNotLoggedIn, "no session", nil),
			want: "[auth_failed/not_logged_in] no session",
		},
		{
			name: "status and code",
			err:  &Error{Type: ErrorTypeForbidden, Message: "denied", StatusCode: 403, Code: "AuthorizationFailed"},
			want: "[forbidden] denied (status 403, code AuthorizationFailed)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	notLoggedIn := newAuthError(ReasonNotLoggedIn, "no session", nil)
	wrapped := fmt.Errorf("calling tool: %w", notLoggedIn)

	if !errors.Is(wrapped, ErrNotLoggedIn) {
		t.Error("errors.Is(wrapped, ErrNotLoggedIn) = false, want true")
	}
	if errors.Is(wrapped, ErrInvalidCredentials) {
		t.Error("errors.Is(wrapped, ErrInvalidCredentials) = true, want false")
	}
	if !errors.Is(wrapped, &Error{Type: ErrorTypeAuth}) {
		t.Error("a sentinel without a reason should match any auth error")
	}
	if errors.Is(wrapped, ErrValidation) {
		t.Error("errors.Is(wrapped, ErrValidation) = true, want false")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Error{Type: ErrorTypeRequest, Message: "failed", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestError_Remediation(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"not logged in", newAuthError(ReasonNotLoggedIn, "", nil), "az login"},
		{"invalid credentials", newAuthError(ReasonInvalidCredentials, "", nil), "AZURE_CLIENT_SECRET"},
		{"rejected", newAuthError(ReasonRejected, "", nil), "rejected"},
		{"throttled", NewError(ErrorTypeThrottled, "").WithContext("retryAfter", "12"), "retry after 12 seconds"},
		{"forbidden", NewError(ErrorTypeForbidden, ""), "Reader access"},
		{"bad query", NewError(ErrorTypeBadQuery, ""), "KQL syntax"},
		{"timeout", NewError(ErrorTypeTimeout, ""), "options.$top"},
		{"remote", NewError(ErrorTypeRemote, ""), "reducing scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := strings.Join(tt.err.Remediation(), "\n")
			if !strings.Contains(tips, tt.want) {
				t.Errorf("Remediation() = %q, want it to contain %q", tips, tt.want)
			}
		})
	}
}

func TestError_WithContext(t *testing.T) {
	err := &Error{Type: ErrorTypeThrottled}
	err.WithContext("retryAfter", "3")
	if err.Context["retryAfter"] != "3" {
		t.Errorf("Context[retryAfter] = %v, want 3", err.Context["retryAfter"])
	}
}
