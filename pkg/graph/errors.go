package graph

import (
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_failed"
	ErrorTypeAuth       ErrorType = "auth_failed"
	ErrorTypeThrottled  ErrorType = "throttled"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeBadQuery   ErrorType = "bad_query"
	ErrorTypeRemote     ErrorType = "remote_error"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRequest    ErrorType = "request_failed"
)

// AuthReason narrows an ErrorTypeAuth error.
type AuthReason string

const (
	ReasonNotLoggedIn        AuthReason = "not_logged_in"
	ReasonInvalidCredentials AuthReason = "invalid_credentials"
	ReasonRejected           AuthReason = "rejected"
)

var (
	ErrNotLoggedIn        = &Error{Type: ErrorTypeAuth, Reason: ReasonNotLoggedIn}
	ErrInvalidCredentials = &Error{Type: ErrorTypeAuth, Reason: ReasonInvalidCredentials}
	ErrTokenRejected      = &Error{Type: ErrorTypeAuth, Reason: ReasonRejected}
	ErrValidation         = &Error{Type: ErrorTypeValidation}
	ErrThrottled          = &Error{Type: ErrorTypeThrottled}
	ErrForbidden          = &Error{Type: ErrorTypeForbidden}
	ErrBadQuery           = &Error{Type: ErrorTypeBadQuery}
	ErrTimeout            = &Error{Type: ErrorTypeTimeout}
)

// Error is the single error shape returned by the graph package. Sentinels
// above match with errors.Is on Type, and on Reason when the sentinel sets one.
type Error struct {
	Type       ErrorType
	Reason     AuthReason
	Message    string
	StatusCode int
	Code       string
	Context    map[string]any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Type))
	if e.Reason != "" {
		b.WriteString("/")
		b.WriteString(string(e.Reason))
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.Code != "" {
			fmt.Fprintf(&b, ", code %s", e.Code)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}
}

func newAuthError(reason AuthReason, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeAuth,
		Reason:  reason,
		Message: message,
		Context: make(map[string]any),
		Err:     cause,
	}
}

func validationErrorf(format string, args ...any) *Error {
	return NewError(ErrorTypeValidation, fmt.Sprintf(format, args...))
}

// Remediation returns the guidance shown to the assistant alongside the error.
func (e *Error) Remediation() []string {
	switch e.Type {
	case ErrorTypeAuth:
		switch e.Reason {
		case ReasonNotLoggedIn:
			return []string{
				"Run 'az login' on the machine hosting this server",
				"Or set AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID for a service principal",
			}
		case ReasonInvalidCredentials:
			return []string{
				"Check AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID",
				"Make sure the client secret has not expired",
			}
		default:
			return []string{
				"The access token was rejected; sign in again or rotate the service principal secret",
			}
		}
	case ErrorTypeValidation:
		return []string{
			"Check the tool arguments against the tool's input schema",
		}
	case ErrorTypeThrottled:
		tips := []string{"Azure Resource Graph throttled the request; wait before retrying"}
		if after, ok := e.Context["retryAfter"].(string); ok && after != "" {
			tips = append(tips, fmt.Sprintf("Azure asked to retry after %s seconds", after))
		}
		return append(tips, "Batch questions into fewer, broader queries")
	case ErrorTypeForbidden:
		return []string{
			"Verify the identity has Reader access on the subscriptions or management groups",
			"Limit the scope to subscriptions you can access",
		}
	case ErrorTypeBadQuery:
		return []string{
			"Check your KQL syntax and table names (Resources, ResourceContainers, ...)",
			"Use =~ for case-insensitive comparisons on type and location",
		}
	case ErrorTypeTimeout:
		return []string{
			"Try reducing the scope or adding filters to your query",
			"Use options.$top to request fewer rows",
		}
	default:
		return []string{
			"Verify subscription/management group access",
			"Try reducing scope or adding filters",
		}
	}
}
