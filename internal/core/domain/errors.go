package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ProviderErrorKind string

const (
	ERROR_KIND_CONFIGURATION  ProviderErrorKind = "configuration"
	ERROR_KIND_AUTHENTICATION ProviderErrorKind = "authentication"
	ERROR_KIND_RATE_LIMIT     ProviderErrorKind = "rate_limit"
	ERROR_KIND_NETWORK        ProviderErrorKind = "network"
	ERROR_KIND_VALIDATION     ProviderErrorKind = "validation"
)

// ProviderError is the typed failure of one adapter invocation.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Detail   string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Detail)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func NewConfigurationError(provider, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ERROR_KIND_CONFIGURATION, Detail: detail}
}

func NewAuthenticationError(provider, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ERROR_KIND_AUTHENTICATION, Detail: detail}
}

func NewRateLimitError(provider, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ERROR_KIND_RATE_LIMIT, Detail: detail}
}

func NewNetworkError(provider, detail string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ERROR_KIND_NETWORK, Detail: detail, Cause: cause}
}

func NewValidationError(provider, detail string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ERROR_KIND_VALIDATION, Detail: detail, Cause: cause}
}

// AsProviderError coerces any adapter error into a *ProviderError, wrapping
// untyped errors as NetworkError so the outcome set never loses the reason.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr
	}
	return NewNetworkError(provider, err.Error(), err)
}

// IsErrorKind reports whether err is a ProviderError of the given kind.
func IsErrorKind(err error, kind ProviderErrorKind) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Kind == kind
	}
	return false
}

// TotalFailureError is returned when no provider could supply a decision
// value for a run. It enumerates every individual failure so a run report
// never collapses to a bare "forecast unavailable".
type TotalFailureError struct {
	Date   string
	Errors []*ProviderError
	// Reason carries context when the failure is a policy outcome rather
	// than exhaustion (compare mode with fallback disabled).
	Reason string
}

func (e *TotalFailureError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("forecast failed for %s", e.Date))
	if e.Reason != "" {
		sb.WriteString(" (" + e.Reason + ")")
	}
	for _, pe := range e.Errors {
		sb.WriteString("; ")
		sb.WriteString(pe.Error())
	}
	return sb.String()
}
