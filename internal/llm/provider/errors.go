package provider

import (
	"fmt"
	"strings"
)

// ErrorReason categorizes why a provider request failed.
type ErrorReason string

const (
	ReasonAuth           ErrorReason = "auth"
	ReasonRateLimit      ErrorReason = "rate_limit"
	ReasonTimeout        ErrorReason = "timeout"
	ReasonServerError    ErrorReason = "server_error"
	ReasonInvalidRequest ErrorReason = "invalid_request"
	ReasonDecode         ErrorReason = "decode"
	ReasonUnknown        ErrorReason = "unknown"
)

// Error is a structured provider failure with enough context for logs and
// user-facing messages.
type Error struct {
	Reason   ErrorReason
	Provider string
	Model    string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func wrapError(provider, model string, cause error) *Error {
	err := &Error{
		Reason:   ReasonUnknown,
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
	if cause != nil {
		err.Reason = classify(cause.Error())
	}
	return err
}

func classify(msg string) ErrorReason {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		return ReasonAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return ReasonServerError
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid"):
		return ReasonInvalidRequest
	case strings.Contains(lower, "unmarshal") || strings.Contains(lower, "decode"):
		return ReasonDecode
	default:
		return ReasonUnknown
	}
}
