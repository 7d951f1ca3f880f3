package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why a parse could not produce a normal result.
type FailureKind string

const (
	KindInvalidInput FailureKind = "invalid_input"
	KindTimeout      FailureKind = "timeout"
	KindNetwork      FailureKind = "network"
	KindRateLimited  FailureKind = "rate_limited"
	KindUpstream     FailureKind = "upstream"
	KindMalformed    FailureKind = "malformed"
	KindInternal     FailureKind = "internal"
)

// Transient reports whether the kind is worth a retry or a deterministic fallback.
func (k FailureKind) Transient() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRateLimited, KindUpstream:
		return true
	}
	return false
}

// ParseFailure is the structured failure returned to callers instead of a raw error.
type ParseFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Cause   error       `json:"-"`
}

// NewFailure builds a ParseFailure.
func NewFailure(kind FailureKind, msg string, cause error) *ParseFailure {
	return &ParseFailure{Kind: kind, Message: msg, Cause: cause}
}

func (f *ParseFailure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *ParseFailure) Unwrap() error {
	return f.Cause
}

// StatusError is an HTTP-level error from the model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// ClassifyError maps an arbitrary error onto a FailureKind.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}

	var pf *ParseFailure
	if errors.As(err, &pf) {
		return pf.Kind
	}
	if errors.Is(err, ErrInvalidInput) {
		return KindInvalidInput
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return KindRateLimited
		case se.StatusCode == 408 || se.StatusCode == 504:
			return KindTimeout
		case se.StatusCode >= 500:
			return KindUpstream
		default:
			return KindInternal
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindInternal
}
