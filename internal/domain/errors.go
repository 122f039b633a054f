package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a download failure
type ErrorKind string

const (
	ErrValidation  ErrorKind = "validation"  // Bad source URL or no quality candidate
	ErrNetwork     ErrorKind = "network"     // Request failed or non-success status
	ErrTransfer    ErrorKind = "transfer"    // Stream read or save failure during direct transfer
	ErrSubmission  ErrorKind = "submission"  // Backend rejected job creation
	ErrChannel     ErrorKind = "channel"     // Progress channel disconnected
	ErrJob         ErrorKind = "job"         // Backend reported terminal job failure
	ErrUnsupported ErrorKind = "unsupported" // No viable strategy
	ErrCancelled   ErrorKind = "cancelled"   // Attempt superseded or cancelled
)

// Error is a classified download error with a human-readable message
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError creates a classified error
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context cancellation maps to ErrCancelled; anything else unclassified is ErrNetwork.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return ErrNetwork
}

// IsFallbackEligible reports whether a failed direct attempt may be retried as a server job
func IsFallbackEligible(err error) bool {
	switch KindOf(err) {
	case ErrNetwork, ErrTransfer:
		return true
	default:
		return false
	}
}
