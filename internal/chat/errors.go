package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/KaramelBytes/edaloom/internal/ai"
)

var (
	// ErrNoSession is returned by Continue when no session is active.
	ErrNoSession = errors.New("no active analysis session; load a dataset first")
	// ErrBusy is returned when an exchange is already in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrStaleResponse is returned when the session changed while the
	// exchange was in flight; the response has been discarded.
	ErrStaleResponse = errors.New("response discarded: the session changed")
)

// Kind classifies an oracle failure.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindInvalidCredential
	KindSafety
	KindTimeout
	KindAPI
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed_response"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindSafety:
		return "safety_rejection"
	case KindTimeout:
		return "timeout"
	case KindAPI:
		return "api_error"
	default:
		return "unknown"
	}
}

// OracleError is a classified failure of an AI exchange. Error returns a
// plain-language message suitable for the end user.
type OracleError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *OracleError) Error() string {
	switch e.Kind {
	case KindMalformed:
		return "The AI returned a response that could not be read (invalid JSON). Please try again."
	case KindInvalidCredential:
		return "The API key is not valid. Check the configured key and try again."
	case KindSafety:
		return "The request was blocked by the AI's safety filters. Try rephrasing it."
	case KindTimeout:
		return "The request to the AI timed out. Please try again."
	case KindAPI:
		if e.Detail != "" {
			return "API error: " + e.Detail
		}
		return "API error."
	default:
		return "An unknown error occurred while talking to the AI."
	}
}

func (e *OracleError) Unwrap() error { return e.Err }

// Classify maps a runtime or decoding failure to an OracleError.
func Classify(err error) *OracleError {
	if err == nil {
		return nil
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &OracleError{Kind: KindMalformed, Err: err}
	}
	var authErr *ai.AuthError
	if errors.As(err, &authErr) {
		return &OracleError{Kind: KindInvalidCredential, Err: err}
	}
	var safetyErr *ai.SafetyError
	if errors.As(err, &safetyErr) {
		return &OracleError{Kind: KindSafety, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &OracleError{Kind: KindTimeout, Err: err}
	}
	msg := err.Error()
	switch {
	case containsFold(msg, "API key not valid"):
		return &OracleError{Kind: KindInvalidCredential, Err: err}
	case containsFold(msg, "safety"):
		return &OracleError{Kind: KindSafety, Err: err}
	case containsFold(msg, "timed out"):
		return &OracleError{Kind: KindTimeout, Err: err}
	}
	return &OracleError{Kind: KindAPI, Detail: msg, Err: err}
}

// RenderError reports a chart block whose specification could not be used.
type RenderError struct {
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("Could not render the chart: %s.", e.Reason)
}
