// Package relayerr defines the relay's closed error taxonomy and the HTTP
// status each kind maps to (spec.md §7).
package relayerr

import (
	"errors"
	"net/http"
)

// Kind is a member of the closed error taxonomy.
type Kind string

const (
	KindAuthDenied           Kind = "AuthDenied"
	KindNotFound             Kind = "NotFound"
	KindBadRequest           Kind = "BadRequest"
	KindTimeout              Kind = "Timeout"
	KindUpstreamUnavailable  Kind = "UpstreamUnavailable"
	KindInternal             Kind = "Internal"
)

// Error is a relay-level error carrying its taxonomy kind plus a message
// safe to surface to the HTTP caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var defaultMessage = map[Kind]string{
	KindAuthDenied:          "Authentication denied",
	KindNotFound:            "Invalid client ID",
	KindBadRequest:          "Bad request",
	KindTimeout:             "Request timed out",
	KindUpstreamUnavailable: "Upstream unavailable",
	KindInternal:            "Internal error",
}

// Status maps a Kind onto the HTTP status code spec.md §7 assigns it.
func Status(kind Kind) int {
	switch kind {
	case KindAuthDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AuthDenied, NotFound, BadRequest, Timeout, UpstreamUnavailable and
// Internal are convenience constructors using the default message for
// their kind.
func AuthDenied() *Error          { return New(KindAuthDenied, defaultMessage[KindAuthDenied]) }
func NotFound() *Error            { return New(KindNotFound, defaultMessage[KindNotFound]) }
func BadRequest(msg string) *Error {
	if msg == "" {
		msg = defaultMessage[KindBadRequest]
	}
	return New(KindBadRequest, msg)
}
func Timeout() *Error             { return New(KindTimeout, defaultMessage[KindTimeout]) }
func UpstreamUnavailable() *Error { return New(KindUpstreamUnavailable, defaultMessage[KindUpstreamUnavailable]) }
func Internal(msg string) *Error {
	if msg == "" {
		msg = defaultMessage[KindInternal]
	}
	return New(KindInternal, msg)
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
