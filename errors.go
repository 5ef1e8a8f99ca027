package esmtp

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is wrapped by errors returned for API misuse detected
// before any I/O happens.
var ErrInvalidArgument = errors.New("esmtp: invalid argument")

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// errMalformedReply is wrapped by reply parser errors. The engine turns it
// into a protocol-error status.
var errMalformedReply = errors.New("esmtp: malformed reply")

// SessionError is returned by StartSession when the session aborts before
// all messages were attempted. The Status field mirrors Session.Status.
type SessionError struct {
	Status Status
	cause  error
}

func (e *SessionError) Error() string {
	return "esmtp: session aborted: " + e.Status.String()
}

func (e *SessionError) Unwrap() error { return e.cause }
