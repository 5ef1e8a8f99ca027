package esmtp

import (
	"fmt"
	"strings"
)

// StatusKind classifies an SMTP outcome for a session, message or
// recipient.
type StatusKind int

const (
	// StatusPending means the protocol has not reached this item yet.
	StatusPending StatusKind = iota
	// StatusOK is a 2xx reply.
	StatusOK
	// StatusTransientFail is a 4xx reply, or a reply that never arrived
	// within the configured wait.
	StatusTransientFail
	// StatusPermanentFail is a 5xx reply.
	StatusPermanentFail
	// StatusProtocolError covers malformed or out-of-contract replies,
	// required extensions the server did not advertise, and 8-bit content
	// on a 7-bit channel.
	StatusProtocolError
	// StatusLocalError covers dial, TLS and socket failures.
	StatusLocalError
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusOK:
		return "ok"
	case StatusTransientFail:
		return "transient failure"
	case StatusPermanentFail:
		return "permanent failure"
	case StatusProtocolError:
		return "protocol error"
	case StatusLocalError:
		return "local error"
	}
	return fmt.Sprintf("StatusKind(%d)", int(k))
}

// EnhancedCode is an RFC 3463 class.subject.detail status triple. The zero
// value means the server supplied none.
type EnhancedCode [3]int

func (c EnhancedCode) String() string {
	return fmt.Sprintf("%d.%d.%d", c[0], c[1], c[2])
}

// Status is the outcome of one protocol step: the SMTP reply code if one
// was received, the enhanced status code if the server supplied one, the
// reply text, and a classification.
type Status struct {
	Code     int
	Enhanced EnhancedCode
	Text     string
	Kind     StatusKind
}

// OK reports whether the step completed with a 2xx reply.
func (s Status) OK() bool { return s.Kind == StatusOK }

func (s Status) String() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	if s.Code != 0 {
		fmt.Fprintf(&b, ": %03d", s.Code)
		if s.Enhanced != (EnhancedCode{}) {
			b.WriteByte(' ')
			b.WriteString(s.Enhanced.String())
		}
	}
	if s.Text != "" {
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(s.Text, "\n", " "))
	}
	return b.String()
}

// classify maps a final reply to a status kind. The one expected
// intermediate reply, 354 to DATA, is consumed before statuses are
// assigned, so any 3xx landing here is out of contract.
func classify(code int) StatusKind {
	switch code / 100 {
	case 2:
		return StatusOK
	case 4:
		return StatusTransientFail
	case 5:
		return StatusPermanentFail
	}
	return StatusProtocolError
}

func statusOf(r *reply) Status {
	return Status{
		Code:     r.code,
		Enhanced: r.enhanced,
		Text:     r.text(),
		Kind:     classify(r.code),
	}
}

func localStatus(text string) Status {
	return Status{Kind: StatusLocalError, Text: text}
}

func protocolStatus(text string) Status {
	return Status{Kind: StatusProtocolError, Text: text}
}

// timeoutStatus is the transient code-000 status assigned when no reply
// arrives within the configured wait.
func timeoutStatus() Status {
	return Status{Kind: StatusTransientFail, Text: "timed out waiting for a reply"}
}

// cascadeStatus marks an item the engine never reached because an earlier
// step failed.
func cascadeStatus(kind StatusKind, why string) Status {
	return Status{Kind: kind, Text: "not attempted: " + why}
}
