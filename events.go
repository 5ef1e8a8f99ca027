package esmtp

import "fmt"

// Event identifies a session state transition reported to the event
// callback.
type Event int

const (
	// EventConnect fires once the transport is connected and the server
	// greeting was accepted. Payload: *Session.
	EventConnect Event = iota
	// EventStartTLS fires after a successful TLS handshake and before the
	// follow-up EHLO. Payload: *Session.
	EventStartTLS
	// EventAuth fires after successful authentication. Payload: *Session.
	EventAuth
	// EventMailStatus fires when the MAIL FROM reply arrives. Payload:
	// *Message.
	EventMailStatus
	// EventRcptStatus fires when a RCPT TO reply arrives. Payload:
	// *Recipient.
	EventRcptStatus
	// EventMessageData fires when the server accepts DATA, before any
	// payload octets are written. Payload: *Message.
	EventMessageData
	// EventMessageSent fires when the end-of-data reply arrives. Payload:
	// *Message.
	EventMessageSent
	// EventETRNStatus fires when an ETRN reply arrives. Payload:
	// *ETRNNode.
	EventETRNStatus
	// EventDisconnect fires when the transport closes, on every exit path.
	// Payload: *Session.
	EventDisconnect
)

func (ev Event) String() string {
	switch ev {
	case EventConnect:
		return "connect"
	case EventStartTLS:
		return "starttls"
	case EventAuth:
		return "auth"
	case EventMailStatus:
		return "mail-status"
	case EventRcptStatus:
		return "rcpt-status"
	case EventMessageData:
		return "message-data"
	case EventMessageSent:
		return "message-sent"
	case EventETRNStatus:
		return "etrn-status"
	case EventDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("Event(%d)", int(ev))
}

// EventFunc observes session progress. v is the session, message,
// recipient or ETRN node the event concerns; see the Event constants.
// It is called on the goroutine running StartSession.
type EventFunc func(ev Event, v any)

// Direction tags data passed to the monitor callback.
type Direction int

const (
	// MonitorRead is a protocol line received from the server.
	MonitorRead Direction = iota
	// MonitorWrite is a protocol line sent to the server.
	MonitorWrite
	// MonitorHeaders is message header material sent during the DATA
	// phase. Reported only when the monitor was registered with headers
	// enabled; body octets are never reported.
	MonitorHeaders
)

func (d Direction) String() string {
	switch d {
	case MonitorRead:
		return "read"
	case MonitorWrite:
		return "write"
	case MonitorHeaders:
		return "headers"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// MonitorFunc observes the wire dialogue octet for octet. It is called on
// the goroutine running StartSession; the buffer is only valid for the
// duration of the call.
type MonitorFunc func(dir Direction, data []byte)
