package esmtp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-sasl"
)

// defaultService is the IANA name of the message-submission port, 587.
const defaultService = "submission"

// TLSPolicy selects how a session uses STARTTLS.
type TLSPolicy int

const (
	// TLSOpportunistic upgrades when the server advertises STARTTLS and
	// continues in cleartext when it does not or when it refuses the
	// command. A handshake failure after the server accepted STARTTLS
	// still aborts: the stream is no longer usable.
	TLSOpportunistic TLSPolicy = iota
	// TLSDisabled never issues STARTTLS.
	TLSDisabled
	// TLSRequired aborts the session unless the connection is upgraded.
	TLSRequired
)

// DialContextFunc establishes the transport connection. The default is a
// plain net.Dialer.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Session drives one SMTP submission: it connects to the configured
// server, negotiates extensions, optionally upgrades to TLS and
// authenticates, submits its messages in order, and quits. A Session is
// not safe for concurrent use; run parallel submissions on separate
// sessions.
type Session struct {
	// CommandTimeout bounds the wait for each server reply.
	CommandTimeout time.Duration
	// SubmissionTimeout bounds the transfer of a message payload and the
	// wait for the reply that follows the end-of-data terminator.
	SubmissionTimeout time.Duration

	host    string
	service string

	localName string

	messages  []*Message
	etrnNodes []*ETRNNode

	require Ext

	tlsPolicy TLSPolicy
	tlsConfig *tls.Config

	saslClients []sasl.Client

	dial DialContextFunc

	eventFn        EventFunc
	monitorFn      MonitorFunc
	monitorHeaders bool

	ext           Extensions
	status        Status
	authenticated bool

	data any
}

// NewSession returns an empty session with the submission service and
// opportunistic TLS defaults.
func NewSession() *Session {
	return &Session{
		CommandTimeout:    5 * time.Minute,
		SubmissionTimeout: 12 * time.Minute,
		service:           defaultService,
		localName:         "localhost",
	}
}

// SetServer sets the submission server as "host" or "host:service". The
// service may be a port number or a name; it defaults to "submission"
// (port 587).
func (s *Session) SetServer(hostport string) error {
	if hostport == "" {
		return invalidArgf("empty server")
	}
	host, service, err := net.SplitHostPort(hostport)
	if err != nil {
		host, service = hostport, defaultService
	}
	if host == "" {
		return invalidArgf("empty server host")
	}
	if service == "" {
		service = defaultService
	}
	s.host = host
	s.service = service
	return nil
}

// Server returns the configured server target.
func (s *Session) Server() string {
	if s.host == "" {
		return ""
	}
	return net.JoinHostPort(s.host, s.service)
}

// SetHostname sets the identity announced in EHLO. The default is
// "localhost"; callers that know their fully qualified name should use it
// here.
func (s *Session) SetHostname(name string) error {
	if name == "" {
		return invalidArgf("empty hostname")
	}
	if err := validateLine(name); err != nil {
		return err
	}
	s.localName = name
	return nil
}

// Hostname returns the identity announced in EHLO.
func (s *Session) Hostname() string { return s.localName }

// AddMessage appends an empty message to the session.
func (s *Session) AddMessage() *Message {
	m := &Message{session: s}
	s.messages = append(s.messages, m)
	return m
}

// Messages returns the session's messages in submission order.
func (s *Session) Messages() []*Message {
	return append([]*Message(nil), s.messages...)
}

// SetTLSPolicy selects how the session uses STARTTLS. The default is
// TLSOpportunistic.
func (s *Session) SetTLSPolicy(p TLSPolicy) error {
	switch p {
	case TLSOpportunistic, TLSDisabled, TLSRequired:
	default:
		return invalidArgf("bad TLS policy %d", int(p))
	}
	s.tlsPolicy = p
	return nil
}

// SetTLSConfig supplies the TLS client configuration used for STARTTLS.
// If the config names no server, the session's host is filled in for
// certificate verification.
func (s *Session) SetTLSConfig(cfg *tls.Config) { s.tlsConfig = cfg }

// SetAuth hands the session the SASL clients it may authenticate with, in
// preference order. The first client whose mechanism the server advertises
// runs. Without RequireAuth the session continues unauthenticated when the
// server does not offer AUTH.
func (s *Session) SetAuth(clients ...sasl.Client) error {
	for _, c := range clients {
		if c == nil {
			return invalidArgf("nil SASL client")
		}
	}
	s.saslClients = append([]sasl.Client(nil), clients...)
	return nil
}

// RequireAuth makes the AUTH extension required: the session aborts
// instead of continuing unauthenticated when the server does not offer
// it.
func (s *Session) RequireAuth() { s.require |= ExtAuth }

// Authenticated reports whether the session authenticated during its last
// run.
func (s *Session) Authenticated() bool { return s.authenticated }

// SetDialer replaces the transport dialer. Useful for proxies and tests.
func (s *Session) SetDialer(dial DialContextFunc) { s.dial = dial }

// SetEventCallback registers an observer for session state transitions.
func (s *Session) SetEventCallback(fn EventFunc) { s.eventFn = fn }

// SetMonitorCallback registers an observer for the wire dialogue. With
// headers true the message header section is reported during the DATA
// phase as well; body octets are never reported.
func (s *Session) SetMonitorCallback(fn MonitorFunc, headers bool) {
	s.monitorFn = fn
	s.monitorHeaders = headers
}

// Extensions returns a snapshot of what the server advertised in the most
// recent EHLO exchange.
func (s *Session) Extensions() Extensions {
	e := s.ext
	e.authMechs = append([]string(nil), e.authMechs...)
	e.unknown = append([]string(nil), e.unknown...)
	return e
}

// Status is the session-level outcome of the last run.
func (s *Session) Status() Status { return s.status }

// ResetStatus clears the session-level status back to pending. Message,
// recipient and ETRN node statuses have their own reset methods;
// StartSession resets everything at entry in any case.
func (s *Session) ResetStatus() { s.status = Status{} }

// SetData attaches arbitrary application data to the session.
func (s *Session) SetData(v any) { s.data = v }

// Data returns the application data attached with SetData.
func (s *Session) Data() any { return s.data }

func (s *Session) event(ev Event, v any) {
	if s.eventFn != nil {
		s.eventFn(ev, v)
	}
}

func (s *Session) monitor(dir Direction, data []byte) {
	if s.monitorFn != nil {
		s.monitorFn(dir, data)
	}
}

// resetRun puts every status in the session back to pending so the
// session can be executed again from scratch.
func (s *Session) resetRun() {
	s.status = Status{}
	s.ext.reset()
	s.authenticated = false
	for _, m := range s.messages {
		m.ResetStatus()
		for _, r := range m.recipients {
			r.ResetStatus()
		}
	}
	for _, n := range s.etrnNodes {
		n.ResetStatus()
	}
}

// cascade marks everything the engine never reached after an abort.
func (s *Session) cascade(kind StatusKind, why string) {
	st := cascadeStatus(kind, why)
	for _, m := range s.messages {
		if m.reverseStatus.Kind == StatusPending {
			m.reverseStatus = st
		}
		if m.status.Kind == StatusPending {
			m.status = st
		}
		for _, r := range m.recipients {
			if r.status.Kind == StatusPending {
				r.status = st
			}
		}
	}
	for _, n := range s.etrnNodes {
		if n.status.Kind == StatusPending {
			n.status = st
		}
	}
}
