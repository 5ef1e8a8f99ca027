package esmtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/tru7/libESMTP-1/internal/wire"
)

// engine carries the per-run state of one session execution. A non-nil
// error from any of its methods means the session aborted with the
// session status already recorded.
type engine struct {
	s    *Session
	ctx  context.Context
	conn *wire.Conn
	pipe *pipeline
}

// StartSession connects to the configured server and runs the whole
// session: greeting, EHLO, STARTTLS and AUTH as configured, the ETRN
// nodes, one transaction per message, QUIT. It returns nil when every
// message was attempted; per-message and per-recipient outcomes are read
// from their statuses. A non-nil error means the session aborted early;
// everything not reached carries a "not attempted" status.
//
// The context covers the whole run. Cancelling it closes the transport
// after a best-effort QUIT.
//
// StartSession may be called again on the same session; it redials from
// scratch and resets all statuses first.
func (s *Session) StartSession(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.host == "" {
		return invalidArgf("no server configured")
	}
	for i, m := range s.messages {
		if m.body == nil {
			return invalidArgf("message %d has no body", i+1)
		}
		if len(m.recipients) == 0 {
			return invalidArgf("message %d has no recipients", i+1)
		}
	}
	s.resetRun()

	dial := s.dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	nc, err := dial(ctx, "tcp", net.JoinHostPort(s.host, s.service))
	if err != nil {
		st := localStatus("connecting: " + err.Error())
		s.status = st
		s.cascade(st.Kind, "connection failed")
		return &SessionError{Status: st, cause: err}
	}

	e := &engine{s: s, ctx: ctx, conn: wire.NewConn(nc)}
	if s.monitorFn != nil {
		e.conn.Trace = func(out bool, line []byte) {
			dir := MonitorRead
			if out {
				dir = MonitorWrite
			}
			s.monitorFn(dir, line)
		}
	}
	e.pipe = &pipeline{conn: e.conn, ext: &s.ext, timeout: s.CommandTimeout}

	err = e.run()
	e.conn.Close()
	s.event(EventDisconnect, s)
	return err
}

func (e *engine) run() error {
	s := e.s

	r, err := e.read()
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "no greeting")
	}
	if r.code != 220 {
		st := statusOf(r)
		st.Kind = StatusLocalError
		e.quit()
		return e.failCascade(st, nil, "server rejected connection")
	}
	s.event(EventConnect, s)

	if err := e.hello(); err != nil {
		return err
	}
	if err := e.maybeStartTLS(); err != nil {
		return err
	}
	if err := e.maybeAuth(); err != nil {
		return err
	}

	if s.require&^s.ext.mask != 0 {
		st := protocolStatus("required extension not advertised: " + s.ext.missing(s.require))
		e.quit()
		return e.failCascade(st, nil, "required extension missing")
	}

	if err := e.etrn(); err != nil {
		return err
	}

	for _, m := range s.messages {
		if err := e.checkCancel(); err != nil {
			return err
		}
		if err := e.transact(m); err != nil {
			return err
		}
	}

	e.quit()
	if s.status.Kind == StatusPending {
		s.status = Status{Kind: StatusOK, Text: "session completed"}
	}
	return nil
}

// read takes one reply off the wire under the per-reply deadline.
func (e *engine) read() (*reply, error) {
	if t := e.s.CommandTimeout; t > 0 {
		e.conn.SetReadDeadline(time.Now().Add(t))
	}
	return readReply(e.conn, e.s.ext.Has(ExtEnhancedStatusCodes))
}

// cmd runs one serial exchange: write, flush, read one reply.
func (e *engine) cmd(line string) (*reply, error) {
	if err := e.conn.WriteLine(line); err != nil {
		return nil, err
	}
	if err := e.conn.Flush(); err != nil {
		return nil, err
	}
	return e.read()
}

// hello issues EHLO and falls back to HELO when the server rejects it
// outright. On success the capability set reflects this exchange.
func (e *engine) hello() error {
	s := e.s
	s.ext.reset()
	r, err := e.cmd("EHLO " + s.localName)
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "hello failed")
	}
	if r.code/100 == 5 {
		// Pre-extension server.
		r, err = e.cmd("HELO " + s.localName)
		if err != nil {
			return e.failCascade(statusFromErr(err), err, "hello failed")
		}
		if r.code != 250 {
			e.quit()
			return e.failCascade(statusOf(r), nil, "server rejected HELO")
		}
		return nil
	}
	if r.code != 250 {
		e.quit()
		return e.failCascade(statusOf(r), nil, "server rejected EHLO")
	}
	s.ext.parse(r.lines)
	return nil
}

func (e *engine) maybeStartTLS() error {
	s := e.s
	switch s.tlsPolicy {
	case TLSDisabled:
		return nil
	case TLSOpportunistic:
		if !s.ext.Has(ExtStartTLS) {
			return nil
		}
	case TLSRequired:
		if !s.ext.Has(ExtStartTLS) {
			st := localStatus("TLS required but server did not advertise STARTTLS")
			e.quit()
			return e.failCascade(st, nil, "TLS unavailable")
		}
	}

	r, err := e.cmd("STARTTLS")
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "STARTTLS failed")
	}
	if r.code != 220 {
		if s.tlsPolicy == TLSRequired {
			st := statusOf(r)
			st.Kind = StatusLocalError
			e.quit()
			return e.failCascade(st, nil, "STARTTLS refused")
		}
		// Opportunistic: carry on in cleartext.
		return nil
	}

	cfg := s.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = s.host
	}
	if t := s.CommandTimeout; t > 0 {
		e.conn.SetDeadline(time.Now().Add(t))
	}
	if err := e.conn.StartTLS(cfg); err != nil {
		// The stream is beyond recovery once handshake bytes have flowed.
		st := localStatus("TLS handshake: " + err.Error())
		return e.failCascade(st, err, "TLS handshake failed")
	}
	e.conn.SetDeadline(time.Time{})
	s.event(EventStartTLS, s)

	// What the server advertised in cleartext no longer counts.
	return e.hello()
}

func (e *engine) maybeAuth() error {
	s := e.s
	if len(s.saslClients) == 0 {
		return nil
	}
	if !s.ext.Has(ExtAuth) {
		// Unadvertised AUTH is fatal only via RequireAuth, checked with
		// the rest of the required mask.
		return nil
	}
	return e.authenticate()
}

// etrn issues one ETRN per configured node, in order. Replies are
// recorded on the nodes; only transport-level trouble aborts.
func (e *engine) etrn() error {
	s := e.s
	for _, n := range s.etrnNodes {
		r, err := e.cmd(n.command())
		if err != nil {
			return e.failCascade(statusFromErr(err), err, "ETRN failed")
		}
		n.status = statusOf(r)
		s.event(EventETRNStatus, n)
	}
	return nil
}

// rset clears the server-side transaction state, best-effort.
func (e *engine) rset() {
	e.cmd("RSET")
}

// quit ends the dialogue, best-effort. The 221 reply becomes the session
// status when nothing else claimed it first.
func (e *engine) quit() {
	r, err := e.cmd("QUIT")
	if err == nil && e.s.status.Kind == StatusPending {
		e.s.status = statusOf(r)
	}
}

// checkCancel maps context cancellation to a best-effort QUIT and a
// local-error abort.
func (e *engine) checkCancel() error {
	if err := e.ctx.Err(); err != nil {
		st := localStatus("session cancelled")
		e.quit()
		return e.failCascade(st, err, "session cancelled")
	}
	return nil
}

// failCascade records the session status, marks everything unreached and
// returns the abort error.
func (e *engine) failCascade(st Status, cause error, why string) error {
	e.s.status = st
	e.s.cascade(st.Kind, why)
	return &SessionError{Status: st, cause: cause}
}

// statusFromErr classifies an I/O-level failure: absent replies are
// transient, garbled ones are protocol errors, the rest is local.
func statusFromErr(err error) Status {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timeoutStatus()
	}
	if errors.Is(err, errMalformedReply) || errors.Is(err, wire.ErrTooLongLine) {
		return protocolStatus(err.Error())
	}
	return localStatus(err.Error())
}
