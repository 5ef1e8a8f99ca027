package esmtp

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// xtext encodes an ESMTP parameter value per RFC 3461: printable US-ASCII
// passes through except '+' and '=', everything else becomes +XX.
func xtext(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 33 || ch > 126 || ch == '+' || ch == '=' {
			fmt.Fprintf(&b, "+%02X", ch)
		} else {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func joinNotify(conditions []DSNNotify) string {
	parts := make([]string, len(conditions))
	for i, c := range conditions {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// mailLine assembles MAIL FROM with the extension parameters the server
// can take. DSN and 8BITMIME reached this point only if advertised; the
// required-extensions check ran before any transaction.
func (e *engine) mailLine(m *Message) string {
	s := e.s
	line := "MAIL FROM:<" + m.reversePath + ">"
	if s.ext.Has(ExtSize) && m.sizeEstimate > 0 {
		line += " SIZE=" + strconv.FormatInt(m.sizeEstimate, 10)
	}
	if s.ext.Has(Ext8BitMIME) && m.bodyType != "" {
		line += " BODY=" + string(m.bodyType)
	}
	if s.ext.Has(ExtDSN) {
		if m.dsnRet != "" {
			line += " RET=" + string(m.dsnRet)
		}
		if m.hasEnvid {
			line += " ENVID=" + xtext(m.dsnEnvid)
		}
	}
	if s.ext.Has(ExtDeliverBy) && m.bySet {
		line += " BY=" + strconv.FormatInt(int64(m.byTime/time.Second), 10) + ";" + string(m.byMode)
		if m.byTrace {
			line += "T"
		}
	}
	return line
}

func (e *engine) rcptLine(r *Recipient) string {
	line := "RCPT TO:<" + r.mailbox + ">"
	if e.s.ext.Has(ExtDSN) {
		if r.notifySet {
			line += " NOTIFY=" + joinNotify(r.notify)
		}
		if r.orcptSet {
			line += " ORCPT=" + r.orcptType + ";" + xtext(r.orcpt)
		}
	}
	return line
}

// skipMessage resolves a message that never made it onto the wire. The
// cause lands on the given status slot; everything else under the message
// reads "not attempted". The session carries on with the next message.
func skipMessage(m *Message, st Status, why string) {
	skip := cascadeStatus(st.Kind, why)
	if m.reverseStatus.Kind == StatusPending {
		m.reverseStatus = skip
	}
	if m.status.Kind == StatusPending {
		m.status = skip
	}
	for _, r := range m.recipients {
		if r.status.Kind == StatusPending {
			r.status = skip
		}
	}
}

// transact drives one message through MAIL, RCPT and DATA. A non-nil
// return aborts the session; message-level trouble resolves the message
// and returns nil so later messages still run.
func (e *engine) transact(m *Message) error {
	s := e.s

	if m.bySet && !s.ext.Has(ExtDeliverBy) {
		m.reverseStatus = protocolStatus("DELIVERBY parameter set but server does not support DELIVERBY")
		skipMessage(m, m.reverseStatus, "DELIVERBY not available")
		return nil
	}

	src, err := newSource(m)
	if err != nil {
		m.status = localStatus(err.Error())
		skipMessage(m, m.status, "message could not be read")
		return nil
	}

	// A body not declared 8BITMIME must be verified 7-bit clean before it
	// goes to a server that never agreed to take 8-bit data. The same pass
	// yields the exact transfer size.
	size := int64(-1)
	scanned := false
	if m.bodyType == "" && !s.ext.Has(Ext8BitMIME) {
		n, eightBit, err := src.scan()
		if err != nil {
			m.status = localStatus(err.Error())
			skipMessage(m, m.status, "message could not be read")
			return nil
		}
		scanned = true
		size = n
		if eightBit {
			st := protocolStatus("message has 8-bit data but server did not advertise 8BITMIME")
			m.status = st
			e.rset()
			e.quit()
			return e.failCascade(st, nil, "8-bit message on 7-bit channel")
		}
	}

	if max := s.ext.MaxMessageSize(); max > 0 {
		n := size
		if n < 0 {
			n = m.sizeEstimate
		}
		if n > max {
			m.reverseStatus = Status{
				Kind: StatusPermanentFail,
				Text: fmt.Sprintf("message size %d exceeds the server limit %d", n, max),
			}
			skipMessage(m, m.reverseStatus, "message too large")
			return nil
		}
	}

	var (
		mailOK   bool
		accepted int
		allPerm  = true
	)
	e.pipe.enqueue("MAIL", e.mailLine(m), func(r *reply) error {
		m.reverseStatus = statusOf(r)
		mailOK = r.code/100 == 2
		s.event(EventMailStatus, m)
		return nil
	})
	for _, rc := range m.recipients {
		rc := rc
		e.pipe.enqueue("RCPT", e.rcptLine(rc), func(r *reply) error {
			rc.status = statusOf(r)
			rc.complete = true
			if rc.status.Kind == StatusOK {
				accepted++
			} else if rc.status.Kind != StatusPermanentFail {
				allPerm = false
			}
			s.event(EventRcptStatus, rc)
			return nil
		})
	}
	if err := e.pipe.flush(); err != nil {
		return e.failCascade(statusFromErr(err), err, "connection lost during envelope")
	}

	if !mailOK {
		synth := Status{Kind: m.reverseStatus.Kind, Text: "not attempted due to sender rejection"}
		for _, rc := range m.recipients {
			rc.status = synth
		}
		e.rset()
		m.status = cascadeStatus(m.reverseStatus.Kind, "sender address rejected")
		return nil
	}
	if accepted == 0 {
		kind := StatusTransientFail
		if allPerm {
			kind = StatusPermanentFail
		}
		e.rset()
		m.status = Status{Kind: kind, Text: "no valid recipients"}
		return nil
	}

	r, err := e.cmd("DATA")
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "connection lost at DATA")
	}
	if r.code != 354 {
		m.status = statusOf(r)
		e.rset()
		return nil
	}

	if scanned {
		if err := src.reset(); err != nil {
			// The server is waiting for data that cannot be produced.
			// Closing without the terminator makes it drop the transaction.
			st := localStatus(err.Error())
			m.status = st
			return e.failCascade(st, err, "message could not be re-read")
		}
	}

	s.event(EventMessageData, m)
	if s.monitorHeaders {
		s.monitor(MonitorHeaders, src.headerBytes())
	}

	if t := s.SubmissionTimeout; t > 0 {
		e.conn.SetDeadline(time.Now().Add(t))
	}
	dw := e.conn.DotWriter()
	if _, err := dw.Write(src.headerBytes()); err != nil {
		return e.failCascade(statusFromErr(err), err, "connection lost during message data")
	}
	if _, err := io.Copy(dw, src.bodyReader()); err != nil {
		return e.failCascade(statusFromErr(err), err, "message data not sent")
	}
	if err := dw.Close(); err != nil {
		return e.failCascade(statusFromErr(err), err, "connection lost during message data")
	}

	final, err := readReply(e.conn, s.ext.Has(ExtEnhancedStatusCodes))
	e.conn.SetDeadline(time.Time{})
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "no reply to message data")
	}
	m.status = statusOf(final)
	s.event(EventMessageSent, m)
	return nil
}
