package esmtp

import (
	"strings"
	"time"
)

// deliverByMax bounds the RFC 2852 by-time in seconds.
const deliverByMax = 999999999

// Message is one mail transaction within a session: a reverse path, the
// recipients, the body, and the extension parameters that shape its MAIL
// FROM command. Messages are created with Session.AddMessage and submitted
// in the order they were added.
type Message struct {
	session *Session

	reversePath    string
	reversePathSet bool

	recipients []*Recipient

	headers headerTable
	body    Body

	dsnRet   DSNReturn
	dsnEnvid string
	hasEnvid bool

	sizeEstimate int64
	bodyType     BodyType

	byTime  time.Duration
	byMode  DeliverByMode
	byTrace bool
	bySet   bool

	reverseStatus Status
	status        Status

	data any
}

// validateLine rejects text that cannot be embedded in an SMTP command.
func validateLine(line string) error {
	if strings.ContainsAny(line, "\n\r") {
		return invalidArgf("a line must not contain CR or LF")
	}
	return nil
}

// validateParam rejects text that cannot travel as an ESMTP parameter
// value.
func validateParam(v string) error {
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return invalidArgf("parameter value %q contains octet %#x", v, v[i])
		}
	}
	return nil
}

// SetReversePath sets the MAIL FROM mailbox. The empty string selects the
// null reverse path <>, used for bounce notifications; a message whose
// reverse path was never set also sends <>.
func (m *Message) SetReversePath(mailbox string) error {
	if err := validateLine(mailbox); err != nil {
		return err
	}
	m.reversePath = mailbox
	m.reversePathSet = true
	return nil
}

// ReversePath returns the configured reverse path. ok is false if
// SetReversePath was never called.
func (m *Message) ReversePath() (mailbox string, ok bool) {
	return m.reversePath, m.reversePathSet
}

// AddRecipient appends a recipient for the given forward-path mailbox.
func (m *Message) AddRecipient(mailbox string) (*Recipient, error) {
	if mailbox == "" {
		return nil, invalidArgf("empty recipient mailbox")
	}
	if err := validateLine(mailbox); err != nil {
		return nil, err
	}
	r := &Recipient{message: m, mailbox: mailbox}
	m.recipients = append(m.recipients, r)
	return r, nil
}

// Recipients returns the message's recipients in the order they were
// added.
func (m *Message) Recipients() []*Recipient {
	return append([]*Recipient(nil), m.recipients...)
}

// SetBody binds the message content. Every message needs a body before the
// session starts.
func (m *Message) SetBody(b Body) error {
	if b == nil {
		return invalidArgf("nil message body")
	}
	m.body = b
	return nil
}

// SetHeader sets an RFC 822 header field, overriding any field of the same
// name the body supplies. Setting Return-Path has no effect on the wire:
// that header belongs to the delivering server and is always stripped.
func (m *Message) SetHeader(name, value string) error {
	return m.headers.set(name, value)
}

// Header returns the value previously set for the named header field.
func (m *Message) Header(name string) (string, bool) {
	return m.headers.get(name)
}

// SetDSNReturn asks the server to quote the full message or only its
// headers in delivery status notifications. Requires the DSN extension.
func (m *Message) SetDSNReturn(ret DSNReturn) error {
	switch ret {
	case DSNReturnFull, DSNReturnHeaders:
	default:
		return invalidArgf("bad DSN RET value %q", string(ret))
	}
	m.dsnRet = ret
	m.session.require |= ExtDSN
	return nil
}

// SetDSNEnvid sets the envelope identifier echoed back in delivery status
// notifications. Pass the raw identifier; it is xtext-encoded on the wire.
// Requires the DSN extension.
func (m *Message) SetDSNEnvid(envid string) error {
	if envid == "" || len(envid) > 100 {
		return invalidArgf("DSN envelope id must be 1 to 100 characters")
	}
	if err := validateParam(envid); err != nil {
		return err
	}
	m.dsnEnvid = envid
	m.hasEnvid = true
	m.session.require |= ExtDSN
	return nil
}

// SetSizeEstimate declares the approximate message size in octets,
// forwarded with the MAIL FROM SIZE parameter when the server advertises
// SIZE.
func (m *Message) SetSizeEstimate(n int64) error {
	if n < 0 {
		return invalidArgf("negative size estimate")
	}
	m.sizeEstimate = n
	return nil
}

// SetBodyType declares whether the body is 7-bit or uses 8-bit MIME.
// Requires the 8BITMIME extension.
func (m *Message) SetBodyType(t BodyType) error {
	switch t {
	case Body7Bit, Body8BitMIME:
	default:
		return invalidArgf("bad body type %q", string(t))
	}
	m.bodyType = t
	m.session.require |= Ext8BitMIME
	return nil
}

// SetDeliverBy sets the RFC 2852 delivery deadline. In return mode the
// deadline must be positive; in notify mode zero and negative deadlines
// are allowed. The trace flag requests delay tracing.
func (m *Message) SetDeliverBy(d time.Duration, mode DeliverByMode, trace bool) error {
	switch mode {
	case DeliverByNotify, DeliverByReturn:
	default:
		return invalidArgf("bad deliver-by mode %q", string(mode))
	}
	secs := int64(d / time.Second)
	if secs < -deliverByMax || secs > deliverByMax {
		return invalidArgf("deliver-by time out of range")
	}
	if mode == DeliverByReturn && secs <= 0 {
		return invalidArgf("deliver-by return mode needs a positive time")
	}
	m.byTime = d
	m.byMode = mode
	m.byTrace = trace
	m.bySet = true
	return nil
}

// Status is the outcome of the DATA phase for this message, or a
// synthesized status when the transaction never got that far.
func (m *Message) Status() Status { return m.status }

// ReversePathStatus is the server's response to MAIL FROM.
func (m *Message) ReversePathStatus() Status { return m.reverseStatus }

// ResetStatus clears both message-level statuses back to pending.
func (m *Message) ResetStatus() {
	m.status = Status{}
	m.reverseStatus = Status{}
}

// SetData attaches arbitrary application data to the message.
func (m *Message) SetData(v any) { m.data = v }

// Data returns the application data attached with SetData.
func (m *Message) Data() any { return m.data }
