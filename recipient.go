package esmtp

// Recipient is one forward path of a message together with its DSN
// parameters and, after the session ran, its status.
type Recipient struct {
	message *Message

	mailbox string

	notify    []DSNNotify
	notifySet bool

	orcptType string
	orcpt     string
	orcptSet  bool

	complete bool
	status   Status

	data any
}

// Mailbox returns the forward-path mailbox passed to AddRecipient.
func (r *Recipient) Mailbox() string { return r.mailbox }

// SetDSNNotify selects when the server emits a delivery status
// notification for this recipient. DSNNotifyNever must be the only value
// when present. Requires the DSN extension.
func (r *Recipient) SetDSNNotify(conditions ...DSNNotify) error {
	if len(conditions) == 0 {
		return invalidArgf("no DSN NOTIFY conditions")
	}
	seen := make(map[DSNNotify]bool, len(conditions))
	for _, c := range conditions {
		switch c {
		case DSNNotifyNever, DSNNotifyDelayed, DSNNotifyFailure, DSNNotifySuccess:
		default:
			return invalidArgf("bad DSN NOTIFY value %q", string(c))
		}
		if seen[c] {
			return invalidArgf("duplicate DSN NOTIFY value %q", string(c))
		}
		seen[c] = true
	}
	if seen[DSNNotifyNever] && len(conditions) > 1 {
		return invalidArgf("DSN NOTIFY NEVER excludes other conditions")
	}
	r.notify = append([]DSNNotify(nil), conditions...)
	r.notifySet = true
	r.message.session.require |= ExtDSN
	return nil
}

// SetDSNOrcpt records the original recipient address, forwarded with the
// RCPT TO ORCPT parameter. addrType is usually "rfc822". Pass the raw
// address; it is xtext-encoded on the wire. Requires the DSN extension.
func (r *Recipient) SetDSNOrcpt(addrType, address string) error {
	if addrType == "" || address == "" {
		return invalidArgf("empty ORCPT address type or address")
	}
	if err := validateParam(addrType); err != nil {
		return err
	}
	if err := validateParam(address); err != nil {
		return err
	}
	r.orcptType = addrType
	r.orcpt = address
	r.orcptSet = true
	r.message.session.require |= ExtDSN
	return nil
}

// Complete reports whether the RCPT phase reached this recipient,
// regardless of whether the server accepted it.
func (r *Recipient) Complete() bool { return r.complete }

// Status is the server's response to this recipient's RCPT TO, or a
// synthesized status when the transaction never issued it.
func (r *Recipient) Status() Status { return r.status }

// ResetStatus clears the recipient status and completion flag back to
// pending.
func (r *Recipient) ResetStatus() {
	r.status = Status{}
	r.complete = false
}

// SetData attaches arbitrary application data to the recipient.
func (r *Recipient) SetData(v any) { r.data = v }

// Data returns the application data attached with SetData.
func (r *Recipient) Data() any { return r.data }
