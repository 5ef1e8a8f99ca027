package esmtp

import (
	"encoding/base64"
	"strings"

	"github.com/emersion/go-sasl"
)

// selectMechanism picks the first configured SASL client whose mechanism
// the server advertised. A nil client with nil error means no overlap.
func (e *engine) selectMechanism() (sasl.Client, string, []byte, error) {
	for _, c := range e.s.saslClients {
		mech, ir, err := c.Start()
		if err != nil {
			return nil, "", nil, err
		}
		for _, offered := range e.s.ext.authMechs {
			if strings.EqualFold(offered, mech) {
				return c, mech, ir, nil
			}
		}
	}
	return nil, "", nil, nil
}

// authenticate runs the RFC 4954 dialogue with the selected mechanism.
// Any outcome other than 235 aborts the session.
func (e *engine) authenticate() error {
	s := e.s
	c, mech, ir, err := e.selectMechanism()
	if err != nil {
		st := localStatus("SASL: " + err.Error())
		e.quit()
		return e.failCascade(st, err, "authentication failed")
	}
	if c == nil {
		st := localStatus("no suitable authentication mechanism, server offers: " +
			strings.Join(s.ext.authMechs, " "))
		e.quit()
		return e.failCascade(st, nil, "authentication failed")
	}

	line := "AUTH " + mech
	switch {
	case ir == nil:
	case len(ir) == 0:
		// RFC 4954: a present-but-empty initial response is "=".
		line += " ="
	default:
		line += " " + base64.StdEncoding.EncodeToString(ir)
	}

	r, err := e.cmd(line)
	for err == nil && r.code == 334 {
		challenge, decErr := base64.StdEncoding.DecodeString(r.text())
		if decErr != nil {
			e.cmd("*")
			st := protocolStatus("malformed AUTH challenge: " + decErr.Error())
			e.quit()
			return e.failCascade(st, decErr, "authentication failed")
		}
		resp, saslErr := c.Next(challenge)
		if saslErr != nil {
			e.cmd("*")
			st := localStatus("SASL: " + saslErr.Error())
			e.quit()
			return e.failCascade(st, saslErr, "authentication failed")
		}
		r, err = e.cmd(base64.StdEncoding.EncodeToString(resp))
	}
	if err != nil {
		return e.failCascade(statusFromErr(err), err, "authentication failed")
	}
	if r.code != 235 {
		st := statusOf(r)
		e.quit()
		return e.failCascade(st, nil, "authentication failed")
	}

	s.authenticated = true
	s.event(EventAuth, s)

	// Capabilities may differ once authenticated.
	return e.hello()
}
