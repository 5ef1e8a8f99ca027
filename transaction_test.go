package esmtp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestXtext(t *testing.T) {
	cases := []struct{ in, want string }{
		{"tracking-42", "tracking-42"},
		{"id=42", "id+3D42"},
		{"a+b", "a+2Bb"},
		{"a b", "a+20b"},
		{"caf\xc3\xa9", "caf+C3+A9"},
		{"", ""},
	}
	for _, c := range cases {
		if got := xtext(c.in); got != c.want {
			t.Errorf("xtext(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMailLineDeliverBy(t *testing.T) {
	s := NewSession()
	s.ext.mask = ExtDeliverBy
	m := s.AddMessage()
	if err := m.SetDeliverBy(-30*time.Second, DeliverByNotify, true); err != nil {
		t.Fatal(err)
	}
	e := &engine{s: s}
	if got, want := e.mailLine(m), "MAIL FROM:<> BY=-30;NT"; got != want {
		t.Errorf("mailLine = %q, want %q", got, want)
	}
}

func TestTransactionExtensionParams(t *testing.T) {
	s := NewSession()
	m := s.AddMessage()
	if err := m.SetReversePath("alice@example.org"); err != nil {
		t.Fatal(err)
	}
	rc, err := m.AddRecipient("bob@example.net")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetBody(BodyString(tinyMessage)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSizeEstimate(2048); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBodyType(Body8BitMIME); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDSNReturn(DSNReturnHeaders); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDSNEnvid("id=42"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDeliverBy(2*time.Minute, DeliverByReturn, false); err != nil {
		t.Fatal(err)
	}
	if err := rc.SetDSNNotify(DSNNotifyFailure, DSNNotifyDelayed); err != nil {
		t.Fatal(err)
	}
	if err := rc.SetDSNOrcpt("rfc822", "bob+tag@example.net"); err != nil {
		t.Fatal(err)
	}

	server := `220 smtp.example.com ready
250-smtp.example.com greets localhost
250-SIZE 35651584
250-8BITMIME
250-PIPELINING
250-ENHANCEDSTATUSCODES
250-DSN
250 DELIVERBY 60
250 2.1.0 sender ok
250 2.1.5 recipient ok
354 go ahead
250 2.0.0 queued as 12345
221 2.0.0 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org> SIZE=2048 BODY=8BITMIME RET=HDRS ENVID=id+3D42 BY=120;R
RCPT TO:<bob@example.net> NOTIFY=FAILURE,DELAY ORCPT=rfc822;bob+2Btag@example.net
DATA
Date: Tue, 25 Aug 2026 10:30:00 +0000
Message-ID: <515122a6cda8@localhost>
From: <alice@example.org>
Subject: ping

ping
.
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	// ENHANCEDSTATUSCODES: the class.subject.detail token moves out of the
	// text and into its own field.
	if st := m.ReversePathStatus(); st.Enhanced != (EnhancedCode{2, 1, 0}) || st.Text != "sender ok" {
		t.Errorf("reverse path status %v", st)
	}
	if st := rc.Status(); st.Enhanced != (EnhancedCode{2, 1, 5}) || st.Text != "recipient ok" {
		t.Errorf("recipient status %v", st)
	}
	if st := m.Status(); st.Enhanced != (EnhancedCode{2, 0, 0}) || st.Text != "queued as 12345" {
		t.Errorf("message status %v", st)
	}
	if st := s.Status(); st.Code != 221 || st.Enhanced != (EnhancedCode{2, 0, 0}) {
		t.Errorf("session status %v", st)
	}
}

func TestTransactionSenderRejected(t *testing.T) {
	s, m := tinySetup(t)

	server := `220 hi
250 hello
550 5.1.8 bad sender
503 5.5.1 need MAIL first
250 ok
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if st := m.ReversePathStatus(); st.Kind != StatusPermanentFail || st.Code != 550 {
		t.Errorf("reverse path status %v", st)
	}
	// The recipient's real reply is replaced: it describes the sender
	// rejection, not the server's complaint about command order.
	rc := m.Recipients()[0]
	if st := rc.Status(); st.Kind != StatusPermanentFail || st.Code != 0 ||
		st.Text != "not attempted due to sender rejection" {
		t.Errorf("recipient status %v", st)
	}
	if !rc.Complete() {
		t.Error("recipient not marked complete")
	}
	if st := m.Status(); st.Kind != StatusPermanentFail || st.Text != "not attempted: sender address rejected" {
		t.Errorf("message status %v", st)
	}
	if st := s.Status(); !st.OK() {
		t.Errorf("session status %v", st)
	}
}

func TestTransactionAllRecipientsRejected(t *testing.T) {
	s := NewSession()
	perm := s.AddMessage()
	perm.SetReversePath("alice@example.org")
	perm.AddRecipient("u1@example.net")
	perm.AddRecipient("u2@example.net")
	perm.SetBody(BodyString(tinyMessage))
	mixed := s.AddMessage()
	mixed.SetReversePath("alice@example.org")
	mixed.AddRecipient("u1@example.net")
	mixed.AddRecipient("u3@example.net")
	mixed.SetBody(BodyString(tinyMessage))

	server := `220 hi
250 hello
250 sender ok
550 no such user
551 not local
250 ok
250 sender ok
550 no such user
450 mailbox busy
250 ok
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<u1@example.net>
RCPT TO:<u2@example.net>
RSET
MAIL FROM:<alice@example.org>
RCPT TO:<u1@example.net>
RCPT TO:<u3@example.net>
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if st := perm.Status(); st.Kind != StatusPermanentFail || st.Text != "no valid recipients" {
		t.Errorf("all-permanent message status %v", st)
	}
	if st := mixed.Status(); st.Kind != StatusTransientFail || st.Text != "no valid recipients" {
		t.Errorf("mixed message status %v", st)
	}
	// The recipients keep the server's real verdicts.
	if st := perm.Recipients()[1].Status(); st.Code != 551 {
		t.Errorf("recipient status %v", st)
	}
	if st := mixed.Recipients()[1].Status(); st.Code != 450 || st.Kind != StatusTransientFail {
		t.Errorf("recipient status %v", st)
	}
}

func TestTransactionPartialRecipients(t *testing.T) {
	s := NewSession()
	m := s.AddMessage()
	m.SetReversePath("alice@example.org")
	m.AddRecipient("bob@example.net")
	m.AddRecipient("dave@example.net")
	m.SetBody(BodyString(submitMessage))

	server := `220 hi
250 hello
250 sender ok
250 ok
553 no such user
354 go
250 queued
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
RCPT TO:<dave@example.net>
DATA
Date: Tue, 25 Aug 2026 10:30:00 +0000
Message-ID: <515122a6cda8@localhost>
From: <alice@example.org>
To: <bob@example.net>
Subject: greetings
Content-Type: text/plain

Hello from the submission client.
.
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if !m.Status().OK() {
		t.Errorf("message status %v", m.Status())
	}
	if st := m.Recipients()[0].Status(); !st.OK() {
		t.Errorf("accepted recipient status %v", st)
	}
	if st := m.Recipients()[1].Status(); st.Kind != StatusPermanentFail || st.Code != 553 {
		t.Errorf("rejected recipient status %v", st)
	}
}

func TestTransactionEightBitRefused(t *testing.T) {
	s := NewSession()
	m := s.AddMessage()
	m.SetReversePath("alice@example.org")
	m.AddRecipient("bob@example.net")
	m.SetBody(BodyString("Subject: hi\n\ncaf\xc3\xa9\n"))
	later := s.AddMessage()
	later.SetReversePath("alice@example.org")
	later.AddRecipient("bob@example.net")
	later.SetBody(BodyString(tinyMessage))

	server := `220 hi
250 hello
250 ok
221 bye
`
	client := `EHLO localhost
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err == nil {
		t.Fatal("expected session error")
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	want := "message has 8-bit data but server did not advertise 8BITMIME"
	if st := m.Status(); st.Kind != StatusProtocolError || st.Text != want {
		t.Errorf("message status %v", st)
	}
	if st := s.Status(); st.Kind != StatusProtocolError || st.Text != want {
		t.Errorf("session status %v", st)
	}
	if st := later.Status(); st.Kind != StatusProtocolError ||
		st.Text != "not attempted: 8-bit message on 7-bit channel" {
		t.Errorf("later message status %v", st)
	}
	var se *SessionError
	if !errors.As(err, &se) || se.Status != s.Status() {
		t.Errorf("session error %v does not carry the session status", err)
	}
}

func TestTransactionSizeExceeded(t *testing.T) {
	s := NewSession()
	big := s.AddMessage()
	big.SetReversePath("alice@example.org")
	big.AddRecipient("bob@example.net")
	big.SetBody(BodyString(tinyMessage))
	big.SetSizeEstimate(5000)
	small := s.AddMessage()
	small.SetReversePath("alice@example.org")
	small.AddRecipient("bob@example.net")
	small.SetBody(BodyString(tinyMessage))
	small.SetSizeEstimate(100)

	// 8BITMIME spares the client the verification pass, so admission runs
	// on the declared estimates.
	server := `220 hi
250-hello
250-SIZE 1000
250 8BITMIME
250 sender ok
250 ok
354 go
250 queued
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org> SIZE=100
RCPT TO:<bob@example.net>
DATA
Date: Tue, 25 Aug 2026 10:30:00 +0000
Message-ID: <515122a6cda8@localhost>
From: <alice@example.org>
Subject: ping

ping
.
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if st := big.ReversePathStatus(); st.Kind != StatusPermanentFail ||
		st.Text != "message size 5000 exceeds the server limit 1000" {
		t.Errorf("oversized message status %v", st)
	}
	if st := big.Status(); st.Text != "not attempted: message too large" {
		t.Errorf("oversized message status %v", st)
	}
	if !small.Status().OK() {
		t.Errorf("small message status %v", small.Status())
	}
}

func TestTransactionSizeScanned(t *testing.T) {
	s, m := tinySetup(t)

	// Without 8BITMIME the verification pass measures the true transfer
	// size, which beats the (absent) estimate.
	cmds, err := runSession(context.Background(), s, "220 hi\n250-hello\n250 SIZE 10\n221 bye\n")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script("EHLO localhost\nQUIT\n"); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}
	st := m.ReversePathStatus()
	if st.Kind != StatusPermanentFail || !strings.Contains(st.Text, "exceeds the server limit 10") {
		t.Errorf("message status %v", st)
	}
}

func TestTransactionDataRefused(t *testing.T) {
	s, m := tinySetup(t)

	server := `220 hi
250 hello
250 sender ok
250 ok
554 content rejected
250 ok
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
DATA
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if st := m.Status(); st.Kind != StatusPermanentFail || st.Code != 554 {
		t.Errorf("message status %v", st)
	}
	if st := m.Recipients()[0].Status(); !st.OK() {
		t.Errorf("recipient status %v", st)
	}
	if st := s.Status(); !st.OK() {
		t.Errorf("session status %v", st)
	}
}

func TestTransactionDataUnexpected3xx(t *testing.T) {
	s, m := tinySetup(t)

	server := `220 hi
250 hello
250 sender ok
250 ok
340 strange go-ahead
250 ok
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
DATA
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// Only 354 invites the payload; nothing of the message may follow the
	// stray reply.
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	st := m.Status()
	if st.Kind != StatusProtocolError || st.Code != 340 {
		t.Errorf("message status %v", st)
	}
	if st.OK() {
		t.Error("abandoned transaction reads as a delivered message")
	}
	if st := s.Status(); !st.OK() {
		t.Errorf("session status %v", st)
	}
}

func TestTransactionRecipient3xxNotAccepted(t *testing.T) {
	s, m := tinySetup(t)

	server := `220 hi
250 hello
250 sender ok
354 confused
250 ok
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
RSET
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// A 3xx RCPT reply is no acceptance: DATA must never be issued.
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	rc := m.Recipients()[0]
	if st := rc.Status(); st.Kind != StatusProtocolError || st.Code != 354 {
		t.Errorf("recipient status %v", st)
	}
	if !rc.Complete() {
		t.Error("recipient not marked complete")
	}
	if st := m.Status(); st.Kind != StatusTransientFail || st.Text != "no valid recipients" {
		t.Errorf("message status %v", st)
	}
	if st := s.Status(); !st.OK() {
		t.Errorf("session status %v", st)
	}
}

func TestTransactionDeliverByUnsupported(t *testing.T) {
	s := NewSession()
	urgent := s.AddMessage()
	urgent.SetReversePath("alice@example.org")
	urgent.AddRecipient("bob@example.net")
	urgent.SetBody(BodyString(tinyMessage))
	if err := urgent.SetDeliverBy(2*time.Minute, DeliverByReturn, false); err != nil {
		t.Fatal(err)
	}
	plain := s.AddMessage()
	plain.SetReversePath("alice@example.org")
	plain.AddRecipient("bob@example.net")
	plain.SetBody(BodyString(tinyMessage))

	server := `220 hi
250 hello
250 sender ok
250 ok
354 go
250 queued
221 bye
`
	client := `EHLO localhost
MAIL FROM:<alice@example.org>
RCPT TO:<bob@example.net>
DATA
Date: Tue, 25 Aug 2026 10:30:00 +0000
Message-ID: <515122a6cda8@localhost>
From: <alice@example.org>
Subject: ping

ping
.
QUIT
`
	cmds, err := runSession(context.Background(), s, server)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if want := script(client); cmds != want {
		t.Errorf("Got:\n%s\nExpected:\n%s", cmds, want)
	}

	if st := urgent.ReversePathStatus(); st.Kind != StatusProtocolError ||
		st.Text != "DELIVERBY parameter set but server does not support DELIVERBY" {
		t.Errorf("urgent message reverse path status %v", st)
	}
	if st := urgent.Status(); st.Text != "not attempted: DELIVERBY not available" {
		t.Errorf("urgent message status %v", st)
	}
	if urgent.Recipients()[0].Complete() {
		t.Error("skipped message's recipient marked complete")
	}
	if !plain.Status().OK() {
		t.Errorf("plain message status %v", plain.Status())
	}
}
