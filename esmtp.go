// Package esmtp submits RFC 822 mail to an SMTP server as defined in
// RFC 5321, with the message-submission profile of RFC 6409.
//
// It implements the following extensions:
//   - PIPELINING (RFC 2920)
//   - SIZE (RFC 1870)
//   - 8BITMIME (RFC 6152)
//   - STARTTLS (RFC 3207)
//   - AUTH (RFC 4954)
//   - DSN (RFC 3461)
//   - ENHANCEDSTATUSCODES (RFC 2034)
//   - DELIVERBY (RFC 2852)
//   - ETRN (RFC 1985)
//
// An application builds a Session carrying one or more messages, each with
// one or more recipients, hands it to a submission server with
// Session.StartSession, and afterwards reads a structured Status from every
// recipient, message and the session itself.
package esmtp

// BodyType is the message body kind declared with the MAIL FROM BODY
// parameter when the server advertises 8BITMIME.
type BodyType string

const (
	Body7Bit     BodyType = "7BIT"
	Body8BitMIME BodyType = "8BITMIME"
)

// DSNReturn controls how much of the original message a delivery status
// notification quotes.
type DSNReturn string

const (
	DSNReturnFull    DSNReturn = "FULL"
	DSNReturnHeaders DSNReturn = "HDRS"
)

// DSNNotify selects the conditions under which the server emits a delivery
// status notification for a recipient. DSNNotifyNever cannot be combined
// with the other values.
type DSNNotify string

const (
	DSNNotifyNever   DSNNotify = "NEVER"
	DSNNotifyDelayed DSNNotify = "DELAY"
	DSNNotifyFailure DSNNotify = "FAILURE"
	DSNNotifySuccess DSNNotify = "SUCCESS"
)

// DeliverByMode selects the RFC 2852 handling of a message that cannot be
// delivered within the deadline: return it, or deliver anyway and notify.
type DeliverByMode string

const (
	DeliverByNotify DeliverByMode = "N"
	DeliverByReturn DeliverByMode = "R"
)
