package esmtp

import (
	"strconv"
	"strings"
	"time"
)

// Ext is a bit set identifying SMTP service extensions.
type Ext uint

const (
	ExtPipelining Ext = 1 << iota
	ExtSize
	Ext8BitMIME
	ExtStartTLS
	ExtAuth
	ExtDSN
	ExtEnhancedStatusCodes
	ExtDeliverBy
	ExtETRN
)

var extNames = []struct {
	bit  Ext
	name string
}{
	{ExtPipelining, "PIPELINING"},
	{ExtSize, "SIZE"},
	{Ext8BitMIME, "8BITMIME"},
	{ExtStartTLS, "STARTTLS"},
	{ExtAuth, "AUTH"},
	{ExtDSN, "DSN"},
	{ExtEnhancedStatusCodes, "ENHANCEDSTATUSCODES"},
	{ExtDeliverBy, "DELIVERBY"},
	{ExtETRN, "ETRN"},
}

func (x Ext) String() string {
	var names []string
	for _, e := range extNames {
		if x&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, " ")
}

// Extensions records what the server advertised in its EHLO response. It
// is rebuilt from scratch after every EHLO: a STARTTLS or AUTH exchange
// invalidates whatever was advertised before it.
type Extensions struct {
	mask      Ext
	maxSize   int64
	authMechs []string
	minByTime int64
	unknown   []string
}

func (e *Extensions) reset() { *e = Extensions{} }

// parse consumes the EHLO reply text. The first line is the server's
// greeting and carries no keyword.
func (e *Extensions) parse(lines []string) {
	e.reset()
	for i, line := range lines {
		if i == 0 || line == "" {
			continue
		}
		keyword, params, _ := strings.Cut(line, " ")
		switch strings.ToUpper(keyword) {
		case "PIPELINING":
			e.mask |= ExtPipelining
		case "SIZE":
			e.mask |= ExtSize
			if n, err := strconv.ParseInt(params, 10, 64); err == nil && n >= 0 {
				e.maxSize = n
			}
		case "8BITMIME":
			e.mask |= Ext8BitMIME
		case "STARTTLS":
			e.mask |= ExtStartTLS
		case "AUTH":
			e.mask |= ExtAuth
			e.authMechs = append(e.authMechs, strings.Fields(params)...)
		case "DSN":
			e.mask |= ExtDSN
		case "ENHANCEDSTATUSCODES":
			e.mask |= ExtEnhancedStatusCodes
		case "DELIVERBY":
			e.mask |= ExtDeliverBy
			if n, err := strconv.ParseInt(params, 10, 64); err == nil && n >= 0 {
				e.minByTime = n
			}
		case "ETRN":
			e.mask |= ExtETRN
		default:
			// The obsolete "AUTH=PLAIN LOGIN" form predates RFC 4954 but
			// is still emitted by some servers.
			if rest, ok := strings.CutPrefix(strings.ToUpper(keyword), "AUTH="); ok {
				e.mask |= ExtAuth
				if rest != "" {
					e.authMechs = append(e.authMechs, rest)
				}
				e.authMechs = append(e.authMechs, strings.Fields(params)...)
			} else {
				e.unknown = append(e.unknown, line)
			}
		}
	}
}

// Has reports whether every extension in x was advertised.
func (e *Extensions) Has(x Ext) bool { return e.mask&x == x }

// MaxMessageSize is the parameter of the SIZE extension; zero means the
// server declared no fixed maximum.
func (e *Extensions) MaxMessageSize() int64 { return e.maxSize }

// AuthMechanisms lists the SASL mechanisms the server offered.
func (e *Extensions) AuthMechanisms() []string {
	return append([]string(nil), e.authMechs...)
}

// MinDeliverBy is the minimum by-time the server accepts for the DELIVERBY
// extension.
func (e *Extensions) MinDeliverBy() time.Duration {
	return time.Duration(e.minByTime) * time.Second
}

// Unknown lists EHLO keyword lines the library does not recognize,
// verbatim.
func (e *Extensions) Unknown() []string {
	return append([]string(nil), e.unknown...)
}

// missing names the extensions of mask that were not advertised.
func (e *Extensions) missing(mask Ext) string {
	return (mask &^ e.mask).String()
}
