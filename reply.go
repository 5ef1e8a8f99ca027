package esmtp

import (
	"fmt"
	"strings"

	"github.com/tru7/libESMTP-1/internal/wire"
)

// reply is one parsed SMTP reply, possibly spanning several continuation
// lines.
type reply struct {
	code     int
	lines    []string
	enhanced EnhancedCode
}

func (r *reply) text() string { return strings.Join(r.lines, "\n") }

// readReply reads and parses one complete reply. Continuation lines must
// repeat the reply code; anything else is malformed. When enhanced is true
// an RFC 3463 status code is stripped from the text if its class agrees
// with the reply code.
func readReply(c *wire.Conn, enhanced bool) (*reply, error) {
	var r reply
	for first := true; ; first = false {
		line, err := c.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(line) < 3 {
			return nil, fmt.Errorf("%w: short line %q", errMalformedReply, line)
		}
		code := 0
		for i := 0; i < 3; i++ {
			if line[i] < '0' || line[i] > '9' {
				return nil, fmt.Errorf("%w: %q", errMalformedReply, line)
			}
			code = code*10 + int(line[i]-'0')
		}
		if code < 200 || code > 599 {
			return nil, fmt.Errorf("%w: reply code %03d out of range", errMalformedReply, code)
		}
		if first {
			r.code = code
		} else if code != r.code {
			return nil, fmt.Errorf("%w: code changed from %03d to %03d", errMalformedReply, r.code, code)
		}

		cont := false
		text := ""
		switch {
		case len(line) == 3:
			// Bare "250" final line; RFC 5321 permits the empty form.
		case line[3] == '-':
			cont = true
			text = line[4:]
		case line[3] == ' ':
			text = line[4:]
		default:
			return nil, fmt.Errorf("%w: %q", errMalformedReply, line)
		}
		r.lines = append(r.lines, text)
		if !cont {
			break
		}
	}
	if enhanced {
		r.extractEnhanced()
	}
	return &r, nil
}

// extractEnhanced strips a leading class.subject.detail token from the
// reply text. Servers repeat the token on every line of a multi-line
// reply, so matching continuation lines are stripped too.
func (r *reply) extractEnhanced() {
	code, rest, ok := parseEnhancedCode(r.lines[0])
	if !ok || code[0] != r.code/100 {
		return
	}
	r.enhanced = code
	r.lines[0] = rest
	prefix := code.String() + " "
	for i := 1; i < len(r.lines); i++ {
		if strings.HasPrefix(r.lines[i], prefix) {
			r.lines[i] = r.lines[i][len(prefix):]
		} else if r.lines[i] == code.String() {
			r.lines[i] = ""
		}
	}
}

func parseEnhancedCode(s string) (EnhancedCode, string, bool) {
	token, rest, found := strings.Cut(s, " ")
	if !found {
		rest = ""
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return EnhancedCode{}, s, false
	}
	var code EnhancedCode
	for i, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return EnhancedCode{}, s, false
		}
		n := 0
		for j := 0; j < len(part); j++ {
			if part[j] < '0' || part[j] > '9' {
				return EnhancedCode{}, s, false
			}
			n = n*10 + int(part[j]-'0')
		}
		code[i] = n
	}
	if code[0] < 2 || code[0] > 5 {
		return EnhancedCode{}, s, false
	}
	return code, rest, true
}
