package esmtp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxHeaderSection bounds how much of the producer stream may be buffered
// while looking for the end of the header section.
const maxHeaderSection = 1 << 20

// now and newMessageID are indirected for deterministic tests.
var (
	now          = time.Now
	newMessageID = func() string { return uuid.NewString() }
)

type headerField struct {
	name  string
	value string
}

// headerTable stores application-set header fields in insertion order with
// case-insensitive name lookup. A second set for the same name replaces
// the first.
type headerTable struct {
	fields []headerField
}

func (t *headerTable) set(name, value string) error {
	if !validHeaderName(name) {
		return invalidArgf("bad header field name %q", name)
	}
	for i := 0; i < len(value); i++ {
		if c := value[i]; (c < 32 && c != '\t') || c == 127 {
			return invalidArgf("header %s value contains control octet %#x", name, c)
		}
	}
	for i := range t.fields {
		if strings.EqualFold(t.fields[i].name, name) {
			t.fields[i].value = value
			return nil
		}
	}
	t.fields = append(t.fields, headerField{name, value})
	return nil
}

func (t *headerTable) get(name string) (string, bool) {
	for i := range t.fields {
		if strings.EqualFold(t.fields[i].name, name) {
			return t.fields[i].value, true
		}
	}
	return "", false
}

// validHeaderName follows the RFC 5322 field-name syntax: printable
// US-ASCII except colon.
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 33 || c > 126 || c == ':' {
			return false
		}
	}
	return true
}

// producerField is one field from the body's header section, kept
// verbatim as its constituent lines so folding survives the round trip.
type producerField struct {
	name  string
	lines []string
}

// parseHeaderSection consumes the header section from br, leaving the
// reader positioned at the first body octet. If a line that cannot be
// part of a header appears before a blank separator, the section ends
// there and the line is returned as leftover body material.
func parseHeaderSection(br *bufio.Reader) (fields []producerField, leftover []byte, err error) {
	size := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, nil, err
		}
		atEOF := err == io.EOF
		if atEOF && line == "" {
			return fields, nil, nil
		}
		size += len(line)
		if size > maxHeaderSection {
			return nil, nil, invalidArgf("message header section exceeds %d bytes", maxHeaderSection)
		}

		trimmed := strings.TrimSuffix(line, "\n")
		trimmed = strings.TrimSuffix(trimmed, "\r")
		switch {
		case trimmed == "":
			// Blank separator: end of headers.
			return fields, nil, nil
		case trimmed[0] == ' ' || trimmed[0] == '\t':
			// Folded continuation of the previous field.
			if len(fields) == 0 {
				fields = append(fields, producerField{})
			}
			f := &fields[len(fields)-1]
			f.lines = append(f.lines, trimmed)
		default:
			name, ok := headerNameOf(trimmed)
			if !ok {
				// Not a header: the producer supplied the body without a
				// separating blank line.
				return fields, []byte(line), nil
			}
			fields = append(fields, producerField{name: name, lines: []string{trimmed}})
		}
		if atEOF {
			return fields, nil, nil
		}
	}
}

func headerNameOf(line string) (string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", false
	}
	name := strings.TrimRight(line[:idx], " \t")
	if !validHeaderName(name) {
		return "", false
	}
	return name, true
}

// renderHeaders merges the producer's header section with the
// application-set table and synthesizes the fields RFC 5322 requires.
// Rules: Return-Path is reserved and never emitted; an application value
// replaces every producer occurrence of the same name at the position of
// the first; application-only fields follow the producer's; Date,
// Message-ID and From are added only when absent. The result uses CRLF
// endings and includes the blank separator line.
func renderHeaders(fields []producerField, m *Message) []byte {
	var b bytes.Buffer
	present := make(map[string]bool)

	writeField := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	for _, f := range fields {
		lower := strings.ToLower(f.name)
		if lower == "return-path" {
			continue
		}
		if f.name != "" {
			if v, ok := m.headers.get(f.name); ok {
				if !present[lower] {
					writeField(f.name, v)
					present[lower] = true
				}
				continue
			}
			present[lower] = true
		}
		for _, line := range f.lines {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}

	for _, f := range m.headers.fields {
		lower := strings.ToLower(f.name)
		if lower == "return-path" || present[lower] {
			continue
		}
		writeField(f.name, f.value)
		present[lower] = true
	}

	if !present["date"] {
		writeField("Date", now().Format(time.RFC1123Z))
	}
	if !present["message-id"] {
		writeField("Message-ID", "<"+newMessageID()+"@"+m.session.localName+">")
	}
	if !present["from"] {
		if m.reversePath != "" {
			writeField("From", "<"+m.reversePath+">")
		} else {
			// Null reverse path: the conventional bounce originator.
			writeField("From", "MAILER-DAEMON")
		}
	}

	b.WriteString("\r\n")
	return b.Bytes()
}
