package esmtp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/tru7/libESMTP-1/internal/wire"
)

// source presents one message as a canonical SMTP payload: the repaired
// header section followed by the producer's body. The producer is read
// once per pass; reset rewinds it for another.
type source struct {
	msg      *Message
	header   []byte
	br       *bufio.Reader
	leftover []byte
}

func newSource(m *Message) (*source, error) {
	s := &source{msg: m}
	fields, leftover, err := s.prime()
	if err != nil {
		return nil, err
	}
	s.header = renderHeaders(fields, m)
	s.leftover = leftover
	return s, nil
}

// prime rewinds the producer and consumes its header section.
func (s *source) prime() ([]producerField, []byte, error) {
	if err := s.msg.body.Rewind(); err != nil {
		return nil, nil, fmt.Errorf("rewinding message body: %w", err)
	}
	s.br = bufio.NewReader(s.msg.body)
	fields, leftover, err := parseHeaderSection(s.br)
	if err != nil {
		return nil, nil, fmt.Errorf("reading message headers: %w", err)
	}
	return fields, leftover, nil
}

// reset positions the source at the first body octet for another pass.
// The header section is not re-merged; the result of the first pass
// stands.
func (s *source) reset() error {
	_, leftover, err := s.prime()
	if err != nil {
		return err
	}
	s.leftover = leftover
	return nil
}

// headerBytes is the canonical header section including the blank
// separator line, CRLF endings throughout.
func (s *source) headerBytes() []byte { return s.header }

// bodyReader streams the message body from the current position.
func (s *source) bodyReader() io.Reader {
	if len(s.leftover) > 0 {
		return io.MultiReader(bytes.NewReader(s.leftover), s.br)
	}
	return s.br
}

// scan measures the canonicalized message and reports whether it contains
// any 8-bit octet. It consumes the body; call reset before transmitting.
func (s *source) scan() (size int64, eightBit bool, err error) {
	for _, b := range s.header {
		if b >= 0x80 {
			eightBit = true
			break
		}
	}
	n, eight, err := wire.Scan(s.bodyReader())
	if err != nil {
		return 0, false, fmt.Errorf("reading message body: %w", err)
	}
	return int64(len(s.header)) + n, eightBit || eight, nil
}
