package esmtp

import (
	"bytes"
	"io"
	"strings"
)

// Body supplies the octets of one message, headers included. The engine
// may read the stream more than once, for example to verify that a body is
// 7-bit clean before committing to a transaction; Rewind must reposition
// the stream at its first octet. Seeking to other offsets is never
// required.
type Body interface {
	io.Reader
	Rewind() error
}

type seekerBody struct {
	rs io.ReadSeeker
}

func (b *seekerBody) Read(p []byte) (int, error) { return b.rs.Read(p) }

func (b *seekerBody) Rewind() error {
	_, err := b.rs.Seek(0, io.SeekStart)
	return err
}

// BodyReadSeeker adapts any io.ReadSeeker, such as an *os.File, into a
// Body.
func BodyReadSeeker(rs io.ReadSeeker) Body { return &seekerBody{rs} }

// BodyBytes adapts an in-memory message into a Body.
func BodyBytes(p []byte) Body { return BodyReadSeeker(bytes.NewReader(p)) }

// BodyString adapts an in-memory message into a Body.
func BodyString(s string) Body { return BodyReadSeeker(strings.NewReader(s)) }
