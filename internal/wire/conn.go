// Package wire implements the client side of the SMTP wire protocol:
// buffered CRLF line I/O over a net.Conn, in-place TLS upgrade, and the
// dot-stuffed payload encoder used during DATA.
package wire

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// DefaultLineLimit restricts the length of a single reply line. The RFC 5321
// maximum is 1000 octets including CRLF; double it to accommodate servers
// that run a little long.
const DefaultLineLimit = 2000

var ErrTooLongLine = errors.New("esmtp: too long a line in input stream")

// lineLimitReader reads from the underlying Reader but restricts
// line length of lines in input stream to a certain length.
//
// If line length exceeds the limit - Read returns ErrTooLongLine
type lineLimitReader struct {
	R         io.Reader
	LineLimit int

	curLineLength int
}

func (r *lineLimitReader) Read(b []byte) (int, error) {
	if r.curLineLength > r.LineLimit && r.LineLimit > 0 {
		return 0, ErrTooLongLine
	}

	n, err := r.R.Read(b)
	if err != nil {
		return n, err
	}

	if r.LineLimit == 0 {
		return n, nil
	}

	for _, chr := range b[:n] {
		if chr == '\n' {
			r.curLineLength = 0
		}
		r.curLineLength++

		if r.curLineLength > r.LineLimit {
			return 0, ErrTooLongLine
		}
	}

	return n, nil
}

// Conn wraps a net.Conn with buffered reading and writing for SMTP
// protocol I/O. Writes are buffered until Flush so that pipelined command
// groups leave in as few segments as possible.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	// Trace, if set, observes every protocol line as it crosses the wire,
	// CRLF included. It does not observe DATA payload octets.
	Trace func(out bool, line []byte)
}

// NewConn creates a protocol Conn wrapping the given network connection.
func NewConn(c net.Conn) *Conn {
	w := &Conn{}
	w.reset(c)
	return w
}

// reset replaces the underlying net.Conn (used after TLS upgrade) and
// discards any buffered state.
func (c *Conn) reset(nc net.Conn) {
	c.conn = nc
	c.r = bufio.NewReader(&lineLimitReader{R: nc, LineLimit: DefaultLineLimit})
	c.w = bufio.NewWriter(nc)
}

// StartTLS runs a client TLS handshake over the existing connection and
// replaces it in place. The caller is responsible for deadlines covering
// the handshake and for re-issuing EHLO afterwards.
func (c *Conn) StartTLS(config *tls.Config) error {
	tc := tls.Client(c.conn, config)
	if err := tc.Handshake(); err != nil {
		return err
	}
	c.reset(tc)
	return nil
}

// TLSState reports the TLS connection state, if TLS is in effect.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// ReadLine reads one CRLF-terminated line and returns it with the line
// ending stripped. A bare LF terminator is tolerated. Lines longer than
// DefaultLineLimit yield ErrTooLongLine.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	if c.Trace != nil {
		c.Trace(false, []byte(line))
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// WriteLine appends line plus CRLF to the write buffer. Nothing reaches
// the server until Flush.
func (c *Conn) WriteLine(line string) error {
	if c.Trace != nil {
		c.Trace(true, []byte(line+"\r\n"))
	}
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	_, err := c.w.WriteString("\r\n")
	return err
}

// Flush writes any buffered output to the connection.
func (c *Conn) Flush() error {
	return c.w.Flush()
}

// DotWriter returns a writer that canonicalizes line endings, applies
// dot-stuffing, and emits the terminating dot line on Close. Close also
// flushes the connection's write buffer.
func (c *Conn) DotWriter() io.WriteCloser {
	return &dotWriter{w: c.w, atLineStart: true}
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close shuts the underlying connection. Buffered but unflushed output
// is discarded.
func (c *Conn) Close() error {
	return c.conn.Close()
}
