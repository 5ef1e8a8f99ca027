package wire

import (
	"bufio"
	"io"
)

// dotWriter encodes a message for the SMTP DATA phase (RFC 5321 §4.5.2):
// bare LF and bare CR become CRLF, any line starting with '.' gains an
// extra '.', and Close emits the ".\r\n" terminator. If the message does
// not end with a line break, Close supplies one before the terminator.
type dotWriter struct {
	w           *bufio.Writer
	atLineStart bool
	pendingCR   bool
	closed      bool
}

func (d *dotWriter) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}

	written := 0
	for _, b := range p {
		if d.pendingCR {
			d.pendingCR = false
			if _, err := d.w.WriteString("\r\n"); err != nil {
				return written, err
			}
			d.atLineStart = true
			if b == '\n' {
				written++
				continue
			}
		}

		switch b {
		case '\r':
			d.pendingCR = true
		case '\n':
			if _, err := d.w.WriteString("\r\n"); err != nil {
				return written, err
			}
			d.atLineStart = true
		default:
			if d.atLineStart && b == '.' {
				if err := d.w.WriteByte('.'); err != nil {
					return written, err
				}
			}
			if err := d.w.WriteByte(b); err != nil {
				return written, err
			}
			d.atLineStart = false
		}
		written++
	}
	return written, nil
}

// Close completes the message: it resolves a trailing bare CR, ensures the
// payload ends with CRLF, writes the terminating dot line and flushes.
func (d *dotWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.pendingCR {
		d.pendingCR = false
		if _, err := d.w.WriteString("\r\n"); err != nil {
			return err
		}
		d.atLineStart = true
	}
	if !d.atLineStart {
		if _, err := d.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if _, err := d.w.WriteString(".\r\n"); err != nil {
		return err
	}
	return d.w.Flush()
}

// Scan reads r to EOF and reports the octet count of the stream after
// line-ending canonicalization, plus whether any octet has the high bit
// set. The count excludes stuffing dots and the terminator, matching the
// SIZE semantics of RFC 1870.
func Scan(r io.Reader) (n int64, eightBit bool, err error) {
	var (
		buf         [4096]byte
		pendingCR   bool
		atLineStart = true
	)
	for {
		k, rerr := r.Read(buf[:])
		for _, b := range buf[:k] {
			if b >= 0x80 {
				eightBit = true
			}
			if pendingCR {
				pendingCR = false
				n += 2
				atLineStart = true
				if b == '\n' {
					continue
				}
			}
			switch b {
			case '\r':
				pendingCR = true
			case '\n':
				n += 2
				atLineStart = true
			default:
				n++
				atLineStart = false
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, false, rerr
		}
	}
	if pendingCR {
		n += 2
		atLineStart = true
	}
	if !atLineStart {
		n += 2
	}
	return n, eightBit, nil
}
