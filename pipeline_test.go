package esmtp

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/tru7/libESMTP-1/internal/wire"
)

// chunkRecorder captures every write that reaches the transport, so a
// test can see how commands were grouped into TCP-level flushes.
type chunkRecorder struct {
	chunks []string
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.chunks = append(c.chunks, string(p))
	return len(p), nil
}

func testPipeline(server string, ext *Extensions) (*pipeline, *chunkRecorder) {
	rec := &chunkRecorder{}
	var fake faker
	fake.ReadWriter = struct {
		io.Reader
		io.Writer
	}{strings.NewReader(server), rec}
	return &pipeline{conn: wire.NewConn(fake), ext: ext}, rec
}

func TestPipelineGroups(t *testing.T) {
	p, rec := testPipeline("250 a\r\n250 b\r\n550 c\r\n354 go\r\n", &Extensions{mask: ExtPipelining})

	var order []string
	handler := func(verb string) func(*reply) error {
		return func(r *reply) error {
			order = append(order, fmt.Sprintf("%s %d", verb, r.code))
			return nil
		}
	}
	p.enqueue("MAIL", "MAIL FROM:<a@x>", handler("MAIL"))
	p.enqueue("RCPT", "RCPT TO:<b@y>", handler("RCPT"))
	p.enqueue("RCPT", "RCPT TO:<c@z>", handler("RCPT"))
	p.enqueue("DATA", "DATA", handler("DATA"))
	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// One group: the pipelinable run plus the closing DATA.
	want := "MAIL FROM:<a@x>\r\nRCPT TO:<b@y>\r\nRCPT TO:<c@z>\r\nDATA\r\n"
	if len(rec.chunks) != 1 || rec.chunks[0] != want {
		t.Errorf("chunks = %q, want one chunk %q", rec.chunks, want)
	}

	// Replies are dispatched to handlers in issue order.
	wantOrder := []string{"MAIL 250", "RCPT 250", "RCPT 550", "DATA 354"}
	if fmt.Sprint(order) != fmt.Sprint(wantOrder) {
		t.Errorf("dispatch order %v, want %v", order, wantOrder)
	}
}

func TestPipelineSerialWithoutExtension(t *testing.T) {
	p, rec := testPipeline("250 a\r\n250 b\r\n250 c\r\n", &Extensions{})

	p.enqueue("MAIL", "MAIL FROM:<a@x>", nil)
	p.enqueue("RCPT", "RCPT TO:<b@y>", nil)
	p.enqueue("RCPT", "RCPT TO:<c@z>", nil)
	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(rec.chunks) != 3 {
		t.Errorf("%d chunks, want one per command: %q", len(rec.chunks), rec.chunks)
	}
}

func TestPipelineSyncPointStartsGroup(t *testing.T) {
	p, rec := testPipeline("250 a\r\n250 b\r\n250 c\r\n", &Extensions{mask: ExtPipelining})

	// A leading synchronization point forms its own group; the
	// pipelinable commands behind it travel together.
	p.enqueue("NOOP", "NOOP", nil)
	p.enqueue("MAIL", "MAIL FROM:<a@x>", nil)
	p.enqueue("RCPT", "RCPT TO:<b@y>", nil)
	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(rec.chunks) != 2 || rec.chunks[0] != "NOOP\r\n" {
		t.Errorf("chunks = %q", rec.chunks)
	}
	if want := "MAIL FROM:<a@x>\r\nRCPT TO:<b@y>\r\n"; rec.chunks[1] != want {
		t.Errorf("second chunk %q, want %q", rec.chunks[1], want)
	}
}

func TestPipelineHandlerError(t *testing.T) {
	p, _ := testPipeline("250 a\r\n250 b\r\n", &Extensions{mask: ExtPipelining})

	boom := errors.New("boom")
	p.enqueue("MAIL", "MAIL FROM:<a@x>", func(*reply) error { return boom })
	p.enqueue("RCPT", "RCPT TO:<b@y>", nil)
	if err := p.flush(); !errors.Is(err, boom) {
		t.Errorf("flush error %v, want handler error", err)
	}
}

func TestPipelineEnhancedReplies(t *testing.T) {
	p, _ := testPipeline("250 2.1.0 fine\r\n", &Extensions{mask: ExtPipelining | ExtEnhancedStatusCodes})

	var got Status
	p.enqueue("MAIL", "MAIL FROM:<a@x>", func(r *reply) error {
		got = statusOf(r)
		return nil
	})
	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got.Enhanced != (EnhancedCode{2, 1, 0}) || got.Text != "fine" {
		t.Errorf("status = %+v", got)
	}
}
