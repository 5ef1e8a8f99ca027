package esmtp

import (
	"time"

	"github.com/tru7/libESMTP-1/internal/wire"
)

// command is one queued SMTP command and the handler that receives its
// reply.
type command struct {
	verb    string
	line    string
	onReply func(*reply) error
}

// pipeline schedules commands under the RFC 2920 grouping rules: a batch
// is the longest run of pipelinable commands closed by at most one
// synchronization point. The batch is written and flushed as a unit, then
// exactly one reply per command is read and dispatched in issue order.
// When the server did not advertise PIPELINING every command forms its
// own batch.
type pipeline struct {
	conn    *wire.Conn
	ext     *Extensions
	timeout time.Duration
	queue   []command
}

// canPipeline lists the commands RFC 2920 permits in the middle of a
// group. Everything else, known or not, is a synchronization point.
func canPipeline(verb string) bool {
	switch verb {
	case "RSET", "MAIL", "RCPT", "SEND", "SOML", "SAML", "VRFY":
		return true
	}
	return false
}

func (p *pipeline) enqueue(verb, line string, onReply func(*reply) error) {
	p.queue = append(p.queue, command{verb, line, onReply})
}

// flush drains the queue. Handlers may enqueue follow-on commands; those
// run after the current batch. Handlers observe only their own reply.
func (p *pipeline) flush() error {
	for len(p.queue) > 0 {
		n := 1
		if p.ext.Has(ExtPipelining) {
			n = 0
			for n < len(p.queue) && canPipeline(p.queue[n].verb) {
				n++
			}
			if n < len(p.queue) {
				n++ // the closing synchronization point
			}
		}
		batch := p.queue[:n]
		p.queue = p.queue[n:]

		for i := range batch {
			if err := p.conn.WriteLine(batch[i].line); err != nil {
				return err
			}
		}
		if err := p.conn.Flush(); err != nil {
			return err
		}

		enhanced := p.ext.Has(ExtEnhancedStatusCodes)
		for i := range batch {
			if p.timeout > 0 {
				p.conn.SetReadDeadline(time.Now().Add(p.timeout))
			}
			r, err := readReply(p.conn, enhanced)
			if err != nil {
				return err
			}
			if batch[i].onReply != nil {
				if err := batch[i].onReply(r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
