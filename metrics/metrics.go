// Package metrics exposes Prometheus instrumentation for mail submission
// sessions. An Observer plugs into a session through its event and
// monitor callbacks; one Observer may serve any number of concurrent
// sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tru7/libESMTP-1"
)

// Observer aggregates session outcomes into Prometheus metrics.
type Observer struct {
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	TLSSessions   prometheus.Counter
	AuthSuccesses prometheus.Counter

	MessagesTotal   *prometheus.CounterVec
	RecipientsTotal *prometheus.CounterVec
	ETRNTotal       *prometheus.CounterVec

	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	mu     sync.Mutex
	starts map[*esmtp.Session]time.Time
}

// NewObserver creates and registers the metric set. Pass
// prometheus.DefaultRegisterer unless the application scopes registries.
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_sessions_total",
			Help: "Submission sessions that reached the server greeting",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "esmtp_sessions_active",
			Help: "Submission sessions currently running",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_sessions_failed_total",
			Help: "Submission sessions that ended without a 2xx outcome",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "esmtp_session_duration_seconds",
			Help:    "Time from server greeting to disconnect",
			Buckets: prometheus.DefBuckets,
		}),
		TLSSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_tls_sessions_total",
			Help: "Sessions that negotiated STARTTLS",
		}),
		AuthSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_auth_success_total",
			Help: "Sessions that authenticated",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtp_messages_total",
			Help: "Messages by final outcome",
		}, []string{"outcome"}),
		RecipientsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtp_recipients_total",
			Help: "Recipients by RCPT outcome",
		}, []string{"outcome"}),
		ETRNTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtp_etrn_total",
			Help: "ETRN requests by outcome",
		}, []string{"outcome"}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_read_bytes_total",
			Help: "Protocol octets read from servers",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "esmtp_written_bytes_total",
			Help: "Protocol octets written to servers",
		}),
		starts: make(map[*esmtp.Session]time.Time),
	}
}

// outcome maps a status to a stable label value.
func outcome(st esmtp.Status) string {
	switch st.Kind {
	case esmtp.StatusOK:
		return "ok"
	case esmtp.StatusTransientFail:
		return "transient"
	case esmtp.StatusPermanentFail:
		return "permanent"
	case esmtp.StatusProtocolError:
		return "protocol_error"
	case esmtp.StatusLocalError:
		return "local_error"
	}
	return "pending"
}

// EventCallback returns the function to pass to
// Session.SetEventCallback.
func (o *Observer) EventCallback() esmtp.EventFunc {
	return func(ev esmtp.Event, v any) {
		switch ev {
		case esmtp.EventConnect:
			s := v.(*esmtp.Session)
			o.SessionsTotal.Inc()
			o.SessionsActive.Inc()
			o.mu.Lock()
			o.starts[s] = time.Now()
			o.mu.Unlock()
		case esmtp.EventStartTLS:
			o.TLSSessions.Inc()
		case esmtp.EventAuth:
			o.AuthSuccesses.Inc()
		case esmtp.EventRcptStatus:
			r := v.(*esmtp.Recipient)
			o.RecipientsTotal.WithLabelValues(outcome(r.Status())).Inc()
		case esmtp.EventETRNStatus:
			n := v.(*esmtp.ETRNNode)
			o.ETRNTotal.WithLabelValues(outcome(n.Status())).Inc()
		case esmtp.EventDisconnect:
			s := v.(*esmtp.Session)
			// Every message has its terminal status by now, the skipped
			// and never-attempted ones included.
			for _, m := range s.Messages() {
				o.MessagesTotal.WithLabelValues(outcome(m.Status())).Inc()
			}
			o.mu.Lock()
			start, seen := o.starts[s]
			delete(o.starts, s)
			o.mu.Unlock()
			if !seen {
				return
			}
			o.SessionsActive.Dec()
			o.SessionDuration.Observe(time.Since(start).Seconds())
			if !s.Status().OK() {
				o.SessionsFailed.Inc()
			}
		}
	}
}

// MonitorCallback returns the function to pass to
// Session.SetMonitorCallback for byte accounting. Header echoes are not
// wire traffic and are skipped.
func (o *Observer) MonitorCallback() esmtp.MonitorFunc {
	return func(dir esmtp.Direction, data []byte) {
		switch dir {
		case esmtp.MonitorRead:
			o.BytesRead.Add(float64(len(data)))
		case esmtp.MonitorWrite:
			o.BytesWritten.Add(float64(len(data)))
		}
	}
}
