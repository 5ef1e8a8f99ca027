// Command esmtp-send submits mail to an SMTP submission server. Messages
// come from a TOML file, from flags, or from stdin; several sessions can
// run in parallel for larger batches.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/oklog/ulid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	esmtp "github.com/tru7/libESMTP-1"
	"github.com/tru7/libESMTP-1/metrics"
)

var (
	flagConfig   string
	flagServer   string
	flagHostname string
	flagFrom     string
	flagTo       []string
	flagSubject  string
	flagBodyFile string
	flagTLS      string
	flagUser     string
	flagPassword string
	flagParallel int
	flagVerbose  bool
	flagTrace    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "esmtp-send",
		Short: "Submit mail to an SMTP submission server",
		Long: `esmtp-send submits one or more messages to a mail submission server
(RFC 6409), negotiating STARTTLS, authentication and the usual SMTP
extensions. Messages are described in a TOML file or with flags; with
flags and no --body-file the body is read from stdin.`,
		RunE:          runSend,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVar(&flagServer, "server", "", "server as host[:service], default service 587")
	rootCmd.Flags().StringVar(&flagHostname, "hostname", "", "EHLO identity")
	rootCmd.Flags().StringVar(&flagFrom, "from", "", "envelope sender, empty for the null path")
	rootCmd.Flags().StringArrayVar(&flagTo, "to", nil, "envelope recipient, repeatable")
	rootCmd.Flags().StringVar(&flagSubject, "subject", "", "Subject header")
	rootCmd.Flags().StringVar(&flagBodyFile, "body-file", "", "message file, stdin when omitted")
	rootCmd.Flags().StringVar(&flagTLS, "tls", "", "TLS policy: opportunistic, required or disabled")
	rootCmd.Flags().StringVar(&flagUser, "user", "", "authentication user")
	rootCmd.Flags().StringVar(&flagPassword, "password", "", "authentication password")
	rootCmd.Flags().IntVar(&flagParallel, "parallel", 0, "number of parallel sessions")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log protocol progress")
	rootCmd.Flags().BoolVar(&flagTrace, "trace", false, "log every protocol line")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "esmtp-send: %v\n", err)
		os.Exit(1)
	}
}

func genID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func tlsPolicy(s string) (esmtp.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "", "opportunistic":
		return esmtp.TLSOpportunistic, nil
	case "required":
		return esmtp.TLSRequired, nil
	case "disabled":
		return esmtp.TLSDisabled, nil
	}
	return 0, fmt.Errorf("bad TLS policy %q", s)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagServer != "" {
		cfg.Server = flagServer
	}
	if flagHostname != "" {
		cfg.Hostname = flagHostname
	}
	if flagTLS != "" {
		cfg.TLS = flagTLS
	}
	if flagUser != "" {
		cfg.Auth.User = flagUser
	}
	if flagPassword != "" {
		cfg.Auth.Password = flagPassword
	}
	if flagParallel > 0 {
		cfg.Parallel = flagParallel
	}
	if cfg.Server == "" {
		return errors.New("no server configured, use --server or a config file")
	}
	if _, err := tlsPolicy(cfg.TLS); err != nil {
		return err
	}
	if _, err := cfg.timeout(cfg.Timeouts.Command); err != nil {
		return err
	}
	if _, err := cfg.timeout(cfg.Timeouts.Submission); err != nil {
		return err
	}

	jobs := cfg.Messages
	if len(flagTo) > 0 {
		job := MessageConfig{From: flagFrom, To: flagTo, Subject: flagSubject, BodyFile: flagBodyFile}
		if job.BodyFile == "" {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			job.Body = string(raw)
		}
		jobs = append(jobs, job)
	} else if flagFrom != "" {
		return errors.New("--from needs at least one --to")
	}
	if len(jobs) == 0 {
		return errors.New("nothing to send, give --to or configure [[message]] blocks")
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose || flagTrace {
		log.SetLevel(logrus.DebugLevel)
	}

	reg := prometheus.NewRegistry()
	obs := metrics.NewObserver(reg)
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go srv.ListenAndServe()
		defer srv.Close()
		log.WithField("listen", cfg.Metrics.Listen).Debug("metrics endpoint up")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groups := make([][]MessageConfig, min(cfg.Parallel, len(jobs)))
	for i, job := range jobs {
		groups[i%len(groups)] = append(groups[i%len(groups)], job)
	}

	var g errgroup.Group
	var failed atomic.Int64
	for _, group := range groups {
		group := group
		g.Go(func() error {
			slog := log.WithField("session", genID())
			n, err := sendGroup(ctx, slog, obs, cfg, group)
			failed.Add(int64(n))
			if err != nil {
				slog.WithError(err).Error("session aborted")
			}
			return err
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d messages not delivered", n, len(jobs))
	}
	log.WithField("messages", len(jobs)).Info("all messages submitted")
	return nil
}

// sendGroup runs one session carrying the given messages and reports how
// many of them did not end with a 2xx.
func sendGroup(ctx context.Context, log *logrus.Entry, obs *metrics.Observer, cfg *Config, jobs []MessageConfig) (failed int, err error) {
	s := esmtp.NewSession()
	if err := s.SetServer(cfg.Server); err != nil {
		return len(jobs), err
	}
	if cfg.Hostname != "" {
		if err := s.SetHostname(cfg.Hostname); err != nil {
			return len(jobs), err
		}
	}
	pol, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return len(jobs), err
	}
	s.SetTLSPolicy(pol)
	if cfg.Auth.User != "" {
		s.SetAuth(
			sasl.NewPlainClient("", cfg.Auth.User, cfg.Auth.Password),
			sasl.NewLoginClient(cfg.Auth.User, cfg.Auth.Password),
		)
		if cfg.Auth.Require {
			s.RequireAuth()
		}
	}
	if d, _ := cfg.timeout(cfg.Timeouts.Command); d > 0 {
		s.CommandTimeout = d
	}
	if d, _ := cfg.timeout(cfg.Timeouts.Submission); d > 0 {
		s.SubmissionTimeout = d
	}
	s.SetEventCallback(combineEvents(obs.EventCallback(), eventLogger(log)))
	s.SetMonitorCallback(monitor(log, obs.MonitorCallback()), false)

	for _, job := range jobs {
		if err := buildMessage(s, job); err != nil {
			return len(jobs), fmt.Errorf("building message: %w", err)
		}
	}

	err = s.StartSession(ctx)
	for _, m := range s.Messages() {
		from, _ := m.ReversePath()
		if st := m.Status(); !st.OK() {
			failed++
			log.WithFields(logrus.Fields{"from": from, "status": st.String()}).Warn("message not delivered")
		}
		for _, r := range m.Recipients() {
			if st := r.Status(); !st.OK() {
				log.WithFields(logrus.Fields{"to": r.Mailbox(), "status": st.String()}).Warn("recipient not accepted")
			}
		}
	}
	return failed, err
}

func buildMessage(s *esmtp.Session, job MessageConfig) error {
	m := s.AddMessage()
	if err := m.SetReversePath(job.From); err != nil {
		return err
	}
	for _, to := range job.To {
		r, err := m.AddRecipient(to)
		if err != nil {
			return err
		}
		if len(job.Notify) > 0 {
			conds := make([]esmtp.DSNNotify, len(job.Notify))
			for i, n := range job.Notify {
				conds[i] = esmtp.DSNNotify(strings.ToUpper(n))
			}
			if err := r.SetDSNNotify(conds...); err != nil {
				return err
			}
		}
	}
	if job.Subject != "" {
		if err := m.SetHeader("Subject", job.Subject); err != nil {
			return err
		}
	}
	if len(job.To) > 0 {
		if err := m.SetHeader("To", strings.Join(job.To, ", ")); err != nil {
			return err
		}
	}
	if job.Envid != "" {
		if err := m.SetDSNEnvid(job.Envid); err != nil {
			return err
		}
	}
	if job.Ret != "" {
		if err := m.SetDSNReturn(esmtp.DSNReturn(strings.ToUpper(job.Ret))); err != nil {
			return err
		}
	}
	if job.EightBit {
		if err := m.SetBodyType(esmtp.Body8BitMIME); err != nil {
			return err
		}
	}

	switch {
	case job.BodyFile != "":
		raw, err := os.ReadFile(job.BodyFile)
		if err != nil {
			return err
		}
		return m.SetBody(esmtp.BodyBytes(raw))
	case job.Body != "":
		return m.SetBody(esmtp.BodyString(job.Body))
	}
	return errors.New("message has no body")
}

func combineEvents(fns ...esmtp.EventFunc) esmtp.EventFunc {
	return func(ev esmtp.Event, v any) {
		for _, fn := range fns {
			fn(ev, v)
		}
	}
}

func eventLogger(log *logrus.Entry) esmtp.EventFunc {
	return func(ev esmtp.Event, v any) {
		switch ev {
		case esmtp.EventConnect:
			s := v.(*esmtp.Session)
			log.WithField("server", s.Server()).Info("connected")
		case esmtp.EventStartTLS:
			log.Debug("TLS established")
		case esmtp.EventAuth:
			log.Debug("authenticated")
		case esmtp.EventMailStatus:
			m := v.(*esmtp.Message)
			from, _ := m.ReversePath()
			log.WithFields(logrus.Fields{"from": from, "status": m.ReversePathStatus().String()}).Debug("sender status")
		case esmtp.EventRcptStatus:
			r := v.(*esmtp.Recipient)
			log.WithFields(logrus.Fields{"to": r.Mailbox(), "status": r.Status().String()}).Debug("recipient status")
		case esmtp.EventMessageSent:
			m := v.(*esmtp.Message)
			log.WithField("status", m.Status().String()).Info("message finished")
		case esmtp.EventDisconnect:
			log.Debug("disconnected")
		}
	}
}

// monitor feeds byte counters and, with --trace, echoes protocol lines.
func monitor(log *logrus.Entry, obs esmtp.MonitorFunc) esmtp.MonitorFunc {
	return func(dir esmtp.Direction, data []byte) {
		obs(dir, data)
		if !flagTrace {
			return
		}
		switch dir {
		case esmtp.MonitorRead:
			log.Debugf("S: %s", strings.TrimRight(string(data), "\r\n"))
		case esmtp.MonitorWrite:
			log.Debugf("C: %s", strings.TrimRight(string(data), "\r\n"))
		}
	}
}
