package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"
)

const defaultDialTimeout = 10 * time.Second

// SMTPConfig locates and authenticates against one SMTP endpoint.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// FromAddress is the envelope and header sender. FromName is the
	// display name placed next to it.
	FromAddress string
	FromName    string

	// ImplicitTLS wraps the connection in TLS before SMTP starts
	// (port 465 deployments). StartTLS upgrades after EHLO when the
	// server advertises it. InsecureSkipVerify is for lab setups only.
	ImplicitTLS        bool
	StartTLS           bool
	InsecureSkipVerify bool

	DialTimeout time.Duration
}

// SMTPSender delivers composed messages over SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("mailer: smtp host and port are required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("mailer: smtp from address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send composes and delivers one message. The context bounds the dial;
// the SMTP conversation itself runs on the connection's own deadline.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	raw, err := Compose(s.cfg.FromName, s.cfg.FromAddress, to, subject, htmlBody, textBody)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.InsecureSkipVerify}

	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mailer: dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.cfg.ImplicitTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mailer: smtp handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("mailer: starttls: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("mailer: auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.cfg.FromAddress); err != nil {
		return fmt.Errorf("mailer: mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("mailer: rcpt to: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailer: data: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return fmt.Errorf("mailer: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("mailer: finish body: %w", err)
	}
	return client.Quit()
}

// WriterSender writes composed messages to an io.Writer, one message
// after another. Development servers point it at stdout.
type WriterSender struct {
	mu   sync.Mutex
	w    io.Writer
	from string
	name string
}

func NewWriterSender(w io.Writer, fromName, fromAddr string) *WriterSender {
	return &WriterSender{w: w, from: fromAddr, name: fromName}
}

func (s *WriterSender) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	raw, err := Compose(s.name, s.from, to, subject, htmlBody, textBody)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(raw); err != nil {
		return fmt.Errorf("mailer: write message: %w", err)
	}
	_, err = io.WriteString(s.w, "\r\n")
	return err
}

// Sender matches the engine's EmailSender contract.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Async bounds every Send with a timeout and swallows failures after
// logging them, so notification trouble never surfaces to the caller.
type Async struct {
	next    Sender
	timeout time.Duration
	log     *slog.Logger
}

func NewAsync(next Sender, timeout time.Duration, log *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Async{next: next, timeout: timeout, log: log}
}

func (a *Async) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.next.Send(sendCtx, to, subject, htmlBody, textBody); err != nil {
		a.log.Warn("mail send failed", "to", to, "subject", subject, "err", err)
	}
	return nil
}
