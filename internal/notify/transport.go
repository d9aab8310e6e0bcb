package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_transport_dry_run = "transport.dry-run"
)

// Transport delivers a single html message to a list of recipients.
//
// note: fault injection point
type Transport interface {
	Send(ctx context.Context, subject string, recipients []string, htmlBody string) error
}

// TransportError is returned when a transport fails to hand a message over.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

// Enabled reports whether enough is configured to actually send mail.
func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && c.Password != ""
}

// SmtpTransport sends mail with plain auth, falling back to unauthenticated delivery for
// servers that do not support AUTH.
type SmtpTransport struct {
	config SmtpConfig
	from   string
}

// NewSmtpTransport creates a transport sending as `from` (ex. "GetMyCourses <me@host>"),
// defaulting to the configured email address.
func NewSmtpTransport(config SmtpConfig, from string) SmtpTransport {
	assert.NotEmptyStr(config.Server)
	if from == "" {
		from = config.EmailAddress
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return SmtpTransport{config: config, from: from}
}

func (t SmtpTransport) send(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", t.config.Server, t.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", t.config.EmailAddress, t.config.Password, t.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(addr, nil)
	}
	return err
}

func (t SmtpTransport) Send(ctx context.Context, subject string, recipients []string, htmlBody string) error {
	ctx, span := tracer.Start(ctx, "SmtpTransport:Send")
	defer span.End()

	mail := email.NewEmail()
	mail.From = t.from
	mail.To = recipients
	mail.Subject = subject
	mail.HTML = []byte(htmlBody)

	// net/smtp has no notion of contexts, the send is abandoned (not interrupted) when ctx
	// is done first
	result := make(chan error, 1)
	go func() {
		result <- t.send(mail)
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return &TransportError{Transport: "smtp", Err: err}
	}
	return nil
}

// LogTransport reports every message as a warning instead of sending it, it is used when no
// mail server is configured.
type LogTransport struct {
	tel telemetry.API
}

func NewLogTransport(tel telemetry.API) LogTransport {
	assert.NotNil(tel)
	return LogTransport{tel: tel}
}

func (t LogTransport) Send(ctx context.Context, subject string, recipients []string, htmlBody string) error {
	t.tel.ReportWarning(
		report_transport_dry_run,
		telemetry.KV{Key: "subject", Value: subject},
		telemetry.KV{Key: "recipients", Value: strings.Join(recipients, ", ")},
	)
	return nil
}
