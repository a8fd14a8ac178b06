// Package mailer serializes a result Table to CSV and delivers it by email,
// or sends a failure notice, as described in spec.md §4.4. Email
// construction (headers, multipart/mixed boundary, base64 attachment
// encoding) is adapted from the teacher's email/sender.go; STARTTLS
// negotiation is adapted from email/smtp.go. CSV serialization uses
// encoding/csv: no third-party CSV writer appears anywhere in the retrieved
// example pack, so this one piece is grounded on the standard library (see
// DESIGN.md). Retry reuses internal/resilience, parameterized to the spec's
// two-attempts/5s-pause policy. Send throughput is throttled through
// internal/ratelimit so a burst of coalesced runs cannot overwhelm the
// configured SMTP server.
package mailer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tablecron/tablecron/internal/ratelimit"
	"github.com/tablecron/tablecron/internal/resilience"
	"github.com/tablecron/tablecron/internal/types"
)

const (
	maxAttempts  = 2
	retryPause   = 5 * time.Second
	dialTimeout  = 10 * time.Second
)

// Config is the SMTP connection and sender identity the Mailer delivers
// through. It is populated from environment variables by the config
// package (spec.md §6).
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Kind distinguishes why a MailError occurred.
type Kind int

const (
	Transient Kind = iota
	Permanent
)

// MailError reports a delivery failure and whether retrying can help.
type MailError struct {
	Kind  Kind
	Cause error
}

func (e *MailError) Error() string {
	if e.Kind == Transient {
		return fmt.Sprintf("mail: transient: %v", e.Cause)
	}
	return fmt.Sprintf("mail: permanent: %v", e.Cause)
}

func (e *MailError) Unwrap() error { return e.Cause }

func transientErr(cause error) error { return &MailError{Kind: Transient, Cause: cause} }
func permanentErr(cause error) error { return &MailError{Kind: Permanent, Cause: cause} }

// Mailer delivers success and failure notices over SMTP.
type Mailer struct {
	cfg     Config
	policy  resilience.Policy
	limiter *ratelimit.Limiter
}

// New builds a Mailer. sendsPerSecond <= 0 disables throttling.
func New(cfg Config, sendsPerSecond, burst int) *Mailer {
	return &Mailer{
		cfg: cfg,
		policy: resilience.Policy{
			MaxAttempts:   maxAttempts,
			BaseDelay:     retryPause,
			MaxDelay:      retryPause,
			BackoffFactor: 1.0,
		},
		limiter: ratelimit.New(sendsPerSecond, burst),
	}
}

func classify(err error) resilience.Classification {
	var me *MailError
	if ok := asMailError(err, &me); ok && me.Kind == Permanent {
		return resilience.Permanent
	}
	return resilience.Transient
}

func asMailError(err error, target **MailError) bool {
	for err != nil {
		if me, ok := err.(*MailError); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// DeliverSuccess serializes result to CSV and emails it to recipients, named
// per spec.md §4.4.
func (m *Mailer) DeliverSuccess(ctx context.Context, jobName string, recipients []string, result types.Table, runTime time.Time) error {
	csvBytes, err := serializeCSV(result)
	if err != nil {
		return permanentErr(fmt.Errorf("serialize result: %w", err))
	}
	stamp := runTime.UTC().Format("20060102T150405Z")
	msg := message{
		from:       m.cfg.From,
		to:         recipients,
		subject:    fmt.Sprintf("Job Results: %s - %s", jobName, stamp),
		body:       fmt.Sprintf("Job %q completed successfully at %s.\n", jobName, runTime.UTC().Format(time.RFC3339)),
		attachName: fmt.Sprintf("%s_%s.csv", jobName, stamp),
		attachData: csvBytes,
	}
	return m.send(ctx, msg)
}

// DeliverFailure sends a plain-text failure notice, named per spec.md §4.4.
func (m *Mailer) DeliverFailure(ctx context.Context, jobName string, recipients []string, errorSummary string, runTime time.Time) error {
	stamp := runTime.UTC().Format("20060102T150405Z")
	msg := message{
		from:    m.cfg.From,
		to:      recipients,
		subject: fmt.Sprintf("Job Failed: %s - %s", jobName, stamp),
		body:    fmt.Sprintf("Job %q failed at %s.\n\n%s\n", jobName, runTime.UTC().Format(time.RFC3339), errorSummary),
	}
	return m.send(ctx, msg)
}

func (m *Mailer) send(ctx context.Context, msg message) error {
	return m.policy.Do(ctx, classify, func() error {
		if err := m.limiter.Wait(ctx); err != nil {
			return permanentErr(fmt.Errorf("rate limit wait: %w", err))
		}
		client, err := m.dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		return deliver(client, m.cfg.From, msg)
	})
}

type message struct {
	from       string
	to         []string
	subject    string
	body       string
	attachName string
	attachData []byte
}

// dial establishes an authenticated, optionally TLS-wrapped SMTP client,
// adapted from email/smtp.go's ConnectSMTPWithContext.
func (m *Mailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transientErr(fmt.Errorf("dial %s: %w", addr, err))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, transientErr(fmt.Errorf("init SMTP client: %w", err))
	}

	if m.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, transientErr(fmt.Errorf("STARTTLS: %w", err))
			}
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, permanentErr(fmt.Errorf("auth: %w", err))
		}
	}

	return client, nil
}

// deliver issues MAIL/RCPT/DATA against an open client, adapted from
// email/sender.go's SendWithClient, generalized from a single-recipient
// task to the spec's plain recipient list (no CC/BCC distinction).
func deliver(client *smtp.Client, from string, msg message) error {
	from = strings.TrimSpace(from)
	if from == "" {
		return permanentErr(fmt.Errorf("SMTP sender 'from' is empty"))
	}
	if err := client.Mail(from); err != nil {
		return classifySMTPErr("MAIL FROM", err)
	}

	for _, rcpt := range msg.to {
		rcpt = strings.TrimSpace(rcpt)
		if rcpt == "" {
			continue
		}
		if err := client.Rcpt(rcpt); err != nil {
			return classifySMTPErr(fmt.Sprintf("RCPT TO %s", rcpt), err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTPErr("DATA", err)
	}

	bw := bufio.NewWriterSize(w, 32*1024)
	if err := writeMessage(bw, from, msg); err != nil {
		return permanentErr(err)
	}
	if err := bw.Flush(); err != nil {
		return transientErr(fmt.Errorf("flush SMTP writer: %w", err))
	}
	if err := w.Close(); err != nil {
		return transientErr(fmt.Errorf("close SMTP writer: %w", err))
	}
	return client.Quit()
}

func classifySMTPErr(op string, err error) error {
	if te, ok := err.(*smtp.TextprotoError); ok && te.Code >= 500 && te.Code < 600 {
		return permanentErr(fmt.Errorf("%s: %w", op, err))
	}
	return transientErr(fmt.Errorf("%s: %w", op, err))
}

func writeMessage(bw *bufio.Writer, from string, msg message) error {
	boundary := "tablecron_" + strconv.FormatInt(int64(len(msg.attachData)), 36) + "_" + strings.ReplaceAll(msg.subject, " ", "_")
	headers := map[string]string{
		"From":         from,
		"To":           strings.Join(msg.to, ", "),
		"Subject":      msg.subject,
		"MIME-Version": "1.0",
	}
	if msg.attachName != "" {
		headers["Content-Type"] = "multipart/mixed; boundary=" + boundary
	} else {
		headers["Content-Type"] = "text/plain; charset=\"UTF-8\""
	}

	for _, k := range []string{"From", "To", "Subject", "MIME-Version", "Content-Type"} {
		if _, err := bw.WriteString(k + ": " + strings.TrimSpace(headers[k]) + "\r\n"); err != nil {
			return fmt.Errorf("write header %s: %w", k, err)
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return fmt.Errorf("write header/body separator: %w", err)
	}

	if msg.attachName == "" {
		_, err := bw.WriteString(msg.body)
		return err
	}

	if _, err := bw.WriteString("--" + boundary + "\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString(msg.body + "\r\n"); err != nil {
		return err
	}

	if _, err := bw.WriteString("--" + boundary + "\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("Content-Type: text/csv\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("Content-Disposition: attachment; filename=\"" + msg.attachName + "\"\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("Content-Transfer-Encoding: base64\r\n\r\n"); err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, bw)
	if _, err := enc.Write(msg.attachData); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode attachment: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close base64 encoder: %w", err)
	}
	if _, err := bw.WriteString("\r\n--" + boundary + "--"); err != nil {
		return err
	}
	return nil
}

// serializeCSV writes a header row (result.ColumnUnion()) followed by one
// row per record, relying on encoding/csv's standard quoting of embedded
// delimiters and newlines.
func serializeCSV(result types.Table) ([]byte, error) {
	cols := result.ColumnUnion()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = fmt.Sprint(row[c])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
