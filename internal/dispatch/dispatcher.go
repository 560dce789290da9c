// Package dispatch implements the Dispatcher (C3): classifies a claimed
// row, invokes the appropriate provider, and reports the outcome.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailworker/internal/store"
)

// SMSProvider is the capability this worker needs from a telephony
// provider. Its concrete implementation (the wire protocol, credentials,
// retries) is out of scope per spec §1 — this interface is the injection
// point the Design Notes call for.
type SMSProvider interface {
	SendSMS(ctx context.Context, to, from, body string) (status string, err error)
}

// EmailProvider is the capability this worker needs from a transactional
// email provider.
type EmailProvider interface {
	SendEmail(ctx context.Context, msg EmailMessage) (statusCode int, err error)
}

// EmailMessage is the wire-agnostic payload handed to an EmailProvider.
type EmailMessage struct {
	From       string
	To         string
	CC         []string
	BCC        []string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Attachment is a base64-encoded CSV report attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Base64Data  string
}

// Overrides are operator-supplied CLI substitutions applied to the
// in-memory record only — the persisted row is untouched, per spec §4.3.
type Overrides struct {
	Email string
	Phone string
}

// Outcome reports what happened when dispatching a single row.
type Outcome struct {
	Sent           bool
	Invalid        bool
	ProviderStatus string
}

// Dispatcher owns the provider clients and the operating-mode switches
// (dry-run, no-notify) that short-circuit the actual send.
type Dispatcher struct {
	sms       SMSProvider
	email     EmailProvider
	smsFrom   string
	emailFrom string
	logger    *zap.Logger
	dryRun    bool
	noNotify  bool
	debug     bool
}

func New(sms SMSProvider, email EmailProvider, smsFrom, emailFrom string, logger *zap.Logger, dryRun, noNotify, debug bool) *Dispatcher {
	return &Dispatcher{sms: sms, email: email, smsFrom: smsFrom, emailFrom: emailFrom, logger: logger, dryRun: dryRun, noNotify: noNotify, debug: debug}
}

var nonDigits = regexp.MustCompile(`\D+`)

// Dispatch classifies and sends one claimed row, per spec §4.3. Invalid
// destinations are reported via Outcome.Invalid without ever calling a
// provider, so the caller (Worker Loop) archives them to FailedMail
// immediately regardless of attempt count.
func (d *Dispatcher) Dispatch(ctx context.Context, m store.Message, ov Overrides) Outcome {
	class := Classify(m.DestinationAddress)
	switch class {
	case ClassInvalid:
		return Outcome{Invalid: true}
	case ClassSMS:
		return d.dispatchSMS(ctx, m, ov)
	default:
		return d.dispatchEmail(ctx, m, ov)
	}
}

func (d *Dispatcher) dispatchSMS(ctx context.Context, m store.Message, ov Overrides) Outcome {
	destination := m.DestinationAddress
	if ov.Phone != "" {
		destination = ov.Phone
	}

	local, domain := splitOnce(destination, '@')
	to := nonDigits.ReplaceAllString(local, "")

	subject := strings.TrimSpace(m.Subject)
	body := strings.TrimSpace(m.Body)

	msg := body
	if domain == "txt.att.net" {
		msg = fmt.Sprintf("SUBJ:%s\nMSG:%s", subject, body)
	}

	if d.debug {
		d.logger.Debug("sms payload", zap.Int64("id", m.ID), zap.String("to", to), zap.String("from", d.smsFrom), zap.String("body", msg))
	}

	if d.noNotify || d.dryRun {
		d.logger.Debug("sms dispatch skipped (no-notify/dry-run)", zap.Int64("id", m.ID), zap.String("to", to))
		return Outcome{Sent: true, ProviderStatus: "skipped"}
	}

	status, err := d.sms.SendSMS(ctx, to, d.smsFrom, msg)
	if err != nil {
		d.logger.Warn("sms send failed", zap.Int64("id", m.ID), zap.Error(err))
		return Outcome{Sent: false, ProviderStatus: status}
	}
	return Outcome{Sent: true, ProviderStatus: status}
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, m store.Message, ov Overrides) Outcome {
	to := m.DestinationAddress
	if ov.Email != "" {
		to = ov.Email
	}

	email := EmailMessage{
		From:    d.emailFrom,
		To:      to,
		Subject: m.Subject,
		Body:    m.Body,
		CC:      validAddresses(m.CCAddress),
		BCC:     validAddresses(m.BCCAddress),
	}

	if len(m.Attachment) > 0 {
		email.Attachment = &Attachment{
			Filename:    attachmentName(m.Subject),
			ContentType: "text/csv",
			Base64Data:  base64.StdEncoding.EncodeToString(m.Attachment),
		}
	}

	if d.debug {
		d.logger.Debug("email payload",
			zap.Int64("id", m.ID), zap.String("to", to), zap.String("from", email.From),
			zap.Strings("cc", email.CC), zap.Strings("bcc", email.BCC),
			zap.String("subject", email.Subject), zap.String("body", email.Body),
			zap.Bool("has_attachment", email.Attachment != nil))
	}

	if d.noNotify || d.dryRun {
		d.logger.Debug("email dispatch skipped (no-notify/dry-run)", zap.Int64("id", m.ID), zap.String("to", to))
		return Outcome{Sent: true, ProviderStatus: "skipped"}
	}

	status, err := d.email.SendEmail(ctx, email)
	if err != nil || status < 200 || status > 204 {
		d.logger.Warn("email send failed", zap.Int64("id", m.ID), zap.Int("status", status), zap.Error(err))
		return Outcome{Sent: false, ProviderStatus: fmt.Sprintf("%d", status)}
	}
	return Outcome{Sent: true, ProviderStatus: fmt.Sprintf("%d", status)}
}

var slugChars = regexp.MustCompile(`[^\w.-]`)

func attachmentName(subject string) string {
	basename := slugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(subject)), "_")
	suffix := time.Now().UTC().Format("_2006_01_02_15_04_05")
	return basename + suffix + ".csv"
}

func validAddresses(csv *string) []string {
	if csv == nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(*csv, ",") {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		if !emailAddress.MatchString(val) {
			continue
		}
		out = append(out, val)
	}
	return out
}
