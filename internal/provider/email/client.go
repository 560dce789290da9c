// Package email is the out-of-scope transactional email provider
// collaborator (spec §1): an opaque SendEmail(payload) -> status|error
// contract, reachable over HTTP per spec §4.3 ("POST to the email
// provider. Success is HTTP status in [200, 204]").
package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"gopkg.in/gomail.v2"

	"mailworker/internal/dispatch"
)

// Client POSTs a MIME message, built with gomail, to a SendGrid-shaped
// mail-send endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func New(endpoint, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// SendEmail implements dispatch.EmailProvider.
func (c *Client) SendEmail(ctx context.Context, msg dispatch.EmailMessage) (int, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	if len(msg.BCC) > 0 {
		m.SetHeader("Bcc", msg.BCC...)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if msg.Attachment != nil {
		data, err := base64.StdEncoding.DecodeString(msg.Attachment.Base64Data)
		if err != nil {
			return 0, fmt.Errorf("email: decode attachment: %w", err)
		}
		m.Attach(msg.Attachment.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return 0, fmt.Errorf("email: render mime: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return 0, fmt.Errorf("email: build request: %w", err)
	}
	req.Header.Set("Content-Type", "message/rfc822")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("email: send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
