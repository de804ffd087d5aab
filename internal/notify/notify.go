// Package notify sends transactional email.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/daloamarket/backend/internal/metrics"
)

const DefaultResendURL = "https://api.resend.com/emails"

type Message struct {
	// Kind labels the message in metrics, e.g. "receipt".
	Kind    string
	To      string
	Subject string
	HTML    string

	Attachments []Attachment
}

type Attachment struct {
	Filename string
	Content  []byte
}

// Sender delivers one message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// ResendSender posts messages to the Resend HTTP API.
type ResendSender struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		apiKey:     apiKey,
		from:       from,
		endpoint:   DefaultResendURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithEndpoint overrides the API URL; used by tests.
func (s *ResendSender) WithEndpoint(url string) *ResendSender {
	s.endpoint = url
	return s
}

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

// Resend takes attachment content as base64.
type resendAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *ResendSender) Send(ctx context.Context, m Message) error {
	if m.To == "" {
		return fmt.Errorf("send email: empty recipient")
	}
	payload := resendRequest{From: s.from, To: []string{m.To}, Subject: m.Subject, HTML: m.HTML}
	for _, a := range m.Attachments {
		payload.Attachments = append(payload.Attachments, resendAttachment{
			Filename: a.Filename,
			Content:  base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.RecordEmail(m.Kind, "error")
		return fmt.Errorf("network error calling resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordEmail(m.Kind, "rejected")
		return fmt.Errorf("resend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	metrics.RecordEmail(m.Kind, "sent")
	return nil
}

// LogSender only logs messages. Used when no API key is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not sent (no provider configured)", "to", m.To, "subject", m.Subject, "attachments", len(m.Attachments))
	metrics.RecordEmail(m.Kind, "logged")
	return nil
}
