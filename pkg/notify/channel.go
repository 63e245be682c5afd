package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Payload is a rendered notification ready for delivery.
type Payload struct {
	Subject string
	Message string
	Fields  map[string]string
}

// Channel delivers a rendered payload to one destination. Send returns
// delivery success plus the raw response for the notify-sent record; it
// must not panic on delivery failure, and one channel's failure never
// affects another.
type Channel interface {
	Name() string
	Send(ctx context.Context, destination string, payload Payload) (bool, string)
}

// EmailChannel delivers over SMTP.
type EmailChannel struct {
	Host     string
	Port     int
	From     string
	User     string
	Password string
	Timeout  time.Duration
}

func (c *EmailChannel) Name() string { return "email" }

// Send delivers a plain-text mail. The context bounds connection setup
// through the smtp dial deadline.
func (c *EmailChannel) Send(ctx context.Context, destination string, payload Payload) (bool, string) {
	if c.Host == "" {
		return false, "smtp host not configured"
	}

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	msg := strings.Join([]string{
		"From: " + c.From,
		"To: " + destination,
		"Subject: " + payload.Subject,
		"",
		payload.Message,
	}, "\r\n")

	var auth smtp.Auth
	if c.User != "" {
		auth = smtp.PlainAuth("", c.User, c.Password, c.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, c.From, []string{destination}, []byte(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return false, err.Error()
		}
		return true, "accepted"
	case <-ctx.Done():
		return false, ctx.Err().Error()
	}
}

// WebhookChannel posts JSON payloads; it serves both Slack and Zapier
// destinations, which accept arbitrary inbound webhook URLs.
type WebhookChannel struct {
	ChannelName string
	Client      *http.Client
}

// NewWebhookChannel creates a webhook channel with a bounded client.
func NewWebhookChannel(name string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		ChannelName: name,
		Client:      &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string { return c.ChannelName }

func (c *WebhookChannel) Send(ctx context.Context, destination string, payload Payload) (bool, string) {
	body := map[string]string{
		"text": payload.Message,
	}
	for k, v := range payload.Fields {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return false, err.Error()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(data))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))
	}
	return true, string(raw)
}
