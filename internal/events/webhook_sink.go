package events

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts events as JSON to an external endpoint, signing each
// delivery with HMAC-SHA256 over the payload.
type WebhookSink struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookSink returns a sink delivering to url. secret may be empty to
// disable signing.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Maildesk-Event", string(event.Type))
	req.Header.Set("X-Maildesk-Delivery", event.ID)
	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(payload)
		req.Header.Set("X-Maildesk-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
