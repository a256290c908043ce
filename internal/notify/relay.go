package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPRelay posts messages as JSON to a transactional mail relay.
type HTTPRelay struct {
	APIKey     string
	URL        string
	From       string
	HTTPClient *http.Client
}

// NewHTTPRelay returns a relay client for url authenticated with apiKey.
func NewHTTPRelay(url, apiKey, from string) *HTTPRelay {
	return &HTTPRelay{
		APIKey:     apiKey,
		URL:        url,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type relayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Send delivers msg. Any non-2xx response is an error.
func (c *HTTPRelay) Send(ctx context.Context, msg Message) error {
	if c.URL == "" {
		return errors.New("notify: relay URL not configured")
	}
	if msg.To == "" {
		return errors.New("notify: recipient is empty")
	}
	raw, err := json.Marshal(relayRequest{
		From:    c.From,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: relay request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
