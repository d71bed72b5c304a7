package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
)

// sendRequest is the JSON body posted to the provider gateway.
type sendRequest struct {
	To      string            `json:"to"`
	Channel string            `json:"channel"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// HTTPSender delivers channel payloads by POSTing to a provider
// gateway. The base URL is injected from config so tests can point to a
// local mock.
type HTTPSender struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the delivery to the gateway and expects a 202 Accepted.
func (s *HTTPSender) Send(ctx context.Context, d payload.Delivery) error {
	body, err := json.Marshal(sendRequest{
		To:      d.To,
		Channel: string(d.Channel),
		Title:   d.Title,
		Body:    d.Body,
		Data:    d.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}
	return nil
}

// compile-time check that HTTPSender implements ChannelSender
var _ ChannelSender = (*HTTPSender)(nil)

// ExpressSender posts express messages to the same provider gateway.
// Express traffic is sms-shaped (one-time codes), so the channel field
// is fixed.
type ExpressSender struct {
	baseURL    string
	httpClient *http.Client
}

func NewExpressSender(baseURL string, timeout time.Duration) *ExpressSender {
	return &ExpressSender{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *ExpressSender) Send(ctx context.Context, msg domain.DeliveryMessage) error {
	body, err := json.Marshal(sendRequest{
		To:      msg.To,
		Channel: string(domain.ChannelSMS),
		Body:    msg.Body,
		Data:    msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}
	return nil
}
