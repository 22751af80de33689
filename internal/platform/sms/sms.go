// Package sms wraps the external SMS gateway. Delivery is best-effort: the
// dispatcher logs failures and never propagates them to the caller that
// triggered the notification.
package sms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/carelink/carelink/internal/platform/apperror"
)

// Sender delivers one SMS message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// GatewayClient talks to the HTTP SMS gateway.
type GatewayClient struct {
	client *resty.Client
	sender string
}

func NewGatewayClient(baseURL, apiKey, sender string) *GatewayClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetHeader("Authorization", "Bearer "+apiKey)
	return &GatewayClient{client: client, sender: sender}
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (g *GatewayClient) Send(ctx context.Context, to, body string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(sendRequest{From: g.sender, To: to, Body: body}).
		Post("/v1/messages")
	if err != nil {
		return apperror.Wrap(apperror.KindTransportFailure, err, "sms gateway unreachable")
	}
	if resp.IsError() {
		return apperror.New(apperror.KindTransportFailure,
			"sms gateway returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Call records a single delivered message.
type Call struct {
	To   string
	Body string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Body: body})
	if m.ShouldFail {
		return fmt.Errorf("sms: %w", errors.New(m.FailError))
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
