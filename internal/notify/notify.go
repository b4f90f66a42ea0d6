// Package notify delivers market news broadcasts to chat channels and other sinks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// Message is one broadcast addressed to a single channel.
type Message struct {
	Channel   models.Channel `json:"channel"`
	Text      string         `json:"text"`
	Symbol    string         `json:"symbol"`
	ChangePct float64        `json:"change_pct"`
	OldPrice  float64        `json:"old_price"`
	NewPrice  float64        `json:"new_price"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broadcaster delivers a message to its channel.
type Broadcaster interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// MultiBroadcaster sends every message to all registered sinks concurrently.
type MultiBroadcaster struct {
	sinks []Broadcaster
}

// NewMultiBroadcaster creates a fan-out over sinks.
func NewMultiBroadcaster(sinks ...Broadcaster) *MultiBroadcaster {
	return &MultiBroadcaster{sinks: sinks}
}

// Add registers another sink.
func (m *MultiBroadcaster) Add(b Broadcaster) {
	m.sinks = append(m.sinks, b)
}

// Name returns the sink name.
func (m *MultiBroadcaster) Name() string { return "multi" }

// Send delivers msg to every sink and returns the joined sink errors.
func (m *MultiBroadcaster) Send(ctx context.Context, msg Message) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, sink := range m.sinks {
		sink := sink
		p.Go(func(ctx context.Context) error {
			if err := sink.Send(ctx, msg); err != nil {
				return errors.NewExternalError(sink.Name(), "send", err)
			}
			return nil
		})
	}
	return p.Wait()
}

// WebhookBroadcaster posts messages as JSON to an HTTP endpoint that relays
// them to the chat platform.
type WebhookBroadcaster struct {
	url    string
	client *http.Client
}

// NewWebhookBroadcaster creates a webhook sink.
func NewWebhookBroadcaster(url string, timeout time.Duration) *WebhookBroadcaster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookBroadcaster{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the sink name.
func (w *WebhookBroadcaster) Name() string { return "webhook" }

// Send posts msg to the webhook.
func (w *WebhookBroadcaster) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"origin":     msg.Channel.String(),
		"platform":   msg.Channel.Platform,
		"kind":       msg.Channel.Kind,
		"channel_id": msg.Channel.ID,
		"message":    msg.Text,
		"symbol":     msg.Symbol,
		"change_pct": msg.ChangePct,
		"timestamp":  msg.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CoinExchange/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// LogBroadcaster records messages in the structured log.
type LogBroadcaster struct {
	logger zerolog.Logger
}

// NewLogBroadcaster creates a log sink.
func NewLogBroadcaster(logger zerolog.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger.With().Str("component", "broadcast").Logger()}
}

// Name returns the sink name.
func (l *LogBroadcaster) Name() string { return "log" }

// Send logs msg.
func (l *LogBroadcaster) Send(_ context.Context, msg Message) error {
	l.logger.Info().
		Str("channel", msg.Channel.String()).
		Str("instrument", msg.Symbol).
		Float64("change_pct", msg.ChangePct).
		Str("text", msg.Text).
		Msg("Broadcast delivered")
	return nil
}

// NoOpBroadcaster discards messages.
type NoOpBroadcaster struct{}

// Name returns the sink name.
func (NoOpBroadcaster) Name() string { return "noop" }

// Send does nothing.
func (NoOpBroadcaster) Send(context.Context, Message) error { return nil }
