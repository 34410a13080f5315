package notify

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

const (
	TriggerNewListing   = "New Listing"
	TriggerKeywordMatch = "Keyword Match"
)

// Payload describes one notification about a batch of listings.
type Payload struct {
	Trigger  string           `json:"trigger"`
	Search   string           `json:"search"`
	Site     string           `json:"site"`
	Count    int              `json:"count"`
	Listings []listing.Record `json:"listings"`
}

type Notifier interface {
	Notify(ctx context.Context, label string, payload Payload, cfg search.Notifications) error
}

type webhookMessage struct {
	Label  string    `json:"label"`
	SentAt time.Time `json:"sent_at"`
	Payload
}

// Dispatcher logs every notification and posts it as JSON to the configured
// webhook, if any.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewDispatcher(client *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

func (d *Dispatcher) Notify(ctx context.Context, label string, payload Payload, cfg search.Notifications) error {
	label = cmp.Or(cfg.Label, label)

	titles := make([]string, 0, len(payload.Listings))
	for _, l := range payload.Listings {
		titles = append(titles, l.Title)
	}
	d.logger.Info("Notification", "label", label, "trigger", payload.Trigger, "count", payload.Count, "listings", titles)

	if cfg.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(webhookMessage{Label: label, SentAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook error: %d %s", resp.StatusCode, resp.Status)
	}

	return nil
}
