package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
	"github.com/Same-Writer/multi-site-scraper/app/search"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatcherPostsWebhook(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode webhook body: %v", err)
		}
	}))
	defer server.Close()

	payload := Payload{
		Trigger:  TriggerNewListing,
		Search:   "BMW Z3",
		Site:     "craigslist",
		Count:    1,
		Listings: []listing.Record{{Title: "1999 BMW Z3", Price: "$15,000"}},
	}

	err := testDispatcher().Notify(context.Background(), "BMW Z3 / craigslist", payload, search.Notifications{Enabled: true, WebhookURL: server.URL})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if received["label"] != "BMW Z3 / craigslist" {
		t.Errorf("Expected label in body, got %v", received["label"])
	}
	if received["trigger"] != TriggerNewListing {
		t.Errorf("Expected trigger in body, got %v", received["trigger"])
	}
	listings, ok := received["listings"].([]any)
	if !ok || len(listings) != 1 {
		t.Errorf("Expected 1 listing in body, got %v", received["listings"])
	}
}

func TestDispatcherConfiguredLabel(t *testing.T) {
	var label string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		label = body.Label
	}))
	defer server.Close()

	cfg := search.Notifications{Enabled: true, Label: "Roadsters", WebhookURL: server.URL}
	if err := testDispatcher().Notify(context.Background(), "BMW Z3 / ksl", Payload{Trigger: TriggerKeywordMatch}, cfg); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if label != "Roadsters" {
		t.Errorf("Expected configured label, got '%s'", label)
	}
}

func TestDispatcherWebhookError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := testDispatcher().Notify(context.Background(), "x", Payload{}, search.Notifications{WebhookURL: server.URL})
	if err == nil {
		t.Errorf("Expected error for non-2xx webhook response")
	}
}

func TestDispatcherLogOnly(t *testing.T) {
	if err := testDispatcher().Notify(context.Background(), "x", Payload{Count: 2}, search.Notifications{Enabled: true}); err != nil {
		t.Errorf("Expected no error without a webhook, got: %v", err)
	}
}
