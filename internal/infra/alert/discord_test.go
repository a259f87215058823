package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDiscordAlerter_buildEmbedPayload(t *testing.T) {
	alerter := NewDiscordAlerter(DiscordConfig{
		Enabled:    true,
		WebhookURL: "https://discord.com/api/webhooks/test",
		Timeout:    10 * time.Second,
	})

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	payload := alerter.buildEmbedPayload(Event{
		Provider:            "tinypng",
		From:                "closed",
		To:                  "open",
		ConsecutiveFailures: 3,
		At:                  at,
	})

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Title != "Circuit open: tinypng" {
		t.Errorf("title = %q", embed.Title)
	}
	if !strings.Contains(embed.Description, "after 3 consecutive failures") {
		t.Errorf("description missing failure streak: %q", embed.Description)
	}
	if embed.Color != discordRedColor {
		t.Errorf("color = %d, want red", embed.Color)
	}
	if embed.Footer.Text != "outbound-relay" {
		t.Errorf("footer = %q", embed.Footer.Text)
	}
	if embed.Timestamp != at.Format(time.RFC3339) {
		t.Errorf("timestamp = %q", embed.Timestamp)
	}
}

func TestStateColor(t *testing.T) {
	cases := map[string]int{
		"open":      discordRedColor,
		"half-open": discordYellowColor,
		"closed":    discordGreenColor,
	}
	for state, want := range cases {
		if got := stateColor(state); got != want {
			t.Errorf("stateColor(%q) = %d, want %d", state, got, want)
		}
	}
}

func TestExtractRetryAfter(t *testing.T) {
	t.Run("prefers JSON body", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
		body := []byte(`{"message":"rate limited","retry_after":2.5}`)

		if got := extractRetryAfter(resp, body); got != 2500*time.Millisecond {
			t.Errorf("retry after = %v, want 2.5s", got)
		}
	})

	t.Run("falls back to header", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}

		if got := extractRetryAfter(resp, []byte("{}")); got != 30*time.Second {
			t.Errorf("retry after = %v, want 30s", got)
		}
	})

	t.Run("defaults to 5s", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}

		if got := extractRetryAfter(resp, nil); got != 5*time.Second {
			t.Errorf("retry after = %v, want 5s", got)
		}
	})
}

func TestDiscordAlerter_CircuitTransition(t *testing.T) {
	var gotPayload DiscordWebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	alerter := NewDiscordAlerter(DiscordConfig{WebhookURL: server.URL, Timeout: 5 * time.Second})
	err := alerter.CircuitTransition(context.Background(), Event{
		Provider: "mailgun",
		From:     "open",
		To:       "half-open",
		At:       time.Now(),
	})
	if err != nil {
		t.Fatalf("CircuitTransition: %v", err)
	}
	if len(gotPayload.Embeds) != 1 || gotPayload.Embeds[0].Color != discordYellowColor {
		t.Errorf("delivered payload = %+v", gotPayload)
	}
}
