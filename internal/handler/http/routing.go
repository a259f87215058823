package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/handler/http/respond"
	"outbound-relay/internal/usecase/route"
)

// healthView is the per-provider snapshot shape shared by the routing and
// provider-health endpoints.
type healthView struct {
	Provider       string  `json:"provider"`
	HealthScore    float64 `json:"health_score"`
	QuotaRemaining int64   `json:"quota_remaining"`
	DailyLimit     int64   `json:"daily_limit"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	CircuitState   string  `json:"circuit_state"`
}

func toHealthViews(views []route.View) []healthView {
	out := make([]healthView, 0, len(views))
	for _, v := range views {
		out = append(out, healthView{
			Provider:       string(v.Provider),
			HealthScore:    v.HealthScore,
			QuotaRemaining: v.QuotaRemaining,
			DailyLimit:     v.DailyLimit,
			AvgLatencyMs:   v.AvgLatencyMs,
			CircuitState:   v.CircuitState.String(),
		})
	}
	return out
}

// recommendResponse is the routing recommendation for one job type.
type recommendResponse struct {
	Recommended string       `json:"recommended"`
	Reason      string       `json:"reason"`
	Degraded    bool         `json:"degraded"`
	Alternates  []string     `json:"alternates"`
	Providers   []healthView `json:"providers"`
}

// RoutingHandler serves the email routing surface: recommendations and
// actual sends.
type RoutingHandler struct {
	Service *route.Service
}

// Recommend handles GET /routing/email?type=<job-type>.
func (h *RoutingHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	rawType := r.URL.Query().Get("type")
	jobType, ok := provider.ParseJobType(rawType)
	if !ok {
		respond.SafeError(w, http.StatusBadRequest,
			fmt.Errorf("invalid job type %q", rawType))
		return
	}

	selection, views := h.Service.Recommend(r.Context(), jobType)

	alternates := make([]string, 0, len(selection.Alternates))
	for _, id := range selection.Alternates {
		alternates = append(alternates, string(id))
	}

	respond.JSON(w, http.StatusOK, recommendResponse{
		Recommended: string(selection.Provider),
		Reason:      selection.Reason,
		Degraded:    selection.Degraded,
		Alternates:  alternates,
		Providers:   toHealthViews(views),
	})
}

// sendRequest is the POST /routing/email/send body.
type sendRequest struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

func (req sendRequest) validate() error {
	if req.From == "" {
		return errors.New("from is required")
	}
	if req.To == "" {
		return errors.New("to is required")
	}
	if req.Subject == "" {
		return errors.New("subject is required")
	}
	if req.Text == "" && req.HTML == "" {
		return errors.New("text or html body is required")
	}
	return nil
}

// sendResponse reports which provider accepted the message.
type sendResponse struct {
	Provider string `json:"provider"`
	Degraded bool   `json:"degraded"`
}

// Send handles POST /routing/email/send.
func (h *RoutingHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := h.Service.Send(r.Context(), req.Type, route.Message{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	})
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, sendError(err))
		return
	}

	respond.JSON(w, http.StatusOK, sendResponse{
		Provider: string(out.Provider),
		Degraded: out.Degraded,
	})
}

func sendError(err error) error {
	switch {
	case errors.Is(err, route.ErrUnknownJobType):
		return respond.NewAppError(http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, route.ErrNoEligibleProviders):
		return respond.NewAppError(http.StatusServiceUnavailable, "no eligible providers", err)
	default:
		return respond.NewAppError(http.StatusBadGateway, "email delivery failed", err)
	}
}
