// Package api is the thin HTTP glue over the dispatch engine and the
// tracking store: one endpoint to dispatch a campaign, two read-only
// endpoints the dashboard consumes. All business rules live below it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrace/internal/dispatch"
	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/pkg/distlock"
	"github.com/ignite/mailtrace/internal/pkg/httputil"
	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// Dispatcher runs one campaign batch. Satisfied by *dispatch.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*domain.DispatchSummary, error)
}

// Store is the read side of the tracking store the API exposes.
type Store interface {
	Stats(ctx context.Context) ([]domain.CampaignStats, error)
	CampaignRecipients(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error)
}

// Handler wires the dispatch and read endpoints.
type Handler struct {
	dispatcher      Dispatcher
	store           Store
	redis           *redis.Client // nil disables the per-campaign dispatch lock
	trackingBaseURL string
}

// NewHandler creates the API handler. redisClient may be nil; the
// per-campaign dispatch lock is then skipped (single-instance deployments).
func NewHandler(dispatcher Dispatcher, store Store, redisClient *redis.Client, trackingBaseURL string) *Handler {
	return &Handler{
		dispatcher:      dispatcher,
		store:           store,
		redis:           redisClient,
		trackingBaseURL: trackingBaseURL,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/campaigns/{campaignID}/send", h.HandleSend)
	r.Get("/campaigns/stats", h.HandleStats)
	r.Get("/campaigns/{campaignID}/recipients", h.HandleCampaignRecipients)
	return r
}

// SendRequest is the dispatch payload. Recipients may come as a list, as raw
// newline/comma-separated text, or both; attachments are base64 in JSON.
type SendRequest struct {
	SenderEmail    string              `json:"sender_email"`
	SenderPassword string              `json:"sender_password"`
	Recipients     []string            `json:"recipients,omitempty"`
	RecipientsText string              `json:"recipients_text,omitempty"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
}

// SendResponse wraps the dispatch summary with input problems the parser
// filtered before dispatch.
type SendResponse struct {
	Summary           *domain.DispatchSummary `json:"summary"`
	InvalidRecipients []string                `json:"invalid_recipients,omitempty"`
}

// HandleSend dispatches one campaign. A redis lock keyed by campaign rejects
// a second dispatch of the same campaign while one is running.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	var req SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SenderEmail == "" || req.SenderPassword == "" {
		httputil.BadRequest(w, "sender_email and sender_password are required")
		return
	}
	if req.Subject == "" || req.Body == "" {
		httputil.BadRequest(w, "subject and body are required")
		return
	}

	recipients := append([]string(nil), req.Recipients...)
	var invalid []string
	if req.RecipientsText != "" {
		parsed, bad := dispatch.ParseRecipients(req.RecipientsText)
		recipients = append(recipients, parsed...)
		invalid = bad
	}
	if len(recipients) == 0 {
		httputil.BadRequest(w, "no valid recipients")
		return
	}

	if h.redis != nil {
		lock := distlock.New(h.redis, "campaign-dispatch:"+campaignID, 15*time.Minute)
		ok, err := lock.Acquire(r.Context())
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if !ok {
			httputil.Conflict(w, "campaign dispatch already in progress")
			return
		}
		defer lock.Release(context.WithoutCancel(r.Context()))
	}

	jobs := make([]domain.SendJob, 0, len(recipients))
	for _, rcpt := range recipients {
		jobs = append(jobs, domain.SendJob{
			CampaignID:  campaignID,
			Recipient:   rcpt,
			Subject:     req.Subject,
			Body:        req.Body,
			Attachments: req.Attachments,
		})
	}

	summary, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Credentials: dispatch.Credentials{
			Email:    req.SenderEmail,
			Password: req.SenderPassword,
		},
		TrackingBaseURL: h.trackingBaseURL,
		Jobs:            jobs,
	})
	if err != nil {
		logger.Error("dispatch aborted", "campaign_id", campaignID, "error", err.Error())
		httputil.BadRequest(w, err.Error())
		return
	}

	httputil.OK(w, SendResponse{Summary: summary, InvalidRecipients: invalid})
}

// HandleStats returns (campaign, sender) rollups.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if stats == nil {
		stats = []domain.CampaignStats{}
	}
	httputil.OK(w, stats)
}

// HandleCampaignRecipients returns every tracking row for one campaign.
func (h *Handler) HandleCampaignRecipients(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	recs, err := h.store.CampaignRecipients(r.Context(), campaignID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.TrackingRecord{}
	}
	httputil.OK(w, recs)
}
