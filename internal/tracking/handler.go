// Package tracking serves the open-tracking pixel endpoint.
//
// The pixel contract: GET /track/{campaignID}/{recipient}?sender={sender}
// always answers 200 with the fixed 1x1 transparent GIF and no-cache headers,
// whatever happens internally. A tracking pixel that surfaces an error
// renders as a broken image inside someone's inbox.
package tracking

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// 1x1 transparent GIF, 43 bytes.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// Recorder is the open-transition entry point the handler calls. Satisfied by
// the tracking service.
type Recorder interface {
	RecordOpen(ctx context.Context, campaignID, sender, recipient, userAgent, ip string) error
}

// Handler serves the pixel routes.
type Handler struct {
	recorder Recorder
}

// NewHandler creates a pixel handler over the given recorder.
func NewHandler(recorder Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// Routes returns the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/{campaignID}/{recipient}", h.HandleOpen)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen consumes one pixel request. Malformed requests and store
// failures are logged and masked; the response is always the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	recipient := chi.URLParam(r, "recipient")
	sender := r.URL.Query().Get("sender")

	if sender == "" {
		logger.Warn("pixel request missing sender parameter",
			"campaign_id", campaignID, "recipient", recipient)
		h.servePixel(w)
		return
	}

	err := h.recorder.RecordOpen(r.Context(), campaignID, sender, recipient,
		r.UserAgent(), realIP(r))
	if err != nil {
		logger.Error("record open failed",
			"campaign_id", campaignID, "recipient", recipient, "error", err.Error())
	}
	h.servePixel(w)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// servePixel writes the fixed GIF with caching forbidden, so every re-open
// reaches the server even though only the first one records a transition.
func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
