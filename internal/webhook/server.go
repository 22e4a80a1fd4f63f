// Package webhook exposes the orchestrator to a chat transport over JSON/HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/parusinf/timesheets-parus-bot/internal/bot"
	httpmiddleware "github.com/parusinf/timesheets-parus-bot/internal/http"
	"github.com/parusinf/timesheets-parus-bot/internal/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes bounds an event, uploaded report included.
const DefaultMaxBodyBytes = 8 << 20

// Handler processes one event. Implemented by *bot.Orchestrator.
type Handler interface {
	Handle(ctx context.Context, ev bot.Event) ([]bot.Reply, error)
}

// Config configures the webhook routes.
type Config struct {
	Secret       string // shared secret expected in the X-Tsheebot-Secret header
	MaxBodyBytes int64
}

// EventsResponse is the body returned by POST /events.
type EventsResponse struct {
	Replies []bot.Reply `json:"replies"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	handler Handler
	cfg     Config
}

// NewRouter builds the HTTP handler serving POST /events and GET /healthz.
func NewRouter(h Handler, reqLogger zerolog.Logger, cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &server{handler: h, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(logger.HTTPRequests(reqLogger))

	r.Get("/healthz", s.handleHealth)
	r.With(httpmiddleware.RequireSecret(cfg.Secret)).Post("/events", s.handleEvent)

	return otelhttp.NewHandler(r, "tsheebot.webhook")
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ev bot.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Malformed event")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event"})
		return
	}

	replies, err := s.handler.Handle(ctx, ev)
	if err != nil {
		if errors.Is(err, bot.ErrMissingContact) || errors.Is(err, bot.ErrUnsupportedEvent) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Int64("identity_id", ev.Contact.ID).Msg("Failed to handle event")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if replies == nil {
		replies = []bot.Reply{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Replies: replies})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
