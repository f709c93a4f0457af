// Package api provides HTTP handlers for the chatbot endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bebias/venera-bot/internal/burst"
	"github.com/bebias/venera-bot/internal/models"
	"github.com/bebias/venera-bot/internal/tasks"
)

// DefaultHandlerTimeout bounds the downstream work done per request.
const DefaultHandlerTimeout = 60 * time.Second

// webhookHandler serves the message-ingress endpoint: the Messenger
// verification handshake on GET and inbound message events on POST.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhookHandler(w, r)
	case http.MethodPost:
		s.ingressHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhookHandler answers the Messenger subscription handshake.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken && s.verifyToken != "" {
		slog.Info("Server.verifyWebhookHandler: webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	slog.Warn("Server.verifyWebhookHandler: verification failed", "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

// ingressHandler accepts one webhook delivery, folds each real message into
// the sender's burst state, and ensures a resolution callback is scheduled.
// It returns as soon as state is updated; the consolidated AI turn happens
// later, from the resolution callback.
func (s *Server) ingressHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.ingressHandler: processing webhook delivery", "path", r.URL.Path)

	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.ingressHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	events := payload.Events()
	if len(events) == 0 {
		slog.Warn("Server.ingressHandler: no messaging events in payload")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No messaging events"))
		return
	}

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			slog.Warn("Server.ingressHandler: invalid event", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		senderID := ev.Sender.ID

		// Synthetic trigger from the resolver: run the settled pass, skip
		// history and burst bookkeeping.
		if ev.TriggerOnly {
			slog.Debug("Server.ingressHandler: trigger-only event", "sender_id", senderID)
			if err := s.proc.ProcessSettledHistory(ctx, senderID); err != nil {
				slog.Error("Server.ingressHandler: settled pass failed", "error", err, "sender_id", senderID)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process settled history"))
				return
			}
			continue
		}

		if err := s.proc.HandleInbound(ctx, ev); err != nil {
			slog.Error("Server.ingressHandler: failed to persist inbound message", "error", err, "sender_id", senderID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store message"))
			return
		}

		rec, started, err := s.tracker.Observe(ctx, senderID)
		if err != nil {
			// Coalescing is an optimization layer: degrade to answering this
			// message directly rather than dropping it.
			slog.Error("Server.ingressHandler: burst tracking unavailable, falling back to direct processing", "error", err, "sender_id", senderID)
			if procErr := s.proc.ProcessSettledHistory(ctx, senderID); procErr != nil {
				slog.Error("Server.ingressHandler: direct fallback failed", "error", procErr, "sender_id", senderID)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
				return
			}
			continue
		}

		// Only the first message of a burst schedules a callback; later
		// messages rely on the one already scheduled.
		if started {
			if err := s.sched.ScheduleResolution(ctx, senderID, s.tracker.Debounce()); err != nil {
				slog.Error("Server.ingressHandler: failed to schedule resolution, falling back to direct processing", "error", err, "sender_id", senderID)
				if clearErr := s.tracker.Clear(ctx, senderID); clearErr != nil {
					slog.Error("Server.ingressHandler: failed to clear record after schedule failure", "error", clearErr, "sender_id", senderID)
				}
				if procErr := s.proc.ProcessSettledHistory(ctx, senderID); procErr != nil {
					slog.Error("Server.ingressHandler: direct fallback failed", "error", procErr, "sender_id", senderID)
					writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
					return
				}
				continue
			}
		}
		slog.Info("Server.ingressHandler: message folded into burst", "sender_id", senderID, "count", rec.Count, "burst_started", started)
	}

	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// resolveHandler serves the burst-resolution callback invoked by the
// delayed scheduler. The signature is verified before the body is handled;
// the state re-check in the tracker makes the handler idempotent under
// at-least-once delivery.
func (s *Server) resolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.resolveHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		slog.Warn("Server.resolveHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	if s.secret != "" {
		if err := tasks.Verify(s.secret, body, r.Header.Get(tasks.SignatureHeader)); err != nil {
			slog.Warn("Server.resolveHandler: signature verification failed")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid callback signature"))
			return
		}
	}

	var req models.ResolutionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Warn("Server.resolveHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.resolveHandler: invalid request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	outcome, rec, err := s.tracker.Resolve(ctx, req.SenderID)
	if err != nil {
		slog.Error("Server.resolveHandler: failed to check burst state", "error", err, "sender_id", req.SenderID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to check burst state"))
		return
	}

	switch outcome {
	case burst.OutcomeNoBurst:
		writeJSONResponse(w, http.StatusOK, models.Resolution(models.ResolutionNoBurst))
	case burst.OutcomeTooSoon:
		writeJSONResponse(w, http.StatusOK, models.Resolution(models.ResolutionTooSoon))
	case burst.OutcomeResolved:
		// The record is already cleared; a trigger failure is surfaced but
		// not retried. The next inbound message opens a fresh burst.
		if err := s.trigger.TriggerSettledTurn(ctx, req.SenderID); err != nil {
			slog.Error("Server.resolveHandler: downstream trigger failed", "error", err, "sender_id", req.SenderID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to trigger processing"))
			return
		}
		slog.Info("Server.resolveHandler: burst resolved", "sender_id", req.SenderID, "count", rec.Count)
		writeJSONResponse(w, http.StatusOK, models.Resolution(models.ResolutionSuccess))
	default:
		slog.Error("Server.resolveHandler: unexpected outcome", "outcome", outcome)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Unexpected resolution outcome"))
	}
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ctxWithTimeout derives a bounded context from the request.
func ctxWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), DefaultHandlerTimeout)
}
