package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/nutribot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "healthy",
		"service": "nutribot-gateway",
	}
	if s.manager != nil {
		status["channels"] = s.manager.GetStatus()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleWhatsAppWebhook ingests a Twilio message callback. It returns an
// empty TwiML document immediately; the reply is sent out of band once
// the sender's debounce window closes.
func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}

	in, err := whatsapp.ParseIncoming(r.Form)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.rateLimiter.Allow(in.From) {
		slog.Warn("gateway: webhook rate limited", "from", in.From)
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	if max := s.cfg.Gateway.MaxMessageChars; max > 0 && len(in.Body) > max {
		in.Body = in.Body[:max]
	}

	slog.Info("webhook received", "from", in.From, "chars", len(in.Body))
	s.whatsapp.Receive(in)

	// Twilio expects TwiML; an empty document means no immediate reply.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}

// handleDebugBuffer exposes the pending debounce buffer for a
// conversation key: GET returns its snapshot, DELETE discards it.
func (s *Server) handleDebugBuffer(w http.ResponseWriter, r *http.Request) {
	if s.debouncer == nil {
		writeError(w, http.StatusNotFound, "debouncing disabled")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/debug/buffer/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing buffer key")
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, ok := s.debouncer.Status(key)
		if !ok {
			writeError(w, http.StatusNotFound, "no buffer found for this key")
			return
		}
		writeJSON(w, http.StatusOK, status)

	case http.MethodDelete:
		s.debouncer.Clear(key)
		writeJSON(w, http.StatusOK, map[string]string{"cleared": key})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	profiles, err := s.profiles.List()
	if err != nil {
		slog.Error("gateway: list profiles failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list profiles failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(profiles),
		"profiles": profiles,
	})
}

func (s *Server) handleProfileByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/profiles/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing profile id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, err := s.profiles.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			slog.Error("gateway: get profile failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "get profile failed")
			return
		}
		writeJSON(w, http.StatusOK, profile)

	case http.MethodDelete:
		if err := s.profiles.Delete(id); err != nil {
			slog.Error("gateway: delete profile failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "delete profile failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
