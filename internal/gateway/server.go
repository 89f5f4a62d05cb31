// Package gateway runs the HTTP server: the Twilio webhook, health and
// debug endpoints, and the profile admin API.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg         *config.Config
	whatsapp    *whatsapp.Channel
	debouncer   *bus.InboundDebouncer
	profiles    store.ProfileStore
	manager     *channels.Manager
	rateLimiter *channels.WebhookRateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the gateway server. whatsappCh and debouncer may be
// nil when the corresponding feature is disabled.
func NewServer(cfg *config.Config, whatsappCh *whatsapp.Channel, debouncer *bus.InboundDebouncer, profiles store.ProfileStore, manager *channels.Manager) *Server {
	return &Server{
		cfg:         cfg,
		whatsapp:    whatsappCh,
		debouncer:   debouncer,
		profiles:    profiles,
		manager:     manager,
		rateLimiter: channels.NewWebhookRateLimiter(cfg.Gateway.RateLimitRPM),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	if s.whatsapp != nil {
		mux.HandleFunc("/webhook/whatsapp", s.handleWhatsAppWebhook)
	}

	if s.cfg.Gateway.DebugEndpoints {
		mux.HandleFunc("/debug/buffer/", s.handleDebugBuffer)
	}

	mux.HandleFunc("/profiles", s.requireToken(s.handleProfiles))
	mux.HandleFunc("/profiles/", s.requireToken(s.handleProfileByID))

	s.mux = mux
	return mux
}

// Start begins serving. It blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// requireToken guards admin endpoints with the gateway bearer token.
// With no token configured the endpoints stay open (dev mode).
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Gateway.Token
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
