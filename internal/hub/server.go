// Package hub is a small notification server: it fans change notifications
// out to WebSocket clients and serves the desk rosters they refresh from.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deskpulse/deskpulse/internal/notify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxNotificationBytes = 1 << 20

// ServerOptions configures authentication and origin checks.
type ServerOptions struct {
	AuthToken      string
	AllowedOrigins []string
	PongTimeout    time.Duration
}

type Server struct {
	broadcaster    *Broadcaster
	roster         *Roster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	pongTimeout    time.Duration
	log            *zap.Logger
}

func NewServer(broadcaster *Broadcaster, roster *Roster, opts ServerOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if roster == nil {
		roster = NewRoster()
	}
	s := &Server{
		broadcaster:    broadcaster,
		roster:         roster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      opts.AuthToken,
		pongTimeout:    opts.PongTimeout,
		log:            logger,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/users/", s.handleUserRoutes)
	mux.HandleFunc("/api/stats", s.handleStats)
}

// Handler returns the routes wrapped with the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", zap.Error(err))
		return
	}

	user := r.URL.Query().Get("user")
	c, err := s.broadcaster.AddClient(conn, user)
	if err != nil {
		s.log.Warn("rejecting ws client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.log.Info("ws client connected", zap.String("client", c.id), zap.String("remote", r.RemoteAddr))

	if s.pongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		})
	}

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info("ws client disconnected", zap.String("client", c.id))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleNotifications publishes one {event, extra} frame to every client.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes+1))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if len(body) > maxNotificationBytes {
		http.Error(w, "notification too large", http.StatusRequestEntityTooLarge)
		return
	}
	msg, err := notify.Parse(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid notification: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.applyToRoster(msg); err != nil {
		s.log.Warn("notification extra not applied to roster", zap.String("event", msg.Event), zap.Error(err))
	}

	delivered, err := s.broadcaster.Publish(msg)
	if err != nil {
		http.Error(w, fmt.Sprintf("publish failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.log.Info("notification published", zap.String("event", msg.Event), zap.Int("delivered", delivered))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}

// applyToRoster keeps served rosters consistent with membership
// notifications, so clients that refetch after a reload see the change.
func (s *Server) applyToRoster(msg notify.Message) error {
	if msg.Event != notify.EventDeskMembershipRevoked {
		return nil
	}
	f, err := msg.Fields()
	if err != nil {
		return err
	}
	if f.DeskID == "" {
		return errors.New("missing desk_id")
	}
	for _, user := range f.UserIDs {
		s.roster.RemoveMember(f.DeskID, user)
	}
	return nil
}

func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/users/{id}/desks
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/users/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "desks" || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.roster.DesksFor(userID))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Clients int `json:"clients"`
		Stats
	}{s.broadcaster.ClientCount(), s.broadcaster.Stats()})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Deskpulse-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves h on host:port until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, host string, port int, h http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
