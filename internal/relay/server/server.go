// Package server exposes the relay's HTTP and WebSocket surface: the REST
// notification API the gateway probes and the socket endpoint the
// transport client connects to.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/config"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
	"github.com/huddleup/huddle-notify/internal/relay/hub"
	"github.com/huddleup/huddle-notify/internal/relay/middleware"
	"github.com/huddleup/huddle-notify/internal/relay/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// Server is the relay HTTP server
type Server struct {
	cfg     config.RelayConfig
	hub     *hub.Hub
	store   store.NotificationStore
	logger  logger.Logger
	metrics *metrics.Metrics
}

// New creates a relay server
func New(cfg config.RelayConfig, h *hub.Hub, st store.NotificationStore, log logger.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		store:   st,
		logger:  log,
		metrics: m,
	}
}

// Handler builds the routed and middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	router.HandleFunc("/auth/token", s.handleDevToken).Methods("POST")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/notifications/unread-count", s.handleUnreadCount).Methods("GET")
	api.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods("PATCH")
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods("PATCH")
	api.HandleFunc("/notifications/{id}", s.handleDelete).Methods("DELETE")
	api.HandleFunc("/notifications", s.handleList).Methods("GET")
	api.HandleFunc("/notifications", s.handleCreate).Methods("POST")
	api.HandleFunc("/notifications", s.handleDeleteAll).Methods("DELETE")

	auth := middleware.NewAuthMiddleware([]byte(s.cfg.JWTSecret))

	var handler http.Handler = router
	handler = auth.Middleware(handler)
	if s.metrics != nil {
		handler = s.metrics.HTTPMetricsMiddleware()(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"connected_users": s.hub.ConnectedUsers(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDevToken issues a bearer token for local development
func (s *Server) handleDevToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	token, err := middleware.SignToken([]byte(s.cfg.JWTSecret), req.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.hub.Register(conn, r.URL.Query().Get("userId"))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.ExtractUserID(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	limit := queryInt(r, "limit", 20)
	skip := queryInt(r, "skip", 0)
	var isRead *bool
	if v := r.URL.Query().Get("isRead"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			isRead = &b
		}
	}

	records, total, err := s.store.List(ctx, userID, limit, skip, isRead)
	if err != nil {
		s.logger.Error("Failed to list notifications", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"total":         total,
		"hasMore":       skip+len(records) < total,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Record has its own unmarshaller, so the routing field is decoded
	// separately from the record payload.
	var meta struct {
		UserID string `json:"userId"`
	}
	var rec model.Record
	if err := json.Unmarshal(body, &meta); err != nil || json.Unmarshal(body, &rec) != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if meta.UserID == "" {
		s.respondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	rec.ID = uuid.New().String()
	rec.IsRead = false
	rec.CreatedAt = time.Now()
	rec.Normalize(rec.CreatedAt)

	if err := s.store.Create(ctx, meta.UserID, rec); err != nil {
		s.logger.Error("Failed to store notification", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to store notification")
		return
	}

	s.hub.PushToUser(meta.UserID, rec)
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.ExtractUserID(ctx)
	id := mux.Vars(r)["id"]

	if err := s.store.MarkRead(ctx, userID, id); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.ExtractUserID(ctx)

	if err := s.store.MarkAllRead(ctx, userID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.ExtractUserID(ctx)
	id := mux.Vars(r)["id"]

	if err := s.store.Delete(ctx, userID, id); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.ExtractUserID(ctx)

	if err := s.store.DeleteAll(ctx, userID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to delete notifications")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.ExtractUserID(ctx)

	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
