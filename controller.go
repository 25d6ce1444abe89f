package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"signal_hub/internal/database"
	"signal_hub/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const maxUsernameLength = 64

type Controller struct {
	ctx        context.Context
	hub        *hub.Hub
	journal    *database.Journal
	gatherer   prometheus.Gatherer
	cors       *cors.Cors
	upgrader   websocket.Upgrader
	clientOpts hub.ClientOptions
}

// NewController wires the HTTP surface around h. journal may be nil when
// presence recording is disabled.
func NewController(
	ctx context.Context,
	h *hub.Hub,
	journal *database.Journal,
	gatherer prometheus.Gatherer,
	allowedOrigins []string,
	clientOpts hub.ClientOptions,
) *Controller {
	c := &Controller{
		ctx:        ctx,
		hub:        h,
		journal:    journal,
		gatherer:   gatherer,
		clientOpts: clientOpts,
		cors: cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	return c
}

// Routes returns the application handler with CORS applied.
func (c *Controller) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", c.HandleWS)
	mux.HandleFunc("GET /health", c.HandleHealth)
	mux.HandleFunc("GET /presence", c.HandlePresence)
	mux.HandleFunc("GET /presence/{id}", c.HandlePresenceEvent)
	mux.Handle("GET /metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))
	return c.cors.Handler(mux)
}

// Non-browser clients send no Origin header and are let through.
func (c *Controller) checkOrigin(r *http.Request) bool {
	if r.Header.Get("Origin") == "" {
		return true
	}
	if c.cors.OriginAllowed(r) {
		return true
	}
	slog.Warn("blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}

func (c *Controller) HandleWS(w http.ResponseWriter, r *http.Request) {
	username, ok := parseUsername(r.URL.Query().Get("username"))
	if !ok {
		c.writeError(w, http.StatusBadRequest, "username query parameter is required", nil)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	// Disconnects also run during shutdown, so the journal write must not
	// inherit the cancellation of the server context.
	leaveCtx := context.WithoutCancel(c.ctx)

	client := hub.NewClient(
		c.ctx,
		conn,
		sessionID,
		username,
		c.clientOpts,
		func(msg []byte) { c.hub.HandleMessage(sessionID, msg) },
		func() { c.hub.Disconnect(leaveCtx, sessionID) },
	)

	c.hub.Connect(r.Context(), sessionID, username, client)

	// Start goroutines for reading and writing
	go client.WritePump()
	go client.ReadPump()
}

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": c.hub.Len(),
	})
}

func (c *Controller) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if c.journal == nil {
		c.writeError(w, http.StatusServiceUnavailable, "Presence journal disabled", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	events, err := c.journal.Recent(r.Context(), limit)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "Failed to read presence journal", err)
		return
	}
	c.writeJSON(w, http.StatusOK, events)
}

func (c *Controller) HandlePresenceEvent(w http.ResponseWriter, r *http.Request) {
	if c.journal == nil {
		c.writeError(w, http.StatusServiceUnavailable, "Presence journal disabled", nil)
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 0)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid presence event id", nil)
		return
	}

	event, err := c.journal.Event(r.Context(), uint(id))
	if errors.Is(err, database.ErrNotFound) {
		c.writeError(w, http.StatusNotFound, "Presence event not found", nil)
		return
	}
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "Failed to read presence journal", err)
		return
	}
	c.writeJSON(w, http.StatusOK, event)
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		slog.Error(message, "error", err)
	}
	c.writeJSON(w, status, map[string]string{"error": message})
}

func parseUsername(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		name = string([]rune(name)[:maxUsernameLength])
	}
	return name, true
}
