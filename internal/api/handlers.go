// Package api exposes HTTP handlers for the aggregated activity feed.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/activityfeed/internal/auth"
	"example.com/activityfeed/internal/domain"
	"example.com/activityfeed/internal/feed"
	"example.com/activityfeed/internal/push"
)

const defaultLimit = 50

// Handler coordinates HTTP requests with the aggregator and listener.
type Handler struct {
	aggregator *feed.Aggregator
	listener   *push.Listener
	watched    []string
	maxLimit   int
}

// NewHandler builds a Handler. watched is the default project set used
// when a request names none.
func NewHandler(aggregator *feed.Aggregator, listener *push.Listener, watched []string, maxLimit int) *Handler {
	if maxLimit <= 0 {
		maxLimit = defaultLimit
	}
	return &Handler{
		aggregator: aggregator,
		listener:   listener,
		watched:    watched,
		maxLimit:   maxLimit,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/feed", h.getFeed)
	mux.HandleFunc("/v1/feed/updates", h.getUpdates)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFeedRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope feed:read required")
		return
	}

	projectIDs := h.watched
	if raw := r.URL.Query().Get("project_ids"); raw != "" {
		projectIDs = splitIDs(raw)
	}
	if len(projectIDs) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "no projects to read")
		return
	}

	limit := h.maxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > h.maxLimit {
				parsed = h.maxLimit
			}
			limit = parsed
		}
	}

	events, err := h.aggregator.Aggregate(r.Context(), projectIDs, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, FeedResponse{
		Items:       toViews(events),
		GeneratedAt: time.Now().UTC(),
	})
}

func (h *Handler) getUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFeedRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope feed:read required")
		return
	}

	resp := UpdatesResponse{Items: toViews(h.listener.Recent())}
	if err := h.listener.Err(); err != nil {
		resp.ChannelError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FeedResponse packages one aggregated timeline read.
type FeedResponse struct {
	Items       []EventView `json:"items"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// UpdatesResponse carries events pushed since the last full fetch. A
// non-empty ChannelError flags that the push channel is down and the
// buffer may be stale; the feed itself remains readable.
type UpdatesResponse struct {
	Items        []EventView `json:"items"`
	ChannelError string      `json:"channel_error,omitempty"`
}

// EventView exposes one canonical event.
type EventView struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	Actor       string          `json:"actor,omitempty"`
	Metadata    domain.Metadata `json:"metadata"`
}

func toViews(events []domain.ActivityEvent) []EventView {
	views := make([]EventView, 0, len(events))
	for _, event := range events {
		views = append(views, EventView{
			ID:          event.ID,
			Type:        string(event.Type),
			Title:       event.Title,
			Description: event.Description,
			Timestamp:   event.Timestamp,
			Actor:       event.Actor,
			Metadata:    event.Metadata,
		})
	}
	return views
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
