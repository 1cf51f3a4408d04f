package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cercky/wireguard-manage/internal/store"
)

// handleEvents returns the latest event for every user (the "current
// session state" view), capped at per_page rows.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p := parsePagination(r)
	events, err := s.store.LatestEventPerUser(ctx, p.PerPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type eventsPageResponse struct {
	Events  []store.Event `json:"events"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// handleEventsHistory backs the full paginated event log, optionally
// filtered by user_id and status.
func (s *Server) handleEventsHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p := parsePagination(r)
	var userID int64
	if uidStr := r.URL.Query().Get("user_id"); uidStr != "" {
		userID, _ = strconv.ParseInt(uidStr, 10, 64)
	}

	events, total, err := s.store.ListEventsPage(ctx, store.EventFilter{
		UserID: userID,
		Status: r.URL.Query().Get("status"),
		Limit:  p.PerPage,
		Offset: p.offset(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, eventsPageResponse{
		Events:  events,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
	})
}
