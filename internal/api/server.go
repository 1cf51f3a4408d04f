// Package api exposes the JSON HTTP API: read endpoints for dashboards and
// administration, and mutation endpoints that go through User Admin.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/cercky/wireguard-manage/internal/adapter"
	"github.com/cercky/wireguard-manage/internal/metrics"
	"github.com/cercky/wireguard-manage/internal/session"
	"github.com/cercky/wireguard-manage/internal/stats"
	"github.com/cercky/wireguard-manage/internal/store"
	"github.com/cercky/wireguard-manage/internal/useradmin"
)

// LiveView is the narrow read interface the API needs onto the Session
// Engine's live map.
type LiveView interface {
	LiveSnapshot() map[string]session.LiveEntry
	LiveCount() int
}

// InterfaceProbe is the narrow read interface onto the Adapter's health
// check.
type InterfaceProbe interface {
	InterfaceStatus(ctx context.Context) adapter.Status
}

// Server holds everything the HTTP handlers delegate to.
type Server struct {
	store *store.Store
	live LiveView
	probe InterfaceProbe
	stats *stats.Aggregator
	admin *useradmin.Admin
	log *slog.Logger
}

func NewServer(s *store.Store, live LiveView, probe InterfaceProbe, agg *stats.Aggregator, admin *useradmin.Admin, log *slog.Logger) *Server {
	return &Server{store: s, live: live, probe: probe, stats: agg, admin: admin, log: log}
}

// Router builds the chi router mounting every handler below.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge: 300,
	}))

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/dashboard", s.handleDashboard)
	r.Get("/api/users", s.handleListUsers)
	r.Get("/api/users/management", s.handleUsersManagement)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/events/history", s.handleEventsHistory)
	r.Get("/api/traffic/chart", s.handleTrafficChart)

	r.Post("/api/users", s.handleCreateUser)
	r.Put("/api/users/{id}", s.handleUpdateUser)
	r.Post("/api/users/{id}/update", s.handleUpdateUser)
	r.Delete("/api/users/{id}", s.handleDeleteUser)
	r.Get("/api/users/{id}/{action}", s.handleUserAction)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// requestIDMiddleware stamps every response with an X-Request-Id header so
// a client report can be correlated back to a server log line.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers -----------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(v); err != nil {
		slog.Default().Error("json encode failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// --- pagination helpers -------------------------------------------------

type pagination struct {
	Page int
	PerPage int
}

// parsePagination reads page/per_page from the query string; per_page > 100
// clamps to 100.
func parsePagination(r *http.Request) pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return pagination{Page: page, PerPage: perPage}
}

func (p pagination) offset() int { return (p.Page - 1) * p.PerPage }

// parseDays reads the days query parameter, clamped to [1, 365], default 7.
func parseDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		days = 7
	}
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	return days
}

// --- byte formatting -----------------------------------------------------

var byteUnits = []string{"B", "K", "M", "G", "T", "P"}

// humanizeBytes renders n using the B/K/M/G/T/P one-decimal scheme.
func humanizeBytes(n int64) string {
	f := float64(n)
	unit := 0
	for f >= 1024 && unit < len(byteUnits)-1 {
		f /= 1024
		unit++
	}
	return strconv.FormatFloat(f, 'f', 1, 64) + byteUnits[unit]
}

// uptimeReadable renders a duration as e.g. "3d 4h".
func uptimeReadable(d time.Duration) string {
	hours := int64(d.Hours())
	days := hours / 24
	rem := hours % 24
	if days > 0 {
		return strconv.FormatInt(days, 10) + "d " + strconv.FormatInt(rem, 10) + "h"
	}
	return strconv.FormatInt(rem, 10) + "h"
}
