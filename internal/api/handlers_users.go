package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cercky/wireguard-manage/internal/store"
	"github.com/cercky/wireguard-manage/internal/useradmin"
)

// handleListUsers returns every user row, unpaginated, for callers that want
// the full set (e.g. populating a pubkey-uniqueness check client-side).
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type usersPageResponse struct {
	Users   []store.User `json:"users"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

// handleUsersManagement backs the management table: search, status filter,
// pagination.
func (s *Server) handleUsersManagement(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p := parsePagination(r)
	f := store.UserFilter{
		Search: r.URL.Query().Get("search"),
		Status: r.URL.Query().Get("status"),
		Limit:  p.PerPage,
		Offset: p.offset(),
	}

	users, total, err := s.store.ListUsersPage(ctx, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, usersPageResponse{
		Users:   users,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
	})
}

type createUserRequest struct {
	Pubkey         string  `json:"pubkey"`
	Nickname       *string `json:"nickname"`
	Mail           *string `json:"mail"`
	Phone          *string `json:"phone"`
	BandwidthLimit int64   `json:"bandwidth_limit"`
	DataLimit      int64   `json:"data_limit"`
	ExpiryDate     *string `json:"expiry_date"`
	Note           *string `json:"note"`
}

type createUserResponse struct {
	UserID     int64  `json:"user_id"`
	ClientIP   string `json:"client_ip"`
	ConfigText string `json:"config_text"`
}

// handleCreateUser creates a new user: validates the pubkey, allocates an IP,
// adds the peer to the live interface, and persists the row.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.admin.Create(ctx, useradmin.CreateParams{
		Pubkey:         req.Pubkey,
		Nickname:       req.Nickname,
		Mail:           req.Mail,
		Phone:          req.Phone,
		BandwidthLimit: req.BandwidthLimit,
		DataLimit:      req.DataLimit,
		ExpiryDate:     req.ExpiryDate,
		Note:           req.Note,
	})
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createUserResponse{
		UserID:     result.UserID,
		ClientIP:   result.ClientIP,
		ConfigText: result.ConfigText,
	})
}

type updateUserRequest struct {
	Nickname       *string `json:"nickname"`
	Mail           *string `json:"mail"`
	Phone          *string `json:"phone"`
	BandwidthLimit *int64  `json:"bandwidth_limit"`
	DataLimit      *int64  `json:"data_limit"`
	ExpiryDate     *string `json:"expiry_date"`
	Enabled        *int    `json:"enabled"`
	Note           *string `json:"note"`
}

// handleUpdateUser applies a whitelisted partial update, toggling the
// adapter when `enabled` flips.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.admin.Update(ctx, id, useradmin.UpdateParams{
		Nickname:       req.Nickname,
		Mail:           req.Mail,
		Phone:          req.Phone,
		BandwidthLimit: req.BandwidthLimit,
		DataLimit:      req.DataLimit,
		ExpiryDate:     req.ExpiryDate,
		Enabled:        req.Enabled,
		Note:           req.Note,
	})
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteUser closes any open session, removes the peer from the
// interface, and deletes the row.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.Delete(ctx, id); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUserAction dispatches GET /api/users/{id}/{action}: enable, disable,
// kick, reset (lifetime counters), config (render the client .conf).
func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action := chi.URLParam(r, "action")

	switch action {
	case "enable":
		enabled := 1
		err = s.admin.Update(ctx, id, useradmin.UpdateParams{Enabled: &enabled})
	case "disable":
		enabled := 0
		err = s.admin.Update(ctx, id, useradmin.UpdateParams{Enabled: &enabled})
	case "kick":
		var kicked bool
		kicked, err = s.admin.Kick(ctx, id)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"kicked": kicked})
			return
		}
	case "reset":
		err = s.admin.ResetCounters(ctx, id)
	case "config":
		s.handleUserConfig(ctx, w, id)
		return
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUserConfig serves the rendered WireGuard client config stored at
// create time.
func (s *Server) handleUserConfig(ctx context.Context, w http.ResponseWriter, id int64) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if user.WgConfig == nil {
		writeError(w, http.StatusNotFound, "no config available for this user")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(*user.WgConfig))
}

func parseUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// writeAdminError maps User Admin's sentinel error types to HTTP status
// codes: validation and conflict errors are both client mistakes (400),
// store.ErrNotFound is a missing resource, everything else is a server error.
func writeAdminError(w http.ResponseWriter, err error) {
	var verr *useradmin.ValidationError
	var cerr *useradmin.ConflictError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.As(err, &cerr):
		writeError(w, http.StatusBadRequest, cerr.Msg)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
