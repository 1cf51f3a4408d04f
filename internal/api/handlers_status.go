package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cercky/wireguard-manage/internal/store"
)

type statusResponse struct {
	InterfaceStatus string `json:"interface_status"`
	TotalUsers      int64  `json:"total_users"`
	OnlineUsers     int64  `json:"online_users"`
	EnabledUsers    int64  `json:"enabled_users"`
	ActiveSessions  int    `json:"active_sessions"`
	Timestamp       string `json:"timestamp"`
}

// handleStatus reports interface status, user counts, and a timestamp.
// online_users counts status=1 rows; active_sessions is the live map size.
// The two need not agree: on open the live map entry is installed before
// the row flips to online, and on close the row flips to offline before the
// entry is removed, so a concurrent reader can see either gap.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	counts, err := s.store.CountUsers(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		InterfaceStatus: string(s.probe.InterfaceStatus(ctx)),
		TotalUsers:      counts.Total,
		OnlineUsers:     counts.Online,
		EnabledUsers:    counts.Enabled,
		ActiveSessions:  s.live.LiveCount(),
		Timestamp:       store.FormatTime(time.Now()),
	})
}
