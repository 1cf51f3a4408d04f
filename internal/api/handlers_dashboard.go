package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cercky/wireguard-manage/internal/store"
)

type dashboardResponse struct {
	TotalUsers      int64  `json:"total_users"`
	ActiveUsers     int64  `json:"active_users"`
	TotalRx         int64  `json:"total_rx"`
	TotalTx         int64  `json:"total_tx"`
	TotalRxHuman    string `json:"total_rx_human"`
	TotalTxHuman    string `json:"total_tx_human"`
	TodayRx         int64  `json:"today_rx"`
	TodayTx         int64  `json:"today_tx"`
	TodayRxHuman    string `json:"today_rx_human"`
	TodayTxHuman    string `json:"today_tx_human"`
	PeakConcurrent  int64  `json:"peak_concurrent"`
	LiveSessions    int    `json:"live_sessions"`
	UptimeHours     float64 `json:"uptime_hours"`
	UptimeReadable  string `json:"uptime_readable"`
}

// handleDashboard serves lifetime totals, today's row, live count, and
// uptime since the first event ever recorded. The three independent reads
// run concurrently via errgroup.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var lifetime store.LifetimeTotals
	var today *store.SystemStat
	var firstEventStart string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lifetime, err = s.stats.LifetimeTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		today, err = s.stats.TodayStats(gctx, time.Now())
		return err
	})
	g.Go(func() error {
		var err error
		firstEventStart, err = s.stats.FirstEventStart(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	liveCount := s.live.LiveCount()

	var todayRx, todayTx, peak int64
	if today != nil {
		todayRx, todayTx, peak = today.TotalRx, today.TotalTx, today.PeakConcurrent
	}

	uptimeHours := 0.0
	uptimeStr := "0h"
	if firstEventStart != "" {
		if t, err := time.ParseInLocation(store.TimeFormat, firstEventStart, time.Local); err == nil {
			d := time.Since(t)
			uptimeHours = d.Hours()
			uptimeStr = uptimeReadable(d)
		}
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		TotalUsers:     lifetime.TotalUsers,
		ActiveUsers:    lifetime.ActiveUsers,
		TotalRx:        lifetime.TotalRx,
		TotalTx:        lifetime.TotalTx,
		TotalRxHuman:   humanizeBytes(lifetime.TotalRx),
		TotalTxHuman:   humanizeBytes(lifetime.TotalTx),
		TodayRx:        todayRx,
		TodayTx:        todayTx,
		TodayRxHuman:   humanizeBytes(todayRx),
		TodayTxHuman:   humanizeBytes(todayTx),
		PeakConcurrent: peak,
		LiveSessions:   liveCount,
		UptimeHours:    uptimeHours,
		UptimeReadable: uptimeStr,
	})
}
