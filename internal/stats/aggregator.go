// Package stats maintains lifetime user totals, per-day per-user totals, and
// per-day system rollups.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/cercky/wireguard-manage/internal/store"
)

// Aggregator owns the two write operations that maintain rollups (recording
// a closed session and updating today's system stats) and the read views
// the HTTP API consumes.
type Aggregator struct {
	store *store.Store
}

func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// RecordSessionClose is the pair of upserts the Session Engine performs
// during a session close.
func (a *Aggregator) RecordSessionClose(ctx context.Context, userID int64, rx, tx int64, closedAt time.Time) error {
	date := store.FormatDate(closedAt)
	if err := a.store.AddUserLifetimeTotals(ctx, userID, rx, tx, closedAt); err != nil {
		return fmt.Errorf("record session close: lifetime totals: %w", err)
	}
	if err := a.store.UpsertDailyTraffic(ctx, userID, date, rx, tx); err != nil {
		return fmt.Errorf("record session close: daily traffic: %w", err)
	}
	return nil
}

// UpdateSystemStats computes and upserts today's system_stats row,
// called by the Session Engine on its 5-minute heartbeat. liveCount is the
// current size of the live session map.
func (a *Aggregator) UpdateSystemStats(ctx context.Context, now time.Time, liveCount int) error {
	date := store.FormatDate(now)

	totals, err := a.store.ComputeLifetimeTotals(ctx)
	if err != nil {
		return fmt.Errorf("update system stats: lifetime totals: %w", err)
	}
	avgDuration, err := a.store.AvgSessionDurationToday(ctx, date)
	if err != nil {
		return fmt.Errorf("update system stats: avg duration: %w", err)
	}

	return a.store.UpsertSystemStats(ctx, store.SystemStatsUpsert{
		Date: date,
		TotalUsers: totals.TotalUsers,
		ActiveUsers: totals.ActiveUsers,
		TotalRx: totals.TotalRx,
		TotalTx: totals.TotalTx,
		PeakConcurrent: int64(liveCount),
		AvgSessionDuration: avgDuration,
	})
}

// DashboardSummary groups the values behind GET /api/dashboard. The handler
// in internal/api does not use this type; it calls the read methods below
// directly.
type DashboardSummary struct {
	Lifetime store.LifetimeTotals
	Today *store.SystemStat // nil if no row yet today
	LiveCount int
	FirstEventStart string // "" if no events ever
}

// LifetimeTotals, TodayStats and FirstEventStart are the independent read
// queries behind the dashboard endpoint. internal/api runs them concurrently
// since they are read-only and independent.
func (a *Aggregator) LifetimeTotals(ctx context.Context) (store.LifetimeTotals, error) {
	return a.store.ComputeLifetimeTotals(ctx)
}

func (a *Aggregator) TodayStats(ctx context.Context, now time.Time) (*store.SystemStat, error) {
	st, err := a.store.GetSystemStats(ctx, store.FormatDate(now))
	if err == store.ErrNotFound {
		return nil, nil
	}
	return st, err
}

func (a *Aggregator) FirstEventStart(ctx context.Context) (string, error) {
	return a.store.FirstEventStartTime(ctx)
}

func (a *Aggregator) TrafficChart(ctx context.Context, days int) ([]store.TrafficChartDay, error) {
	return a.store.TrafficChart(ctx, days)
}
