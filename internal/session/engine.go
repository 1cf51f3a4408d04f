// Package session is the heart of the system: it drives the per-peer
// session state machine from adapter snapshots and writes
// through to the Store and Statistics Aggregator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cercky/wireguard-manage/internal/adapter"
	"github.com/cercky/wireguard-manage/internal/metrics"
	"github.com/cercky/wireguard-manage/internal/stats"
	"github.com/cercky/wireguard-manage/internal/store"
)

// DefaultMaxHandshakeAge is the freshness threshold.
const DefaultMaxHandshakeAge = 180 * time.Second

// DefaultInterval is the default tick period.
const DefaultInterval = 10 * time.Second

// heartbeatPeriod is how often the statistics heartbeat fires.
const heartbeatPeriod = 300 * time.Second

// PeerTable is the subset of the Adapter the engine depends on, narrowed to
// an interface so tests can substitute a fake peer table instead of
// shelling out to a real `wg` binary.
type PeerTable interface {
	Snapshot(ctx context.Context) map[string]adapter.Peer
}

// LiveEntry is one row of the in-memory live session map. It is never persisted.
type LiveEntry struct {
	EventID int64
	StartRx int64
	StartTx int64
	LastHandshake int64
	UserID int64
	Nickname string
}

// Engine owns the live session map and is the sole writer of Event rows and
// the status field while a session is open.
type Engine struct {
	store *store.Store
	peers PeerTable
	stats *stats.Aggregator
	log *slog.Logger
	maxHandshakeAge time.Duration
	interval time.Duration

	mu sync.RWMutex
	live map[string]LiveEntry // keyed by peer pubkey
	lastStatsUpdate time.Time
}

// Config configures a new Engine.
type Config struct {
	MaxHandshakeAge time.Duration
	Interval time.Duration
}

// New builds a Session Engine.
func New(s *store.Store, peers PeerTable, agg *stats.Aggregator, log *slog.Logger, cfg Config) *Engine {
	if cfg.MaxHandshakeAge <= 0 {
		cfg.MaxHandshakeAge = DefaultMaxHandshakeAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Engine{
		store: s,
		peers: peers,
		stats: agg,
		log: log,
		maxHandshakeAge: cfg.MaxHandshakeAge,
		interval: cfg.Interval,
		live: map[string]LiveEntry{},
	}
}

// Run drives the tick loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("session engine stopping")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one pass over a peer snapshot. A tick that errors partway
// through is logged and never terminates the loop.
func (e *Engine) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("session engine tick panicked", "recover", r)
		}
	}()

	start := time.Now()
	now := start
	snapshot := e.peers.Snapshot(ctx)

	errCount := 0
	for pubkey, peer := range snapshot {
		if err := e.observe(ctx, pubkey, peer, now); err != nil {
			e.log.Error("tick: observe peer failed", "pubkey", pubkey, "error", err)
			errCount++
		}
	}

	disappeared := e.disappearedKeys(snapshot)
	for _, pubkey := range disappeared {
		if err := e.closeByPubkey(ctx, pubkey, now, "disappeared"); err != nil {
			e.log.Error("tick: close disappeared peer failed", "pubkey", pubkey, "error", err)
			errCount++
		}
	}

	if now.Sub(e.lastStatsUpdate) >= heartbeatPeriod {
		if err := e.stats.UpdateSystemStats(ctx, now, e.LiveCount()); err != nil {
			e.log.Error("tick: update system stats failed", "error", err)
			errCount++
		}
		e.lastStatsUpdate = now
	}

	metrics.RecordTick(time.Since(start), errCount)
	metrics.LiveSessionsGauge.Set(float64(e.LiveCount()))
}

func (e *Engine) disappearedKeys(snapshot map[string]adapter.Peer) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for pubkey := range e.live {
		if _, ok := snapshot[pubkey]; !ok {
			out = append(out, pubkey)
		}
	}
	return out
}

func (e *Engine) isFresh(peer adapter.Peer, now time.Time) bool {
	if peer.HandshakeUnix == 0 {
		return false
	}
	age := now.Unix() - peer.HandshakeUnix
	return age <= int64(e.maxHandshakeAge/time.Second)
}

// observe drives one peer's transition for this tick.
func (e *Engine) observe(ctx context.Context, pubkey string, peer adapter.Peer, now time.Time) error {
	e.mu.RLock()
	entry, exists := e.live[pubkey]
	e.mu.RUnlock()

	fresh := e.isFresh(peer, now)

	if !fresh {
		if exists {
			return e.closeEntry(ctx, pubkey, entry, now, "handshake_timeout")
		}
		return nil
	}

	if !exists {
		return e.open(ctx, pubkey, peer, now)
	}
	return e.update(ctx, pubkey, entry, peer, now)
}

// open implements ABSENT -> OPEN.
func (e *Engine) open(ctx context.Context, pubkey string, peer adapter.Peer, now time.Time) error {
	user, err := e.resolveOrCreateUser(ctx, pubkey, now)
	if err != nil {
		return fmt.Errorf("resolve or create user: %w", err)
	}

	if user.Enabled == 0 {
		if err := e.store.SetUserStatus(ctx, user.ID, 0); err != nil {
			return fmt.Errorf("mark disabled user offline: %w", err)
		}
		return nil
	}

	eventID, err := e.store.OpenEvent(ctx, store.OpenEventParams{
		UserID: user.ID,
		StartTime: now,
		EndpointInfo: peer.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("open event: %w", err)
	}

	nickname := ""
	if user.Nickname != nil {
		nickname = *user.Nickname
	}

	e.mu.Lock()
	e.live[pubkey] = LiveEntry{
		EventID: eventID,
		StartRx: peer.Rx,
		StartTx: peer.Tx,
		LastHandshake: peer.HandshakeUnix,
		UserID: user.ID,
		Nickname: nickname,
	}
	e.mu.Unlock()

	if err := e.store.SetUserStatus(ctx, user.ID, 1); err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	e.log.Debug("session opened", "pubkey", pubkey, "user_id", user.ID, "event_id", eventID)
	return nil
}

// update implements OPEN -> OPEN, including counter-reset
// rebaselining.
func (e *Engine) update(ctx context.Context, pubkey string, entry LiveEntry, peer adapter.Peer, now time.Time) error {
	deltaRx := peer.Rx - entry.StartRx
	deltaTx := peer.Tx - entry.StartTx

	if deltaRx < 0 || deltaTx < 0 {
		e.log.Debug("counter reset detected, rebaselining", "pubkey", pubkey)
		entry.StartRx = peer.Rx
		entry.StartTx = peer.Tx
		deltaRx = 0
		deltaTx = 0
	}

	if err := e.store.UpdateEventTraffic(ctx, entry.EventID, deltaRx, deltaTx, now); err != nil {
		return fmt.Errorf("update event traffic: %w", err)
	}

	entry.LastHandshake = peer.HandshakeUnix
	e.mu.Lock()
	e.live[pubkey] = entry
	e.mu.Unlock()
	return nil
}

// closeByPubkey closes a live entry identified only by pubkey (used for
// "disappeared" closes where the caller has no entry in hand).
func (e *Engine) closeByPubkey(ctx context.Context, pubkey string, now time.Time, reason string) error {
	e.mu.RLock()
	entry, exists := e.live[pubkey]
	e.mu.RUnlock()
	if !exists {
		return nil
	}
	return e.closeEntry(ctx, pubkey, entry, now, reason)
}

// closeEntry implements OPEN -> CLOSED. The close reason is
// logged but never persisted.
func (e *Engine) closeEntry(ctx context.Context, pubkey string, entry LiveEntry, now time.Time, reason string) error {
	event, err := e.store.GetEvent(ctx, entry.EventID)
	if err != nil {
		return fmt.Errorf("get event for close: %w", err)
	}

	startTime, err := time.ParseInLocation(store.TimeFormat, event.StartTime, time.Local)
	if err != nil {
		return fmt.Errorf("parse event start_time: %w", err)
	}
	duration := int64(now.Sub(startTime) / time.Second)
	if duration < 0 {
		duration = 0
	}

	if err := e.stats.RecordSessionClose(ctx, entry.UserID, event.SessionRx, event.SessionTx, now); err != nil {
		return fmt.Errorf("record session close: %w", err)
	}
	if err := e.store.CloseEvent(ctx, entry.EventID, now, duration); err != nil {
		return fmt.Errorf("close event: %w", err)
	}
	if err := e.store.SetUserStatus(ctx, entry.UserID, 0); err != nil {
		return fmt.Errorf("set user offline: %w", err)
	}

	e.mu.Lock()
	delete(e.live, pubkey)
	e.mu.Unlock()

	e.log.Info("session closed", "pubkey", pubkey, "user_id", entry.UserID, "reason", reason,
		"session_rx", event.SessionRx, "session_tx", event.SessionTx, "duration_seconds", duration)
	return nil
}

// resolveOrCreateUser resolves a user row by pubkey, creating one if the peer
// has never been seen before. It also enforces expiry: if expiry_date has
// passed, enabled is flipped to 0 and persisted, and the user is treated as
// disabled for this tick.
func (e *Engine) resolveOrCreateUser(ctx context.Context, pubkey string, now time.Time) (*store.User, error) {
	user, err := e.store.GetUserByPubkey(ctx, pubkey)
	if errors.Is(err, store.ErrNotFound) {
		id, cerr := e.store.CreateUser(ctx, store.CreateUserParams{PeerPubkey: pubkey})
		if cerr != nil {
			return nil, fmt.Errorf("create discovered user: %w", cerr)
		}
		nickname := fmt.Sprintf("User_%d", id)
		if uerr := e.store.UpdateUser(ctx, id, store.UpdateUserFields{Nickname: &nickname}); uerr != nil {
			return nil, fmt.Errorf("name discovered user: %w", uerr)
		}
		user, err = e.store.GetUserByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload discovered user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("get user by pubkey: %w", err)
	}

	if user.ExpiryDate != nil && *user.ExpiryDate != "" && user.Enabled == 1 {
		expiry, perr := parseExpiry(*user.ExpiryDate)
		if perr == nil && now.After(expiry) {
			if err := e.store.DisableExpiredUser(ctx, user.ID); err != nil {
				return nil, fmt.Errorf("disable expired user: %w", err)
			}
			user.Enabled = 0
		}
	}
	return user, nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(store.TimeFormat, s, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation(store.DateFormat, s, time.Local)
}

// LiveCount returns the size of the live session map.
func (e *Engine) LiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.live)
}

// LiveSnapshot returns a copy of the live map for API reads.
func (e *Engine) LiveSnapshot() map[string]LiveEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]LiveEntry, len(e.live))
	for k, v := range e.live {
		out[k] = v
	}
	return out
}

// Kick closes the live session for userID, if any. Returns
// false if no live session existed for this user.
func (e *Engine) Kick(ctx context.Context, userID int64) (bool, error) {
	return e.closeForUser(ctx, userID, "kicked")
}

// CloseForUser closes the live session for userID with an arbitrary reason
// (used by User Admin's delete flow). A second close for a user with no live
// entry is a no-op.
func (e *Engine) CloseForUser(ctx context.Context, userID int64, reason string) error {
	_, err := e.closeForUser(ctx, userID, reason)
	return err
}

func (e *Engine) closeForUser(ctx context.Context, userID int64, reason string) (bool, error) {
	now := time.Now()

	e.mu.RLock()
	var pubkey string
	var entry LiveEntry
	found := false
	for k, v := range e.live {
		if v.UserID == userID {
			pubkey, entry, found = k, v, true
			break
		}
	}
	e.mu.RUnlock()

	if !found {
		return false, nil
	}
	if err := e.closeEntry(ctx, pubkey, entry, now, reason); err != nil {
		return false, err
	}
	return true, nil
}
