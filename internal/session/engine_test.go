package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cercky/wireguard-manage/internal/adapter"
	"github.com/cercky/wireguard-manage/internal/stats"
	"github.com/cercky/wireguard-manage/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, peers PeerTable) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	agg := stats.New(s)
	e := New(s, peers, agg, testLogger(), Config{MaxHandshakeAge: 180 * time.Second, Interval: time.Second})
	return e, s
}

type fakePeerTable struct {
	snapshot map[string]adapter.Peer
}

func (f *fakePeerTable) Snapshot(_ context.Context) map[string]adapter.Peer {
	return f.snapshot
}

func TestTick_FreshPeerOpensSession(t *testing.T) {
	now := time.Now()
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 100, Tx: 200, HandshakeUnix: now.Unix()},
	}}
	e, s := newTestEngine(t, peers)

	e.tick(context.Background())

	require.Equal(t, 1, e.LiveCount())

	user, err := s.GetUserByPubkey(context.Background(), "pubkey-a")
	require.NoError(t, err)
	require.Equal(t, 1, user.Status)

	open, err := s.OpenEventForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, store.EventStatusOnline, open.Status)
}

func TestTick_StaleHandshakeNeverOpens(t *testing.T) {
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 100, Tx: 200, HandshakeUnix: 0},
	}}
	e, _ := newTestEngine(t, peers)

	e.tick(context.Background())

	require.Equal(t, 0, e.LiveCount())
}

func TestTick_DisappearedPeerCloses(t *testing.T) {
	now := time.Now()
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 100, Tx: 200, HandshakeUnix: now.Unix()},
	}}
	e, s := newTestEngine(t, peers)

	e.tick(context.Background())
	require.Equal(t, 1, e.LiveCount())

	peers.snapshot = map[string]adapter.Peer{}
	e.tick(context.Background())
	require.Equal(t, 0, e.LiveCount())

	user, err := s.GetUserByPubkey(context.Background(), "pubkey-a")
	require.NoError(t, err)
	require.Equal(t, 0, user.Status)
}

func TestTick_CounterResetRebaselines(t *testing.T) {
	now := time.Now()
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 1000, Tx: 2000, HandshakeUnix: now.Unix()},
	}}
	e, s := newTestEngine(t, peers)
	e.tick(context.Background())

	peers.snapshot["pubkey-a"] = adapter.Peer{Rx: 50, Tx: 80, HandshakeUnix: now.Unix()}
	e.tick(context.Background())

	user, err := s.GetUserByPubkey(context.Background(), "pubkey-a")
	require.NoError(t, err)
	open, err := s.OpenEventForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, open.SessionRx)
	require.EqualValues(t, 0, open.SessionTx)
}

func TestKick_ClosesLiveSessionAndReturnsFalseIfAbsent(t *testing.T) {
	now := time.Now()
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 0, Tx: 0, HandshakeUnix: now.Unix()},
	}}
	e, s := newTestEngine(t, peers)
	e.tick(context.Background())

	user, err := s.GetUserByPubkey(context.Background(), "pubkey-a")
	require.NoError(t, err)

	kicked, err := e.Kick(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, kicked)
	require.Equal(t, 0, e.LiveCount())

	kicked, err = e.Kick(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, kicked)
}

func TestTwoPeers_OneDisappearsOtherStaysOpen(t *testing.T) {
	now := time.Now()
	peers := &fakePeerTable{snapshot: map[string]adapter.Peer{
		"pubkey-a": {Rx: 10, Tx: 20, HandshakeUnix: now.Unix()},
		"pubkey-b": {Rx: 30, Tx: 40, HandshakeUnix: now.Unix()},
	}}
	e, _ := newTestEngine(t, peers)
	e.tick(context.Background())
	require.Equal(t, 2, e.LiveCount())

	delete(peers.snapshot, "pubkey-a")
	e.tick(context.Background())
	require.Equal(t, 1, e.LiveCount())

	snap := e.LiveSnapshot()
	_, stillOpen := snap["pubkey-b"]
	require.True(t, stillOpen)
}
