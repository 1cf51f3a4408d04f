package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), ":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "pubkey-a"})
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "pubkey-a", got.PeerPubkey)
	require.Nil(t, got.ClientIP)
	require.Equal(t, 1, got.Enabled)
	require.Equal(t, 0, got.Status)
}

func TestCreateUser_DuplicatePubkeyConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "dup"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, CreateUserParams{PeerPubkey: "dup"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreateUser_NilClientIPDoesNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "one"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, CreateUserParams{PeerPubkey: "two"})
	require.NoError(t, err)
}

func TestGetUserByID_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUserByID(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUser_WhitelistedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "up"})
	require.NoError(t, err)

	nickname := "renamed"
	enabled := 0
	err = s.UpdateUser(ctx, id, UpdateUserFields{Nickname: &nickname, Enabled: &enabled})
	require.NoError(t, err)

	got, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "renamed", *got.Nickname)
	require.Equal(t, 0, got.Enabled)
}

func TestAddUserLifetimeTotals_Accumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "acc"})
	require.NoError(t, err)

	require.NoError(t, s.AddUserLifetimeTotals(ctx, id, 100, 200, time.Now()))
	require.NoError(t, s.AddUserLifetimeTotals(ctx, id, 50, 75, time.Now()))

	got, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 150, got.TotalRx)
	require.EqualValues(t, 275, got.TotalTx)
}

func TestResetUserCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "reset"})
	require.NoError(t, err)
	require.NoError(t, s.AddUserLifetimeTotals(ctx, id, 10, 20, time.Now()))

	require.NoError(t, s.ResetUserCounters(ctx, id))

	got, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.TotalRx)
	require.EqualValues(t, 0, got.TotalTx)
}

func TestOpenUpdateCloseEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	userID, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "evt"})
	require.NoError(t, err)

	now := time.Now()
	eventID, err := s.OpenEvent(ctx, OpenEventParams{UserID: userID, StartTime: now})
	require.NoError(t, err)

	open, err := s.OpenEventForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, eventID, open.ID)
	require.Equal(t, EventStatusOnline, open.Status)

	require.NoError(t, s.UpdateEventTraffic(ctx, eventID, 1000, 2000, now.Add(time.Minute)))
	require.NoError(t, s.CloseEvent(ctx, eventID, now.Add(2*time.Minute), 120))

	closed, err := s.GetEvent(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, EventStatusOffline, closed.Status)
	require.EqualValues(t, 1000, closed.SessionRx)
	require.EqualValues(t, 120, closed.DurationSeconds)

	_, err = s.OpenEventForUser(ctx, userID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListUsersPage_FiltersAndPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: string(rune('a' + i))})
		require.NoError(t, err)
	}

	users, total, err := s.ListUsersPage(ctx, UserFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, users, 2)

	users, total, err = s.ListUsersPage(ctx, UserFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, users, 1)
}

func TestUpsertSystemStats_PeakConcurrentTakesMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := FormatDate(time.Now())

	require.NoError(t, s.UpsertSystemStats(ctx, SystemStatsUpsert{Date: date, PeakConcurrent: 3}))
	require.NoError(t, s.UpsertSystemStats(ctx, SystemStatsUpsert{Date: date, PeakConcurrent: 1}))

	got, err := s.GetSystemStats(ctx, date)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.PeakConcurrent)
}

func TestCountUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.CreateUser(ctx, CreateUserParams{PeerPubkey: "a"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, CreateUserParams{PeerPubkey: "b"})
	require.NoError(t, err)

	require.NoError(t, s.SetUserStatus(ctx, id1, 1))

	counts, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts.Total)
	require.EqualValues(t, 1, counts.Online)
	require.EqualValues(t, 2, counts.Enabled)
}
