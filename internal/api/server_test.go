package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cercky/wireguard-manage/internal/adapter"
	"github.com/cercky/wireguard-manage/internal/session"
	"github.com/cercky/wireguard-manage/internal/stats"
	"github.com/cercky/wireguard-manage/internal/store"
	"github.com/cercky/wireguard-manage/internal/useradmin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLive struct {
	snapshot map[string]session.LiveEntry
}

func (f *fakeLive) LiveSnapshot() map[string]session.LiveEntry { return f.snapshot }
func (f *fakeLive) LiveCount() int                              { return len(f.snapshot) }

type fakeProbe struct{ status adapter.Status }

func (f *fakeProbe) InterfaceStatus(_ context.Context) adapter.Status { return f.status }

type fakeEngine struct{}

func (f *fakeEngine) CloseForUser(_ context.Context, _ int64, _ string) error { return nil }
func (f *fakeEngine) Kick(_ context.Context, _ int64) (bool, error)           { return false, nil }

type fakePeers struct{}

func (f *fakePeers) Add(_ context.Context, _, _ string) error { return nil }
func (f *fakePeers) Remove(_ context.Context, _ string) error { return nil }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	agg := stats.New(s)
	admin := useradmin.New(s, &fakeEngine{}, &fakePeers{}, testLogger())
	live := &fakeLive{snapshot: map[string]session.LiveEntry{}}
	probe := &fakeProbe{status: adapter.StatusRunning}

	return NewServer(s, live, probe, agg, admin, testLogger()), s
}

const validPubkey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func TestHandleStatus_ReturnsCounts(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.CreateUser(context.Background(), store.CreateUserParams{PeerPubkey: validPubkey})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var body statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 1, body.TotalUsers)
	require.Equal(t, "running", body.InterfaceStatus)
}

func TestHandleDashboard_EmptyStoreReturnsZeroedSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body dashboardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Zero(t, body.TotalUsers)
	require.Equal(t, "0h", body.UptimeReadable)
}

func TestHandleCreateUser_ThenList(t *testing.T) {
	srv, _ := newTestServer(t)

	reqBody, _ := json.Marshal(createUserRequest{Pubkey: validPubkey})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var created createUserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "10.0.0.2", created.ClientIP)

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleCreateUser_DuplicatePubkeyReturns400(t *testing.T) {
	srv, _ := newTestServer(t)

	reqBody, _ := json.Marshal(createUserRequest{Pubkey: validPubkey})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(reqBody))
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Public key already exists", body.Error)
}

func TestHandleCreateUser_InvalidPubkeyReturns400(t *testing.T) {
	srv, _ := newTestServer(t)

	reqBody, _ := json.Marshal(createUserRequest{Pubkey: "too-short"})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUserAction_UnknownActionReturns400(t *testing.T) {
	srv, s := newTestServer(t)
	id, err := s.CreateUser(context.Background(), store.CreateUserParams{PeerPubkey: validPubkey})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/users/"+strconv.FormatInt(id, 10)+"/bogus", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeleteUser_NotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/999", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleEvents_EmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleTrafficChart_DefaultDays(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/traffic/chart", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNotFoundRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "not found", body.Error)
}
