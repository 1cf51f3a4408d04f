package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out string
	err error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseDump(t *testing.T) {
	dump := "privkey\tpubkey\tport\tfwmark\n" +
		"pubkeyA\t(none)\t203.0.113.1:51820\t(none)\t1700000000\t1000\t2000\tpersistent-keepalive\n" +
		"pubkeyB\t(none)\t(none)\t(none)\t0\t0\t0\tpersistent-keepalive\n"

	peers := parseDump(dump)
	require.Len(t, peers, 2)

	a := peers["pubkeyA"]
	require.EqualValues(t, 1000, a.Rx)
	require.EqualValues(t, 2000, a.Tx)
	require.EqualValues(t, 1700000000, a.HandshakeUnix)
	require.NotNil(t, a.Endpoint)
	require.Equal(t, "203.0.113.1:51820", *a.Endpoint)

	b := peers["pubkeyB"]
	require.Nil(t, b.Endpoint)
	require.Zero(t, b.HandshakeUnix)
}

func TestParseDump_SkipsShortRows(t *testing.T) {
	dump := "header\n" + "incomplete\trow\n"
	peers := parseDump(dump)
	require.Empty(t, peers)
}

func TestSnapshot_CommandFailureReturnsEmptyMap(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	a := New("wg0", "wg", runner, testLogger())

	peers := a.Snapshot(context.Background())
	require.NotNil(t, peers)
	require.Empty(t, peers)
}

func TestAddRemove_Idempotent(t *testing.T) {
	runner := &fakeRunner{out: ""}
	a := New("wg0", "wg", runner, testLogger())

	require.NoError(t, a.Add(context.Background(), "pubkey", "10.0.0.2"))
	require.NoError(t, a.Remove(context.Background(), "pubkey"))
	require.NoError(t, a.Remove(context.Background(), "pubkey"))
	require.Len(t, runner.calls, 3)
}

func TestInterfaceStatus(t *testing.T) {
	okRunner := &fakeRunner{out: "interface: wg0"}
	a := New("wg0", "wg", okRunner, testLogger())
	require.Equal(t, StatusRunning, a.InterfaceStatus(context.Background()))

	errRunner := &fakeRunner{err: errors.New("no such device")}
	a2 := New("wg0", "wg", errRunner, testLogger())
	require.Equal(t, StatusError, a2.InterfaceStatus(context.Background()))
}
