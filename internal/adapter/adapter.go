// Package adapter reads and mutates the kernel's WireGuard peer table. It
// shells out to `wg`, with a bounded timeout so a hung external command
// never blocks the tick loop or the HTTP server.
package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Peer is one row of a peer-table snapshot.
type Peer struct {
	Rx int64
	Tx int64
	HandshakeUnix int64 // 0 means "never handshook"
	Endpoint *string
}

// Status is the adapter's coarse health probe result.
type Status string

const (
	StatusRunning Status = "running"
	StatusError Status = "error"
)

// CommandRunner abstracts process execution so the adapter can be tested
// without a real `wg` binary.
type CommandRunner interface {
	Run(ctx context.Context, name string, args...string) (stdout string, err error)
}

// ExecCommandRunner runs commands via os/exec with a bounded timeout.
type ExecCommandRunner struct {
	Timeout time.Duration
}

func (r *ExecCommandRunner) Run(ctx context.Context, name string, args...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s %v: %w", name, args, err)
	}
	return stdout.String(), nil
}

// Adapter is the WireGuard peer-table adapter.
type Adapter struct {
	iface string
	runner CommandRunner
	log *slog.Logger
	wgPath string
}

// New builds an Adapter for the given interface name, e.g. "wg0".
func New(iface, wgPath string, runner CommandRunner, log *slog.Logger) *Adapter {
	if wgPath == "" {
		wgPath = "wg"
	}
	return &Adapter{iface: iface, wgPath: wgPath, runner: runner, log: log}
}

// Snapshot reads the current peer table. On any command failure it returns
// an empty map — "no peers visible this tick" — never an error.
func (a *Adapter) Snapshot(ctx context.Context) map[string]Peer {
	out, err := a.runner.Run(ctx, a.wgPath, "show", a.iface, "dump")
	if err != nil {
		a.log.Debug("adapter snapshot failed, treating as empty", "error", err)
		return map[string]Peer{}
	}
	return parseDump(out)
}

// parseDump parses `wg show <iface> dump` output: one header row, then one
// row per peer; columns 1 (pubkey), 3 (endpoint, "(none)" -> nil), 5 (latest
// handshake seconds), 6 (rx), 7 (tx). Rows with fewer than 7 fields are
// skipped.
func parseDump(out string) map[string]Peer {
	peers := map[string]Peer{}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header row (interface private/public key, listen port, fwmark)
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		pubkey := fields[0]
		var endpoint *string
		if fields[2] != "(none)" {
			e := fields[2]
			endpoint = &e
		}
		handshake, _ := strconv.ParseInt(fields[4], 10, 64)
		rx, _ := strconv.ParseInt(fields[5], 10, 64)
		tx, _ := strconv.ParseInt(fields[6], 10, 64)
		peers[pubkey] = Peer{Rx: rx, Tx: tx, HandshakeUnix: handshake, Endpoint: endpoint}
	}
	return peers
}

// Add adds a peer to the live interface. Idempotent: adding an existing peer
// returns success.
func (a *Adapter) Add(ctx context.Context, pubkey, clientIP string) error {
	_, err := a.runner.Run(ctx, a.wgPath, "set", a.iface, "peer", pubkey, "allowed-ips", clientIP+"/32")
	if err != nil {
		return fmt.Errorf("adapter add: %w", err)
	}
	return nil
}

// Remove removes a peer. Idempotent: removing an absent peer returns success
// — `wg set... remove` already behaves this way.
func (a *Adapter) Remove(ctx context.Context, pubkey string) error {
	_, err := a.runner.Run(ctx, a.wgPath, "set", a.iface, "peer", pubkey, "remove")
	if err != nil {
		return fmt.Errorf("adapter remove: %w", err)
	}
	return nil
}

// InterfaceStatus probes interface health with a 5-second timeout.
func (a *Adapter) InterfaceStatus(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.runner.Run(ctx, a.wgPath, "show", a.iface)
	if err != nil {
		return StatusError
	}
	return StatusRunning
}
