// Package useradmin creates, updates, deletes, and enables/disables users,
// allocating client IPs and coordinating the Adapter and Store.
package useradmin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strings"
	"text/template"

	"github.com/cercky/wireguard-manage/internal/store"
)

// SessionEngine is the narrow interface User Admin depends on. Injecting it
// from the composition root (rather than importing the session package's
// concrete Engine and having it import useradmin back) breaks what would
// otherwise be a circular package dependency.
type SessionEngine interface {
	CloseForUser(ctx context.Context, userID int64, reason string) error
	Kick(ctx context.Context, userID int64) (bool, error)
}

// PeerTable is the subset of the Adapter User Admin mutates.
type PeerTable interface {
	Add(ctx context.Context, pubkey, clientIP string) error
	Remove(ctx context.Context, pubkey string) error
}

// ValidationError is a "Validation"-class error; handlers surface it
// as HTTP 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError is a "Conflict"-class error (duplicate pubkey, exhausted IP
// pool); handlers surface it as HTTP 400, same as a ValidationError.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

var mailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Admin creates, updates, deletes, and enables/disables users.
type Admin struct {
	store *store.Store
	engine SessionEngine
	adapter PeerTable
	log *slog.Logger

	baseIP netip.Addr // not set by New and not read; allocateIP's default is 10.0.0.2
}

func New(s *store.Store, engine SessionEngine, adapter PeerTable, log *slog.Logger) *Admin {
	return &Admin{store: s, engine: engine, adapter: adapter, log: log}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	Pubkey string
	Nickname *string
	Mail *string
	Phone *string
	BandwidthLimit int64
	DataLimit int64
	ExpiryDate *string
	Note *string
}

// CreateResult is returned from a successful Create.
type CreateResult struct {
	UserID int64
	ClientIP string
	ConfigText string
}

// ValidatePubkey checks the 44-character Base64 shape.
// It does not verify the key is a valid 32-byte Curve25519 point.
func ValidatePubkey(pubkey string) error {
	if len(pubkey) != 44 {
		return &ValidationError{Msg: "Public key must be 44 characters"}
	}
	decoded, err := base64.StdEncoding.DecodeString(pubkey)
	if err != nil || len(decoded) != 32 {
		return &ValidationError{Msg: "Public key must be valid base64"}
	}
	return nil
}

func validateMail(mail string) error {
	if !mailRe.MatchString(mail) {
		return &ValidationError{Msg: "Invalid email address"}
	}
	return nil
}

// Create validates the pubkey, rejects a duplicate, allocates an IP, adds
// the peer to the live interface, then persists the row. Rolls back the
// interface add if the DB insert fails.
func (a *Admin) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if err := ValidatePubkey(p.Pubkey); err != nil {
		return nil, err
	}
	if p.Mail != nil && *p.Mail != "" {
		if err := validateMail(*p.Mail); err != nil {
			return nil, err
		}
	}

	if _, err := a.store.GetUserByPubkey(ctx, p.Pubkey); err == nil {
		return nil, &ConflictError{Msg: "Public key already exists"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing pubkey: %w", err)
	}

	existingIPs, err := a.store.ListClientIPs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list client ips: %w", err)
	}
	clientIP, err := allocateIP(existingIPs)
	if err != nil {
		return nil, err
	}

	if err := a.adapter.Add(ctx, p.Pubkey, clientIP); err != nil {
		return nil, fmt.Errorf("adapter add peer: %w", err)
	}

	configText := renderClientConfig(p.Pubkey, clientIP)

	id, err := a.store.CreateUser(ctx, store.CreateUserParams{
		PeerPubkey: p.Pubkey,
		ClientIP: &clientIP,
		Nickname: p.Nickname,
		Mail: p.Mail,
		Phone: p.Phone,
		Note: p.Note,
		BandwidthLimit: p.BandwidthLimit,
		DataLimit: p.DataLimit,
		ExpiryDate: p.ExpiryDate,
		WgConfig: &configText,
	})
	if err != nil {
		if rerr := a.adapter.Remove(ctx, p.Pubkey); rerr != nil {
			a.log.Warn("rollback adapter add failed after db error", "pubkey", p.Pubkey, "error", rerr)
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, &ConflictError{Msg: "Public key already exists"}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &CreateResult{UserID: id, ClientIP: clientIP, ConfigText: configText}, nil
}

// UpdateParams mirrors store.UpdateUserFields.
type UpdateParams = store.UpdateUserFields

// Update applies a whitelisted partial update, toggling the adapter when
// `enabled` changes.
func (a *Admin) Update(ctx context.Context, userID int64, p UpdateParams) error {
	if p.Mail != nil && *p.Mail != "" {
		if err := validateMail(*p.Mail); err != nil {
			return err
		}
	}

	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := a.store.UpdateUser(ctx, userID, p); err != nil {
		return err
	}

	if p.Enabled != nil && user.ClientIP != nil {
		switch {
		case *p.Enabled == 0 && user.Enabled == 1:
			if err := a.adapter.Remove(ctx, user.PeerPubkey); err != nil {
				a.log.Warn("adapter remove on disable failed", "user_id", userID, "error", err)
			}
		case *p.Enabled == 1 && user.Enabled == 0:
			if err := a.adapter.Add(ctx, user.PeerPubkey, *user.ClientIP); err != nil {
				return fmt.Errorf("adapter add on enable: %w", err)
			}
		}
	}
	return nil
}

// Delete closes any open session through the Session Engine, removes the
// peer from the adapter (proceeding even on failure), then deletes the row
// (cascades to events and traffic_stats).
func (a *Admin) Delete(ctx context.Context, userID int64) error {
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := a.engine.CloseForUser(ctx, userID, "user_deleted"); err != nil {
		a.log.Warn("close session on delete failed", "user_id", userID, "error", err)
	}

	if err := a.adapter.Remove(ctx, user.PeerPubkey); err != nil {
		a.log.Warn("adapter remove on delete failed", "user_id", userID, "error", err)
	}

	return a.store.DeleteUser(ctx, userID)
}

// Kick force-closes the user's live session, if any.
func (a *Admin) Kick(ctx context.Context, userID int64) (bool, error) {
	if _, err := a.store.GetUserByID(ctx, userID); err != nil {
		return false, err
	}
	return a.engine.Kick(ctx, userID)
}

// ResetCounters zeroes a user's lifetime rx/tx counters, leaving any
// currently-open session alone.
func (a *Admin) ResetCounters(ctx context.Context, userID int64) error {
	if _, err := a.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return a.store.ResetUserCounters(ctx, userID)
}

// allocateIP parses all four octets of every existing client_ip, picks the
// highest allocated address, and increments its last octet. Defaults to
// 10.0.0.2 when no IPs are allocated yet, and fails once the last octet
// would exceed 254.
func allocateIP(existing []string) (string, error) {
	var maxAddr netip.Addr
	found := false

	for _, s := range existing {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			continue
		}
		if !found || maxAddr.Less(addr) {
			maxAddr = addr
			found = true
		}
	}

	if !found {
		return "10.0.0.2", nil
	}

	octets := maxAddr.As4()
	if octets[3] >= 254 {
		return "", &ConflictError{Msg: "IP address pool exhausted"}
	}
	octets[3]++
	return netip.AddrFrom4(octets).String(), nil
}

const clientConfigTemplate = `[Interface]
PrivateKey = <client-private-key>
Address = {{.ClientIP}}/32
DNS = 1.1.1.1

[Peer]
PublicKey = {{.ServerPubkey}}
AllowedIPs = 0.0.0.0/0
Endpoint = {{.Endpoint}}
PersistentKeepalive = 25
`

var clientConfigTmpl = template.Must(template.New("wg-client-config").Parse(clientConfigTemplate))

// renderClientConfig renders a WireGuard client .conf file.
func renderClientConfig(pubkey, clientIP string) string {
	var sb strings.Builder
	_ = clientConfigTmpl.Execute(&sb, struct {
		ClientIP string
		ServerPubkey string
		Endpoint string
	}{
		ClientIP: clientIP,
		ServerPubkey: pubkey,
		Endpoint: "<server-endpoint>:51820",
	})
	return sb.String()
}
