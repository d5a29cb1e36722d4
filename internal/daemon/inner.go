package daemon

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
)

// TunnelSupervisor is the slice of the TLS-forward supervisor the daemon
// drives during reconciliation. Transitions flow back asynchronously through
// the actor mailbox, never through this interface.
type TunnelSupervisor interface {
	Enable(cfg config.TLSForwardSettings) error
	Disable()
	Current() tlsforward.Status
}

// Subsystem is a start/stoppable collaborator the daemon supervises, such as
// the HTTP listener. Stop must be idempotent.
type Subsystem interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// settingsAware is implemented by listeners that need the current server
// settings before binding. Detected by type assertion so test fakes stay
// minimal.
type settingsAware interface {
	ApplyServerSettings(config.ServerSettings)
}

// inner holds the sole live Settings copy and every subsystem handle. It is
// owned exclusively by the actor goroutine; nothing here is safe for
// concurrent use.
type inner struct {
	logger     *log.Logger
	access     *access.Manager
	store      *store.Store
	supervisor TunnelSupervisor
	listener   Subsystem

	settings      config.Settings
	userCount     int
	bootstrapDone bool
	tlsStatus     tlsforward.Status
	running       bool
}

func (in *inner) needsBootstrap() bool {
	return in.userCount == 0 && !in.bootstrapDone
}

// buildStatus computes a fresh snapshot. No permission check: status leaks
// no secrets, and staleness on the bootstrap flag would be a correctness bug.
func (in *inner) buildStatus() DaemonStatus {
	return DaemonStatus{
		Running:           in.running,
		ListenAddress:     in.settings.Server.ListenAddress(),
		UpstreamCount:     len(in.settings.Providers),
		UserCount:         in.userCount,
		TLSForwardEnabled: in.settings.TLSForward.Enabled,
		TLSForwardStatus:  in.tlsStatus,
		NeedsBootstrap:    in.needsBootstrap(),
	}
}

func (in *inner) getConfig(identity access.Identity) (config.Settings, error) {
	if err := in.access.Check(identity, access.ActionRead, access.SystemObject(access.KindConfig)); err != nil {
		return config.Settings{}, err
	}
	return in.settings.Clone(), nil
}

// updateConfig replaces the live Settings after permission and validation
// checks, persists the new value, and reconciles subsystems. Reconciliation
// failure never rolls Settings back; it surfaces through the affected
// subsystem's own status.
func (in *inner) updateConfig(ctx context.Context, identity access.Identity, next config.Settings) error {
	if err := in.access.Check(identity, access.ActionWrite, access.SystemObject(access.KindConfig)); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	prev := in.settings
	in.settings = next.Clone()

	var persistErr error
	if in.store != nil {
		if err := in.store.SaveNodeSettings(ctx, in.settings); err != nil {
			in.logger.Printf("[Daemon] persist settings failed: %v", err)
			persistErr = fmt.Errorf("daemon: persist settings: %w", err)
		}
	}

	in.reconcile(ctx, prev)
	return persistErr
}

// reconcile applies configuration deltas to running subsystems.
func (in *inner) reconcile(ctx context.Context, prev config.Settings) {
	cur := in.settings

	if in.supervisor != nil {
		switch {
		case cur.TLSForward.Enabled && !prev.TLSForward.Enabled:
			if err := in.supervisor.Enable(cur.TLSForward); err != nil {
				in.logger.Printf("[Daemon] enable tlsforward: %v", err)
			}
		case !cur.TLSForward.Enabled && prev.TLSForward.Enabled:
			in.supervisor.Disable()
			in.tlsStatus = tlsforward.Disabled()
		case cur.TLSForward.Enabled && relaysChanged(prev.TLSForward, cur.TLSForward):
			in.supervisor.Disable()
			if err := in.supervisor.Enable(cur.TLSForward); err != nil {
				in.logger.Printf("[Daemon] re-enable tlsforward: %v", err)
			}
		}
	}

	if in.listener != nil {
		in.pushServerSettings()
	}
	if in.listener != nil && in.running && prev.Server.ListenAddress() != cur.Server.ListenAddress() {
		if err := in.listener.Stop(ctx); err != nil {
			in.logger.Printf("[Daemon] stop listener for rebind: %v", err)
		}
		if err := in.listener.Start(ctx); err != nil {
			in.logger.Printf("[Daemon] rebind listener to %s: %v", cur.Server.ListenAddress(), err)
			in.running = false
		}
	}
}

func relaysChanged(prev, cur config.TLSForwardSettings) bool {
	if len(prev.RelayAddresses) != len(cur.RelayAddresses) {
		return true
	}
	for i := range prev.RelayAddresses {
		if prev.RelayAddresses[i] != cur.RelayAddresses[i] {
			return true
		}
	}
	return false
}

// restart performs an ordered stop followed by an ordered start.
func (in *inner) restart(ctx context.Context, identity access.Identity) error {
	if err := in.access.Check(identity, access.ActionManage, access.SystemObject(access.KindDaemon)); err != nil {
		return err
	}
	in.stopSubsystems(ctx)
	return in.startSubsystems(ctx)
}

// shutdown performs the stop half only. The actor terminates after the reply.
func (in *inner) shutdown(ctx context.Context, identity access.Identity) error {
	if err := in.access.Check(identity, access.ActionManage, access.SystemObject(access.KindDaemon)); err != nil {
		return err
	}
	in.stopSubsystems(ctx)
	return nil
}

// stopSubsystems stops in order: HTTP listener, tunnel, persistence flush.
// Every step is idempotent; partial prior stops are fine.
func (in *inner) stopSubsystems(ctx context.Context) {
	if in.listener != nil && in.running {
		if err := in.listener.Stop(ctx); err != nil {
			in.logger.Printf("[Daemon] stop listener: %v", err)
		}
	}
	in.running = false

	if in.supervisor != nil {
		in.supervisor.Disable()
		in.tlsStatus = tlsforward.Disabled()
	}

	if in.store != nil {
		if err := in.store.SaveNodeSettings(ctx, in.settings); err != nil {
			in.logger.Printf("[Daemon] flush settings: %v", err)
		}
	}
}

// startSubsystems starts in reverse stop order: tunnel, then HTTP listener.
func (in *inner) startSubsystems(ctx context.Context) error {
	if in.supervisor != nil && in.settings.TLSForward.Enabled {
		if err := in.supervisor.Enable(in.settings.TLSForward); err != nil {
			in.logger.Printf("[Daemon] enable tlsforward: %v", err)
		}
	}

	if in.listener != nil {
		in.pushServerSettings()
		if err := in.listener.Start(ctx); err != nil {
			return &ServiceUnavailableError{Subsystem: "listener", Err: err}
		}
	}
	in.running = true
	return nil
}

// pushServerSettings hands the listener a value copy of the server settings
// so a subsequent Start binds the current address.
func (in *inner) pushServerSettings() {
	aware, ok := in.listener.(settingsAware)
	if !ok {
		return
	}
	srv := in.settings.Server
	if srv.CORSOrigins != nil {
		srv.CORSOrigins = append([]string(nil), srv.CORSOrigins...)
	}
	aware.ApplyServerSettings(srv)
}

// createFirstUser is the one-time bootstrap escape hatch. It bypasses the
// permission manager by design and closes itself permanently on success.
func (in *inner) createFirstUser(ctx context.Context, name, password string) (string, error) {
	if !in.needsBootstrap() {
		return "", &InvalidStateError{Reason: "bootstrap already completed"}
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("daemon: create first user: name must not be empty")
	}
	if password == "" {
		return "", fmt.Errorf("daemon: create first user: password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("daemon: hash password: %w", err)
	}

	userID := uuid.NewString()
	if in.store != nil {
		user := store.User{
			ID:           userID,
			Name:         name,
			Role:         store.RoleOwner,
			PasswordHash: string(hash),
		}
		if err := in.store.CreateUser(ctx, user); err != nil {
			return "", fmt.Errorf("daemon: create first user: %w", err)
		}
		if err := in.store.MarkBootstrapComplete(ctx); err != nil {
			in.logger.Printf("[Daemon] persist bootstrap flag: %v", err)
		}
	}

	in.userCount++
	in.bootstrapDone = true
	for _, rule := range ownerUserRules(userID) {
		in.access.Grant(rule)
	}
	return userID, nil
}

// ownerUserRules grants the first user full control of the node-wide objects.
func ownerUserRules(userID string) []access.Rule {
	kinds := []access.ObjectKind{access.KindConfig, access.KindDaemon, access.KindTLSForward}
	rules := make([]access.Rule, 0, len(kinds))
	for _, kind := range kinds {
		rules = append(rules, access.Rule{
			SubjectKind: access.KindUser,
			SubjectID:   userID,
			Action:      access.ActionManage,
			Namespace:   access.NamespaceSystem,
			Kind:        kind,
		})
	}
	return rules
}

// applyTLSForwardStatus copies the supervisor's last reported value. Plain
// field assignment, no permission check: the update is not caller-initiated.
func (in *inner) applyTLSForwardStatus(st tlsforward.Status) {
	in.tlsStatus = st
}
