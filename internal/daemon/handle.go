package daemon

import (
	"context"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
)

// Handle is the cheaply copyable client every caller uses to talk to the
// actor. It wraps the mailbox's sending side and an optional bound identity.
// A Handle is safe for concurrent use; WithIdentity returns an independent
// copy.
type Handle struct {
	actor    *Actor
	identity access.Identity
}

// WithIdentity returns a handle bound to the given identity for subsequent
// mutating calls.
func (h *Handle) WithIdentity(identity access.Identity) *Handle {
	return &Handle{actor: h.actor, identity: identity}
}

// Identity returns the bound identity, zero when unbound.
func (h *Handle) Identity() access.Identity {
	return h.identity
}

// submit places a request into the mailbox. It blocks while the mailbox is
// full; a terminated actor yields ErrDaemonClosed.
func (h *Handle) submit(ctx context.Context, req request) error {
	select {
	case <-h.actor.done:
		return ErrDaemonClosed
	default:
	}
	select {
	case h.actor.mailbox <- req:
		return nil
	case <-h.actor.done:
		return ErrDaemonClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requireIdentity guards mutating calls locally, before the mailbox.
func (h *Handle) requireIdentity() error {
	if h.identity.IsZero() {
		return &InvalidStateError{Reason: "handle has no bound identity"}
	}
	return nil
}

// Status returns a fresh snapshot. No identity required.
func (h *Handle) Status(ctx context.Context) (DaemonStatus, error) {
	req := &getStatusRequest{reply: make(chan statusReply, 1)}
	if err := h.submit(ctx, req); err != nil {
		return DaemonStatus{}, err
	}
	select {
	case rep := <-req.reply:
		return rep.status, rep.err
	case <-ctx.Done():
		return DaemonStatus{}, ctx.Err()
	}
}

// Config returns the current settings for the bound identity.
func (h *Handle) Config(ctx context.Context) (config.Settings, error) {
	req := &getConfigRequest{identity: h.identity, reply: make(chan configReply, 1)}
	if err := h.submit(ctx, req); err != nil {
		return config.Settings{}, err
	}
	select {
	case rep := <-req.reply:
		return rep.settings, rep.err
	case <-ctx.Done():
		return config.Settings{}, ctx.Err()
	}
}

// UpdateConfig replaces the node configuration.
func (h *Handle) UpdateConfig(ctx context.Context, settings config.Settings) error {
	if err := h.requireIdentity(); err != nil {
		return err
	}
	req := &updateConfigRequest{identity: h.identity, settings: settings.Clone(), reply: make(chan error, 1)}
	if err := h.submit(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops and starts the daemon's subsystems in order.
func (h *Handle) Restart(ctx context.Context) error {
	if err := h.requireIdentity(); err != nil {
		return err
	}
	req := &restartRequest{identity: h.identity, reply: make(chan error, 1)}
	if err := h.submit(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops all subsystems and terminates the actor. Calling it on an
// already terminated actor succeeds: the goal state is reached.
func (h *Handle) Shutdown(ctx context.Context) error {
	if err := h.requireIdentity(); err != nil {
		return err
	}
	req := &shutdownRequest{identity: h.identity, reply: make(chan error, 1)}
	if err := h.submit(ctx, req); err != nil {
		if err == ErrDaemonClosed {
			return nil
		}
		return err
	}
	select {
	case err := <-req.reply:
		if err == ErrDaemonClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateFirstUser performs the one-time bootstrap. No identity required; the
// operation is gated by the bootstrap state instead.
func (h *Handle) CreateFirstUser(ctx context.Context, name, password string) (string, error) {
	req := &createFirstUserRequest{name: name, password: password, reply: make(chan userReply, 1)}
	if err := h.submit(ctx, req); err != nil {
		return "", err
	}
	select {
	case rep := <-req.reply:
		return rep.userID, rep.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
