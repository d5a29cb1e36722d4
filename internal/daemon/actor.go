package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/eventbus"
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
)

// defaultMailboxSize bounds the actor mailbox. Submission blocks when the
// mailbox is full; shutdown drains it without accepting further admissions.
const defaultMailboxSize = 64

// Options configure a daemon actor.
type Options struct {
	// Settings is the initial configuration, usually loaded from the store.
	Settings config.Settings
	// Access evaluates every mutating request. Required.
	Access *access.Manager
	// Store persists settings and users. Optional; a nil store keeps all
	// state in memory.
	Store *store.Store
	// Listener is the HTTP listener subsystem the daemon supervises. Optional.
	Listener Subsystem
	// Bus receives a status snapshot after every applied mutation and
	// supervisor transition. Optional.
	Bus *eventbus.Bus
	// Logger defaults to log.Default().
	Logger *log.Logger
	// MailboxSize overrides the mailbox capacity. Defaults to 64.
	MailboxSize int
}

// Actor is the single sequential owner of the daemon's mutable state. All
// access goes through the mailbox; the actor processes one request at a time
// in strict submission order.
type Actor struct {
	mailbox chan request
	done    chan struct{}
	inner   *inner
	bus     *eventbus.Bus
	logger  *log.Logger

	startOnce sync.Once
	started   atomic.Bool
}

// New creates an actor. User count and the bootstrap latch are loaded from
// the store when one is configured.
func New(ctx context.Context, opts Options) (*Actor, error) {
	if opts.Access == nil {
		return nil, fmt.Errorf("daemon: access manager is required")
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	size := opts.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}

	in := &inner{
		logger:    logger,
		access:    opts.Access,
		store:     opts.Store,
		listener:  opts.Listener,
		settings:  opts.Settings.Clone(),
		tlsStatus: tlsforward.Disabled(),
	}

	if opts.Store != nil {
		count, err := opts.Store.CountUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("daemon: count users: %w", err)
		}
		in.userCount = count

		done, err := opts.Store.IsBootstrapComplete(ctx)
		if err != nil {
			return nil, fmt.Errorf("daemon: read bootstrap state: %w", err)
		}
		in.bootstrapDone = done

		// Per-user grants live only in the manager; rebuild them from the
		// persisted user table so owners keep their access across restarts.
		users, err := opts.Store.ListUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("daemon: list users: %w", err)
		}
		for _, user := range users {
			if user.Role != store.RoleOwner || user.Disabled {
				continue
			}
			for _, rule := range ownerUserRules(user.ID) {
				opts.Access.Grant(rule)
			}
		}
	}

	return &Actor{
		mailbox: make(chan request, size),
		done:    make(chan struct{}),
		inner:   in,
		bus:     opts.Bus,
		logger:  logger,
	}, nil
}

// AttachSupervisor wires the TLS-forward supervisor. Must be called before
// Start; the supervisor's notify function is expected to call
// ReportTLSForwardStatus on this actor.
func (a *Actor) AttachSupervisor(sup TunnelSupervisor) {
	if a.started.Load() {
		panic("daemon: AttachSupervisor after Start")
	}
	a.inner.supervisor = sup
}

// AttachListener wires the HTTP listener subsystem. Must be called before
// Start. The listener talks back through a Handle, which is why it cannot
// exist before the actor does.
func (a *Actor) AttachListener(l Subsystem) {
	if a.started.Load() {
		panic("daemon: AttachListener after Start")
	}
	a.inner.listener = l
}

// Start brings subsystems up and launches the actor loop. It is safe to call
// once; further calls are no-ops.
func (a *Actor) Start(ctx context.Context) error {
	var startErr error
	a.startOnce.Do(func() {
		a.started.Store(true)
		if err := a.inner.startSubsystems(ctx); err != nil {
			startErr = err
			// The loop still runs so callers get replies; status will
			// report running=false until a successful restart.
		}
		go a.loop()
	})
	return startErr
}

// Handle returns a client handle without a bound identity.
func (a *Actor) Handle() *Handle {
	return &Handle{actor: a}
}

// Done is closed when the actor has terminated.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// ReportTLSForwardStatus pushes a supervisor transition into the mailbox.
// After actor termination the update is discarded.
func (a *Actor) ReportTLSForwardStatus(st tlsforward.Status) {
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.mailbox <- &tlsforwardStatusUpdate{status: st}:
	case <-a.done:
	}
}

// loop is the single-writer core: pop, dispatch, reply, repeat. It
// terminates only after a shutdown request was processed and answered, then
// drains the mailbox forever so late senders never block.
func (a *Actor) loop() {
	for {
		req := <-a.mailbox
		if a.dispatch(req) {
			break
		}
	}
	close(a.done)
	go a.drain()
}

// dispatch handles one request and reports whether the loop must terminate.
// Every caller-initiated request produces exactly one reply; reply channels
// are buffered so an abandoned caller never blocks the actor.
func (a *Actor) dispatch(req request) (terminate bool) {
	ctx := context.Background()

	switch r := req.(type) {
	case *getStatusRequest:
		r.reply <- statusReply{status: a.inner.buildStatus()}

	case *getConfigRequest:
		settings, err := a.inner.getConfig(r.identity)
		r.reply <- configReply{settings: settings, err: err}

	case *updateConfigRequest:
		err := a.inner.updateConfig(ctx, r.identity, r.settings)
		r.reply <- err
		if err == nil {
			a.publishStatus()
		}

	case *restartRequest:
		err := a.inner.restart(ctx, r.identity)
		r.reply <- err
		a.publishStatus()

	case *shutdownRequest:
		err := a.inner.shutdown(ctx, r.identity)
		r.reply <- err
		if err == nil {
			a.logger.Printf("[Daemon] shutdown complete, actor terminating")
			return true
		}

	case *createFirstUserRequest:
		userID, err := a.inner.createFirstUser(ctx, r.name, r.password)
		r.reply <- userReply{userID: userID, err: err}
		if err == nil {
			a.publishStatus()
		}

	case *tlsforwardStatusUpdate:
		a.inner.applyTLSForwardStatus(r.status)
		eventbus.Publish(ctx, a.bus, eventbus.TLSForward.Status, eventbus.SourceTLSForward, eventbus.TLSForwardStatusEvent{
			State:   string(r.status.State),
			Domain:  r.status.Domain,
			Message: r.status.Message,
		})
		a.publishStatus()

	default:
		a.logger.Printf("[Daemon] dropping unknown request %T", req)
	}

	return false
}

// drain answers every queued and late-arriving request with ErrDaemonClosed.
// It runs until process exit; the select in submit makes new admissions rare.
func (a *Actor) drain() {
	for req := range a.mailbox {
		req.abort()
	}
}

func (a *Actor) publishStatus() {
	if a.bus == nil {
		return
	}
	st := a.inner.buildStatus()
	eventbus.Publish(context.Background(), a.bus, eventbus.Daemon.Status, eventbus.SourceDaemon, eventbus.DaemonStatusEvent{
		Running:           st.Running,
		ListenAddress:     st.ListenAddress,
		UpstreamCount:     st.UpstreamCount,
		UserCount:         st.UserCount,
		TLSForwardEnabled: st.TLSForwardEnabled,
		TLSForwardState:   string(st.TLSForwardStatus.State),
		TLSForwardDomain:  st.TLSForwardStatus.Domain,
		NeedsBootstrap:    st.NeedsBootstrap,
	})
}
