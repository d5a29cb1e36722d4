package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultShutdownTimeout bounds how long Stop waits on a single service.
const defaultShutdownTimeout = 5 * time.Second

// registration pairs a service with its name and shutdown budget.
type registration struct {
	name            string
	service         Service
	shutdownTimeout time.Duration
	watching        bool
}

// Option configures a service registration.
type Option func(*registration)

// WithShutdownTimeout overrides the per-service shutdown budget.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(reg *registration) {
		if timeout > 0 {
			reg.shutdownTimeout = timeout
		}
	}
}

// ServiceHost brings a fixed set of named services up in registration order
// and down in reverse. Services that expose an Errors channel have their
// fatal errors surfaced through the host's own Errors channel.
type ServiceHost struct {
	mu      sync.Mutex
	regs    []*registration
	names   map[string]bool
	started bool
	cancel  context.CancelFunc

	errors chan error
}

// NewServiceHost creates an empty service host.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{
		names:  make(map[string]bool),
		errors: make(chan error, 1),
	}
}

// Register adds a service under the given name. Registration closes once the
// host has started.
func (h *ServiceHost) Register(name string, svc Service, opts ...Option) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: cannot register service %q after start", name)
	}
	if h.names[name] {
		return fmt.Errorf("runtime: service %q already registered", name)
	}
	if svc == nil {
		return fmt.Errorf("runtime: service %q is nil", name)
	}

	reg := &registration{name: name, service: svc, shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(reg)
	}

	h.names[name] = true
	h.regs = append(h.regs, reg)
	return nil
}

// Start starts every registered service in registration order. If one fails,
// the services already started are shut down in reverse before the error
// returns, leaving the host stopped.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("runtime: service host already started")
	}
	h.started = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	regs := h.regs
	h.mu.Unlock()

	for i, reg := range regs {
		if err := reg.service.Start(runCtx); err != nil {
			h.rollback(regs[:i])
			cancel()
			h.mu.Lock()
			h.started = false
			h.cancel = nil
			h.mu.Unlock()
			return fmt.Errorf("runtime: start service %q: %w", reg.name, err)
		}
		h.watch(reg)
	}
	return nil
}

// Stop shuts services down in reverse registration order. Each service gets
// its own timeout derived from ctx; the first failure is reported after every
// service has been asked to stop.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel := h.cancel
	h.cancel = nil
	regs := h.regs
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var stopErr error
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		stopCtx, cancelStop := context.WithTimeout(ctx, reg.shutdownTimeout)
		if err := reg.service.Shutdown(stopCtx); err != nil && err != context.Canceled && stopErr == nil {
			stopErr = fmt.Errorf("runtime: shutdown service %q: %w", reg.name, err)
		}
		cancelStop()
	}
	return stopErr
}

// Errors returns a channel receiving fatal service errors.
func (h *ServiceHost) Errors() <-chan error {
	return h.errors
}

// rollback undoes a partial start in reverse order, ignoring shutdown errors.
func (h *ServiceHost) rollback(started []*registration) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	for i := len(started) - 1; i >= 0; i-- {
		_ = started[i].service.Shutdown(ctx)
	}
}

// watch forwards fatal errors from services that expose an error stream.
func (h *ServiceHost) watch(reg *registration) {
	if reg.watching {
		return
	}
	observable, ok := reg.service.(interface{ Errors() <-chan error })
	if !ok {
		return
	}
	reg.watching = true

	go func(name string, ch <-chan error) {
		for err := range ch {
			if err == nil {
				continue
			}
			select {
			case h.errors <- fmt.Errorf("%s service error: %w", name, err):
			default:
			}
		}
	}(reg.name, observable.Errors())
}
