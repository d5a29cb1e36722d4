package tlsforward

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gatenode-ai/gatenode/internal/config"
)

// Tunnel abstracts the relay mesh and certificate issuance client. The wire
// protocol lives entirely behind this interface.
type Tunnel interface {
	// Dial establishes an outbound tunnel through one of the relay
	// addresses and completes certificate issuance for the node's domain.
	Dial(ctx context.Context, relays []string) (Conn, error)
}

// Conn is a live tunnel connection.
type Conn interface {
	// Domain returns the public HTTPS domain served through the tunnel.
	Domain() string
	// CertificateExpiry returns the not-after time of the active certificate.
	CertificateExpiry() time.Time
	// Renew reissues the certificate and returns the new expiry.
	Renew(ctx context.Context) (time.Time, error)
	// Done is closed when the connection drops.
	Done() <-chan struct{}
	Close() error
}

const (
	defaultBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute
	// renewRetryInterval paces renewal attempts after a failed renewal
	// while the tunnel itself is still live.
	renewRetryInterval = time.Minute
)

// Supervisor owns the tunnel lifecycle state machine. It runs independently
// of the daemon actor and reports every transition through the notify
// function; it never mutates daemon state directly.
type Supervisor struct {
	tunnel Tunnel
	notify func(Status)
	logger *log.Logger

	initialBackoff time.Duration
	renewRetry     time.Duration
	syncNotify     bool

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyCh  chan Status
	notifyWG  sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the supervisor logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialBackoff overrides the initial dial retry backoff, ignoring the
// configured reconnect interval.
func WithDialBackoff(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.initialBackoff = d
		}
	}
}

// WithRenewRetryInterval overrides the pause between renewal attempts after
// a failed renewal.
func WithRenewRetryInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.renewRetry = d
		}
	}
}

// withSynchronousNotify delivers notifications inline from the transitioning
// goroutine instead of through the notifier queue. Lossless ordering for
// tests; the notify function must not call back into the supervisor.
func withSynchronousNotify() Option {
	return func(s *Supervisor) {
		s.syncNotify = true
	}
}

// NewSupervisor creates a supervisor in the Disabled state. notify is invoked
// for every applied transition, in order, from a dedicated goroutine so that
// callers holding the supervisor are never blocked by a slow observer.
func NewSupervisor(tunnel Tunnel, notify func(Status), opts ...Option) *Supervisor {
	s := &Supervisor{
		tunnel:     tunnel,
		notify:     notify,
		logger:     log.Default(),
		status:     Disabled(),
		renewRetry: renewRetryInterval,
		notifyCh:   make(chan Status, 16),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.syncNotify {
		s.notifyWG.Add(1)
		go s.notifyLoop()
	}
	return s
}

// Current returns the last applied status.
func (s *Supervisor) Current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Enable turns the tunnel feature on and starts the connection loop.
// It fails if the supervisor is not currently disabled.
func (s *Supervisor) Enable(cfg config.TLSForwardSettings) error {
	s.mu.Lock()
	if s.status.State != StateDisabled {
		s.mu.Unlock()
		return fmt.Errorf("tlsforward: already enabled (state %s)", s.status.State)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.applyLocked(Disconnected())
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, cfg)
	}()
	return nil
}

// Disable turns the tunnel feature off from any state. It is idempotent and
// waits for the connection loop to exit before reporting Disabled.
func (s *Supervisor) Disable() {
	s.mu.Lock()
	if s.status.State == StateDisabled {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.applyLocked(Disabled())
	s.mu.Unlock()
}

// Shutdown disables the tunnel and stops the notifier goroutine.
func (s *Supervisor) Shutdown() {
	s.Disable()
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.notifyWG.Wait()
}

// transition applies a state change if it follows a declared edge.
// Repeated identical states collapse silently so that internal retries stay
// invisible to observers.
func (s *Supervisor) transition(to Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(to)
}

func (s *Supervisor) applyLocked(to Status) {
	if s.status == to {
		return
	}
	if !canTransition(s.status.State, to.State) {
		s.logger.Printf("[TLSForward] refusing illegal transition %s -> %s", s.status, to)
		return
	}
	s.status = to
	s.publish(to)
}

// publish enqueues a status for the notifier goroutine. The queue is
// latest-wins under pressure: observers see an eventually consistent view,
// never a blocked supervisor.
func (s *Supervisor) publish(st Status) {
	if s.syncNotify {
		if s.notify != nil {
			s.notify(st)
		}
		return
	}
	select {
	case s.notifyCh <- st:
		return
	default:
	}
	select {
	case <-s.notifyCh:
	default:
	}
	select {
	case s.notifyCh <- st:
	default:
	}
}

func (s *Supervisor) notifyLoop() {
	defer s.notifyWG.Done()
	for {
		select {
		case st := <-s.notifyCh:
			if s.notify != nil {
				s.notify(st)
			}
		case <-s.closed:
			// Drain what is already queued, then exit.
			for {
				select {
				case st := <-s.notifyCh:
					if s.notify != nil {
						s.notify(st)
					}
				default:
					return
				}
			}
		}
	}
}

// run drives the connect/serve/reconnect cycle until ctx is cancelled.
func (s *Supervisor) run(ctx context.Context, cfg config.TLSForwardSettings) {
	backoff := s.initialBackoff
	if backoff <= 0 {
		backoff = time.Duration(cfg.ReconnectBackoff) * time.Second
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	wait := backoff
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.transition(Connecting())

		conn, err := s.tunnel.Dial(ctx, cfg.RelayAddresses)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			if cfg.MaxReconnects > 0 && attempts >= cfg.MaxReconnects {
				s.logger.Printf("[TLSForward] giving up after %d attempts: %v", attempts, err)
				s.transition(Failed(fmt.Sprintf("relay dial failed after %d attempts: %v", attempts, err)))
				return
			}
			s.logger.Printf("[TLSForward] dial attempt %d failed, retrying in %s: %v", attempts, wait, err)
			if !sleep(ctx, wait) {
				return
			}
			wait = nextBackoff(wait)
			continue
		}

		attempts = 0
		wait = backoff
		s.transition(Connected(conn.Domain()))

		dropped := s.serve(ctx, conn, cfg)
		if !dropped {
			// Shutdown or disable.
			conn.Close()
			return
		}

		s.logger.Printf("[TLSForward] tunnel to %s dropped, reconnecting", conn.Domain())
		conn.Close()
		if !cfg.AutoReconnect {
			s.transition(Failed("tunnel dropped and auto reconnect is off"))
			return
		}
	}
}

// serve watches a live connection: renews the certificate ahead of expiry and
// detects drops. Returns true when the connection dropped and the caller
// should reconnect, false on cancellation.
func (s *Supervisor) serve(ctx context.Context, conn Conn, cfg config.TLSForwardSettings) bool {
	renewBefore := time.Duration(cfg.RenewBeforeExpiry) * 24 * time.Hour
	expiry := conn.CertificateExpiry()

	for {
		renewIn := time.Until(expiry.Add(-renewBefore))
		if renewIn < 0 {
			renewIn = 0
		}
		timer := time.NewTimer(renewIn)

		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-conn.Done():
			timer.Stop()
			return true
		case <-timer.C:
		}

		newExpiry, ok := s.renew(ctx, conn)
		if !ok {
			return ctx.Err() == nil && connDropped(conn)
		}
		expiry = newExpiry
	}
}

// renew performs one proactive renewal cycle. A failed renewal surfaces as
// the Error state but keeps the live tunnel up; renewal is retried until it
// succeeds, the connection drops, or the supervisor stops.
func (s *Supervisor) renew(ctx context.Context, conn Conn) (time.Time, bool) {
	for {
		s.transition(Connecting())

		expiry, err := conn.Renew(ctx)
		if err == nil {
			s.transition(Connected(conn.Domain()))
			return expiry, true
		}
		if ctx.Err() != nil {
			return time.Time{}, false
		}

		s.logger.Printf("[TLSForward] certificate renewal for %s failed: %v", conn.Domain(), err)
		s.transition(Failed(fmt.Sprintf("certificate renewal failed: %v", err)))

		select {
		case <-ctx.Done():
			return time.Time{}, false
		case <-conn.Done():
			return time.Time{}, false
		case <-time.After(s.renewRetry):
		}
	}
}

func connDropped(conn Conn) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
