package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/testutil"
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
)

func ownerIdentity() access.Identity {
	return access.System("test-owner", access.IdentityContext{Owner: true})
}

func plainSystemIdentity() access.Identity {
	return access.System("bridge", access.IdentityContext{})
}

type fakeListener struct {
	mu       sync.Mutex
	events   []string
	startErr error
	running  bool
}

func (l *fakeListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return l.startErr
	}
	l.running = true
	l.events = append(l.events, "start")
	return nil
}

func (l *fakeListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.events = append(l.events, "stop")
	return nil
}

func (l *fakeListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSupervisor struct {
	mu       sync.Mutex
	enables  []config.TLSForwardSettings
	disables int
	status   tlsforward.Status
}

func (s *fakeSupervisor) Enable(cfg config.TLSForwardSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enables = append(s.enables, cfg)
	s.status = tlsforward.Disconnected()
	return nil
}

func (s *fakeSupervisor) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disables++
	s.status = tlsforward.Disabled()
}

func (s *fakeSupervisor) Current() tlsforward.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func startActor(t *testing.T, opts Options) *Actor {
	t.Helper()
	if opts.Access == nil {
		opts.Access = access.NewManager(nil)
	}
	if opts.Settings.Server.Host == "" {
		opts.Settings = config.DefaultSettings()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	actor, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("start actor: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = actor.Handle().WithIdentity(ownerIdentity()).Shutdown(ctx)
	})
	return actor
}

func TestFreshNodeStatus(t *testing.T) {
	actor := startActor(t, Options{})

	st, err := actor.Handle().Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.NeedsBootstrap {
		t.Fatal("fresh node should need bootstrap")
	}
	if st.TLSForwardStatus.State != tlsforward.StateDisabled {
		t.Fatalf("tlsforward status = %+v", st.TLSForwardStatus)
	}
	if st.UserCount != 0 || st.UpstreamCount != 0 {
		t.Fatalf("status = %+v", st)
	}
	if !strings.HasSuffix(st.ListenAddress, ":31145") {
		t.Fatalf("listen address = %q", st.ListenAddress)
	}
	if !st.Running {
		t.Fatal("started actor should report running")
	}
}

func TestUpdateConfigDeniedWithoutOwnerContext(t *testing.T) {
	str := testutil.OpenStore(t)
	sup := &fakeSupervisor{status: tlsforward.Disabled()}
	settings := config.DefaultSettings()
	settings.Server.Port = 8080

	actor, err := New(context.Background(), Options{
		Settings: settings,
		Access:   access.NewManager(nil),
		Store:    str,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	actor.AttachSupervisor(sup)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = actor.Handle().WithIdentity(ownerIdentity()).Shutdown(context.Background())
	})

	next := settings.Clone()
	next.Server.Port = 9090

	handle := actor.Handle().WithIdentity(plainSystemIdentity())
	err = handle.UpdateConfig(context.Background(), next)
	if !access.IsPermissionDenied(err) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	// Zero observable side effects.
	st, err := actor.Handle().Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.HasSuffix(st.ListenAddress, ":8080") {
		t.Fatalf("settings mutated after denial: %q", st.ListenAddress)
	}
	if _, err := str.LoadNodeSettings(context.Background()); !store.IsNotFound(err) {
		t.Fatalf("settings persisted after denial: %v", err)
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if len(sup.enables) != 0 || sup.disables != 0 {
		t.Fatal("supervisor touched after denial")
	}
}

func TestUpdateConfigAppliesAndPersists(t *testing.T) {
	str := testutil.OpenStore(t)
	settings := config.DefaultSettings()
	settings.Server.Port = 8080

	actor := startActor(t, Options{Settings: settings, Store: str})
	handle := actor.Handle().WithIdentity(ownerIdentity())

	next := settings.Clone()
	next.Server.Port = 9090
	if err := handle.UpdateConfig(context.Background(), next); err != nil {
		t.Fatalf("update config: %v", err)
	}

	st, err := actor.Handle().Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.HasSuffix(st.ListenAddress, ":9090") {
		t.Fatalf("listen address = %q", st.ListenAddress)
	}

	persisted, err := str.LoadNodeSettings(context.Background())
	if err != nil {
		t.Fatalf("load persisted settings: %v", err)
	}
	if persisted.Server.Port != 9090 {
		t.Fatalf("persisted port = %d", persisted.Server.Port)
	}
}

func TestUpdateConfigRejectsInvalidPayload(t *testing.T) {
	actor := startActor(t, Options{})
	handle := actor.Handle().WithIdentity(ownerIdentity())

	bad := config.DefaultSettings()
	bad.Server.Port = -1

	err := handle.UpdateConfig(context.Background(), bad)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	st, _ := actor.Handle().Status(context.Background())
	if !strings.HasSuffix(st.ListenAddress, ":31145") {
		t.Fatalf("settings mutated by invalid payload: %q", st.ListenAddress)
	}
}

func TestUpdateConfigTogglesTunnel(t *testing.T) {
	sup := &fakeSupervisor{status: tlsforward.Disabled()}
	settings := config.DefaultSettings()

	actor, err := New(context.Background(), Options{
		Settings: settings,
		Access:   access.NewManager(nil),
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	actor.AttachSupervisor(sup)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := actor.Handle().WithIdentity(ownerIdentity())
	t.Cleanup(func() { _ = handle.Shutdown(context.Background()) })

	next := settings.Clone()
	next.TLSForward.Enabled = true
	next.TLSForward.RelayAddresses = []string{"relay-1.example.net:443"}
	if err := handle.UpdateConfig(context.Background(), next); err != nil {
		t.Fatalf("enable tunnel: %v", err)
	}

	sup.mu.Lock()
	enables := len(sup.enables)
	sup.mu.Unlock()
	if enables != 1 {
		t.Fatalf("supervisor enables = %d", enables)
	}

	off := next.Clone()
	off.TLSForward.Enabled = false
	if err := handle.UpdateConfig(context.Background(), off); err != nil {
		t.Fatalf("disable tunnel: %v", err)
	}

	sup.mu.Lock()
	disables := sup.disables
	sup.mu.Unlock()
	if disables != 1 {
		t.Fatalf("supervisor disables = %d", disables)
	}
}

func TestSupervisorStatusFlowsIntoSnapshot(t *testing.T) {
	actor := startActor(t, Options{})

	actor.ReportTLSForwardStatus(tlsforward.Connecting())
	actor.ReportTLSForwardStatus(tlsforward.Connected("abc.private.example.org"))

	st, err := actor.Handle().Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TLSForwardStatus.State != tlsforward.StateConnected {
		t.Fatalf("state = %s", st.TLSForwardStatus.State)
	}
	if st.TLSForwardStatus.Domain != "abc.private.example.org" {
		t.Fatalf("domain = %q", st.TLSForwardStatus.Domain)
	}
}

func TestCreateFirstUserOnce(t *testing.T) {
	str := testutil.OpenStore(t)
	actor := startActor(t, Options{Store: str})
	handle := actor.Handle()

	userID, err := handle.CreateFirstUser(context.Background(), "admin", "correct horse battery staple")
	if err != nil {
		t.Fatalf("create first user: %v", err)
	}
	if userID == "" {
		t.Fatal("empty user id")
	}

	st, _ := handle.Status(context.Background())
	if st.NeedsBootstrap {
		t.Fatal("needs_bootstrap still true after first user")
	}
	if st.UserCount != 1 {
		t.Fatalf("user count = %d", st.UserCount)
	}

	_, err = handle.CreateFirstUser(context.Background(), "intruder", "pw")
	if !IsInvalidState(err) {
		t.Fatalf("second bootstrap should be InvalidState, got %v", err)
	}

	// The created user holds manage rights over node-wide objects.
	userHandle := handle.WithIdentity(access.User(userID, access.IdentityContext{}))
	next := config.DefaultSettings()
	next.Server.Port = 9191
	if err := userHandle.UpdateConfig(context.Background(), next); err != nil {
		t.Fatalf("owner user update config: %v", err)
	}
}

func TestBootstrapStaysClosedAfterUserDisabled(t *testing.T) {
	str := testutil.OpenStore(t)
	actor := startActor(t, Options{Store: str})
	handle := actor.Handle()

	userID, err := handle.CreateFirstUser(context.Background(), "admin", "pw-123456")
	if err != nil {
		t.Fatalf("create first user: %v", err)
	}

	if err := str.SetUserDisabled(context.Background(), userID, true); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	st, _ := handle.Status(context.Background())
	if st.NeedsBootstrap {
		t.Fatal("needs_bootstrap reopened after user disable")
	}

	if err := handle.WithIdentity(ownerIdentity()).Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// A fresh actor over the same store must honour the persisted latch.
	second := startActor(t, Options{Store: str})
	st, err = second.Handle().Status(context.Background())
	if err != nil {
		t.Fatalf("status on second actor: %v", err)
	}
	if st.NeedsBootstrap {
		t.Fatal("needs_bootstrap reopened on restart")
	}

	_, err = second.Handle().CreateFirstUser(context.Background(), "again", "pw")
	if !IsInvalidState(err) {
		t.Fatalf("bootstrap after restart should be InvalidState, got %v", err)
	}
}

func TestOwnerGrantsSurviveRestart(t *testing.T) {
	str := testutil.OpenStore(t)

	first := startActor(t, Options{Store: str})
	userID, err := first.Handle().CreateFirstUser(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("create first user: %v", err)
	}
	if err := first.Handle().WithIdentity(ownerIdentity()).Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// A fresh actor with a fresh permission manager must rebuild the owner
	// grants from the persisted user table.
	second := startActor(t, Options{Store: str})
	owner := second.Handle().WithIdentity(access.User(userID, access.IdentityContext{}))

	if _, err := owner.Config(context.Background()); err != nil {
		t.Fatalf("config read after restart: %v", err)
	}

	next := config.DefaultSettings()
	next.Server.Port = 31999
	if err := owner.UpdateConfig(context.Background(), next); err != nil {
		t.Fatalf("config write after restart: %v", err)
	}
	if err := owner.Restart(context.Background()); err != nil {
		t.Fatalf("daemon restart after process restart: %v", err)
	}
}

func TestDisabledOwnerGetsNoGrantsOnRestart(t *testing.T) {
	str := testutil.OpenStore(t)

	first := startActor(t, Options{Store: str})
	userID, err := first.Handle().CreateFirstUser(context.Background(), "admin", "correct horse")
	if err != nil {
		t.Fatalf("create first user: %v", err)
	}
	if err := str.SetUserDisabled(context.Background(), userID, true); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if err := first.Handle().WithIdentity(ownerIdentity()).Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	second := startActor(t, Options{Store: str})
	disabled := second.Handle().WithIdentity(access.User(userID, access.IdentityContext{}))
	if _, err := disabled.Config(context.Background()); !access.IsPermissionDenied(err) {
		t.Fatalf("disabled owner config read should be denied, got %v", err)
	}
}

func TestIdentityLessMutationFailsLocally(t *testing.T) {
	actor := startActor(t, Options{})
	handle := actor.Handle()

	if err := handle.UpdateConfig(context.Background(), config.DefaultSettings()); !IsInvalidState(err) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if err := handle.Restart(context.Background()); !IsInvalidState(err) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if err := handle.Shutdown(context.Background()); !IsInvalidState(err) {
		t.Fatalf("expected InvalidState, got %v", err)
	}

	// Read-only status works without an identity.
	if _, err := handle.Status(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestRestartOrdersSubsystems(t *testing.T) {
	listener := &fakeListener{}
	sup := &fakeSupervisor{status: tlsforward.Disabled()}
	settings := config.DefaultSettings()
	settings.TLSForward.Enabled = true
	settings.TLSForward.RelayAddresses = []string{"relay-1.example.net:443"}

	actor, err := New(context.Background(), Options{
		Settings: settings,
		Access:   access.NewManager(nil),
		Listener: listener,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	actor.AttachSupervisor(sup)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := actor.Handle().WithIdentity(ownerIdentity())
	t.Cleanup(func() { _ = handle.Shutdown(context.Background()) })

	if err := handle.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	events := listener.snapshot()
	want := []string{"start", "stop", "start"}
	if len(events) != len(want) {
		t.Fatalf("listener events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("listener events = %v, want %v", events, want)
		}
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.disables != 1 || len(sup.enables) != 2 {
		t.Fatalf("supervisor enables=%d disables=%d", len(sup.enables), sup.disables)
	}
}

func TestRestartSurfacesListenerFailure(t *testing.T) {
	listener := &fakeListener{}

	actor, err := New(context.Background(), Options{
		Settings: config.DefaultSettings(),
		Access:   access.NewManager(nil),
		Listener: listener,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := actor.Handle().WithIdentity(ownerIdentity())
	t.Cleanup(func() { _ = handle.Shutdown(context.Background()) })

	listener.mu.Lock()
	listener.startErr = errors.New("port in use")
	listener.mu.Unlock()

	err = handle.Restart(context.Background())
	if !IsServiceUnavailable(err) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}

	st, _ := actor.Handle().Status(context.Background())
	if st.Running {
		t.Fatal("status should report not running after failed restart")
	}
}

func TestRestartDeniedForPlainUser(t *testing.T) {
	actor := startActor(t, Options{})
	handle := actor.Handle().WithIdentity(access.User("u-1", access.IdentityContext{}))

	if err := handle.Restart(context.Background()); !access.IsPermissionDenied(err) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	actor := startActor(t, Options{})
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := config.DefaultSettings()
			next.Server.Port = 20000 + i
			next.Providers = []config.Provider{{
				Name:    fmt.Sprintf("upstream-%d", i),
				Type:    config.ProviderCustom,
				BaseURL: fmt.Sprintf("https://upstream-%d.example.net", i),
			}}
			handle := actor.Handle().WithIdentity(ownerIdentity())
			if err := handle.UpdateConfig(ctx, next); err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	settings, err := actor.Handle().WithIdentity(ownerIdentity()).Config(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	// The final settings must be exactly one submitted payload, never a
	// torn mix of fields from different writers.
	i := settings.Server.Port - 20000
	if i < 0 || i >= writers {
		t.Fatalf("final port %d from no writer", settings.Server.Port)
	}
	if len(settings.Providers) != 1 {
		t.Fatalf("providers = %+v", settings.Providers)
	}
	if want := fmt.Sprintf("upstream-%d", i); settings.Providers[0].Name != want {
		t.Fatalf("torn write: port from writer %d, provider %q", i, settings.Providers[0].Name)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	actor := startActor(t, Options{})
	handle := actor.Handle().WithIdentity(ownerIdentity())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := handle.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := handle.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	select {
	case <-actor.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not terminate")
	}

	if _, err := actor.Handle().Status(ctx); !errors.Is(err, ErrDaemonClosed) {
		t.Fatalf("status after shutdown = %v, want ErrDaemonClosed", err)
	}
}

func TestShutdownDeniedLeavesActorAlive(t *testing.T) {
	actor := startActor(t, Options{})

	err := actor.Handle().WithIdentity(plainSystemIdentity()).Shutdown(context.Background())
	if !access.IsPermissionDenied(err) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	if _, err := actor.Handle().Status(context.Background()); err != nil {
		t.Fatalf("actor should still serve after denied shutdown: %v", err)
	}
}
