package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	configstore "github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/daemon"
	"github.com/gatenode-ai/gatenode/internal/eventbus"
	"github.com/gatenode-ai/gatenode/internal/observability"
	"github.com/gatenode-ai/gatenode/internal/procutil"
	gatenoderuntime "github.com/gatenode-ai/gatenode/internal/runtime"
	"github.com/gatenode-ai/gatenode/internal/server"
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
	"github.com/gatenode-ai/gatenode/internal/validate"
	gatenodeversion "github.com/gatenode-ai/gatenode/internal/version"
)

func main() {
	var instanceName string

	rootCmd := &cobra.Command{
		Use:           "gatenoded",
		Short:         "Gatenode daemon - gateway node control plane and HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(instanceName)
		},
	}
	rootCmd.PersistentFlags().StringVar(&instanceName, "instance", config.DefaultInstance, "instance name under ~/.gatenode/instances")
	rootCmd.Version = gatenodeversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(instanceName string) error {
	if !validate.Ident(instanceName) {
		return fmt.Errorf("invalid instance name %q", instanceName)
	}
	paths, err := config.EnsureInstanceDirs(instanceName)
	if err != nil {
		return fmt.Errorf("prepare instance directories: %w", err)
	}

	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if pid, err := gatenoderuntime.ReadPIDFile(paths.Lock); err == nil && procutil.IsProcessAlive(pid) {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	store, err := configstore.Open(configstore.Options{
		InstanceName: instanceName,
		DBPath:       paths.ConfigDB,
	})
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	settings, err := loadSettings(ctx, store, paths)
	if err != nil {
		return err
	}

	eventCounter := observability.NewEventCounter()
	bus := eventbus.New(eventbus.WithObserver(eventCounter))
	defer bus.Shutdown()

	actor, err := daemon.New(ctx, daemon.Options{
		Settings: settings,
		Access:   access.NewManager(nil),
		Store:    store,
		Bus:      bus,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	apiServer, err := server.NewAPIServer(server.Options{
		Handle:  actor.Handle(),
		Store:   store,
		Bus:     bus,
		Metrics: observability.NewExporter(bus, eventCounter),
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	actor.AttachListener(apiServer)

	dialer := tlsforward.NewRelayDialer(tlsforward.RelayDialerOptions{
		NodeID:    instanceName,
		Heartbeat: time.Duration(settings.TLSForward.HeartbeatSeconds) * time.Second,
	})
	supervisor := tlsforward.NewSupervisor(dialer, actor.ReportTLSForwardStatus)
	actor.AttachSupervisor(supervisor)

	if err := gatenoderuntime.WritePIDFile(paths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer gatenoderuntime.RemovePIDFile(paths.Lock)

	host := gatenoderuntime.NewServiceHost()
	if err := host.Register("tlsforward", &tunnelService{supervisor: supervisor}); err != nil {
		return fmt.Errorf("register tlsforward service: %w", err)
	}
	if err := host.Register("daemon", &daemonService{actor: actor, api: apiServer},
		gatenoderuntime.WithShutdownTimeout(10*time.Second)); err != nil {
		return fmt.Errorf("register daemon service: %w", err)
	}

	if err := host.Start(ctx); err != nil {
		log.Printf("[Main] start: %v", err)
	}
	log.Printf("[Main] gatenoded started (PID %d, instance %q)", os.Getpid(), instanceName)
	log.Printf("[Main] HTTP API: http://%s", settings.Server.ListenAddress())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("[Main] received signal %s, shutting down", sig)
	case err := <-host.Errors():
		log.Printf("[Main] service failure: %v", err)
	case <-actor.Done():
		log.Printf("[Main] daemon terminated via API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := host.Stop(shutdownCtx); err != nil {
		log.Printf("[Main] stop services: %v", err)
	}

	log.Println("[Main] daemon stopped")
	return nil
}

// tunnelService ties the supervisor goroutine's lifetime to the host. The
// tunnel itself is enabled and disabled by the daemon as configuration
// changes; the service exists for ordered teardown.
type tunnelService struct {
	supervisor *tlsforward.Supervisor
}

func (s *tunnelService) Start(ctx context.Context) error { return nil }

func (s *tunnelService) Shutdown(ctx context.Context) error {
	s.supervisor.Shutdown()
	return nil
}

// daemonService adapts the actor and its HTTP listener to the service host.
// The actor supervises the listener internally; the adapter forwards the
// listener's fatal serve errors so the host surfaces them.
type daemonService struct {
	actor *daemon.Actor
	api   *server.APIServer
}

func (s *daemonService) Start(ctx context.Context) error {
	return s.actor.Start(ctx)
}

func (s *daemonService) Shutdown(ctx context.Context) error {
	owner := access.System("gatenoded", access.IdentityContext{Owner: true})
	if err := s.actor.Handle().WithIdentity(owner).Shutdown(ctx); err != nil {
		return err
	}
	return s.api.Shutdown(ctx)
}

func (s *daemonService) Errors() <-chan error {
	return s.api.Errors()
}

// loadSettings prefers the persisted configuration; a fresh node falls back
// to the optional YAML seed file and persists the result.
func loadSettings(ctx context.Context, store *configstore.Store, paths config.InstancePaths) (config.Settings, error) {
	settings, err := store.LoadNodeSettings(ctx)
	if err == nil {
		return settings, nil
	}
	if !configstore.IsNotFound(err) {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	settings, seeded, err := config.LoadSeedFile(paths.Seed)
	if err != nil {
		return config.Settings{}, err
	}
	if seeded {
		log.Printf("[Main] seeding configuration from %s", paths.Seed)
	}
	if err := store.SaveNodeSettings(ctx, settings); err != nil {
		return config.Settings{}, fmt.Errorf("persist seeded settings: %w", err)
	}
	return settings, nil
}

func setupLogging(paths config.InstancePaths) error {
	if err := os.MkdirAll(paths.Logs, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags)
	return nil
}
