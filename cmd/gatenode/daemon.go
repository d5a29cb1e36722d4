package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatenode-ai/gatenode/internal/client"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/procutil"
	gatenoderuntime "github.com/gatenode-ai/gatenode/internal/runtime"
)

const (
	daemonRequestTimeout = 10 * time.Second
	daemonStartTimeout   = 10 * time.Second
	// daemonStopGrace bounds how long stop waits for the process to exit
	// after a graceful termination request before signalling by PID.
	daemonStopGrace  = 5 * time.Second
	daemonBinaryName = "gatenoded"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemonStatusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	daemonStartCmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the daemon in the background",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStart,
	}

	daemonStopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonRestartCmd := &cobra.Command{
		Use:           "restart",
		Short:         "Restart the daemon subsystems",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonRestart,
	}

	daemonCmd.AddCommand(daemonStatusCmd, daemonStartCmd, daemonStopCmd, daemonRestartCmd)
	return daemonCmd
}

// nodeStatus prints the full node status snapshot.
func nodeStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), daemonRequestTimeout)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return out.Error("Failed to fetch node status", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Node Status:")
	fmt.Printf("  Running: %v\n", status.Running)
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Listen Address: %s\n", status.ListenAddress)
	fmt.Printf("  Users: %d\n", status.UserCount)
	fmt.Printf("  Upstreams: %d\n", status.UpstreamCount)
	if status.TLSForwardEnabled {
		fmt.Printf("  TLS Forward: %s\n", status.TLSForwardStatus.State)
		if status.TLSForwardStatus.Domain != "" {
			fmt.Printf("  TLS Domain: %s\n", status.TLSForwardStatus.Domain)
		}
		if status.TLSForwardStatus.Message != "" {
			fmt.Printf("  TLS Message: %s\n", status.TLSForwardStatus.Message)
		}
	} else {
		fmt.Println("  TLS Forward: disabled")
	}
	if status.NeedsBootstrap {
		fmt.Println("  Bootstrap: required (run 'gatenode bootstrap')")
	}

	return nil
}

// daemonStatus reports whether the daemon process is up, falling back to
// the PID file when the API does not answer.
func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to resolve daemon endpoint", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), daemonRequestTimeout)
	defer cancel()

	status, err := c.Status(ctx)
	if err == nil {
		if out.jsonMode {
			return out.Print(map[string]any{
				"running":        true,
				"version":        status.Version,
				"listen_address": status.ListenAddress,
			})
		}
		fmt.Printf("Daemon running at %s (version %s)\n", status.ListenAddress, status.Version)
		return nil
	}

	paths := config.GetInstancePaths(instanceFlag(cmd))
	pid, pidErr := gatenoderuntime.ReadPIDFile(paths.Lock)
	if pidErr == nil && procutil.IsProcessAlive(pid) {
		if out.jsonMode {
			return out.Print(map[string]any{
				"running": true,
				"pid":     pid,
				"api":     "unreachable",
			})
		}
		fmt.Printf("Daemon process alive (pid %d) but API unreachable: %v\n", pid, err)
		return nil
	}

	if out.jsonMode {
		return out.Print(map[string]any{"running": false})
	}
	fmt.Println("Daemon not running")
	return nil
}

// daemonStart launches gatenoded in the background and waits for the API
// to come up.
func daemonStart(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	instance := instanceFlag(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to resolve daemon endpoint", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), daemonRequestTimeout)
	if status, err := c.Status(ctx); err == nil {
		cancel()
		return out.Success("Daemon already running", map[string]any{
			"listen_address": status.ListenAddress,
		})
	}
	cancel()

	binary, err := locateDaemonBinary()
	if err != nil {
		return out.Error("Failed to locate gatenoded binary", err)
	}

	daemonArgs := []string{}
	if instance != "" {
		daemonArgs = append(daemonArgs, "--instance", instance)
	}

	proc := exec.Command(binary, daemonArgs...)
	proc.Stdout = nil
	proc.Stderr = nil
	proc.Stdin = nil
	if err := proc.Start(); err != nil {
		return out.Error("Failed to start daemon", err)
	}
	pid := proc.Process.Pid
	if err := proc.Process.Release(); err != nil {
		return out.Error("Failed to detach from daemon process", err)
	}

	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		pollCtx, pollCancel := context.WithTimeout(context.Background(), time.Second)
		status, err := c.Status(pollCtx)
		pollCancel()
		if err == nil {
			return out.Success("Daemon started", map[string]any{
				"pid":            pid,
				"listen_address": status.ListenAddress,
			})
		}
		time.Sleep(200 * time.Millisecond)
	}

	return out.Error("Daemon process launched but API did not come up", fmt.Errorf("pid %d, no response within %s", pid, daemonStartTimeout))
}

// daemonStop asks the daemon to shut down over the API, falling back to a
// termination signal via the PID file.
func daemonStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	var apiErr error
	if c, err := newClient(cmd); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), daemonRequestTimeout)
		err := c.ShutdownDaemon(ctx)
		cancel()
		if err == nil {
			return out.Success("Shutdown request sent to daemon", map[string]any{
				"method": "api",
			})
		}
		apiErr = err
		if errors.Is(err, client.ErrUnauthorized) {
			return out.Error("Daemon shutdown requires owner privileges", err)
		}
	} else {
		apiErr = err
	}

	paths := config.GetInstancePaths(instanceFlag(cmd))
	pid, err := gatenoderuntime.ReadPIDFile(paths.Lock)
	if err != nil {
		return out.Error("Failed to stop daemon via API and local fallback", fmt.Errorf("%v; %w", apiErr, err))
	}

	if proc, err := os.FindProcess(pid); err == nil {
		if err := procutil.GracefulTerminate(proc); err == nil {
			deadline := time.Now().Add(daemonStopGrace)
			for time.Now().Before(deadline) {
				if !procutil.IsProcessAlive(pid) {
					return out.Success("Daemon stopped", map[string]any{
						"pid":    pid,
						"method": "signal",
					})
				}
				time.Sleep(200 * time.Millisecond)
			}
		}
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal daemon", err)
	}

	return out.Success("Sent termination signal to daemon", map[string]any{
		"pid":    pid,
		"method": "signal",
	})
}

// daemonRestart bounces the daemon subsystems without stopping the process.
func daemonRestart(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.RestartDaemon(ctx); err != nil {
		return out.Error("Failed to restart daemon", err)
	}

	return out.Success("Daemon subsystems restarted", nil)
}

// locateDaemonBinary prefers a gatenoded next to this executable, then PATH.
func locateDaemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), daemonBinaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath(daemonBinaryName)
}
