package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gatenodeversion "github.com/gatenode-ai/gatenode/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		RunE:  runVersion,
	}
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := gatenodeversion.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var daemonVersion string
	var daemonReachable bool
	var daemonErr error
	if c, err := newClient(cmd); err == nil {
		status, statusErr := c.Status(ctx)
		if statusErr == nil {
			daemonReachable = true
			daemonVersion = status.Version
		} else {
			daemonErr = statusErr
		}
	} else {
		daemonErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if daemonReachable {
			if daemonVersion != "" {
				data["daemon"] = daemonVersion
			} else {
				data["daemon"] = "unknown"
			}
			if w := gatenodeversion.CheckVersionMismatch(daemonVersion); w != "" {
				data["mismatch"] = true
				data["warning"] = w
			}
		} else {
			data["daemon"] = nil
			if daemonErr != nil {
				data["daemon_error"] = daemonErr.Error()
			}
		}
		return out.Print(data)
	}

	fmt.Printf("Client: %s\n", gatenodeversion.FormatVersion(clientVersion))
	if daemonReachable {
		if daemonVersion != "" {
			fmt.Printf("Daemon: %s\n", gatenodeversion.FormatVersion(daemonVersion))
		} else {
			fmt.Println("Daemon: running (version unknown)")
		}
		if w := gatenodeversion.CheckVersionMismatch(daemonVersion); w != "" {
			fmt.Println(w)
		}
	} else {
		fmt.Printf("Daemon: unavailable (%v)\n", daemonErr)
	}

	return nil
}
