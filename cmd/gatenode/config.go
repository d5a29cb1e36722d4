package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatenode-ai/gatenode/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:           "config",
		Short:         "Configuration management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configGetCmd := &cobra.Command{
		Use:           "get",
		Short:         "Show the node configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configGet,
	}

	configSetCmd := &cobra.Command{
		Use:           "set",
		Short:         "Update the node configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configSet,
	}
	configSetCmd.Flags().String("file", "", "Replace the whole configuration with a YAML file")
	configSetCmd.Flags().String("host", "", "Set HTTP listen host")
	configSetCmd.Flags().Int("port", 0, "Set HTTP listen port")
	configSetCmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins (repeatable, replaces existing)")
	configSetCmd.Flags().Bool("allow-local-bypass", false, "Allow tokenless loopback requests")
	configSetCmd.Flags().Bool("tlsforward", false, "Enable or disable the TLS forward tunnel")
	configSetCmd.Flags().StringSlice("relay-address", nil, "Relay addresses for the tunnel (repeatable, replaces existing)")

	configCmd.AddCommand(configGetCmd, configSetCmd)
	return configCmd
}

func configGet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), daemonRequestTimeout)
	defer cancel()

	settings, err := c.GetConfig(ctx)
	if err != nil {
		return out.Error("Failed to fetch configuration", err)
	}

	if out.jsonMode {
		return out.Print(settings)
	}

	rendered, err := yaml.Marshal(settings)
	if err != nil {
		return out.Error("Failed to render configuration", err)
	}
	fmt.Print(string(rendered))
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	flags := cmd.Flags()

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var settings config.Settings

	if flags.Changed("file") {
		path, _ := flags.GetString("file")
		data, err := os.ReadFile(path)
		if err != nil {
			return out.Error("Failed to read configuration file", err)
		}
		settings = config.DefaultSettings()
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return out.Error("Failed to parse configuration file", err)
		}
	} else {
		settings, err = c.GetConfig(ctx)
		if err != nil {
			return out.Error("Failed to fetch current configuration", err)
		}

		changed := false
		if flags.Changed("host") {
			host, _ := flags.GetString("host")
			settings.Server.Host = strings.TrimSpace(host)
			changed = true
		}
		if flags.Changed("port") {
			port, _ := flags.GetInt("port")
			settings.Server.Port = port
			changed = true
		}
		if flags.Changed("cors-origin") {
			origins, _ := flags.GetStringSlice("cors-origin")
			settings.Server.CORSOrigins = origins
			changed = true
		}
		if flags.Changed("allow-local-bypass") {
			bypass, _ := flags.GetBool("allow-local-bypass")
			settings.Server.AllowLocalBypass = bypass
			changed = true
		}
		if flags.Changed("tlsforward") {
			enabled, _ := flags.GetBool("tlsforward")
			settings.TLSForward.Enabled = enabled
			changed = true
		}
		if flags.Changed("relay-address") {
			relays, _ := flags.GetStringSlice("relay-address")
			settings.TLSForward.RelayAddresses = relays
			changed = true
		}
		if !changed {
			return out.Error("No changes requested; pass --file or at least one setting flag", nil)
		}
	}

	if err := c.UpdateConfig(ctx, settings); err != nil {
		return out.Error("Failed to update configuration", err)
	}

	return out.Success("Configuration updated", map[string]any{
		"listen_address": settings.Server.ListenAddress(),
	})
}
