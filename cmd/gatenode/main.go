package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatenode-ai/gatenode/internal/client"
	gatenodeversion "github.com/gatenode-ai/gatenode/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format.
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag.
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format.
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

// Success outputs a success message.
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message.
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

// newClient builds an API client honoring the global connection flags.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	baseURL, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	instance, _ := cmd.Flags().GetString("instance")
	return client.New(client.Options{
		BaseURL:      baseURL,
		Token:        token,
		InstanceName: instance,
	})
}

func instanceFlag(cmd *cobra.Command) string {
	instance, _ := cmd.Flags().GetString("instance")
	return instance
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "gatenode",
		Short: "Gatenode - control a gateway node daemon",
		Long: `Gatenode manages a local gateway node daemon: inspect its status,
bootstrap the first user, read and update its configuration, and
start or stop the daemon process.`,
	}
	rootCmd.Version = gatenodeversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("url", "", "Daemon API base URL (default: resolved from the local instance)")
	rootCmd.PersistentFlags().String("token", "", "API token (default: GATENODE_API_TOKEN)")
	rootCmd.PersistentFlags().String("instance", "", "Instance name (default \"default\")")
}

func main() {
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show node status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodeStatus,
	}

	rootCmd.AddCommand(statusCmd, newConfigCommand(), newBootstrapCommand(), newLogoutCommand(), newDaemonCommand(), newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
