package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/gatenode-ai/gatenode/internal/profile"
)

func newBootstrapCommand() *cobra.Command {
	bootstrapCmd := &cobra.Command{
		Use:           "bootstrap",
		Short:         "Create the first user and receive an owner API token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBootstrap,
	}
	bootstrapCmd.Flags().String("name", "", "Display name for the first user")
	bootstrapCmd.Flags().String("password", "", "Password for the first user (prompted when omitted)")
	bootstrapCmd.Flags().Bool("no-save", false, "Do not save the issued token to the client profile")
	return bootstrapCmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Remove the saved client profile and its token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			if err := profile.Remove(instanceFlag(cmd)); err != nil {
				return out.Error("Failed to remove client profile", err)
			}
			return out.Success("Client profile removed", nil)
		},
	}
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd)
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bs, err := c.GetBootstrapStatus(ctx)
	if err != nil {
		return out.Error("Failed to check bootstrap state", err)
	}
	if !bs.NeedsBootstrap {
		return out.Error("Node already has users; bootstrap runs only once", nil)
	}

	name, _ := cmd.Flags().GetString("name")
	name = strings.TrimSpace(name)
	if name == "" {
		name, err = promptLine("User name: ")
		if err != nil {
			return out.Error("Failed to read user name", err)
		}
	}
	if name == "" {
		return out.Error("User name must not be empty", nil)
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}
	if password == "" {
		return out.Error("Password must not be empty", nil)
	}

	result, err := c.CreateFirstUser(ctx, name, password)
	if err != nil {
		return out.Error("Bootstrap failed", err)
	}

	saved := false
	if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
		err := profile.Save(instanceFlag(cmd), &profile.Profile{
			BaseURL:  c.BaseURL(),
			APIToken: result.Token,
			UserID:   result.UserID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save client profile: %v\n", err)
		} else {
			saved = true
		}
	}

	if out.jsonMode {
		return out.Print(map[string]any{
			"user_id":       result.UserID,
			"token":         result.Token,
			"profile_saved": saved,
		})
	}

	fmt.Println("First user created:")
	fmt.Printf("  User ID: %s\n", result.UserID)
	fmt.Printf("  Token:   %s\n", result.Token)
	fmt.Println("Store this token securely; it will not be shown again.")
	if saved {
		fmt.Println("The token was saved to the client profile for future commands.")
	} else {
		fmt.Printf("Use it via --token or the %s environment variable.\n", "GATENODE_API_TOKEN")
	}
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads the password without echo when stdin is a terminal,
// asking twice to catch typos. Piped input is read as a single line.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return promptLine("")
	}

	fmt.Print("Password: ")
	first, err := terminal.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}

	fmt.Print("Confirm password: ")
	second, err := terminal.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
