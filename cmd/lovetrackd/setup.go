package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lovetrack/lovetrack/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup: write config and store the API token in the Keychain",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== lovetrack setup ===")
	fmt.Println()

	// Current values become the prompt defaults.
	existing, err := config.Load()
	if err != nil {
		existing = config.Default()
	}
	cfg := *existing

	fmt.Println("-- Server --")
	cfg.Server.Addr = prompt(reader, "Listen address", existing.Server.Addr)

	token := promptSecret(reader, "API token for stream clients", existing.Server.APIToken != "")
	if token != "" {
		if err := config.SetKeychainSecret(config.KeyAPIToken, token); err != nil {
			return fmt.Errorf("storing API token in Keychain: %w", err)
		}
		fmt.Println("  token stored in Keychain")
	} else {
		fmt.Println("  token unchanged")
	}
	fmt.Println()

	fmt.Println("-- Device --")
	emulated := prompt(reader, "Use synthetic trackpad (y/N)", boolDefault(existing.Device.Emulated))
	cfg.Device.Emulated = strings.EqualFold(emulated, "y") || strings.EqualFold(emulated, "yes")

	if err := config.WriteConfigFile(&cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Wrote %s\n", config.DefaultConfigPath())
	fmt.Println("Run `lovetrackd` to start the daemon.")
	return nil
}

func prompt(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

func promptSecret(reader *bufio.Reader, label string, hasExisting bool) string {
	if hasExisting {
		fmt.Printf("%s [leave empty to keep existing]: ", label)
	} else {
		fmt.Printf("%s [leave empty to disable auth]: ", label)
	}
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func boolDefault(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
