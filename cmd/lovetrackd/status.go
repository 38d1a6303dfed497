package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lovetrack/lovetrack/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running daemon to shut down",
	RunE:  runStop,
}

// daemonRequest builds a request against the configured daemon address.
func daemonRequest(method, path string) (*http.Request, error) {
	cfg := loadConfig()
	req, err := http.NewRequest(method, "http://"+cfg.Server.Addr+path, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Server.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIToken)
	}
	return req, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	req, err := daemonRequest(http.MethodGet, "/api/status")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var status struct {
		Source  string `json:"source"`
		Uptime  string `json:"uptime"`
		Clients int    `json:"wsClients"`
		Error   string `json:"error"`
		Stats   struct {
			Frames         uint64 `json:"frames"`
			ActiveTouches  int    `json:"activeTouches"`
			PeakTouches    int    `json:"peakTouches"`
			TruncatedPolls uint64 `json:"truncatedPolls"`
			DroppedFrames  uint64 `json:"droppedFrames"`
		} `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	fmt.Println("=== lovetrackd ===")
	fmt.Printf("Source:         %s\n", status.Source)
	fmt.Printf("Uptime:         %s\n", status.Uptime)
	fmt.Printf("Frames:         %d\n", status.Stats.Frames)
	fmt.Printf("Active touches: %d (peak %d)\n", status.Stats.ActiveTouches, status.Stats.PeakTouches)
	fmt.Printf("Stream clients: %d\n", status.Clients)
	if status.Stats.TruncatedPolls > 0 || status.Stats.DroppedFrames > 0 {
		fmt.Printf("Truncated polls: %d, dropped frames: %d\n", status.Stats.TruncatedPolls, status.Stats.DroppedFrames)
	}
	if status.Error != "" {
		fmt.Printf("Source error:   %s\n", status.Error)
	}

	fmt.Println()
	fmt.Printf("Config file: %s", configPath())
	if flagConfig == "" {
		fmt.Printf(" (default)")
	}
	fmt.Println()
	if _, err := config.GetKeychainSecret(config.KeyAPIToken); err == nil {
		fmt.Println("API token:   set (Keychain)")
	} else {
		fmt.Println("API token:   not set")
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	req, err := daemonRequest(http.MethodPost, "/api/shutdown")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("shutdown requested")
	return nil
}
