package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adminx/perfgate/internal/common/adminclient"
)

var (
	// Global flags
	adminAddr string
	authKey   string
	timeout   time.Duration
	rawJSON   bool
)

// Command group IDs for organizing help output
const (
	GroupActions = "actions"
	GroupInspect = "inspect"
	GroupEvents  = "events"
)

var rootCmd = &cobra.Command{
	Use:   "perfctl",
	Short: "Control a running performance gateway",
	Long: `perfctl talks to the admin API of perf-gateway.

The admin address and key default to $ADMINX_INTERNAL_LISTEN and
$ADMINX_INTERNAL_AUTH_KEY so the same environment that configures the
gateway configures the CLI.`,
	SilenceUsage:               true,
	SilenceErrors:              true,
	SuggestionsMinimumDistance: 2,
}

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "perfctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", envOr("ADMINX_INTERNAL_LISTEN", "127.0.0.1:9090"), "admin API address")
	rootCmd.PersistentFlags().StringVar(&authKey, "key", os.Getenv("ADMINX_INTERNAL_AUTH_KEY"), "admin API key")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&rawJSON, "json", false, "print the raw JSON response")

	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupActions, Title: "Actions:"},
		&cobra.Group{ID: GroupInspect, Title: "Inspection:"},
		&cobra.Group{ID: GroupEvents, Title: "Content Events:"},
	)

	rootCmd.AddCommand(
		newCacheCmd(),
		newAssetsCmd(),
		newDBCmd(),
		newImagesCmd(),
		newPerfCmd(),
		newStatsCmd(),
		newHealthCmd(),
		newLogLevelCmd(),
		newEventCmd(),
	)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func newClient() (*adminclient.Client, error) {
	if authKey == "" {
		return nil, fmt.Errorf("admin key is required (--key or ADMINX_INTERNAL_AUTH_KEY)")
	}
	return adminclient.New(adminAddr, authKey, timeout)
}

// printResponse writes the message and the indented data section
func printResponse(w io.Writer, resp *adminclient.Response) error {
	if rawJSON {
		return json.NewEncoder(w).Encode(resp)
	}
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
