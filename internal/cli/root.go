// Package cli provides the command-line interface for reelqueue.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reelqueue/internal/client"
	"github.com/raphaelgruber/reelqueue/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reelqueue",
	Short: "Resource-aware batch scheduler for video projects",
	Long: `reelqueue queues video projects and runs each one through ingest,
transcription, scripting, timeline building and rendering, admitting only
as many projects at a time as the host's CPU, memory and cores allow.

The CLI talks to a running reelqueue-server; 'capacity' works without one.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		url := serverURL
		if url == "" {
			url = cfg.ServerURL
		}
		apiClient = client.New(url)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $REELQUEUE_SERVER_URL or http://localhost:8585)")

	// Add subcommands
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(capacityCmd)
}

