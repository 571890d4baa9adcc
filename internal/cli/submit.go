package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/server"
)

var (
	submitClient   string
	submitName     string
	submitPriority string
	submitConfig   []string
	submitFollow   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <path>",
	Short: "Queue a project for processing",
	Long: `Queue a media file or directory for the full processing pipeline.

Config values are passed to every stage executor unchanged. Numbers and
booleans are detected automatically; everything else is a string.

Examples:
  reelqueue submit ./footage/wedding
  reelqueue submit ./interview.mov --priority urgent --client studio-a
  reelqueue submit ./footage --config lang=de --config fps=25 --follow`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitClient, "client", "", "client identifier")
	submitCmd.Flags().StringVar(&submitName, "name", "", "display name (default: last path segment)")
	submitCmd.Flags().StringVarP(&submitPriority, "priority", "p", "medium", "priority: low, medium, high, urgent")
	submitCmd.Flags().StringArrayVarP(&submitConfig, "config", "c", nil, "stage config as key=value (repeatable)")
	submitCmd.Flags().BoolVarP(&submitFollow, "follow", "f", false, "follow progress until the project finishes")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	priority, err := models.ParsePriority(submitPriority)
	if err != nil {
		return err
	}
	projectCfg, err := parseConfigPairs(submitConfig)
	if err != nil {
		return err
	}

	id, err := apiClient.Submit(ctx, server.SubmitRequest{
		SourcePath:  args[0],
		ClientID:    submitClient,
		DisplayName: submitName,
		Priority:    priority,
		Config:      projectCfg,
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	out := cmd.OutOrStdout()
	if !submitFollow {
		fmt.Fprintf(out, "Queued project %s (priority %s)\n", id, priority)
		fmt.Fprintf(out, "Use 'reelqueue projects %s' to check status.\n", id)
		return nil
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return RunProjectProgress(apiClient, id)
	}
	fmt.Fprintf(out, "Queued project %s (priority %s)\n", id, priority)
	return followProject(ctx, out, id)
}

// parseConfigPairs turns key=value flags into a project config.
func parseConfigPairs(pairs []string) (models.Config, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(models.Config, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config %q: want key=value", pair)
		}
		out[key] = parseConfigValue(value)
	}
	return out, nil
}

func parseConfigValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
