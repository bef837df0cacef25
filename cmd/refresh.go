package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reconciles every accepted, unfinished save request once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			refreshed, err := app.Lifecycle().RefreshPending(cmd.Context())
			counts := map[savecode.TaskStatus]int{}
			for _, req := range refreshed {
				counts[req.LoadingTaskStatus]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "refreshed %d save requests\n", len(refreshed))
			for _, status := range taskStatusOrder {
				if n := counts[status]; n > 0 {
					fmt.Fprintf(out, "  %s %d\n", colorTaskStatus(status), n)
				}
			}
			if err != nil {
				app.Logger().Warn("refresh incomplete", zap.Error(err))
				return fmt.Errorf("refresh pending: %w", err)
			}
			return nil
		},
	}
}

var taskStatusOrder = []savecode.TaskStatus{
	savecode.TaskNotCreated,
	savecode.TaskNotYetScheduled,
	savecode.TaskScheduled,
	savecode.TaskRunning,
	savecode.TaskSucceeded,
	savecode.TaskFailed,
}
