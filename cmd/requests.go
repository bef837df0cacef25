package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func newRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspects save requests",
	}
	var (
		status    string
		visitType string
		query     string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Lists save requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reqs, err := app.Lifecycle().List(cmd.Context(), savecode.ListFilter{
				Status:    savecode.RequestStatus(status),
				VisitType: visitType,
				Query:     query,
			}, savecode.Page{Limit: limit})
			if err != nil {
				return fmt.Errorf("list save requests: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTYPE\tSTATUS\tTASK\tORIGIN")
			for _, req := range reqs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					req.ID,
					req.RequestDate.UTC().Format("2006-01-02 15:04"),
					req.VisitType,
					colorRequestStatus(req.Status),
					colorTaskStatus(req.LoadingTaskStatus),
					req.OriginURL,
				)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by request status (accepted, rejected, pending)")
	list.Flags().StringVar(&visitType, "visit-type", "", "filter by visit type")
	list.Flags().StringVar(&query, "q", "", "filter by origin url substring")
	list.Flags().IntVar(&limit, "limit", 50, "maximum requests to show")
	cmd.AddCommand(list)
	return cmd
}
