package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dumps every save request as JSON lines to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = app.ExportPrefix()
			}
			res, err := app.Exports().Export(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("export save requests: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d save requests to %s\n", res.Count, res.URI)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object prefix (defaults to storage.prefix)")
	return cmd
}
