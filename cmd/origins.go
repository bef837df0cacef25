package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func newOriginsCmd() *cobra.Command {
	var unauthorized bool
	cmd := &cobra.Command{
		Use:   "origins",
		Short: "Manages the authorized and unauthorized origin prefix lists",
	}
	cmd.PersistentFlags().BoolVar(&unauthorized, "unauthorized", false, "operate on the unauthorized list")
	kind := func() savecode.OriginListKind {
		if unauthorized {
			return savecode.UnauthorizedOrigins
		}
		return savecode.AuthorizedOrigins
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists the prefixes of a list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			prefixes, err := app.Lifecycle().ListOrigins(cmd.Context(), kind())
			if err != nil {
				return fmt.Errorf("list %s origins: %w", kind(), err)
			}
			out := cmd.OutOrStdout()
			if len(prefixes) == 0 {
				fmt.Fprintf(out, "no %s origins\n", kind())
				return nil
			}
			for _, p := range prefixes {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <prefix>...",
		Short: "Adds prefixes to a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, prefix := range args {
				if err := app.Lifecycle().AddOrigin(cmd.Context(), kind(), strings.TrimSpace(prefix)); err != nil {
					return fmt.Errorf("add %s origin %q: %w", kind(), prefix, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("ADDED  "), prefix)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <prefix>...",
		Short: "Removes prefixes from a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, prefix := range args {
				if err := app.Lifecycle().RemoveOrigin(cmd.Context(), kind(), strings.TrimSpace(prefix)); err != nil {
					return fmt.Errorf("remove %s origin %q: %w", kind(), prefix, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgRed).Sprint("REMOVED"), prefix)
			}
			return nil
		},
	})
	return cmd
}
