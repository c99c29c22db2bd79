package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover-accounts",
		Short: "Return rested EXHAUSTED accounts to NORMAL once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			n, err := app.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d account(s)\n", n)
			return nil
		},
	}
}
