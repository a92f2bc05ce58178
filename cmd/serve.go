package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/rostertrack/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the latest dataset until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return api.NewServer(a.Dataset, a.Logger).ListenAndServe(cmd.Context(), a.Config.Metrics.Addr)
		},
	}
}
