package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/api"
	"github.com/JakeFAU/rostertrack/internal/pipeline"
	"github.com/JakeFAU/rostertrack/internal/programs"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

type programReport struct {
	URL       string                  `json:"url"`
	Site      string                  `json:"site"`
	Pages     int                     `json:"pages"`
	Snapshots int                     `json:"snapshots"`
	People    int                     `json:"people"`
	Version   int                     `json:"version,omitempty"`
	Written   bool                    `json:"written"`
	Error     string                  `json:"error,omitempty"`
	Summaries []tracker.PersonSummary `json:"summaries,omitempty"`
}

func newRunCmd() *cobra.Command {
	var (
		dryRun       bool
		programsFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every program and merge the results into the dataset",
		Long: `Discovers the pages of every program in the program list, resolves their archived
snapshots, extracts and aggregates names, then commits a new dataset version when
new people were found. With --dry-run the dataset is left untouched and the
aggregated summaries are printed instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if programsFile == "" {
				programsFile = a.Config.ProgramsFile
			}
			list, err := programs.Load(programsFile)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			serverDone := make(chan error, 1)
			if a.Config.Metrics.Enabled {
				go func() { serverDone <- api.NewServer(a.Dataset, a.Logger).ListenAndServe(ctx, a.Config.Metrics.Addr) }()
			} else {
				close(serverDone)
			}

			report, runErr := a.Orchestrator(dryRun).Run(ctx, list)
			cancel()
			if err := <-serverDone; err != nil {
				a.Logger.Warn("ops server stopped with error", zap.Error(err))
			}

			if err := writeReport(cmd, report, dryRun); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if failed := report.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d programs failed", failed, len(report.Results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print summaries without updating the dataset")
	cmd.Flags().StringVar(&programsFile, "programs", "", "program list (defaults to programs_file from config)")
	return cmd
}

func writeReport(cmd *cobra.Command, report pipeline.Report, withSummaries bool) error {
	out := make([]programReport, 0, len(report.Results))
	for _, res := range report.Results {
		r := programReport{
			URL:       res.Program.BaseURL,
			Site:      string(res.Site),
			Pages:     res.Pages,
			Snapshots: res.Snapshots,
			People:    len(res.Summaries),
			Version:   res.Version,
			Written:   res.Written,
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		if withSummaries {
			r.Summaries = res.Summaries
		}
		out = append(out, r)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
