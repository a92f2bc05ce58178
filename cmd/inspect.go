package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

func newSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots <url>",
		Short: "List the archived snapshots of a page, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			for _, s := range a.Archive.Resolve(cmd.Context(), args[0]) {
				live := ""
				if s.Live {
					live = "\tlive"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", s.CapturedAt, s.URL, live)
			}
			return nil
		},
	}
}

func newPagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pages <url>",
		Short: "List the paginated pages of a roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			for _, p := range a.Discoverer.Discover(cmd.Context(), args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <url>",
		Short: "Run a site's extraction module on one page and print the names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			html := a.Archive.Fetch(cmd.Context(), args[0])
			if html == "" {
				return fmt.Errorf("no content for %s", args[0])
			}
			names, err := a.Registry.Invoke(cmd.Context(), tracker.SiteIDFromURL(args[0]), html)
			if err != nil {
				return err
			}
			if err := a.Validator.Validate(html, names); err != nil {
				a.Logger.Sugar().Warnf("names failed validation: %v", err)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <url>",
		Short: "Make sure a site has a valid extraction module, generating one if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if a.Generator == nil {
				return fmt.Errorf("rule generation is disabled; set generator.enabled and an API key")
			}
			html := a.Archive.Fetch(cmd.Context(), args[0])
			if html == "" {
				return fmt.Errorf("no content for %s", args[0])
			}
			site := tracker.SiteIDFromURL(args[0])
			if err := a.Generator.EnsureValid(cmd.Context(), site, html); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: module valid\n", site)
			return nil
		},
	}
}
