package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/models"
)

func newFetchCmd(loadConfig func() *config.Config) *cobra.Command {
	var (
		screenshots bool
		refresh     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Process URLs once and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(loadConfig())
			defer a.close()

			if refresh {
				// Entries are keyed by resolved URL, so this only evicts
				// URLs that do not redirect.
				for _, u := range args {
					a.store.Delete(u)
				}
			}

			contents := a.orchestrator.ProcessAll(cmd.Context(), args)
			return writeResults(cmd.OutOrStdout(), args, contents, screenshots)
		},
	}
	cmd.Flags().BoolVar(&screenshots, "screenshots", false, "embed base64 screenshots in the output")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop cached entries for the given URLs first")
	return cmd
}

func writeResults(w io.Writer, urls []string, contents []*models.ScrapedContent, withScreenshots bool) error {
	resp := models.ProcessResponse{Results: []*models.ContentResult{}}
	for i, c := range contents {
		if c == nil {
			resp.Missing = append(resp.Missing, urls[i])
			continue
		}
		resp.Results = append(resp.Results, models.NewContentResult(c, withScreenshots))
	}
	resp.Success = len(resp.Results) > 0

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("no URL produced content")
	}
	return nil
}
