package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/contactpilot/contactpilot/internal/app"
	"github.com/contactpilot/contactpilot/internal/campaign"
)

func newRetryCmd(e *env) *cobra.Command {
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "retry <campaign-id>",
		Short: "Requeue failed submissions that are worth another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid campaign id: %w", err)
			}
			repos, err := e.repos()
			if err != nil {
				return err
			}

			opts := app.ProcessorOptions(e.cfg.Processor)
			if maxRetries > 0 {
				opts.MaxRetries = maxRetries
			}
			deps := campaign.Deps{
				Submissions: repos.Submissions,
				Campaigns:   repos.Campaigns,
				Profiles:    repos.Profiles,
			}
			events, err := e.events()
			if err != nil {
				return err
			}
			if events != nil {
				deps.Events = events
			}
			p := campaign.New(deps, opts, e.logger)

			report, err := p.RequeueFailed(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRequeueReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override the retry cap (default from PROCESSOR_MAX_RETRIES)")
	return cmd
}

func printRequeueReport(cmd *cobra.Command, r campaign.RequeueReport) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "scanned %d failed submissions\n", r.Scanned)
	green.Fprintf(out, "  requeued   %d\n", r.Requeued)
	yellow.Fprintf(out, "  exhausted  %d\n", len(r.Exhausted))
	red.Fprintf(out, "  permanent  %d\n", len(r.Permanent))

	for _, s := range r.Permanent {
		msg := ""
		if s.ErrorMessage != nil {
			msg = *s.ErrorMessage
		}
		dim.Fprintf(out, "    %s  %s\n", s.URL, msg)
	}
}
