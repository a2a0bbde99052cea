package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/domain"
)

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status <campaign-id>",
		Short: "Show campaign counters and submission breakdown",
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

			ctx := cmd.Context()
			c, err := repos.Campaigns.Get(ctx, id)
			if err != nil {
				return err
			}
			counts, err := repos.Submissions.CountByStatus(ctx, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold.Fprintf(out, "%s ", c.Name)
			statusColor(c.Status).Fprintln(out, c.Status)
			fmt.Fprintf(out, "  processed %d  ", c.Processed)
			green.Fprintf(out, "successful %d  ", c.Successful)
			red.Fprintf(out, "failed %d\n", c.Failed)
			if c.ErrorMessage != nil {
				dim.Fprintf(out, "  %s\n", *c.ErrorMessage)
			}

			total := 0
			for _, n := range counts {
				total += n
			}
			if total == 0 {
				dim.Fprintln(out, "  no submissions")
				return nil
			}

			done := counts[domain.SubmissionCompleted] + counts[domain.SubmissionFailed]
			bar := progressbar.NewOptions(total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionSetDescription("  submissions"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "█",
					SaucerHead:    "█",
					SaucerPadding: "░",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			_ = bar.Set(done)
			_ = bar.Finish()
			fmt.Fprintln(out)

			for _, s := range []domain.SubmissionStatus{
				domain.SubmissionPending,
				domain.SubmissionProcessing,
				domain.SubmissionCompleted,
				domain.SubmissionFailed,
			} {
				fmt.Fprintf(out, "  %-11s %d\n", s, counts[s])
			}

			events, err := e.events()
			if err != nil || events == nil {
				return err
			}
			recent, err := events.Query(ctx, id, recentEvents)
			if err != nil {
				return err
			}
			printEvents(out, recent)
			return nil
		},
	}
}

const recentEvents = 5

func printEvents(out io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(out)
	bold.Fprintln(out, "  recent events")
	for _, en := range entries {
		dim.Fprintf(out, "  %s  ", en.CreatedAt.Format(time.DateTime))
		fmt.Fprintf(out, "%-22s", en.Action)
		keys := make([]string, 0, len(en.Metadata))
		for k := range en.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, " %s=%v", k, en.Metadata[k])
		}
		fmt.Fprintln(out)
	}
}

func statusColor(s domain.CampaignStatus) *color.Color {
	switch s {
	case domain.CampaignCompleted:
		return green
	case domain.CampaignFailed:
		return red
	case domain.CampaignPaused, domain.CampaignDraft:
		return yellow
	default:
		return cyan
	}
}
