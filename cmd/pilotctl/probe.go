package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/contactpilot/contactpilot/internal/app"
	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/filler"
	"github.com/contactpilot/contactpilot/internal/form"
	"github.com/contactpilot/contactpilot/internal/mapper"
	"github.com/contactpilot/contactpilot/internal/submission"
)

type probeOptions struct {
	fill    bool
	submit  bool
	timeout time.Duration
	profile domain.UserProfile
}

func newProbeCmd(e *env) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Clear popups and rank the forms on a page",
		Long: "Navigates to the URL, clears overlays and prints every form candidate with its score.\n" +
			"--fill also fills the best contact form without submitting it; --submit runs the full pipeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			pipeline, err := app.NewPipeline(e.cfg, e.logger)
			if err != nil {
				return err
			}
			if opts.submit {
				return probeSubmit(ctx, cmd.OutOrStdout(), pipeline, args[0], opts.profile)
			}
			return probe(ctx, cmd.OutOrStdout(), pipeline, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.fill, "fill", false, "Fill the best contact form without submitting")
	f.BoolVar(&opts.submit, "submit", false, "Run the full pipeline, including submission")
	f.DurationVar(&opts.timeout, "timeout", 3*time.Minute, "Overall probe deadline")
	f.StringVar(&opts.profile.FirstName, "first-name", "Alex", "Profile first name")
	f.StringVar(&opts.profile.LastName, "last-name", "Morgan", "Profile last name")
	f.StringVar(&opts.profile.Email, "email", "alex.morgan@example.com", "Profile email")
	f.StringVar(&opts.profile.PhoneNumber, "phone", "", "Profile phone number")
	f.StringVar(&opts.profile.CompanyName, "company", "", "Profile company name")
	f.StringVar(&opts.profile.Subject, "subject", "", "Message subject")
	f.StringVar(&opts.profile.Message, "message", "Hello, I would like to get in touch.", "Message body")
	return cmd
}

func spinner(out io.Writer, desc string) (stop func()) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSpinnerType(14),
	)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				return
			default:
				_ = bar.Add(1)
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		_ = bar.Finish()
		fmt.Fprintln(out)
	}
}

func probe(ctx context.Context, out io.Writer, p *app.Pipeline, rawURL string, opts probeOptions) error {
	target, err := submission.NormalizeURL(rawURL)
	if err != nil {
		return err
	}

	stop := spinner(out, "  loading "+target)
	session, err := p.Launcher.Launch(ctx)
	if err != nil {
		stop()
		return err
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		stop()
		return err
	}
	defer page.Close()

	resp, err := page.Navigate(ctx, target, browser.NavigateOptions{Timeout: 30 * time.Second, WaitUntil: browser.WaitDOMContentLoaded})
	stop()
	if err != nil {
		return err
	}
	dim.Fprintf(out, "HTTP %d %s\n", resp.Status, resp.URL)

	report := p.Popups.Clear(ctx, page)
	fmt.Fprintf(out, "popups: %d handled in %d rounds", report.Handled(), report.Rounds)
	if !report.Interactable {
		yellow.Fprint(out, " (page still blocked)")
	}
	fmt.Fprintln(out)
	for _, a := range report.Actions {
		dim.Fprintf(out, "  %s %s %s\n", a.Pass, a.Kind, a.Selector)
	}

	analyses, err := p.Detector.Detect(ctx, page)
	if err != nil {
		return err
	}
	printAnalyses(out, analyses)

	if !opts.fill {
		return nil
	}
	best, ok := form.Best(analyses)
	if !ok {
		red.Fprintln(out, "no contact form to fill")
		return nil
	}
	if err := opts.profile.Validate(); err != nil {
		return err
	}

	res, err := p.Filler.Fill(ctx, filler.Request{
		Page:    page,
		Form:    best,
		Profile: opts.profile.Map(),
		Domain:  mapper.Domain(target),
	})
	if err != nil {
		return err
	}
	printFill(out, res)
	return nil
}

func probeSubmit(ctx context.Context, out io.Writer, p *app.Pipeline, rawURL string, profile domain.UserProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	session, err := p.Launcher.Launch(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	page, err := session.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	stop := spinner(out, "  submitting "+rawURL)
	outcome := p.Runner.Run(ctx, page, submission.Target{URL: rawURL, Profile: profile.Map()})
	stop()

	for _, t := range outcome.Transitions {
		dim.Fprintf(out, "  %s\n", t.State)
	}
	if outcome.Fill != nil {
		printFill(out, outcome.Fill)
	}
	if outcome.Succeeded() {
		green.Fprintf(out, "submitted via %s (%s)\n", outcome.SubmitVia, strings.Join(outcome.Signals, ", "))
		return nil
	}
	red.Fprintf(out, "%s\n", outcome.Err)
	return nil
}

func printAnalyses(out io.Writer, analyses []form.Analysis) {
	if len(analyses) == 0 {
		red.Fprintln(out, "no forms found")
		return
	}
	bold.Fprintf(out, "%d form candidates\n", len(analyses))
	for i, a := range analyses {
		c := dim
		if a.IsContactForm() {
			c = green
		}
		c.Fprintf(out, "%2d. score %3d  %-7s %s", i+1, a.Score, a.FrameContext, a.Selector)
		fmt.Fprintf(out, "  fields %d", len(a.Fields))
		if len(a.Metadata.PositiveKeywords) > 0 {
			fmt.Fprintf(out, "  +%s", strings.Join(a.Metadata.PositiveKeywords, ","))
		}
		if len(a.Metadata.NegativeKeywords) > 0 {
			fmt.Fprintf(out, "  -%s", strings.Join(a.Metadata.NegativeKeywords, ","))
		}
		fmt.Fprintln(out)
	}
}

func printFill(out io.Writer, res *filler.Result) {
	c := green
	if !res.Success {
		c = red
	}
	c.Fprintf(out, "filled %d fields, confidence %.2f\n", res.Filled, res.Confidence)

	keys := make([]string, 0, len(res.Fields))
	for k := range res.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := res.Fields[k]
		fmt.Fprintf(out, "  %-24s %-30q %.2f %s\n", k, s.Value, s.Confidence, s.Source)
	}
	for _, s := range res.Skipped {
		yellow.Fprintf(out, "  skipped %s: %s\n", s.Field, s.Reason)
	}
	for _, msg := range res.Errors {
		red.Fprintf(out, "  error: %s\n", msg)
	}
}
