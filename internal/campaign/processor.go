// Package campaign drives a campaign's pending submissions through the
// submission runner in bounded batches and persists the results.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/captcha"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/mapper"
	"github.com/contactpilot/contactpilot/internal/observability"
	"github.com/contactpilot/contactpilot/internal/submission"
)

// SubmissionStore persists submissions.
type SubmissionStore interface {
	// ListPending returns up to limit pending submissions, oldest first.
	ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Submission, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SaveResult(ctx context.Context, id uuid.UUID, res domain.SubmissionResult) error
	ListFailed(ctx context.Context, campaignID uuid.UUID) ([]domain.Submission, error)
	// Requeue resets the given failed submissions to pending and bumps their
	// retry count. It returns the number of rows changed.
	Requeue(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID) (int, error)
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	AddProgress(ctx context.Context, id uuid.UUID, delta domain.Progress) error
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

// ProfileStore loads contact profiles.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// Runner runs one submission.
type Runner interface {
	Run(ctx context.Context, page browser.Page, target submission.Target) submission.Outcome
}

// Screenshots stores diagnostics for failed submissions.
type Screenshots interface {
	Put(ctx context.Context, campaignID, submissionID uuid.UUID, data []byte) (string, error)
}

// Learned reports the size of the learned mapping store.
type Learned interface {
	Domains() int
}

// Events records campaign lifecycle events.
type Events interface {
	Record(ctx context.Context, campaignID uuid.UUID, action string, metadata map[string]any)
}

// Deps are the collaborators of a Processor. Screenshots, Learned, Events
// and Metrics are optional.
type Deps struct {
	Launcher    browser.Launcher
	Runner      Runner
	Submissions SubmissionStore
	Campaigns   CampaignStore
	Profiles    ProfileStore
	Screenshots Screenshots
	Learned     Learned
	Events      Events
	Metrics     *observability.Metrics
}

// Options tune the loop.
type Options struct {
	BatchSize  int
	BatchPause time.Duration
	MaxRetries int
	// MinNavInterval spaces navigations out across submissions.
	MinNavInterval time.Duration
	// SubmissionDeadline bounds one submission. Zero means no bound.
	SubmissionDeadline time.Duration
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:          5,
		BatchPause:         2 * time.Second,
		MaxRetries:         domain.DefaultMaxRetries,
		MinNavInterval:     time.Second,
		SubmissionDeadline: 3 * time.Minute,
	}
}

// Summary describes one Run.
type Summary struct {
	CampaignID uuid.UUID
	Batches    int
	Progress   domain.Progress
	// FinalStatus is the status the processor wrote, or the external status
	// that stopped the loop.
	FinalStatus domain.CampaignStatus
}

// Processor runs campaigns. One Processor owns its browser session for the
// duration of a Run and must not run two campaigns at once.
type Processor struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a processor
func New(deps Deps, opts Options, logger *zap.Logger) *Processor {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.MinNavInterval > 0 {
		limit = rate.Every(opts.MinNavInterval)
	}
	return &Processor{
		deps:    deps,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// run is the state of one Run call.
type run struct {
	campaignID uuid.UUID
	page       browser.Page
	profiles   map[uuid.UUID]profileEntry
	attempted  map[uuid.UUID]bool
	// unsaved holds attempted submissions whose result write failed. They
	// still look pending to the store and are never run twice in one Run.
	unsaved map[uuid.UUID]bool
	summary Summary
	log     *zap.Logger
}

type profileEntry struct {
	profile *domain.UserProfile
	err     error
}

// Run processes the campaign until no pending submission is left or its
// status leaves PROCESSING/RUNNING. Unexpected failures mark the campaign
// FAILED. The browser session is closed on every path.
func (p *Processor) Run(ctx context.Context, campaignID uuid.UUID) (summary Summary, err error) {
	r := &run{
		campaignID: campaignID,
		profiles:   make(map[uuid.UUID]profileEntry),
		attempted:  make(map[uuid.UUID]bool),
		unsaved:    make(map[uuid.UUID]bool),
		summary:    Summary{CampaignID: campaignID},
		log:        p.logger.With(zap.String("campaign_id", campaignID.String())),
	}
	start := p.now()

	defer func() {
		if rec := recover(); rec != nil {
			err = domain.UnexpectedError(fmt.Errorf("panic: %v", rec))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			p.failCampaign(r, err)
		}
		summary = r.summary
		p.deps.Metrics.RecordCampaign(string(summary.FinalStatus))
		p.recordFinish(ctx, summary, err)
		r.log.Info("campaign run finished",
			zap.String("status", string(summary.FinalStatus)),
			zap.Int("batches", summary.Batches),
			zap.Int("processed", summary.Progress.Processed),
			zap.Int("successful", summary.Progress.Successful),
			zap.Int("failed", summary.Progress.Failed),
			zap.Duration("duration", p.now().Sub(start)),
			zap.Error(err),
		)
	}()

	session, err := p.deps.Launcher.Launch(ctx)
	if err != nil {
		return r.summary, domain.UnexpectedError(fmt.Errorf("launching browser: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.log.Warn("closing browser session", zap.Error(cerr))
		}
	}()

	page, err := session.NewPage(ctx)
	if err != nil {
		return r.summary, domain.UnexpectedError(fmt.Errorf("opening page: %w", err))
	}
	defer page.Close()
	r.page = page

	p.record(ctx, campaignID, audit.ActionCampaignStarted, nil)
	err = p.loop(ctx, r)
	return r.summary, err
}

func (p *Processor) loop(ctx context.Context, r *run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, err := p.deps.Campaigns.Get(ctx, r.campaignID)
		if err != nil {
			return domain.PersistenceError("loading campaign", err)
		}
		if !c.Status.IsActive() {
			r.log.Info("campaign no longer active", zap.String("status", string(c.Status)))
			r.summary.FinalStatus = c.Status
			return nil
		}

		// Rows whose result write failed still come back; fetch past them.
		listed, err := p.deps.Submissions.ListPending(ctx, r.campaignID, p.opts.BatchSize+len(r.unsaved))
		if err != nil {
			return domain.PersistenceError("listing pending submissions", err)
		}
		if len(listed) == 0 {
			err := p.deps.Campaigns.Complete(ctx, r.campaignID, p.now())
			if domain.IsSentinelError(err, domain.ErrConflictVal) {
				// Paused or stopped after the status check; keep the operator's choice.
				r.log.Info("campaign left processing before completion", zap.Error(err))
				r.summary.FinalStatus = p.currentStatus(ctx, r, c.Status)
				return nil
			}
			if err != nil {
				return domain.PersistenceError("completing campaign", err)
			}
			r.summary.FinalStatus = domain.CampaignCompleted
			return nil
		}
		batch := unattempted(listed, r.attempted, p.opts.BatchSize)
		if len(batch) == 0 {
			// Only rows with unsaved results are left. The next run picks
			// them up; the campaign stays active.
			r.log.Warn("stopping run: remaining submissions have unsaved results",
				zap.Int("unsaved", len(r.unsaved)),
			)
			r.summary.FinalStatus = c.Status
			return nil
		}

		var delta domain.Progress
		for i := range batch {
			if err := ctx.Err(); err != nil {
				p.addProgress(ctx, r, delta)
				return err
			}
			delta.Add(p.process(ctx, r, c, &batch[i]))
		}
		p.addProgress(ctx, r, delta)
		r.summary.Batches++
		p.deps.Metrics.RecordBatch()
		r.log.Info("batch processed",
			zap.Int("size", len(batch)),
			zap.Int("successful", delta.Successful),
			zap.Int("failed", delta.Failed),
		)

		if err := browser.Sleep(ctx, p.opts.BatchPause); err != nil {
			return err
		}
	}
}

// unattempted returns up to limit submissions not yet attempted in this run.
func unattempted(listed []domain.Submission, attempted map[uuid.UUID]bool, limit int) []domain.Submission {
	out := make([]domain.Submission, 0, limit)
	for _, s := range listed {
		if attempted[s.ID] {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (p *Processor) addProgress(ctx context.Context, r *run, delta domain.Progress) {
	if delta.IsZero() {
		return
	}
	r.summary.Progress.Add(delta)
	if err := p.deps.Campaigns.AddProgress(ctx, r.campaignID, delta); err != nil {
		r.log.Error("persisting campaign counters", zap.Error(domain.PersistenceError("updating campaign counters", err)))
	}
}

// process runs one submission and persists its result. Every failure is
// recorded on the submission; none is returned.
func (p *Processor) process(ctx context.Context, r *run, c *domain.Campaign, sub *domain.Submission) domain.Progress {
	r.attempted[sub.ID] = true
	log := r.log.With(zap.String("submission_id", sub.ID.String()), zap.String("url", sub.URL))
	defer p.deps.Metrics.TrackActive()()
	start := p.now()

	profile, err := p.profile(ctx, r, sub.UserID)
	if err != nil {
		log.Warn("profile unusable", zap.Error(err))
		p.save(ctx, r, log, sub, domain.FailedResult(err, false, false, p.now()))
		p.deps.Metrics.RecordSubmission(string(domain.SubmissionFailed), domain.ErrCodeValidation, p.now().Sub(start))
		return domain.Progress{Processed: 1, Failed: 1}
	}

	if err := p.deps.Submissions.MarkProcessing(ctx, sub.ID); err != nil {
		log.Debug("marking processing", zap.Error(err))
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Progress{}
	}

	runCtx := ctx
	if p.opts.SubmissionDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.SubmissionDeadline)
		defer cancel()
	}
	out := p.deps.Runner.Run(runCtx, r.page, Target(c, sub, profile))
	if ctx.Err() != nil {
		// Shutdown; the row stays processing and is picked up by the next run.
		return domain.Progress{}
	}
	p.observe(out)

	if !out.Succeeded() {
		p.screenshot(ctx, log, r.page, c.ID, sub.ID)
	}
	p.save(ctx, r, log, sub, out.Result(p.now()))

	code, status := "", domain.SubmissionCompleted
	if out.Err != nil {
		code, status = out.Err.Code, domain.SubmissionFailed
	}
	p.deps.Metrics.RecordSubmission(string(status), code, p.now().Sub(start))
	if p.deps.Learned != nil {
		p.deps.Metrics.SetLearnedDomains(p.deps.Learned.Domains())
	}

	if out.Succeeded() {
		return domain.Progress{Processed: 1, Successful: 1}
	}
	return domain.Progress{Processed: 1, Failed: 1}
}

// profile loads and validates a user's profile once per run.
func (p *Processor) profile(ctx context.Context, r *run, userID uuid.UUID) (*domain.UserProfile, error) {
	if e, ok := r.profiles[userID]; ok {
		return e.profile, e.err
	}
	prof, err := p.deps.Profiles.GetByUserID(ctx, userID)
	if err == nil {
		err = prof.Validate()
	}
	if err != nil {
		prof = nil
	}
	r.profiles[userID] = profileEntry{profile: prof, err: err}
	return prof, err
}

// save persists a result. A failed write is logged and not retried inline.
func (p *Processor) save(ctx context.Context, r *run, log *zap.Logger, sub *domain.Submission, res domain.SubmissionResult) {
	if err := p.deps.Submissions.SaveResult(ctx, sub.ID, res); err != nil {
		r.unsaved[sub.ID] = true
		log.Error("persisting submission result",
			zap.String("status", string(res.Status)),
			zap.Error(domain.PersistenceError("saving submission result", err)),
		)
	}
}

// screenshot uploads a capture of the page. Failures are logged only.
func (p *Processor) screenshot(ctx context.Context, log *zap.Logger, page browser.Page, campaignID, submissionID uuid.UUID) {
	if p.deps.Screenshots == nil {
		return
	}
	data, err := page.Screenshot(ctx)
	if err != nil {
		log.Debug("capturing screenshot", zap.Error(err))
		return
	}
	uri, err := p.deps.Screenshots.Put(ctx, campaignID, submissionID, data)
	if err != nil {
		log.Warn("uploading screenshot", zap.Error(err))
		return
	}
	log.Info("diagnostic screenshot stored", zap.String("uri", uri))
}

func (p *Processor) observe(out submission.Outcome) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	for _, tr := range out.Transitions {
		m.RecordTransition(string(tr.State))
	}
	for _, a := range out.Popups.Actions {
		m.RecordPopup(string(a.Pass), string(a.Kind))
	}
	if out.Form != nil {
		conf := 0.0
		if out.Fill != nil {
			conf = out.Fill.Confidence
		}
		m.RecordForm(out.Form.Score, conf)
	}
	if out.Fill != nil {
		for _, s := range out.Fill.Fields {
			m.RecordFieldFill(string(s.Source), true)
		}
		for range out.Fill.Errors {
			m.RecordFieldFill("none", false)
		}
	}
	if out.HasCaptcha {
		m.RecordCaptcha(out.Err == nil || !errors.Is(out.Err, domain.ErrCaptcha))
	}
}

// Target builds the runner input for a submission: the profile as a field
// map with the campaign template rendered into its message.
func Target(c *domain.Campaign, sub *domain.Submission, profile *domain.UserProfile) submission.Target {
	fields := profile.Map()
	if msg := profile.RenderMessage(c.MessageTemplate, sub.URL, mapper.Domain(sub.URL)); msg != "" {
		fields["message"] = msg
	}
	var creds captcha.Credentials
	if profile.DBCUsername != nil && profile.DBCPassword != nil {
		creds = captcha.Credentials{Username: *profile.DBCUsername, Password: *profile.DBCPassword}
	}
	return submission.Target{
		SubmissionID: sub.ID,
		URL:          sub.URL,
		Profile:      fields,
		Credentials:  creds,
	}
}

func (p *Processor) record(ctx context.Context, campaignID uuid.UUID, action string, metadata map[string]any) {
	if p.deps.Events != nil {
		p.deps.Events.Record(ctx, campaignID, action, metadata)
	}
}

// recordFinish logs how a run ended. Cancelled runs record nothing.
func (p *Processor) recordFinish(ctx context.Context, s Summary, err error) {
	md := map[string]any{
		"batches":    s.Batches,
		"processed":  s.Progress.Processed,
		"successful": s.Progress.Successful,
		"failed":     s.Progress.Failed,
	}
	switch {
	case s.FinalStatus == domain.CampaignCompleted:
		p.record(ctx, s.CampaignID, audit.ActionCampaignCompleted, md)
	case s.FinalStatus == domain.CampaignFailed:
		if err != nil {
			md["error"] = domain.TruncateMessage(err.Error())
		}
		p.record(ctx, s.CampaignID, audit.ActionCampaignFailed, md)
	case s.FinalStatus != "":
		md["status"] = string(s.FinalStatus)
		p.record(ctx, s.CampaignID, audit.ActionCampaignStopped, md)
	}
}

// currentStatus re-reads the campaign status, falling back to last.
func (p *Processor) currentStatus(ctx context.Context, r *run, last domain.CampaignStatus) domain.CampaignStatus {
	c, err := p.deps.Campaigns.Get(ctx, r.campaignID)
	if err != nil {
		r.log.Warn("reloading campaign status", zap.Error(err))
		return last
	}
	return c.Status
}

func (p *Processor) failCampaign(r *run, cause error) {
	msg := domain.TruncateMessage(cause.Error())
	r.summary.FinalStatus = domain.CampaignFailed
	// The run context may already be done; the final write gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.deps.Campaigns.Fail(ctx, r.campaignID, msg, p.now())
	switch {
	case domain.IsSentinelError(err, domain.ErrConflictVal):
		r.log.Warn("campaign left processing before failure was recorded", zap.Error(err))
		r.summary.FinalStatus = p.currentStatus(ctx, r, domain.CampaignFailed)
	case err != nil:
		r.log.Error("marking campaign failed", zap.Error(err))
	}
}
