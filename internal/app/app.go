// Package app assembles the submission pipeline from configuration. The
// worker and pilotctl binaries share it.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/campaign"
	"github.com/contactpilot/contactpilot/internal/captcha"
	"github.com/contactpilot/contactpilot/internal/config"
	"github.com/contactpilot/contactpilot/internal/detector"
	"github.com/contactpilot/contactpilot/internal/filler"
	"github.com/contactpilot/contactpilot/internal/mapper"
	"github.com/contactpilot/contactpilot/internal/popup"
	"github.com/contactpilot/contactpilot/internal/resilience"
	"github.com/contactpilot/contactpilot/internal/submission"
)

// Pipeline is the set of components one worker process shares across
// campaigns. Learned mappings live as long as the Pipeline.
type Pipeline struct {
	Launcher browser.Launcher
	Detector *detector.Detector
	Popups   *popup.Handler
	Captcha  *captcha.Resolver
	Learned  *mapper.LearnedStore
	Mapper   *mapper.Mapper
	Filler   *filler.Filler
	Runner   *submission.Runner
}

// NewPipeline wires the pipeline for cfg
func NewPipeline(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	solver, err := NewSolver(cfg.Captcha, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Launcher: NewLauncher(cfg.Browser),
		Detector: detector.New(logger.Named("detector")),
		Popups: popup.New(popup.Options{
			MaxAttempts: cfg.Processor.PopupMaxAttempts,
			Settle:      cfg.Processor.PopupSettle,
		}, logger.Named("popup")),
		Learned: mapper.NewLearnedStore(),
	}
	p.Captcha = captcha.NewResolver(captcha.NewDetector(logger.Named("captcha")), solver, logger.Named("captcha"))
	p.Mapper = mapper.New(p.Learned, logger.Named("mapper"))
	p.Filler = filler.New(p.Mapper, p.Popups, filler.Options{MaxRetries: cfg.Processor.FieldRetries}, logger.Named("filler"))
	p.Runner = submission.NewRunner(p.Popups, p.Detector, p.Captcha, p.Filler, RunnerOptions(cfg.Browser), logger.Named("runner"))

	return p, nil
}

// NewLauncher returns the launcher for the configured driver
func NewLauncher(cfg config.BrowserConfig) browser.Launcher {
	bc := browser.Config{
		Headless:       cfg.Headless,
		ActionTimeout:  cfg.ActionTimeout,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		UserAgent:      cfg.UserAgent,
	}
	if cfg.Driver == config.DriverChromedp {
		return browser.NewChromedpLauncher(bc)
	}
	return browser.NewPlaywrightLauncher(bc)
}

// NewSolver returns the captcha solver, or nil when solving is disabled.
// The HTTP solver sits behind a circuit breaker.
func NewSolver(cfg config.CaptchaConfig, logger *zap.Logger) (captcha.Solver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	httpSolver, err := captcha.NewHTTPSolver(captcha.HTTPConfig{
		Endpoint:     cfg.Endpoint,
		Timeout:      cfg.Timeout,
		RateLimitRPM: cfg.RateLimitRPM,
	})
	if err != nil {
		return nil, fmt.Errorf("creating captcha solver: %w", err)
	}

	bcfg := resilience.DefaultConfig("captcha-solver")
	if cfg.FailureThreshold > 0 {
		bcfg.FailureThreshold = uint32(cfg.FailureThreshold)
	}
	if cfg.OpenTimeout > 0 {
		bcfg.OpenTimeout = cfg.OpenTimeout
	}
	bcfg.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return captcha.NewBreakerSolver(httpSolver, resilience.NewBreaker(bcfg)), nil
}

// RunnerOptions maps browser settings onto runner waits
func RunnerOptions(cfg config.BrowserConfig) submission.Options {
	opts := submission.DefaultOptions()
	opts.NavigationTimeout = cfg.NavigationTimeout
	opts.Settle = cfg.SettleDelay
	opts.VerifyWait = cfg.VerifyWait
	return opts
}

// ProcessorOptions maps processor settings onto campaign options
func ProcessorOptions(cfg config.ProcessorConfig) campaign.Options {
	return campaign.Options{
		BatchSize:          cfg.BatchSize,
		BatchPause:         cfg.BatchPause,
		MaxRetries:         cfg.MaxRetries,
		MinNavInterval:     cfg.MinNavInterval,
		SubmissionDeadline: cfg.SubmissionDeadline,
	}
}
