package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/domain"
)

// RequeueReport describes one RequeueFailed call.
type RequeueReport struct {
	Scanned   int
	Requeued  int
	Permanent []domain.Submission
	Exhausted []domain.Submission
}

// RequeueFailed moves the campaign's failed submissions back to pending.
// Submissions that used up MaxRetries or whose recorded error is permanent
// stay failed.
func (p *Processor) RequeueFailed(ctx context.Context, campaignID uuid.UUID) (RequeueReport, error) {
	var report RequeueReport
	log := p.logger.With(zap.String("campaign_id", campaignID.String()))

	failed, err := p.deps.Submissions.ListFailed(ctx, campaignID)
	if err != nil {
		return report, fmt.Errorf("listing failed submissions: %w", err)
	}
	report.Scanned = len(failed)

	ids := make([]uuid.UUID, 0, len(failed))
	for _, s := range failed {
		switch {
		case s.RetryCount >= p.opts.MaxRetries:
			report.Exhausted = append(report.Exhausted, s)
		case s.ErrorMessage != nil && domain.IsPermanentFailure(*s.ErrorMessage):
			report.Permanent = append(report.Permanent, s)
		default:
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		log.Info("nothing to requeue", zap.Int("scanned", report.Scanned))
		return report, nil
	}

	n, err := p.deps.Submissions.Requeue(ctx, campaignID, ids)
	if err != nil {
		return report, fmt.Errorf("requeueing submissions: %w", err)
	}
	report.Requeued = n
	p.deps.Metrics.RecordRequeued(n)
	p.record(ctx, campaignID, audit.ActionRequeued, map[string]any{
		"scanned":   report.Scanned,
		"requeued":  n,
		"permanent": len(report.Permanent),
		"exhausted": len(report.Exhausted),
	})

	log.Info("failed submissions requeued",
		zap.Int("scanned", report.Scanned),
		zap.Int("requeued", n),
		zap.Int("permanent", len(report.Permanent)),
		zap.Int("exhausted", len(report.Exhausted)),
	)
	return report, nil
}
