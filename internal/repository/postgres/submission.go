package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/contactpilot/contactpilot/internal/domain"
)

const submissionColumns = `id, campaign_id, user_id, url, status, retry_count, error_message,
	form_found, has_captcha, submitted_at, processed_at, created_at, updated_at`

// SubmissionRepository stores submissions in PostgreSQL
type SubmissionRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new submission
func (r *SubmissionRepository) Create(ctx context.Context, s *domain.Submission) error {
	query := `
		INSERT INTO submissions (id, campaign_id, user_id, url, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.CampaignID,
		s.UserID,
		s.URL,
		string(s.Status),
		s.RetryCount,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.NotFoundError("campaign", s.CampaignID)
		}
		return err
	}

	return nil
}

// GetByID retrieves a submission by ID
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	var s domain.Submission
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("submission", id)
		}
		return nil, err
	}

	return &s, nil
}

// ListPending returns the oldest submissions still waiting for an attempt.
// Rows left in processing by an interrupted run are included.
func (r *SubmissionRepository) ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE campaign_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	var subs []domain.Submission
	if err := r.db.SelectContext(ctx, &subs, query, campaignID, limit); err != nil {
		return nil, err
	}
	return subs, nil
}

// ListFailed returns every failed submission of a campaign
func (r *SubmissionRepository) ListFailed(ctx context.Context, campaignID uuid.UUID) ([]domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE campaign_id = $1 AND status = 'failed'
		ORDER BY created_at ASC, id ASC
	`

	var subs []domain.Submission
	if err := r.db.SelectContext(ctx, &subs, query, campaignID); err != nil {
		return nil, err
	}
	return subs, nil
}

// MarkProcessing flags a submission as in flight
func (r *SubmissionRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE submissions
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`

	result, err := r.db.ExecContext(ctx, query, id, r.now())
	if err != nil {
		return err
	}
	return expectRow(result, "submission", id)
}

// SaveResult writes the outcome of one attempt
func (r *SubmissionRepository) SaveResult(ctx context.Context, id uuid.UUID, res domain.SubmissionResult) error {
	query := `
		UPDATE submissions
		SET status = $2, error_message = $3, form_found = $4, has_captcha = $5,
		    submitted_at = $6, processed_at = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		id,
		string(res.Status),
		domain.StringPtr(res.ErrorMessage),
		res.FormFound,
		res.HasCaptcha,
		res.SubmittedAt,
		res.ProcessedAt,
		r.now(),
	)
	if err != nil {
		return err
	}
	return expectRow(result, "submission", id)
}

// Requeue resets failed submissions to pending, bumps their retry count and
// takes them back out of the campaign's processed and failed counters. It
// returns the number of submissions re-queued.
func (r *SubmissionRepository) Requeue(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	var n int64
	err := transact(ctx, r.db, func(tx *sqlx.Tx) error {
		now := r.now()
		result, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'pending', retry_count = retry_count + 1, error_message = NULL,
			    form_found = NULL, has_captcha = NULL, submitted_at = NULL, processed_at = NULL,
			    updated_at = $3
			WHERE campaign_id = $1 AND id = ANY($2::uuid[]) AND status = 'failed'
		`, campaignID, pq.Array(strs), now)
		if err != nil {
			return err
		}
		if n, err = result.RowsAffected(); err != nil || n == 0 {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns
			SET processed = GREATEST(processed - $2, 0), failed = GREATEST(failed - $2, 0), updated_at = $3
			WHERE id = $1
		`, campaignID, n, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByStatus returns the number of submissions per status for a campaign
func (r *SubmissionRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.SubmissionStatus]int, error) {
	query := `SELECT status, COUNT(*) AS n FROM submissions WHERE campaign_id = $1 GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, err
	}

	counts := make(map[domain.SubmissionStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.SubmissionStatus(row.Status)] = row.N
	}
	return counts, nil
}

// expectRow turns an update that touched nothing into a not-found error.
func expectRow(result sql.Result, resource string, id any) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NotFoundError(resource, id)
	}
	return nil
}
