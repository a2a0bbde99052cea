package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contactpilot/contactpilot/internal/domain"
)

const campaignColumns = `id, user_id, name, message_template, status, processed, successful, failed,
	error_message, started_at, completed_at, created_at, updated_at`

// CampaignRepository stores campaigns in PostgreSQL
type CampaignRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (id, user_id, name, message_template, status, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.Name,
		c.MessageTemplate,
		string(c.Status),
		c.StartedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

// Get retrieves a campaign by ID
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	var c domain.Campaign
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("campaign", id)
		}
		return nil, err
	}

	return &c, nil
}

// ListActive returns the IDs of campaigns in PROCESSING or RUNNING, oldest
// first
func (r *CampaignRepository) ListActive(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM campaigns
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, string(domain.CampaignProcessing), string(domain.CampaignRunning), limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// AddProgress applies a counter delta
func (r *CampaignRepository) AddProgress(ctx context.Context, id uuid.UUID, delta domain.Progress) error {
	query := `
		UPDATE campaigns
		SET processed = processed + $2, successful = successful + $3, failed = failed + $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, delta.Processed, delta.Successful, delta.Failed, r.now())
	if err != nil {
		return err
	}
	return expectRow(result, "campaign", id)
}

// Complete marks an active campaign COMPLETED. A campaign an operator moved
// out of PROCESSING/RUNNING keeps its status and a conflict is returned.
func (r *CampaignRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $2, completed_at = $3, error_message = NULL, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query, id, string(domain.CampaignCompleted), at,
		string(domain.CampaignProcessing), string(domain.CampaignRunning))
	if err != nil {
		return err
	}
	return r.expectTransition(ctx, result, id)
}

// Fail marks an active campaign FAILED with a bounded error message
func (r *CampaignRepository) Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`

	result, err := r.db.ExecContext(ctx, query, id, string(domain.CampaignFailed), domain.TruncateMessage(message), at,
		string(domain.CampaignProcessing), string(domain.CampaignRunning))
	if err != nil {
		return err
	}
	return r.expectTransition(ctx, result, id)
}

// expectTransition tells a missing campaign apart from one whose status no
// longer allows the update.
func (r *CampaignRepository) expectTransition(ctx context.Context, result sql.Result, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = r.db.GetContext(ctx, &status, `SELECT status FROM campaigns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundError("campaign", id)
	}
	if err != nil {
		return err
	}
	return domain.ConflictError("campaign", id, "status is "+status)
}
