package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contactpilot/contactpilot/internal/crypto"
	"github.com/contactpilot/contactpilot/internal/domain"
)

// ProfileRepository reads contact profiles from PostgreSQL. With a
// credential key set, dbc_password is stored AES-GCM sealed.
type ProfileRepository struct {
	db  *sqlx.DB
	key []byte
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// WithCredentialKey enables at-rest encryption of solver passwords.
func (r *ProfileRepository) WithCredentialKey(key []byte) *ProfileRepository {
	r.key = key
	return r
}

// GetByUserID retrieves a user's profile
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, first_name, last_name, email, phone_number, company_name,
		       subject, message, website_url, dbc_username, dbc_password
		FROM user_profiles
		WHERE user_id = $1
	`

	var p domain.UserProfile
	if err := r.db.GetContext(ctx, &p, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("profile", userID)
		}
		return nil, err
	}

	pw, err := crypto.OpenPtr(p.DBCPassword, r.key)
	if err != nil {
		return nil, fmt.Errorf("opening solver credential for %s: %w", userID, err)
	}
	p.DBCPassword = pw

	return &p, nil
}

// Upsert inserts or replaces a profile
func (r *ProfileRepository) Upsert(ctx context.Context, p *domain.UserProfile) error {
	query := `
		INSERT INTO user_profiles (
			user_id, first_name, last_name, email, phone_number, company_name,
			subject, message, website_url, dbc_username, dbc_password
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			email = EXCLUDED.email, phone_number = EXCLUDED.phone_number,
			company_name = EXCLUDED.company_name, subject = EXCLUDED.subject,
			message = EXCLUDED.message, website_url = EXCLUDED.website_url,
			dbc_username = EXCLUDED.dbc_username, dbc_password = EXCLUDED.dbc_password,
			updated_at = NOW()
	`

	pw, err := crypto.SealPtr(p.DBCPassword, r.key)
	if err != nil {
		return fmt.Errorf("sealing solver credential: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		p.UserID, p.FirstName, p.LastName, p.Email, p.PhoneNumber, p.CompanyName,
		p.Subject, p.Message, p.WebsiteURL, p.DBCUsername, pw,
	)
	return err
}
