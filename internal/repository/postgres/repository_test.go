package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactpilot/contactpilot/internal/crypto"
	"github.com/contactpilot/contactpilot/internal/domain"
)

var submissionCols = []string{
	"id", "campaign_id", "user_id", "url", "status", "retry_count", "error_message",
	"form_found", "has_captcha", "submitted_at", "processed_at", "created_at", "updated_at",
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mockDB.Close()
	})
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func newSubmissionRepo(t *testing.T) (*SubmissionRepository, sqlmock.Sqlmock) {
	db, mock := newMock(t)
	repo := NewSubmissionRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func TestSubmissionRepository_ListPending(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	campaignID := uuid.New()
	id1, id2 := uuid.New(), uuid.New()
	msg := "[NAVIGATION_FAILED] timeout"

	mock.ExpectQuery(`SELECT .+ FROM submissions\s+WHERE campaign_id = \$1 AND status IN \('pending', 'processing'\)\s+ORDER BY created_at ASC, id ASC\s+LIMIT \$2`).
		WithArgs(campaignID, 5).
		WillReturnRows(sqlmock.NewRows(submissionCols).
			AddRow(id1.String(), campaignID.String(), uuid.NewString(), "https://a.example", "pending", 0, nil, nil, nil, nil, nil, fixedNow, fixedNow).
			AddRow(id2.String(), campaignID.String(), uuid.NewString(), "https://b.example", "processing", 1, msg, true, false, nil, nil, fixedNow, fixedNow))

	subs, err := repo.ListPending(context.Background(), campaignID, 5)

	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, id1, subs[0].ID)
	assert.Equal(t, domain.SubmissionPending, subs[0].Status)
	assert.Nil(t, subs[0].ErrorMessage)
	assert.Equal(t, domain.SubmissionProcessing, subs[1].Status)
	assert.Equal(t, 1, subs[1].RetryCount)
	require.NotNil(t, subs[1].ErrorMessage)
	assert.Equal(t, msg, *subs[1].ErrorMessage)
	require.NotNil(t, subs[1].FormFound)
	assert.True(t, *subs[1].FormFound)
}

func TestSubmissionRepository_SaveResult(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	id := uuid.New()
	res := domain.FailedResult(domain.NoFormFoundError(), false, false, fixedNow)

	mock.ExpectExec(`UPDATE submissions\s+SET status = \$2, error_message = \$3`).
		WithArgs(id, "failed", "[NO_FORM_FOUND] no contact form found", false, false, nil, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveResult(context.Background(), id, res))
}

func TestSubmissionRepository_SaveResultCompletedClearsError(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	id := uuid.New()
	res := domain.CompletedResult(true, fixedNow)

	mock.ExpectExec(`UPDATE submissions`).
		WithArgs(id, "completed", nil, true, true, fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveResult(context.Background(), id, res))
}

func TestSubmissionRepository_SaveResultNotFound(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE submissions`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveResult(context.Background(), id, domain.CompletedResult(false, fixedNow))
	assert.True(t, domain.IsSentinelError(err, domain.ErrNotFoundVal))
}

func TestSubmissionRepository_MarkProcessing(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE submissions\s+SET status = 'processing'`).
		WithArgs(id, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkProcessing(context.Background(), id))
}

func TestSubmissionRepository_Requeue(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	campaignID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions\s+SET status = 'pending', retry_count = retry_count \+ 1`).
		WithArgs(campaignID, sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE campaigns\s+SET processed = GREATEST\(processed - \$2, 0\)`).
		WithArgs(campaignID, int64(2), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.Requeue(context.Background(), campaignID, ids)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSubmissionRepository_RequeueRollsBack(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	n, err := repo.Requeue(context.Background(), campaignID, []uuid.UUID{uuid.New()})

	assert.ErrorContains(t, err, "deadlock detected")
	assert.Zero(t, n)
}

func TestSubmissionRepository_RequeueEmpty(t *testing.T) {
	repo, _ := newSubmissionRepo(t)

	n, err := repo.Requeue(context.Background(), uuid.New(), nil)

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmissionRepository_CountByStatus(t *testing.T) {
	repo, mock := newSubmissionRepo(t)
	campaignID := uuid.New()

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS n FROM submissions`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
			AddRow("completed", 7).
			AddRow("failed", 2))

	counts, err := repo.CountByStatus(context.Background(), campaignID)

	require.NoError(t, err)
	assert.Equal(t, map[domain.SubmissionStatus]int{domain.SubmissionCompleted: 7, domain.SubmissionFailed: 2}, counts)
}

func TestCampaignRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM campaigns WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "name", "message_template", "status", "processed", "successful", "failed",
			"error_message", "started_at", "completed_at", "created_at", "updated_at",
		}).AddRow(id.String(), uuid.NewString(), "Spring outreach", "Hi {{domain}}", "RUNNING", 10, 8, 2, nil, fixedNow, nil, fixedNow, fixedNow))

	c, err := repo.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.True(t, c.Status.IsActive())
	assert.Equal(t, 8, c.Successful)
	assert.Equal(t, "Hi {{domain}}", c.MessageTemplate)
}

func TestCampaignRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM campaigns`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), id)
	assert.True(t, domain.IsSentinelError(err, domain.ErrNotFoundVal))
}

func TestCampaignRepository_AddProgress(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	repo.now = func() time.Time { return fixedNow }
	id := uuid.New()

	mock.ExpectExec(`UPDATE campaigns\s+SET processed = processed \+ \$2, successful = successful \+ \$3, failed = failed \+ \$4`).
		WithArgs(id, 5, 3, 2, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddProgress(context.Background(), id, domain.Progress{Processed: 5, Successful: 3, Failed: 2}))
}

func TestCampaignRepository_CompleteAndFail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()
	long := make([]byte, 900)
	for i := range long {
		long[i] = 'e'
	}

	mock.ExpectExec(`(?s)UPDATE campaigns\s+SET status = \$2, completed_at = \$3.+WHERE id = \$1 AND status IN \(\$4, \$5\)`).
		WithArgs(id, "COMPLETED", fixedNow, "PROCESSING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE campaigns\s+SET status = \$2, error_message = \$3.+WHERE id = \$1 AND status IN \(\$5, \$6\)`).
		WithArgs(id, "FAILED", domain.TruncateMessage(string(long)), fixedNow, "PROCESSING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Complete(context.Background(), id, fixedNow))
	require.NoError(t, repo.Fail(context.Background(), id, string(long), fixedNow))
}

func TestCampaignRepository_CompleteKeepsOperatorStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE campaigns\s+SET status = \$2`).
		WithArgs(id, "COMPLETED", fixedNow, "PROCESSING", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM campaigns WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PAUSED"))

	err := repo.Complete(context.Background(), id, fixedNow)

	require.Error(t, err)
	assert.True(t, domain.IsSentinelError(err, domain.ErrConflictVal))
	assert.Contains(t, err.Error(), "PAUSED")
}

func TestCampaignRepository_FailMissingCampaign(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE campaigns\s+SET status = \$2, error_message = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM campaigns WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	err := repo.Fail(context.Background(), id, "boom", fixedNow)

	assert.True(t, domain.IsSentinelError(err, domain.ErrNotFoundVal))
}

func TestCampaignRepository_ListActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id FROM campaigns\s+WHERE status IN \(\$1, \$2\)`).
		WithArgs("PROCESSING", "RUNNING", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	ids, err := repo.ListActive(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
}

func TestProfileRepository_GetByUserID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProfileRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM user_profiles\s+WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "first_name", "last_name", "email", "phone_number", "company_name",
			"subject", "message", "website_url", "dbc_username", "dbc_password",
		}).AddRow(userID.String(), "Jane", "Doe", "jane@example.org", "", "Doe Consulting", "", "Hello", "", nil, nil))

	p, err := repo.GetByUserID(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.FullName())
	assert.Nil(t, p.DBCUsername)
	assert.NoError(t, p.Validate())
}

func TestProfileRepository_CredentialKeyRoundTrip(t *testing.T) {
	db, mock := newMock(t)
	key := []byte("12345678901234567890123456789012")
	repo := NewProfileRepository(db).WithCredentialKey(key)
	userID := uuid.New()
	user, pass := "solver-user", "solver-pass"

	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs(userID, "Jane", "Doe", "jane@example.org", "", "", "", "Hello", "", user, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &domain.UserProfile{
		UserID: userID, FirstName: "Jane", LastName: "Doe", Email: "jane@example.org",
		Message: "Hello", DBCUsername: &user, DBCPassword: &pass,
	})
	require.NoError(t, err)

	sealed, err := crypto.SealPtr(&pass, key)
	require.NoError(t, err)
	stored := *sealed
	assert.NotEqual(t, pass, stored)

	mock.ExpectQuery(`SELECT .+ FROM user_profiles`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "first_name", "last_name", "email", "phone_number", "company_name",
			"subject", "message", "website_url", "dbc_username", "dbc_password",
		}).AddRow(userID.String(), "Jane", "Doe", "jane@example.org", "", "", "", "Hello", "", user, stored))

	p, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, p.DBCPassword)
	assert.Equal(t, pass, *p.DBCPassword)
}

func TestProfileRepository_CredentialKeyRejectsPlaintext(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProfileRepository(db).WithCredentialKey([]byte("12345678901234567890123456789012"))
	userID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM user_profiles`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "first_name", "last_name", "email", "phone_number", "company_name",
			"subject", "message", "website_url", "dbc_username", "dbc_password",
		}).AddRow(userID.String(), "Jane", "Doe", "jane@example.org", "", "", "", "Hello", "", "u", "plaintext"))

	_, err := repo.GetByUserID(context.Background(), userID)
	assert.Error(t, err)
}

func TestDB_TransactionRollsBackOnPanic(t *testing.T) {
	sqlDB, mock := newMock(t)
	db := &DB{DB: sqlDB}

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = db.Transaction(context.Background(), func(tx *sqlx.Tx) error { panic("boom") })
	})
}
