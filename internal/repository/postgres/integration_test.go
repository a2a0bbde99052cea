package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactpilot/contactpilot/internal/domain"
)

func TestRepositories_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	td := SetupTestDB(t)
	defer td.Cleanup(t)
	td.TruncateTables(t)

	ctx := context.Background()
	repos := NewRepositories(td.DB, []byte("12345678901234567890123456789012"))
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := uuid.New()
	require.NoError(t, repos.Profiles.Upsert(ctx, &domain.UserProfile{
		UserID:    userID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.org",
		Message:   "Hello there",
	}))

	campaign := &domain.Campaign{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            "integration",
		MessageTemplate: "Hi {{domain}}",
		Status:          domain.CampaignProcessing,
		StartedAt:       &now,
	}
	campaign.SetTimestamps()
	require.NoError(t, repos.Campaigns.Create(ctx, campaign))

	var ids []uuid.UUID
	for i, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		s := &domain.Submission{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			UserID:     userID,
			URL:        u,
			Status:     domain.SubmissionPending,
		}
		s.CreatedAt = now.Add(time.Duration(i) * time.Second)
		s.UpdatedAt = s.CreatedAt
		require.NoError(t, repos.Submissions.Create(ctx, s))
		ids = append(ids, s.ID)
	}

	t.Run("unknown campaign is rejected", func(t *testing.T) {
		s := &domain.Submission{ID: uuid.New(), CampaignID: uuid.New(), UserID: userID, URL: "https://x.example", Status: domain.SubmissionPending}
		s.SetTimestamps()
		err := repos.Submissions.Create(ctx, s)
		assert.True(t, domain.IsSentinelError(err, domain.ErrNotFoundVal))
	})

	t.Run("pending batch is ordered by creation", func(t *testing.T) {
		pending, err := repos.Submissions.ListPending(ctx, campaign.ID, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, ids[0], pending[0].ID)
		assert.Equal(t, ids[1], pending[1].ID)
	})

	t.Run("results and progress", func(t *testing.T) {
		require.NoError(t, repos.Submissions.MarkProcessing(ctx, ids[0]))
		require.NoError(t, repos.Submissions.SaveResult(ctx, ids[0], domain.CompletedResult(false, now)))
		require.NoError(t, repos.Submissions.SaveResult(ctx, ids[1], domain.FailedResult(domain.CaptchaBlockedError("recaptcha"), true, true, now)))
		require.NoError(t, repos.Campaigns.AddProgress(ctx, campaign.ID, domain.Progress{Processed: 2, Successful: 1, Failed: 1}))

		counts, err := repos.Submissions.CountByStatus(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[domain.SubmissionCompleted])
		assert.Equal(t, 1, counts[domain.SubmissionFailed])
		assert.Equal(t, 1, counts[domain.SubmissionPending])

		failed, err := repos.Submissions.ListFailed(ctx, campaign.ID)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		require.NotNil(t, failed[0].ErrorMessage)
		assert.Contains(t, *failed[0].ErrorMessage, "CAPTCHA_BLOCKED")
	})

	t.Run("requeue resets row and counters", func(t *testing.T) {
		n, err := repos.Submissions.Requeue(ctx, campaign.ID, []uuid.UUID{ids[1], ids[2]})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only failed rows are requeued")

		s, err := repos.Submissions.GetByID(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, domain.SubmissionPending, s.Status)
		assert.Equal(t, 1, s.RetryCount)
		assert.Nil(t, s.ErrorMessage)

		c, err := repos.Campaigns.Get(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Processed)
		assert.Equal(t, 1, c.Successful)
		assert.Equal(t, 0, c.Failed)
	})

	t.Run("active listing and completion", func(t *testing.T) {
		active, err := repos.Campaigns.ListActive(ctx, 10)
		require.NoError(t, err)
		assert.Contains(t, active, campaign.ID)

		require.NoError(t, repos.Campaigns.Complete(ctx, campaign.ID, now))
		c, err := repos.Campaigns.Get(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignCompleted, c.Status)
		require.NotNil(t, c.CompletedAt)

		err = repos.Campaigns.Fail(ctx, campaign.ID, "late failure", now)
		assert.True(t, domain.IsSentinelError(err, domain.ErrConflictVal))

		active, err = repos.Campaigns.ListActive(ctx, 10)
		require.NoError(t, err)
		assert.NotContains(t, active, campaign.ID)
	})

	t.Run("profile round trip", func(t *testing.T) {
		p, err := repos.Profiles.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", p.FullName())

		pass := "difference-engine"
		p.DBCUsername = &p.FirstName
		p.DBCPassword = &pass
		require.NoError(t, repos.Profiles.Upsert(ctx, p))

		var raw string
		require.NoError(t, td.DB.GetContext(ctx, &raw, `SELECT dbc_password FROM user_profiles WHERE user_id = $1`, userID))
		assert.NotEqual(t, pass, raw)

		p, err = repos.Profiles.GetByUserID(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, p.DBCPassword)
		assert.Equal(t, pass, *p.DBCPassword)

		_, err = repos.Profiles.GetByUserID(ctx, uuid.New())
		assert.True(t, domain.IsSentinelError(err, domain.ErrNotFoundVal))
	})

	t.Run("health", func(t *testing.T) {
		db := &DB{DB: td.DB}
		assert.NoError(t, db.Health(ctx))
		err := db.Transaction(ctx, func(tx *sqlx.Tx) error { return errors.New("abort") })
		assert.EqualError(t, err, "abort")
	})
}
