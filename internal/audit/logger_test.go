package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockLogger(t *testing.T, cfg LoggerConfig) (*Logger, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	l := NewLogger(sqlx.NewDb(mockDB, "postgres"), cfg, nil)
	l.now = func() time.Time { return fixedNow }

	finish := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.ExpectClose()
		assert.NoError(t, mockDB.Close())
	}
	return l, mock, finish
}

func TestLogger_RecordFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l, mock, finish := newMockLogger(t, LoggerConfig{BufferSize: 10, FlushInterval: time.Hour})
	campaignID := uuid.New()

	mock.ExpectExec(`INSERT INTO campaign_events \(id, campaign_id, action, metadata, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\), \(\$6, \$7, \$8, \$9, \$10\) ON CONFLICT DO NOTHING`).
		WithArgs(
			sqlmock.AnyArg(), campaignID, ActionCampaignStarted, []byte("{}"), fixedNow,
			sqlmock.AnyArg(), campaignID, ActionCampaignCompleted, []byte(`{"processed":3}`), fixedNow,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	l.Record(context.Background(), campaignID, ActionCampaignStarted, nil)
	l.Record(context.Background(), campaignID, ActionCampaignCompleted, map[string]any{"processed": 3})

	require.NoError(t, l.Close())
	finish()
}

func TestLogger_FlushesFullBatch(t *testing.T) {
	l, mock, finish := newMockLogger(t, LoggerConfig{BufferSize: 1, FlushInterval: time.Hour})
	campaignID := uuid.New()

	mock.ExpectExec(`INSERT INTO campaign_events .+ VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), campaignID, ActionRequeued, []byte(`{"requeued":2}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l.Record(context.Background(), campaignID, ActionRequeued, map[string]any{"requeued": 2})

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close())
	finish()
}

func TestLogger_FlushErrorIsLogged(t *testing.T) {
	l, mock, finish := newMockLogger(t, LoggerConfig{BufferSize: 10, FlushInterval: time.Hour})

	mock.ExpectExec(`INSERT INTO campaign_events`).WillReturnError(errors.New("relation does not exist"))

	l.Record(context.Background(), uuid.New(), ActionCampaignFailed, map[string]any{"error": "boom"})

	assert.NoError(t, l.Close())
	finish()
}

func TestLogger_ClosedDropsEvents(t *testing.T) {
	l, _, finish := newMockLogger(t, LoggerConfig{BufferSize: 10, FlushInterval: time.Hour})

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.Record(context.Background(), uuid.New(), ActionCampaignStarted, nil)
	err := l.LogSync(context.Background(), uuid.New(), ActionCampaignStarted, nil)
	assert.ErrorIs(t, err, ErrClosed)
	finish()
}

func TestLogger_LogSync(t *testing.T) {
	l, mock, finish := newMockLogger(t, LoggerConfig{BufferSize: 10, FlushInterval: time.Hour})
	campaignID := uuid.New()

	mock.ExpectExec(`INSERT INTO campaign_events`).
		WithArgs(sqlmock.AnyArg(), campaignID, ActionCampaignStopped, []byte(`{"status":"PAUSED"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.LogSync(context.Background(), campaignID, ActionCampaignStopped, map[string]any{"status": "PAUSED"})
	require.NoError(t, err)

	require.NoError(t, l.Close())
	finish()
}

func TestLogger_Query(t *testing.T) {
	l, mock, finish := newMockLogger(t, LoggerConfig{})
	campaignID := uuid.New()

	mock.ExpectQuery(`SELECT id, campaign_id, action, metadata, created_at\s+FROM campaign_events\s+WHERE campaign_id = \$1\s+ORDER BY created_at DESC\s+LIMIT \$2`).
		WithArgs(campaignID, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "action", "metadata", "created_at"}).
			AddRow(uuid.NewString(), campaignID.String(), ActionRequeued, []byte(`{"requeued":3}`), fixedNow).
			AddRow(uuid.NewString(), campaignID.String(), ActionCampaignStarted, []byte(`{}`), fixedNow.Add(-time.Hour)))

	entries, err := l.Query(context.Background(), campaignID, 0)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionRequeued, entries[0].Action)
	assert.Equal(t, campaignID, entries[0].CampaignID)
	assert.Equal(t, float64(3), entries[0].Metadata["requeued"])
	assert.Empty(t, entries[1].Metadata)

	require.NoError(t, l.Close())
	finish()
}

func TestMetadata_ValueAndScan(t *testing.T) {
	v, err := Metadata(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	var m Metadata
	require.NoError(t, m.Scan(`{"a":"b"}`))
	assert.Equal(t, "b", m["a"])

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}
