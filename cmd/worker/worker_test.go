package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/campaign"
	redisstore "github.com/contactpilot/contactpilot/internal/repository/redis"
)

type fakeProcessor struct {
	mu   sync.Mutex
	runs []uuid.UUID
	err  error
	// onRun is called while the lease is held
	onRun func(ctx context.Context, id uuid.UUID)
}

func (f *fakeProcessor) Run(ctx context.Context, id uuid.UUID) (campaign.Summary, error) {
	f.mu.Lock()
	f.runs = append(f.runs, id)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(ctx, id)
	}
	return campaign.Summary{CampaignID: id}, f.err
}

func (f *fakeProcessor) calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.runs...)
}

type fakeActive struct {
	ids []uuid.UUID
}

func (f fakeActive) ListActive(context.Context, int) ([]uuid.UUID, error) { return f.ids, nil }

func newLeaser(t *testing.T) (*redisstore.Leaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisstore.NewLeaser(redisstore.NewFromClient(rdb), "lease:", time.Minute, zap.NewNop()), mr
}

func TestWorker_RunOneWithoutLeaser(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("boom")}
	w := &worker{processor: proc, logger: zap.NewNop()}
	id := uuid.New()

	err := w.runOne(context.Background(), id)

	assert.EqualError(t, err, "boom")
	assert.Equal(t, []uuid.UUID{id}, proc.calls())
}

func TestWorker_RunOneHoldsAndReleasesLease(t *testing.T) {
	leaser, mr := newLeaser(t)
	id := uuid.New()
	var heldDuringRun bool
	proc := &fakeProcessor{onRun: func(context.Context, uuid.UUID) {
		heldDuringRun = mr.Exists("lease:" + id.String())
	}}
	w := &worker{processor: proc, leaser: leaser, logger: zap.NewNop()}

	require.NoError(t, w.runOne(context.Background(), id))

	assert.True(t, heldDuringRun)
	assert.False(t, mr.Exists("lease:"+id.String()))
}

func TestWorker_RunOneSkipsLeasedCampaign(t *testing.T) {
	leaser, _ := newLeaser(t)
	id := uuid.New()
	_, err := leaser.Acquire(context.Background(), id)
	require.NoError(t, err)

	proc := &fakeProcessor{}
	w := &worker{processor: proc, leaser: leaser, logger: zap.NewNop()}

	require.NoError(t, w.runOne(context.Background(), id))
	assert.Empty(t, proc.calls())
}

func TestWorker_PollRunsActiveCampaignsUntilCancelled(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcessor{err: errors.New("campaign failed")}
	proc.onRun = func(_ context.Context, id uuid.UUID) {
		if id == ids[1] {
			cancel()
		}
	}
	w := &worker{
		processor:    proc,
		campaigns:    fakeActive{ids: ids},
		pollInterval: time.Hour,
		logger:       zap.NewNop(),
	}

	done := make(chan error, 1)
	go func() { done <- w.poll(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	assert.Equal(t, ids, proc.calls())
}
