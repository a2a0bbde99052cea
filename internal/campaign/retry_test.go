package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/domain"
)

func TestRequeueFailed(t *testing.T) {
	h := newHarness(6)
	set := func(i int, status domain.SubmissionStatus, retries int, msg string) {
		h.store.subs[i].Status = status
		h.store.subs[i].RetryCount = retries
		h.store.subs[i].ErrorMessage = domain.StringPtr(msg)
	}
	set(0, domain.SubmissionFailed, 0, "[SUBMISSION_UNVERIFIED] no success signal after submit")
	set(1, domain.SubmissionFailed, 2, "[NAVIGATION_FAILED] navigating to https://a.example: timeout")
	set(2, domain.SubmissionFailed, 3, "[CAPTCHA_BLOCKED] captcha blocked (recaptcha)")
	set(3, domain.SubmissionFailed, 0, "[NAVIGATION_FAILED] HTTP 404 Not Found")
	set(4, domain.SubmissionFailed, 1, "[NAVIGATION_FAILED] navigating: net::ERR_NAME_NOT_RESOLVED")
	set(5, domain.SubmissionCompleted, 0, "")

	events := &eventLog{}
	report, err := h.processor(runnerFunc(succeed), func(d *Deps) { d.Events = events }).
		RequeueFailed(context.Background(), h.store.campaign.ID)

	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Requeued)
	require.Len(t, report.Exhausted, 1)
	assert.Equal(t, h.store.subs[2].ID, report.Exhausted[0].ID)
	require.Len(t, report.Permanent, 2)

	assert.Equal(t, domain.SubmissionPending, h.store.subs[0].Status)
	assert.Equal(t, 1, h.store.subs[0].RetryCount)
	assert.Nil(t, h.store.subs[0].ErrorMessage)
	assert.Equal(t, domain.SubmissionPending, h.store.subs[1].Status)
	assert.Equal(t, 3, h.store.subs[1].RetryCount)
	for _, i := range []int{2, 3, 4} {
		assert.Equal(t, domain.SubmissionFailed, h.store.subs[i].Status, "submission %d", i)
	}
	assert.Equal(t, domain.SubmissionCompleted, h.store.subs[5].Status)

	require.Len(t, events.events, 1)
	assert.Equal(t, audit.ActionRequeued, events.events[0].action)
	assert.Equal(t, 2, events.events[0].metadata["requeued"])
}

func TestRequeueFailed_RetryCapAcrossRounds(t *testing.T) {
	h := newHarness(1)
	p := h.processor(failWith(domain.UnverifiedError("no success signal after submit")), nil)
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		h.store.campaign.Status = domain.CampaignProcessing
		_, err := p.Run(ctx, h.store.campaign.ID)
		require.NoError(t, err)
		_, err = p.RequeueFailed(ctx, h.store.campaign.ID)
		require.NoError(t, err)
	}

	sub := h.store.subs[0]
	assert.Equal(t, domain.SubmissionFailed, sub.Status)
	assert.Equal(t, 3, sub.RetryCount)
}

func TestRequeueFailed_Nothing(t *testing.T) {
	h := newHarness(2)

	report, err := h.processor(runnerFunc(succeed), nil).RequeueFailed(context.Background(), h.store.campaign.ID)

	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Requeued)
}
