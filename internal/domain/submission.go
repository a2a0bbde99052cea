package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is the processing state of one target URL.
type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "pending"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionFailed     SubmissionStatus = "failed"
	SubmissionRetry      SubmissionStatus = "retry"
)

func (s SubmissionStatus) IsValid() bool {
	switch s {
	case SubmissionPending, SubmissionProcessing, SubmissionCompleted, SubmissionFailed, SubmissionRetry:
		return true
	}
	return false
}

func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionCompleted || s == SubmissionFailed
}

// DefaultMaxRetries caps how many times a failed submission is re-queued.
const DefaultMaxRetries = 3

// Submission is one attempt to contact one target URL within a campaign.
type Submission struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	CampaignID   uuid.UUID        `json:"campaign_id" db:"campaign_id"`
	UserID       uuid.UUID        `json:"user_id" db:"user_id"`
	URL          string           `json:"url" db:"url"`
	Status       SubmissionStatus `json:"status" db:"status"`
	RetryCount   int              `json:"retry_count" db:"retry_count"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
	FormFound    *bool            `json:"form_found,omitempty" db:"form_found"`
	HasCaptcha   *bool            `json:"has_captcha,omitempty" db:"has_captcha"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty" db:"submitted_at"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
	Timestamps
}

// CanRetry reports whether the submission is eligible for re-queue.
func (s *Submission) CanRetry(maxRetries int) bool {
	if s.Status != SubmissionFailed || s.RetryCount >= maxRetries {
		return false
	}
	if s.ErrorMessage != nil && IsPermanentFailure(*s.ErrorMessage) {
		return false
	}
	return true
}

// SubmissionResult is what the pipeline writes back after one attempt.
type SubmissionResult struct {
	Status       SubmissionStatus
	ErrorMessage string
	FormFound    bool
	HasCaptcha   bool
	SubmittedAt  *time.Time
	ProcessedAt  time.Time
}

// CompletedResult builds the write-back for a verified submission.
func CompletedResult(hasCaptcha bool, at time.Time) SubmissionResult {
	return SubmissionResult{
		Status:      SubmissionCompleted,
		FormFound:   true,
		HasCaptcha:  hasCaptcha,
		SubmittedAt: &at,
		ProcessedAt: at,
	}
}

// FailedResult builds the write-back for a failed submission.
func FailedResult(err error, formFound, hasCaptcha bool, at time.Time) SubmissionResult {
	msg := ""
	if err != nil {
		msg = TruncateMessage(err.Error())
	}
	return SubmissionResult{
		Status:       SubmissionFailed,
		ErrorMessage: msg,
		FormFound:    formFound,
		HasCaptcha:   hasCaptcha,
		ProcessedAt:  at,
	}
}
