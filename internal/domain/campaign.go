package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is controlled externally except for the COMPLETED and FAILED
// transitions written by the processor.
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "DRAFT"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignRunning    CampaignStatus = "RUNNING"
	CampaignCompleted  CampaignStatus = "COMPLETED"
	CampaignFailed     CampaignStatus = "FAILED"
	CampaignPaused     CampaignStatus = "PAUSED"
)

// IsActive reports whether the processor should keep pulling batches.
func (s CampaignStatus) IsActive() bool {
	return s == CampaignProcessing || s == CampaignRunning
}

func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// Campaign is a batch of target-URL submissions sharing a message template.
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	UserID          uuid.UUID      `json:"user_id" db:"user_id"`
	Name            string         `json:"name" db:"name"`
	MessageTemplate string         `json:"message_template" db:"message_template"`
	Status          CampaignStatus `json:"status" db:"status"`
	Processed       int            `json:"processed" db:"processed"`
	Successful      int            `json:"successful" db:"successful"`
	Failed          int            `json:"failed" db:"failed"`
	ErrorMessage    *string        `json:"error_message,omitempty" db:"error_message"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Timestamps
}

// Progress is a per-batch delta applied to the campaign counters.
type Progress struct {
	Processed  int
	Successful int
	Failed     int
}

func (p *Progress) Add(o Progress) {
	p.Processed += o.Processed
	p.Successful += o.Successful
	p.Failed += o.Failed
}

func (p Progress) IsZero() bool {
	return p.Processed == 0 && p.Successful == 0 && p.Failed == 0
}
