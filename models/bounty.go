package models

import "time"

type BountyStatus string

const (
	BountyOpen      BountyStatus = "open"
	BountyClaimed   BountyStatus = "claimed"
	BountyCompleted BountyStatus = "completed"
)

// Bounty is a single-reward, claim-based task owned by a project.
// Reward never changes after creation.
type Bounty struct {
	ID          string       `gorm:"primaryKey;type:uuid" json:"id"`
	ProjectID   string       `gorm:"type:uuid;not null;index" json:"project_id"`
	Title       string       `gorm:"not null" json:"title"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	Reward      int64        `gorm:"not null;check:reward > 0" json:"reward"`
	Status      BountyStatus `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	CreatedBy   string       `gorm:"type:uuid;not null" json:"created_by"`
	ClaimedBy   *string      `gorm:"type:uuid;index" json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time   `json:"claimed_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`

	Timestamps
}

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// BountySubmission is a claimant's work for a bounty. Only the current
// claimant's latest pending submission is ever approved or rejected.
type BountySubmission struct {
	ID         string           `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID   string           `gorm:"type:uuid;not null;index" json:"bounty_id"`
	ActorID    string           `gorm:"type:uuid;not null;index" json:"actor_id"`
	Content    string           `gorm:"type:text;not null" json:"content"`
	Status     SubmissionStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	ReviewedBy *string          `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
