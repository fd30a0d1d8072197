package models

import "time"

type JobStatus string

const (
	JobOpen       JobStatus = "open"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// Job is a poster-funded task open to competitive bids from groups. PosterID is
// nil for anonymous postings, which are managed through a job token instead.
type Job struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	Title         string     `gorm:"not null" json:"title"`
	Description   string     `gorm:"type:text" json:"description,omitempty"`
	BudgetMin     int64      `gorm:"not null;default:0" json:"budget_min"`
	BudgetMax     int64      `gorm:"not null;default:0" json:"budget_max"`
	Deadline      *time.Time `gorm:"index" json:"deadline,omitempty"`
	PosterID      *string    `gorm:"type:uuid;index" json:"poster_id,omitempty"`
	TokenDigest   string     `gorm:"type:varchar(64)" json:"-"`
	Status        JobStatus  `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	AcceptedBidID *string    `gorm:"type:uuid" json:"accepted_bid_id,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Timestamps
}

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidWithdrawn BidStatus = "withdrawn"
)

// JobBid is a group's offer on a job. A group bids at most once per job.
type JobBid struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	JobID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_bid_job_group,priority:1" json:"job_id"`
	GroupID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_bid_job_group,priority:2" json:"group_id"`
	BidderID string    `gorm:"type:uuid;not null" json:"bidder_id"`
	Price    int64     `gorm:"not null;check:price > 0" json:"price"`
	Timeline string    `json:"timeline"`
	Proposal string    `gorm:"type:text" json:"proposal"`
	Status   BidStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`

	Timestamps
}

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneSubmitted MilestoneStatus = "submitted"
	MilestoneApproved  MilestoneStatus = "approved"
)

// DefaultMilestoneTitle names the single milestone created when a bid is accepted.
const DefaultMilestoneTitle = "Final Delivery"

// JobMilestone is a partial-payment checkpoint. Payment is Percentage of the
// accepted bid's price, rounded down.
type JobMilestone struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	JobID       string          `gorm:"type:uuid;not null;index" json:"job_id"`
	Title       string          `gorm:"not null" json:"title"`
	Percentage  int             `gorm:"not null;check:percentage > 0 AND percentage <= 100" json:"percentage"`
	Position    int             `gorm:"not null;default:0" json:"position"`
	Status      MilestoneStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	Payment     int64           `gorm:"not null;default:0" json:"payment"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`

	Timestamps
}

// MilestonePayment is floor(price * percentage / 100).
func MilestonePayment(price int64, percentage int) int64 {
	return price * int64(percentage) / 100
}
