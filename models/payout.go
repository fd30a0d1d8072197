package models

import "time"

type PayoutKind string

const (
	PayoutBounty     PayoutKind = "bounty"
	PayoutEngagement PayoutKind = "engagement"
)

type PayoutStatus string

const (
	PayoutIssued PayoutStatus = "issued"
	PayoutFailed PayoutStatus = "failed"
)

// Payout records one payment attempt. IdempotencyKey is unique and is also
// passed to the payment sink so a repeated attempt cannot pay twice.
type Payout struct {
	ID             string       `gorm:"primaryKey;type:uuid" json:"id"`
	IdempotencyKey string       `gorm:"type:varchar(128);uniqueIndex;not null" json:"idempotency_key"`
	Kind           PayoutKind   `gorm:"type:varchar(16);not null" json:"kind"`
	ActorID        string       `gorm:"type:uuid;not null;index" json:"actor_id"`
	Destination    string       `gorm:"type:varchar(128);not null" json:"destination"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Memo           string       `json:"memo"`
	Status         PayoutStatus `gorm:"type:varchar(16);not null" json:"status"`
	Error          string       `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

type LedgerReason string

const (
	LedgerBountyReward     LedgerReason = "bounty_reward"
	LedgerMilestonePayment LedgerReason = "milestone_payment"
)

// LedgerEntry is the append-only audit trail behind the additive counters
// (actor total_earned, group treasury_balance). Each entry is written in the
// same transaction as the counter it explains.
type LedgerEntry struct {
	ID          string       `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID     *string      `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	GroupID     *string      `gorm:"type:uuid;index" json:"group_id,omitempty"`
	Reason      LedgerReason `gorm:"type:varchar(32);not null;uniqueIndex:idx_ledger_reason_ref,priority:1" json:"reason"`
	ReferenceID string       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_reason_ref,priority:2" json:"reference_id"`
	Amount      int64        `gorm:"not null" json:"amount"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Actor{},
		&Group{},
		&Membership{},
		&Project{},
		&Bounty{},
		&BountySubmission{},
		&Job{},
		&JobBid{},
		&JobMilestone{},
		&Post{},
		&PostLike{},
		&Engagement{},
		&DailyInteractionGrant{},
		&BoostSetting{},
		&Payout{},
		&LedgerEntry{},
		&WalletMirror{},
	}
}
