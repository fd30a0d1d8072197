package models

import (
	"time"
)

// Post is an actor's wall post. Counters are denormalised for the feed.
type Post struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	AuthorID     string    `gorm:"type:uuid;not null;index" json:"author_id"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	LikeCount    int64     `gorm:"not null;default:0" json:"like_count"`
	CommentCount int64     `gorm:"not null;default:0" json:"comment_count"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// PostLike enforces one like per actor per post.
type PostLike struct {
	PostID    string    `gorm:"primaryKey;type:uuid" json:"post_id"`
	ActorID   string    `gorm:"primaryKey;type:uuid" json:"actor_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type EngagementKind string

const (
	EngagementLike    EngagementKind = "like"
	EngagementComment EngagementKind = "comment"
)

// Engagement is a single like or comment, with the amount actually earned for
// this event.
type Engagement struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	PostID    string         `gorm:"type:uuid;not null;index" json:"post_id"`
	ActorID   string         `gorm:"type:uuid;not null;index" json:"actor_id"`
	Kind      EngagementKind `gorm:"type:varchar(16);not null" json:"kind"`
	Body      string         `gorm:"type:text" json:"body,omitempty"`
	Earned    int64          `gorm:"not null;default:0" json:"earned"`
	GrantID   *string        `gorm:"type:uuid" json:"grant_id,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// DailyInteractionGrant is the reward ledger row. The unique key
// (from_actor_id, to_actor_id, day) is the only record of whether an actor
// was already rewarded for interacting with another actor on that day.
type DailyInteractionGrant struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	FromActorID string    `gorm:"type:uuid;not null;uniqueIndex:idx_grant_pair_day,priority:1" json:"from_actor_id"`
	ToActorID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_grant_pair_day,priority:2;index" json:"to_actor_id"`
	Day         string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_grant_pair_day,priority:3" json:"day"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Boosted     bool      `gorm:"not null;default:false" json:"boosted"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BoostSetting is a poster's additive bonus on top of the base daily reward
// paid to actors engaging with the poster's content.
type BoostSetting struct {
	ActorID   string    `gorm:"primaryKey;type:uuid" json:"actor_id"`
	Amount    int64     `gorm:"not null;default:0" json:"amount"`
	Enabled   bool      `gorm:"not null;default:false" json:"enabled"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
