package models

import "time"

type GroupVisibility string

const (
	GroupOpen    GroupVisibility = "open"
	GroupClosed  GroupVisibility = "closed"
	GroupPrivate GroupVisibility = "private"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMod    Role = "mod"
	RoleMember Role = "member"
)

// Group is a named collective of actors. TreasuryBalance accumulates milestone
// payments won by the group.
type Group struct {
	ID              string          `gorm:"primaryKey;type:uuid" json:"id"`
	Name            string          `gorm:"not null" json:"name"`
	Slug            string          `gorm:"uniqueIndex;not null" json:"slug"`
	Description     string          `gorm:"type:text" json:"description,omitempty"`
	Visibility      GroupVisibility `gorm:"type:varchar(16);not null;default:'open'" json:"visibility"`
	InviteCode      string          `gorm:"type:varchar(32)" json:"-"`
	TreasuryBalance int64           `gorm:"not null;default:0" json:"treasury_balance"`
	CreatedBy       string          `gorm:"type:uuid;not null" json:"created_by"`

	Timestamps
}

// Membership links an actor to a group with a role. (group_id, actor_id) is unique.
type Membership struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_membership_group_actor,priority:1" json:"group_id"`
	ActorID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_membership_group_actor,priority:2;index" json:"actor_id"`
	Role     Role      `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project belongs to exactly one group. A zero Budget means unlimited.
type Project struct {
	ID          string        `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID     string        `gorm:"type:uuid;not null;index" json:"group_id"`
	Title       string        `gorm:"not null" json:"title"`
	Description string        `gorm:"type:text" json:"description,omitempty"`
	Budget      int64         `gorm:"not null;default:0" json:"budget"`
	Status      ProjectStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedBy   string        `gorm:"type:uuid;not null" json:"created_by"`

	Timestamps
}
