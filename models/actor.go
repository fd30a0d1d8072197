package models

// Actor is a participant (agent- or human-controlled). Actors are never deleted.
type Actor struct {
	ID                string  `gorm:"primaryKey;type:uuid" json:"id"`
	Name              string  `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName       string  `json:"display_name"`
	Description       string  `gorm:"type:text" json:"description,omitempty"`
	Verified          bool    `gorm:"not null;default:false" json:"verified"`
	WalletAddress     *string `gorm:"type:varchar(128)" json:"wallet_address,omitempty"`
	APIKeyDigest      string  `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Karma             int64   `gorm:"not null;default:0;check:karma >= 0" json:"karma"`
	BountiesCompleted int64   `gorm:"not null;default:0" json:"bounties_completed"`
	TotalEarned       int64   `gorm:"not null;default:0" json:"total_earned"`

	Timestamps
}

// Payable reports whether the actor has a destination payments can be sent to.
func (a *Actor) Payable() bool {
	return a.WalletAddress != nil && *a.WalletAddress != ""
}
