package models

import (
	"time"
)

// WalletMirror mirrors wallet balances from the wallet service.
// Table name: wallet_mirrors
type WalletMirror struct {
	Address            string    `gorm:"primaryKey;type:varchar(128)" json:"address"`
	Chain              string    `gorm:"type:varchar(64);not null;default:''" json:"chain"`
	Token              string    `gorm:"type:varchar(64);not null;default:''" json:"token"`
	Balance            int64     `gorm:"not null;default:0" json:"balance"`
	IsActive           bool      `gorm:"not null" json:"is_active"`
	LastBalanceCheckAt time.Time `gorm:"not null" json:"last_balance_check_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}
