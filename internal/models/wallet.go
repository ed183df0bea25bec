package models

import "time"

// WalletEntryKind classifies a wallet movement.
type WalletEntryKind string

// Wallet movement kinds.
const (
	// WalletEntryCredit adds coins to a user's balance.
	WalletEntryCredit WalletEntryKind = "credit"
	// WalletEntryDebit removes coins from a user's balance.
	WalletEntryDebit WalletEntryKind = "debit"
)

// WalletEntry is one movement in a user's coin balance ledger. The balance is
// the sum of entries; no separate balance column exists to drift from it.
type WalletEntry struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Owning user ID.

	Kind   WalletEntryKind `gorm:"type:text;not null"` // credit or debit.
	Amount int64           `gorm:"not null"`           // Coin amount, always positive.

	Reference string  `gorm:"type:text;not null;uniqueIndex"` // Opaque unique movement reference.
	Reason    string  `gorm:"type:text;not null"`             // Human-readable cause.
	CardID    *uint64 `gorm:"index"`                          // Originating card, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Movement timestamp.
}
