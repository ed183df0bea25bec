// Package wallet maintains per-user coin balances as an append-only ledger.
// Balances are derived by summing entries; movements compose with card
// transactions by running against the caller's *gorm.DB, which may be a tx.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
)

// ErrInsufficientBalance indicates a debit would overdraw the balance.
var ErrInsufficientBalance = errors.New("wallet: insufficient balance")

// Balance returns the user's current coin balance.
func Balance(ctx context.Context, conn *gorm.DB, userID uint64) (int64, error) {
	var total struct {
		Credits int64
		Debits  int64
	}
	err := conn.WithContext(ctx).Model(&models.WalletEntry{}).
		Select(
			"COALESCE(SUM(CASE WHEN kind = ? THEN amount ELSE 0 END), 0) AS credits, "+
				"COALESCE(SUM(CASE WHEN kind = ? THEN amount ELSE 0 END), 0) AS debits",
			models.WalletEntryCredit, models.WalletEntryDebit,
		).
		Where("user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("wallet: balance: %w", err)
	}
	return total.Credits - total.Debits, nil
}

// Credit appends a credit entry for the user.
func Credit(ctx context.Context, conn *gorm.DB, userID uint64, amount int64, reason string, cardID *uint64) (*models.WalletEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("wallet: credit amount must be positive")
	}
	entry := models.WalletEntry{
		UserID:    userID,
		Kind:      models.WalletEntryCredit,
		Amount:    amount,
		Reference: uuid.NewString(),
		Reason:    reason,
		CardID:    cardID,
	}
	if errCreate := conn.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return nil, fmt.Errorf("wallet: credit: %w", errCreate)
	}
	return &entry, nil
}

// Debit appends a debit entry for the user. It fails with
// ErrInsufficientBalance when the balance would go negative; the balance
// check and the insert must share a transaction to be race-free, so callers
// pass their tx as conn.
func Debit(ctx context.Context, conn *gorm.DB, userID uint64, amount int64, reason string, cardID *uint64) (*models.WalletEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("wallet: debit amount must be positive")
	}
	balance, errBalance := Balance(ctx, conn, userID)
	if errBalance != nil {
		return nil, errBalance
	}
	if balance < amount {
		return nil, ErrInsufficientBalance
	}
	entry := models.WalletEntry{
		UserID:    userID,
		Kind:      models.WalletEntryDebit,
		Amount:    amount,
		Reference: uuid.NewString(),
		Reason:    reason,
		CardID:    cardID,
	}
	if errCreate := conn.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return nil, fmt.Errorf("wallet: debit: %w", errCreate)
	}
	return &entry, nil
}

// History returns the user's wallet entries, newest first.
func History(ctx context.Context, conn *gorm.DB, userID uint64, limit int) ([]models.WalletEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.WalletEntry
	err := conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("wallet: history: %w", err)
	}
	return entries, nil
}
