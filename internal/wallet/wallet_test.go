package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
)

func setupWalletDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:wallet_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.WalletEntry{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func TestBalanceFromEntries(t *testing.T) {
	db := setupWalletDB(t)
	ctx := context.Background()

	if _, errCredit := Credit(ctx, db, 1, 100, "seed", nil); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}
	if _, errCredit := Credit(ctx, db, 1, 50, "seed", nil); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}
	if _, errDebit := Debit(ctx, db, 1, 30, "spend", nil); errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}

	balance, errBalance := Balance(ctx, db, 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 120 {
		t.Fatalf("expected 120, got %d", balance)
	}

	// Other users are unaffected.
	other, _ := Balance(ctx, db, 2)
	if other != 0 {
		t.Fatalf("expected empty balance for user 2, got %d", other)
	}
}

func TestDebitRejectsOverdraw(t *testing.T) {
	db := setupWalletDB(t)
	ctx := context.Background()

	if _, errCredit := Credit(ctx, db, 1, 10, "seed", nil); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}
	if _, errDebit := Debit(ctx, db, 1, 25, "spend", nil); !errors.Is(errDebit, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", errDebit)
	}

	balance, _ := Balance(ctx, db, 1)
	if balance != 10 {
		t.Fatalf("failed debit changed the balance to %d", balance)
	}
}

func TestMovementsRejectNonPositiveAmounts(t *testing.T) {
	db := setupWalletDB(t)
	ctx := context.Background()

	if _, errCredit := Credit(ctx, db, 1, 0, "bad", nil); errCredit == nil {
		t.Fatalf("expected error for zero credit")
	}
	if _, errDebit := Debit(ctx, db, 1, -5, "bad", nil); errDebit == nil {
		t.Fatalf("expected error for negative debit")
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	db := setupWalletDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, errCredit := Credit(ctx, db, 1, int64(10*(i+1)), fmt.Sprintf("credit %d", i), nil); errCredit != nil {
			t.Fatalf("credit %d: %v", i, errCredit)
		}
	}

	entries, errHistory := History(ctx, db, 1, 2)
	if errHistory != nil {
		t.Fatalf("history: %v", errHistory)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Amount != 30 {
		t.Fatalf("expected newest entry first, got amount %d", entries[0].Amount)
	}
}
