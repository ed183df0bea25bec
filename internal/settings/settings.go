package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/restobites/loyalty-ledger/internal/models"
)

// Setting keys for the card code length policy.
const (
	KeyRewardCodeLength = "card_code_length.reward"
	KeyGiftCodeLength   = "card_code_length.gift"
	KeyCoinsCodeLength  = "card_code_length.coins"
)

// Code length defaults, matching the lengths customers are used to typing.
const (
	defaultRewardCodeLength = 7
	defaultGiftCodeLength   = 5
	defaultCoinsCodeLength  = 6
)

// Bounds accepted for any configured code length.
const (
	minCodeLength = 4
	maxCodeLength = 12
)

// CodePolicy holds the numeric code length per card type.
type CodePolicy struct {
	RewardLength int `json:"reward_length"`
	GiftLength   int `json:"gift_length"`
	CoinsLength  int `json:"coins_length"`
}

// Length returns the code length for a card type.
func (p CodePolicy) Length(cardType models.CardType) int {
	switch cardType {
	case models.CardTypeReward:
		return p.RewardLength
	case models.CardTypeGift:
		return p.GiftLength
	case models.CardTypeCoins:
		return p.CoinsLength
	default:
		return defaultRewardCodeLength
	}
}

// snapshot holds the current policy; read lock-free on every card creation.
var snapshot atomic.Value

func init() {
	snapshot.Store(defaultPolicy())
}

func defaultPolicy() CodePolicy {
	return CodePolicy{
		RewardLength: defaultRewardCodeLength,
		GiftLength:   defaultGiftCodeLength,
		CoinsLength:  defaultCoinsCodeLength,
	}
}

// Policy returns the current in-memory code policy snapshot.
func Policy() CodePolicy {
	if p, ok := snapshot.Load().(CodePolicy); ok {
		return p
	}
	return defaultPolicy()
}

// Refresh reloads the code policy from the settings table and updates the
// snapshot. Missing or malformed rows fall back to defaults per key.
//
// Call this at process startup; otherwise Policy() serves defaults until an
// admin updates settings via the API (which triggers refresh).
func Refresh(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := conn.WithContext(ctx).
		Where("key IN ?", []string{KeyRewardCodeLength, KeyGiftCodeLength, KeyCoinsCodeLength}).
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}

	policy := defaultPolicy()
	for _, row := range rows {
		var length int
		if errDecode := json.Unmarshal(row.Value, &length); errDecode != nil {
			continue
		}
		if length < minCodeLength || length > maxCodeLength {
			continue
		}
		switch strings.TrimSpace(row.Key) {
		case KeyRewardCodeLength:
			policy.RewardLength = length
		case KeyGiftCodeLength:
			policy.GiftLength = length
		case KeyCoinsCodeLength:
			policy.CoinsLength = length
		}
	}

	snapshot.Store(policy)
	return nil
}

// UpdateCodeLength persists a code length for one card type and refreshes the
// snapshot.
func UpdateCodeLength(ctx context.Context, conn *gorm.DB, cardType models.CardType, length int) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if length < minCodeLength || length > maxCodeLength {
		return fmt.Errorf("settings: code length must be between %d and %d", minCodeLength, maxCodeLength)
	}

	var key string
	switch cardType {
	case models.CardTypeReward:
		key = KeyRewardCodeLength
	case models.CardTypeGift:
		key = KeyGiftCodeLength
	case models.CardTypeCoins:
		key = KeyCoinsCodeLength
	default:
		return fmt.Errorf("settings: unknown card type %q", cardType)
	}

	value, errEncode := json.Marshal(length)
	if errEncode != nil {
		return fmt.Errorf("settings: encode: %w", errEncode)
	}
	row := models.Setting{Key: key, Value: value}
	if errSave := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error; errSave != nil {
		return fmt.Errorf("settings: save %s: %w", key, errSave)
	}

	return Refresh(ctx, conn)
}
