package models

import (
	"time"

	"gorm.io/datatypes"
)

// CardType identifies the loyalty instrument variant.
type CardType string

// Supported card types.
const (
	// CardTypeReward is a stamp-based reward card with staged thresholds.
	CardTypeReward CardType = "reward"
	// CardTypeGift is a single-use gift card (free item or percentage discount).
	CardTypeGift CardType = "gift"
	// CardTypeCoins is a single-use card crediting wallet coins on claim.
	CardTypeCoins CardType = "coins"
)

// CardStatus is the stored lifecycle state of a card.
type CardStatus string

// Card lifecycle states. Transitions are monotonic: active cards may become
// used or expired; used and expired are terminal.
const (
	CardStatusActive  CardStatus = "active"
	CardStatusUsed    CardStatus = "used"
	CardStatusExpired CardStatus = "expired"
)

// RewardKind distinguishes what a reward stage or gift card grants.
type RewardKind string

// Reward kinds shared by reward stages and gift cards.
const (
	RewardKindGift     RewardKind = "gift"
	RewardKindDiscount RewardKind = "discount"
)

// Card is a loyalty instrument identified by a unique activation code.
type Card struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Type CardType `gorm:"type:text;not null;index"`       // Card variant tag.
	Code string   `gorm:"type:text;not null;uniqueIndex"` // Human-enterable activation code.

	Title       string `gorm:"type:text;not null"` // Display title.
	Description string `gorm:"type:text"`          // Optional display text.

	Status    CardStatus `gorm:"type:text;not null;default:'active';index"` // Stored lifecycle state.
	ExpiresAt *time.Time // Expiry date; the card is unusable past it regardless of Status.

	OwnerID *uint64 `gorm:"index"`               // User who claimed the card, if any.
	Owner   *User   `gorm:"foreignKey:OwnerID"`  // Claiming user record.
	UsedAt  *time.Time

	// Gift card fields.
	GiftType      RewardKind `gorm:"type:text"` // discount or gift; empty for other types.
	DiscountValue int        `gorm:"not null;default:0"` // Percentage 1-100 when GiftType is discount.
	ImageURL      string     `gorm:"type:text"`

	// Coins card fields.
	CoinsValue int64 `gorm:"not null;default:0"` // Wallet credit granted on claim.

	// Presentation only.
	BackgroundColor string `gorm:"type:text"`
	TextColor       string `gorm:"type:text"`

	Stages []RewardStage `gorm:"foreignKey:CardID"` // Reward card stages, ordered by Position.
	Stamps []Stamp       `gorm:"foreignKey:CardID"` // Reward card stamp set.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RewardStage is a cumulative threshold on a reward card. Required values
// strictly increase with Position.
type RewardStage struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	CardID uint64 `gorm:"not null;index"`           // Owning card ID.

	Position int `gorm:"not null"` // Zero-based stage index on the card.
	Required int `gorm:"not null"` // Active stamps needed to unlock the stage.

	Reward        string     `gorm:"type:text;not null"` // Reward description.
	RewardType    RewardKind `gorm:"type:text;not null"` // gift or discount.
	DiscountValue int        `gorm:"not null;default:0"` // Percentage 1-100 when RewardType is discount.
}

// Stamp is one unit of progress toward a reward card stage, activated via its
// own code. Activation is the only mutation and is monotonic.
type Stamp struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`                  // Primary key.
	CardID uint64 `gorm:"not null;uniqueIndex:idx_stamp_card_code"`  // Owning card ID.
	Code   string `gorm:"type:text;not null;uniqueIndex:idx_stamp_card_code"` // Per-card activation code.

	Position int  `gorm:"not null"`               // Slot index within the card.
	IsActive bool `gorm:"not null;default:false"` // Set true exactly once on activation.

	ActivatedByID *uint64    `gorm:"index"` // User who activated the stamp; never cleared.
	ActivatedAt   *time.Time // Activation time.
	IssuedAt      *time.Time // When the code was handed out to the customer, if tracked.
}

// StageRedemption records that a reward stage was redeemed. One row per stage
// per card; the unique index makes double-redemption a constraint violation
// even outside the locked transaction path.
type StageRedemption struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`                       // Primary key.
	CardID uint64 `gorm:"not null;uniqueIndex:idx_redemption_card_stage"` // Owning card ID.

	StagePosition int     `gorm:"not null;uniqueIndex:idx_redemption_card_stage"` // Redeemed stage index.
	UserID        uint64  `gorm:"not null;index"`                                 // Redeeming user.

	Reward        string     `gorm:"type:text;not null"` // Granted reward description.
	RewardType    RewardKind `gorm:"type:text;not null"` // gift or discount.
	DiscountValue int        `gorm:"not null;default:0"` // Percentage for discount rewards.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Redemption timestamp.
}

// CardApplication audits a card effect folded into an order at checkout.
type CardApplication struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	CardID uint64 `gorm:"not null;index"`           // Applied card ID.
	UserID uint64 `gorm:"not null;index"`           // Ordering user.

	OrderRef string `gorm:"type:text;not null;index"` // Caller-supplied order reference.
	Action   string `gorm:"type:text;not null"`       // collect, redeem, use_gift or use_coins.

	Effect datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Applied effect payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Application timestamp.
}
