// Package loyalty implements the loyalty ledger core: card issuance and
// claiming, per-stamp activation, stage redemption and checkout-time card
// application. All mutations on a card are serialized through a row lock
// inside a single short transaction, so check-then-set pairs are atomic with
// respect to concurrent callers on the same card. Operations on distinct
// cards proceed in parallel.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbutil "github.com/restobites/loyalty-ledger/internal/db"
	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/settings"
	"github.com/restobites/loyalty-ledger/internal/util"
	"github.com/restobites/loyalty-ledger/internal/wallet"
)

// maxBatchSize bounds one admin batch creation request.
const maxBatchSize = 1000

// stampCodeLength is the length of per-stamp activation codes. Stamp codes
// only need uniqueness within their card.
const stampCodeLength = 6

// Registry creates, stores and retrieves cards, enforcing code uniqueness
// and ownership rules.
type Registry struct {
	db       *gorm.DB
	notifier *notify.Publisher
}

// NewRegistry constructs a Registry.
func NewRegistry(conn *gorm.DB, notifier *notify.Publisher) *Registry {
	return &Registry{db: conn, notifier: notifier}
}

// StageParams describes one reward stage in a creation request.
type StageParams struct {
	Required      int
	Reward        string
	RewardType    models.RewardKind
	DiscountValue int
}

// CreateParams is the shared template for a card batch.
type CreateParams struct {
	Type        models.CardType
	Title       string
	Description string
	ExpiresAt   *time.Time

	BackgroundColor string
	TextColor       string

	// Reward cards.
	Stages []StageParams

	// Gift cards.
	GiftType      models.RewardKind
	DiscountValue int
	ImageURL      string

	// Coins cards.
	CoinsValue int64
}

// CreateCards generates count cards sharing the supplied template. The whole
// batch is one transaction: either every card is created with a valid unique
// code, or none are. Reward cards get their full stamp set in the same
// transaction.
func (r *Registry) CreateCards(ctx context.Context, params CreateParams, count int) ([]models.Card, error) {
	if err := validateCreateParams(params, count); err != nil {
		return nil, err
	}

	codeLength := settings.Policy().Length(params.Type)
	created := make([]models.Card, 0, count)
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < count; i++ {
			code, errCode := uniqueCardCode(tx, codeLength)
			if errCode != nil {
				return errCode
			}
			card := models.Card{
				Type:            params.Type,
				Code:            code,
				Title:           params.Title,
				Description:     params.Description,
				Status:          models.CardStatusActive,
				ExpiresAt:       params.ExpiresAt,
				BackgroundColor: params.BackgroundColor,
				TextColor:       params.TextColor,
			}
			switch params.Type {
			case models.CardTypeGift:
				card.GiftType = params.GiftType
				card.DiscountValue = params.DiscountValue
				card.ImageURL = params.ImageURL
			case models.CardTypeCoins:
				card.CoinsValue = params.CoinsValue
			}
			if errCreate := tx.Create(&card).Error; errCreate != nil {
				return fmt.Errorf("loyalty: create card: %w", errCreate)
			}

			if params.Type == models.CardTypeReward {
				stages := make([]models.RewardStage, 0, len(params.Stages))
				for pos, sp := range params.Stages {
					stages = append(stages, models.RewardStage{
						CardID:        card.ID,
						Position:      pos,
						Required:      sp.Required,
						Reward:        sp.Reward,
						RewardType:    sp.RewardType,
						DiscountValue: sp.DiscountValue,
					})
				}
				if errStages := tx.Create(&stages).Error; errStages != nil {
					return fmt.Errorf("loyalty: create stages: %w", errStages)
				}
				stamps, errStamps := GenerateStamps(card.ID, params.Stages)
				if errStamps != nil {
					return errStamps
				}
				if errCreate := tx.Create(&stamps).Error; errCreate != nil {
					return fmt.Errorf("loyalty: create stamps: %w", errCreate)
				}
				card.Stages = stages
				card.Stamps = stamps
			}
			created = append(created, card)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	codes := make([]string, 0, len(created))
	for _, card := range created {
		codes = append(codes, card.Code)
	}
	r.notifier.CardsIssued(ctx, string(params.Type), codes)
	log.Infof("issued %d %s card(s)", len(created), params.Type)
	return created, nil
}

// FindByCode returns the card with the given code, with stages, stamps and
// owner loaded.
func (r *Registry) FindByCode(ctx context.Context, code string) (*models.Card, error) {
	var card models.Card
	err := r.db.WithContext(ctx).
		Preload("Stages", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Preload("Stamps", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Preload("Owner").
		Where("code = ?", code).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorf(KindNotFound, "no card with code %s", util.MaskCode(code))
		}
		return nil, fmt.Errorf("loyalty: find card: %w", err)
	}
	return &card, nil
}

// GetCard returns a card by ID with stages and stamps loaded.
func (r *Registry) GetCard(ctx context.Context, cardID uint64) (*models.Card, error) {
	var card models.Card
	err := r.db.WithContext(ctx).
		Preload("Stages", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Preload("Stamps", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Preload("Owner").
		First(&card, cardID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorf(KindNotFound, "card %d not found", cardID)
		}
		return nil, fmt.Errorf("loyalty: get card: %w", err)
	}
	return &card, nil
}

// ClaimCard assigns an unowned card to a user. Claiming is idempotent for
// the owning user and fails with CardAlreadyOwned for anyone else. Claiming
// a coins card credits the user's wallet exactly once and exhausts the card.
func (r *Registry) ClaimCard(ctx context.Context, code string, userID uint64) (*models.Card, error) {
	var claimed *models.Card
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).Where("code = ?", code).First(&card).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "no card with code %s", util.MaskCode(code))
			}
			return fmt.Errorf("loyalty: claim lookup: %w", errFind)
		}

		now := time.Now().UTC()
		if cardExpired(&card, now) {
			return errorf(KindCardExpired, "card %s is expired", util.MaskCode(code))
		}
		if card.OwnerID != nil {
			if *card.OwnerID == userID {
				claimed = &card
				return nil
			}
			return errorf(KindCardAlreadyOwned, "card %s already belongs to another customer", util.MaskCode(code))
		}
		if card.Status == models.CardStatusUsed {
			return errorf(KindCardAlreadyUsed, "card %s has already been used", util.MaskCode(code))
		}

		updates := map[string]any{"owner_id": userID}
		if card.Type == models.CardTypeCoins {
			if _, errCredit := wallet.Credit(ctx, tx, userID, card.CoinsValue, "coins card claim", &card.ID); errCredit != nil {
				return errCredit
			}
			updates["status"] = models.CardStatusUsed
			updates["used_at"] = now
		}
		if errUpdate := tx.Model(&card).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("loyalty: claim update: %w", errUpdate)
		}

		card.OwnerID = &userID
		if card.Type == models.CardTypeCoins {
			card.Status = models.CardStatusUsed
			card.UsedAt = &now
		}
		claimed = &card
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return claimed, nil
}

// Deactivate marks a card expired regardless of usage history. It is a
// no-op success when the card is already terminal.
func (r *Registry) Deactivate(ctx context.Context, cardID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).First(&card, cardID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "card %d not found", cardID)
			}
			return fmt.Errorf("loyalty: deactivate lookup: %w", errFind)
		}
		if card.Status != models.CardStatusActive {
			return nil
		}
		if errUpdate := tx.Model(&card).Update("status", models.CardStatusExpired).Error; errUpdate != nil {
			return fmt.Errorf("loyalty: deactivate: %w", errUpdate)
		}
		return nil
	})
}

// Delete removes a card and its dependent rows.
func (r *Registry) Delete(ctx context.Context, cardID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Card{}, cardID)
		if res.Error != nil {
			return fmt.Errorf("loyalty: delete card: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errorf(KindNotFound, "card %d not found", cardID)
		}
		for _, dependent := range []any{&models.RewardStage{}, &models.Stamp{}, &models.StageRedemption{}} {
			if errDep := tx.Where("card_id = ?", cardID).Delete(dependent).Error; errDep != nil {
				return fmt.Errorf("loyalty: delete card rows: %w", errDep)
			}
		}
		return nil
	})
}

// validateCreateParams checks a creation request before any row is written.
func validateCreateParams(params CreateParams, count int) error {
	if count <= 0 || count > maxBatchSize {
		return errorf(KindInvalidParameters, "count must be between 1 and %d", maxBatchSize)
	}
	if params.Title == "" {
		return errorf(KindInvalidParameters, "missing title")
	}
	if params.ExpiresAt != nil && params.ExpiresAt.Before(time.Now().UTC()) {
		return errorf(KindInvalidParameters, "expiry date is in the past")
	}

	switch params.Type {
	case models.CardTypeReward:
		if len(params.Stages) == 0 {
			return errorf(KindInvalidParameters, "reward card needs at least one stage")
		}
		prev := 0
		for i, stage := range params.Stages {
			if stage.Required <= prev {
				return errorf(KindInvalidParameters, "stage %d: required must exceed the previous stage", i)
			}
			prev = stage.Required
			if stage.Reward == "" {
				return errorf(KindInvalidParameters, "stage %d: missing reward", i)
			}
			switch stage.RewardType {
			case models.RewardKindGift:
			case models.RewardKindDiscount:
				if stage.DiscountValue <= 0 || stage.DiscountValue > 100 {
					return errorf(KindInvalidParameters, "stage %d: discount value must be between 1 and 100", i)
				}
			default:
				return errorf(KindInvalidParameters, "stage %d: unknown reward type %q", i, stage.RewardType)
			}
		}
	case models.CardTypeGift:
		switch params.GiftType {
		case models.RewardKindGift:
		case models.RewardKindDiscount:
			if params.DiscountValue <= 0 || params.DiscountValue > 100 {
				return errorf(KindInvalidParameters, "discount value must be between 1 and 100")
			}
		default:
			return errorf(KindInvalidParameters, "unknown gift type %q", params.GiftType)
		}
	case models.CardTypeCoins:
		if params.CoinsValue <= 0 {
			return errorf(KindInvalidParameters, "coins value must be positive")
		}
	default:
		return errorf(KindInvalidParameters, "unknown card type %q", params.Type)
	}
	return nil
}

// uniqueCardCode generates a card code, regenerating on collision with any
// existing or batch-pending card.
func uniqueCardCode(tx *gorm.DB, length int) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, errGen := numericCode(length)
		if errGen != nil {
			return "", errGen
		}
		var count int64
		if errCount := tx.Model(&models.Card{}).Where("code = ?", code).Count(&count).Error; errCount != nil {
			return "", fmt.Errorf("loyalty: check code collision: %w", errCount)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("loyalty: could not generate a unique card code after %d attempts", maxCodeAttempts)
}

// cardExpired reports whether a card must be treated as terminal. Natural
// expiry is derived from ExpiresAt at read time; the stored status may still
// say active.
func cardExpired(card *models.Card, now time.Time) bool {
	if card.Status == models.CardStatusExpired {
		return true
	}
	return card.ExpiresAt != nil && now.After(*card.ExpiresAt)
}

// lockForUpdate takes a row lock on PostgreSQL. SQLite serializes writers on
// its own and rejects FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if dbutil.IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
