package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/util"
)

// Engine determines stage completion and performs redemptions. A reward card
// conceptually moves through accumulating, stage-ready and exhausted states;
// none of that is stored, it is all derived from stamp counts and redemption
// records.
type Engine struct {
	db *gorm.DB
}

// NewEngine constructs an Engine.
func NewEngine(conn *gorm.DB) *Engine {
	return &Engine{db: conn}
}

// RedemptionResult is the reward payload returned to the caller to apply.
type RedemptionResult struct {
	StagePosition int
	Reward        string
	RewardType    models.RewardKind
	DiscountValue int
}

// EligibleStage returns the stage the card can currently redeem, or nil when
// none. Thresholds are cumulative and strictly increasing, so the eligible
// stage is the highest satisfied stage not yet redeemed.
func (e *Engine) EligibleStage(ctx context.Context, cardID uint64) (*models.RewardStage, error) {
	return eligibleStage(e.db.WithContext(ctx), cardID)
}

// Redeem marks a stage redeemed and returns its reward. Redemption is
// idempotent per stage: a second call fails rather than double-granting.
func (e *Engine) Redeem(ctx context.Context, cardID uint64, stageIndex int, userID uint64) (*RedemptionResult, error) {
	var result *RedemptionResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).First(&card, cardID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "card %d not found", cardID)
			}
			return fmt.Errorf("loyalty: redeem lookup: %w", errFind)
		}
		redeemed, errRedeem := redeemStage(tx, &card, stageIndex, userID)
		if errRedeem != nil {
			return errRedeem
		}
		result = redeemed
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	log.Infof("redeemed stage %d of card %d", stageIndex, cardID)
	return result, nil
}

// redeemStage performs the redemption checks and writes within the caller's
// transaction, which must hold the card row lock.
func redeemStage(tx *gorm.DB, card *models.Card, stageIndex int, userID uint64) (*RedemptionResult, error) {
	if card.Type != models.CardTypeReward {
		return nil, errorf(KindCardNotApplicable, "card %s has no reward stages", util.MaskCode(card.Code))
	}
	if cardExpired(card, time.Now().UTC()) {
		return nil, errorf(KindCardExpired, "card %s is expired", util.MaskCode(card.Code))
	}
	if card.OwnerID == nil || *card.OwnerID != userID {
		return nil, errorf(KindCardNotOwned, "card %s is not owned by this customer", util.MaskCode(card.Code))
	}

	var stage models.RewardStage
	if errFind := tx.Where("card_id = ? AND position = ?", card.ID, stageIndex).First(&stage).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, errorf(KindInvalidParameters, "card %s has no stage %d", util.MaskCode(card.Code), stageIndex)
		}
		return nil, fmt.Errorf("loyalty: redeem lookup stage: %w", errFind)
	}

	var already int64
	if errCount := tx.Model(&models.StageRedemption{}).
		Where("card_id = ? AND stage_position = ?", card.ID, stageIndex).
		Count(&already).Error; errCount != nil {
		return nil, fmt.Errorf("loyalty: redeem check: %w", errCount)
	}
	if already > 0 {
		return nil, errorf(KindAlreadyRedeemed, "stage %d of card %s was already redeemed", stageIndex, util.MaskCode(card.Code))
	}

	count, errCount := activeCount(tx, card.ID)
	if errCount != nil {
		return nil, errCount
	}
	if count < stage.Required {
		return nil, errorf(KindNotEligible, "stage %d needs %d stamps, card has %d", stageIndex, stage.Required, count)
	}

	redemption := models.StageRedemption{
		CardID:        card.ID,
		StagePosition: stageIndex,
		UserID:        userID,
		Reward:        stage.Reward,
		RewardType:    stage.RewardType,
		DiscountValue: stage.DiscountValue,
	}
	if errCreate := tx.Create(&redemption).Error; errCreate != nil {
		return nil, fmt.Errorf("loyalty: record redemption: %w", errCreate)
	}

	// The card is exhausted once every stage has been redeemed.
	var stageCount, redeemedCount int64
	if errCount := tx.Model(&models.RewardStage{}).Where("card_id = ?", card.ID).Count(&stageCount).Error; errCount != nil {
		return nil, fmt.Errorf("loyalty: count stages: %w", errCount)
	}
	if errCount := tx.Model(&models.StageRedemption{}).Where("card_id = ?", card.ID).Count(&redeemedCount).Error; errCount != nil {
		return nil, fmt.Errorf("loyalty: count redemptions: %w", errCount)
	}
	if redeemedCount >= stageCount {
		now := time.Now().UTC()
		if errUpdate := tx.Model(card).Updates(map[string]any{
			"status":  models.CardStatusUsed,
			"used_at": now,
		}).Error; errUpdate != nil {
			return nil, fmt.Errorf("loyalty: exhaust card: %w", errUpdate)
		}
		card.Status = models.CardStatusUsed
		card.UsedAt = &now
	}

	return &RedemptionResult{
		StagePosition: stageIndex,
		Reward:        stage.Reward,
		RewardType:    stage.RewardType,
		DiscountValue: stage.DiscountValue,
	}, nil
}

// eligibleStage finds the highest satisfied stage without a redemption
// record.
func eligibleStage(conn *gorm.DB, cardID uint64) (*models.RewardStage, error) {
	var stages []models.RewardStage
	if errFind := conn.Where("card_id = ?", cardID).Order("position ASC").Find(&stages).Error; errFind != nil {
		return nil, fmt.Errorf("loyalty: load stages: %w", errFind)
	}
	if len(stages) == 0 {
		return nil, nil
	}

	var redemptions []models.StageRedemption
	if errFind := conn.Where("card_id = ?", cardID).Find(&redemptions).Error; errFind != nil {
		return nil, fmt.Errorf("loyalty: load redemptions: %w", errFind)
	}
	redeemed := make(map[int]struct{}, len(redemptions))
	for _, r := range redemptions {
		redeemed[r.StagePosition] = struct{}{}
	}

	count, errCount := activeCount(conn, cardID)
	if errCount != nil {
		return nil, errCount
	}

	var eligible *models.RewardStage
	for i := range stages {
		stage := stages[i]
		if stage.Required > count {
			break
		}
		if _, done := redeemed[stage.Position]; done {
			continue
		}
		eligible = &stages[i]
	}
	return eligible, nil
}
