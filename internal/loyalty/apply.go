package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/util"
	"github.com/restobites/loyalty-ledger/internal/wallet"
)

// Action selects what applying a card to an order should do.
type Action string

// Checkout-time card actions.
const (
	// ActionCollect issues the next stamp code alongside the order; no
	// effect on the total.
	ActionCollect Action = "collect"
	// ActionRedeem applies a completed stage reward to the order.
	ActionRedeem Action = "redeem"
	// ActionUseGift applies a gift card's discount or free item once.
	ActionUseGift Action = "use_gift"
	// ActionUseCoins spends a coins card against the order total once.
	ActionUseCoins Action = "use_coins"
)

// OrderItem is one line of an order draft.
type OrderItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// OrderDraft is the checkout subsystem's view of an in-flight order.
type OrderDraft struct {
	OrderRef string      `json:"order_ref"`
	Subtotal float64     `json:"subtotal"`
	Items    []OrderItem `json:"items"`
}

// AppliedEffect is returned to checkout to fold into the order total.
type AppliedEffect struct {
	Action   Action `json:"action"`
	CardID   uint64 `json:"card_id"`
	CardCode string `json:"card_code"`

	StampCode string `json:"stamp_code,omitempty"` // Issued by collect.

	FreeItem        string  `json:"free_item,omitempty"`        // Gift reward flagged for fulfillment.
	DiscountPercent int     `json:"discount_percent,omitempty"` // Percentage applied.
	DiscountAmount  float64 `json:"discount_amount,omitempty"`  // Currency amount removed.
	CoinsSpent      int64   `json:"coins_spent,omitempty"`      // Wallet coins spent on the order.

	NewSubtotal float64 `json:"new_subtotal"`
}

// Applicator validates and folds a card's effect into an order total. It is
// the seam between the loyalty core and the checkout subsystem.
type Applicator struct {
	db       *gorm.DB
	notifier *notify.Publisher
}

// NewApplicator constructs an Applicator.
func NewApplicator(conn *gorm.DB, notifier *notify.Publisher) *Applicator {
	return &Applicator{db: conn, notifier: notifier}
}

// ApplyCard applies a card to an order draft. The precondition check and the
// terminal status write share one locked transaction, so a single-use card
// cannot be spent by two concurrent checkouts.
func (a *Applicator) ApplyCard(ctx context.Context, draft OrderDraft, cardCode string, userID uint64, action Action) (*AppliedEffect, error) {
	if draft.OrderRef == "" {
		return nil, errorf(KindInvalidParameters, "missing order reference")
	}
	if draft.Subtotal < 0 {
		return nil, errorf(KindInvalidParameters, "subtotal cannot be negative")
	}

	var effect *AppliedEffect
	var issuedStamp string
	errTx := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).Where("code = ?", cardCode).First(&card).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "no card with code %s", util.MaskCode(cardCode))
			}
			return fmt.Errorf("loyalty: apply lookup: %w", errFind)
		}
		now := time.Now().UTC()
		if cardExpired(&card, now) {
			return errorf(KindCardExpired, "card %s is expired", util.MaskCode(cardCode))
		}
		if card.OwnerID != nil && *card.OwnerID != userID {
			return errorf(KindCardAlreadyOwned, "card %s already belongs to another customer", util.MaskCode(cardCode))
		}

		var errApply error
		switch action {
		case ActionCollect:
			effect, errApply = applyCollect(tx, &card, userID, draft)
			if errApply == nil {
				issuedStamp = effect.StampCode
			}
		case ActionRedeem:
			effect, errApply = applyRedeem(tx, &card, userID, draft)
		case ActionUseGift:
			effect, errApply = applyGift(tx, &card, userID, now, draft)
		case ActionUseCoins:
			effect, errApply = applyCoins(ctx, tx, &card, userID, now, draft)
		default:
			return errorf(KindInvalidParameters, "unknown action %q", action)
		}
		if errApply != nil {
			return errApply
		}

		return recordApplication(tx, &card, userID, draft.OrderRef, action, effect)
	})
	if errTx != nil {
		return nil, errTx
	}

	if issuedStamp != "" {
		a.notifier.StampIssued(ctx, effect.CardCode, issuedStamp)
	}
	log.Infof("applied card %d to order %s (%s)", effect.CardID, draft.OrderRef, action)
	return effect, nil
}

// applyCollect issues the next stamp code for a reward card. Collecting
// claims an unowned card for the ordering customer.
func applyCollect(tx *gorm.DB, card *models.Card, userID uint64, draft OrderDraft) (*AppliedEffect, error) {
	if card.Type != models.CardTypeReward {
		return nil, errorf(KindCardNotApplicable, "cannot collect stamps on a %s card", card.Type)
	}
	if card.Status == models.CardStatusUsed {
		return nil, errorf(KindCardAlreadyUsed, "card %s has already been used", util.MaskCode(card.Code))
	}
	if err := claimIfUnowned(tx, card, userID); err != nil {
		return nil, err
	}
	stamp, errIssue := issueNextStamp(tx, card.ID)
	if errIssue != nil {
		return nil, errIssue
	}
	return &AppliedEffect{
		Action:      ActionCollect,
		CardID:      card.ID,
		CardCode:    card.Code,
		StampCode:   stamp.Code,
		NewSubtotal: draft.Subtotal,
	}, nil
}

// applyRedeem redeems the eligible stage and folds its reward into the
// order.
func applyRedeem(tx *gorm.DB, card *models.Card, userID uint64, draft OrderDraft) (*AppliedEffect, error) {
	if card.Type != models.CardTypeReward {
		return nil, errorf(KindCardNotApplicable, "cannot redeem a %s card", card.Type)
	}
	stage, errStage := eligibleStage(tx, card.ID)
	if errStage != nil {
		return nil, errStage
	}
	if stage == nil {
		return nil, errorf(KindInsufficientStamps, "card %s has no completed stage to redeem", util.MaskCode(card.Code))
	}
	result, errRedeem := redeemStage(tx, card, stage.Position, userID)
	if errRedeem != nil {
		return nil, errRedeem
	}

	effect := &AppliedEffect{
		Action:      ActionRedeem,
		CardID:      card.ID,
		CardCode:    card.Code,
		NewSubtotal: draft.Subtotal,
	}
	switch result.RewardType {
	case models.RewardKindGift:
		effect.FreeItem = result.Reward
	case models.RewardKindDiscount:
		effect.DiscountPercent = result.DiscountValue
		effect.DiscountAmount = roundMoney(draft.Subtotal * float64(result.DiscountValue) / 100)
		effect.NewSubtotal = roundMoney(draft.Subtotal - effect.DiscountAmount)
	}
	return effect, nil
}

// applyGift spends a single-use gift card.
func applyGift(tx *gorm.DB, card *models.Card, userID uint64, now time.Time, draft OrderDraft) (*AppliedEffect, error) {
	if card.Type != models.CardTypeGift {
		return nil, errorf(KindCardNotApplicable, "cannot use a %s card as a gift card", card.Type)
	}
	if card.Status == models.CardStatusUsed {
		return nil, errorf(KindCardAlreadyUsed, "card %s has already been used", util.MaskCode(card.Code))
	}
	if err := claimIfUnowned(tx, card, userID); err != nil {
		return nil, err
	}

	effect := &AppliedEffect{
		Action:      ActionUseGift,
		CardID:      card.ID,
		CardCode:    card.Code,
		NewSubtotal: draft.Subtotal,
	}
	switch card.GiftType {
	case models.RewardKindDiscount:
		effect.DiscountPercent = card.DiscountValue
		effect.DiscountAmount = roundMoney(draft.Subtotal * float64(card.DiscountValue) / 100)
		effect.NewSubtotal = roundMoney(draft.Subtotal - effect.DiscountAmount)
	case models.RewardKindGift:
		effect.FreeItem = card.Title
	}

	if errUse := markUsed(tx, card, now); errUse != nil {
		return nil, errUse
	}
	return effect, nil
}

// applyCoins spends a coins card against the order: the card value is
// credited to the wallet and the part covering the order is debited back,
// so any remainder stays on the customer's balance.
func applyCoins(ctx context.Context, tx *gorm.DB, card *models.Card, userID uint64, now time.Time, draft OrderDraft) (*AppliedEffect, error) {
	if card.Type != models.CardTypeCoins {
		return nil, errorf(KindCardNotApplicable, "cannot use a %s card as a coins card", card.Type)
	}
	if card.Status == models.CardStatusUsed {
		return nil, errorf(KindCardAlreadyUsed, "card %s has already been used", util.MaskCode(card.Code))
	}
	if err := claimIfUnowned(tx, card, userID); err != nil {
		return nil, err
	}

	if _, errCredit := wallet.Credit(ctx, tx, userID, card.CoinsValue, "coins card claim", &card.ID); errCredit != nil {
		return nil, errCredit
	}
	spend := card.CoinsValue
	if orderCoins := int64(math.Floor(draft.Subtotal)); orderCoins < spend {
		spend = orderCoins
	}
	if spend > 0 {
		if _, errDebit := wallet.Debit(ctx, tx, userID, spend, "order payment "+draft.OrderRef, &card.ID); errDebit != nil {
			if errors.Is(errDebit, wallet.ErrInsufficientBalance) {
				return nil, errorf(KindInvalidParameters, "wallet balance cannot cover the order")
			}
			return nil, errDebit
		}
	}

	if errUse := markUsed(tx, card, now); errUse != nil {
		return nil, errUse
	}
	return &AppliedEffect{
		Action:      ActionUseCoins,
		CardID:      card.ID,
		CardCode:    card.Code,
		CoinsSpent:  spend,
		NewSubtotal: roundMoney(draft.Subtotal - float64(spend)),
	}, nil
}

// claimIfUnowned assigns the card to the user when nobody owns it yet. The
// caller has already rejected cards owned by someone else.
func claimIfUnowned(tx *gorm.DB, card *models.Card, userID uint64) error {
	if card.OwnerID != nil {
		return nil
	}
	if errUpdate := tx.Model(card).Update("owner_id", userID).Error; errUpdate != nil {
		return fmt.Errorf("loyalty: claim on apply: %w", errUpdate)
	}
	card.OwnerID = &userID
	return nil
}

// markUsed transitions a card to its terminal used state.
func markUsed(tx *gorm.DB, card *models.Card, now time.Time) error {
	if errUpdate := tx.Model(card).Updates(map[string]any{
		"status":  models.CardStatusUsed,
		"used_at": now,
	}).Error; errUpdate != nil {
		return fmt.Errorf("loyalty: mark used: %w", errUpdate)
	}
	card.Status = models.CardStatusUsed
	card.UsedAt = &now
	return nil
}

// recordApplication audits the applied effect.
func recordApplication(tx *gorm.DB, card *models.Card, userID uint64, orderRef string, action Action, effect *AppliedEffect) error {
	payload, errEncode := json.Marshal(effect)
	if errEncode != nil {
		return fmt.Errorf("loyalty: encode effect: %w", errEncode)
	}
	record := models.CardApplication{
		CardID:   card.ID,
		UserID:   userID,
		OrderRef: orderRef,
		Action:   string(action),
		Effect:   payload,
	}
	if errCreate := tx.Create(&record).Error; errCreate != nil {
		return fmt.Errorf("loyalty: record application: %w", errCreate)
	}
	return nil
}

// roundMoney rounds to cents.
func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
