package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/util"
)

// Ledger manages the per-card stamp set for reward cards. Activation is the
// only mutation a stamp ever sees.
type Ledger struct {
	db       *gorm.DB
	notifier *notify.Publisher
}

// NewLedger constructs a Ledger.
func NewLedger(conn *gorm.DB, notifier *notify.Publisher) *Ledger {
	return &Ledger{db: conn, notifier: notifier}
}

// GenerateStamps produces one stamp per unit of progress up to the highest
// stage threshold, each with a code unique within the card.
func GenerateStamps(cardID uint64, stages []StageParams) ([]models.Stamp, error) {
	total := 0
	for _, stage := range stages {
		if stage.Required > total {
			total = stage.Required
		}
	}
	if total == 0 {
		return nil, errorf(KindInvalidParameters, "stages define no progress")
	}

	seen := make(map[string]struct{}, total)
	stamps := make([]models.Stamp, 0, total)
	for position := 0; position < total; position++ {
		var code string
		for attempt := 0; ; attempt++ {
			if attempt >= maxCodeAttempts {
				return nil, fmt.Errorf("loyalty: could not generate a unique stamp code after %d attempts", maxCodeAttempts)
			}
			candidate, errGen := numericCode(stampCodeLength)
			if errGen != nil {
				return nil, errGen
			}
			if _, dup := seen[candidate]; !dup {
				code = candidate
				break
			}
		}
		seen[code] = struct{}{}
		stamps = append(stamps, models.Stamp{
			CardID:   cardID,
			Code:     code,
			Position: position,
		})
	}
	return stamps, nil
}

// ActivateStamp looks up a stamp by card and code and marks it active. Stamp
// codes are single-use: re-activating an active stamp fails rather than
// silently succeeding, because each code represents one verified event. The
// activating user must own the card.
func (l *Ledger) ActivateStamp(ctx context.Context, cardID uint64, stampCode string, userID uint64) (*models.Stamp, error) {
	var activated *models.Stamp
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).First(&card, cardID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "card %d not found", cardID)
			}
			return fmt.Errorf("loyalty: activate lookup card: %w", errFind)
		}
		if cardExpired(&card, time.Now().UTC()) {
			return errorf(KindCardExpired, "card %s is expired", util.MaskCode(card.Code))
		}
		if card.OwnerID == nil || *card.OwnerID != userID {
			return errorf(KindCardNotOwned, "card %s is not owned by this customer", util.MaskCode(card.Code))
		}

		var stamp models.Stamp
		if errFind := tx.Where("card_id = ? AND code = ?", cardID, stampCode).First(&stamp).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "no stamp with code %s on this card", util.MaskCode(stampCode))
			}
			return fmt.Errorf("loyalty: activate lookup stamp: %w", errFind)
		}
		if stamp.IsActive {
			return errorf(KindAlreadyActivated, "stamp code %s was already activated", util.MaskCode(stampCode))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"is_active":       true,
			"activated_by_id": userID,
			"activated_at":    now,
		}
		if errUpdate := tx.Model(&stamp).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("loyalty: activate stamp: %w", errUpdate)
		}
		stamp.IsActive = true
		stamp.ActivatedByID = &userID
		stamp.ActivatedAt = &now
		activated = &stamp
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return activated, nil
}

// ActiveCount returns the number of active stamps on a card. It drives all
// progress and stage-completion computations and never exceeds the stamp
// count.
func (l *Ledger) ActiveCount(ctx context.Context, cardID uint64) (int, error) {
	return activeCount(l.db.WithContext(ctx), cardID)
}

// IssueNext hands out the next unissued stamp code for a card, so codes are
// distributed one at a time (printed on a receipt, sent by message) rather
// than all at once.
func (l *Ledger) IssueNext(ctx context.Context, cardID uint64) (*models.Stamp, error) {
	var issued *models.Stamp
	var cardCode string
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if errFind := lockForUpdate(tx).First(&card, cardID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errorf(KindNotFound, "card %d not found", cardID)
			}
			return fmt.Errorf("loyalty: issue lookup card: %w", errFind)
		}
		if card.Type != models.CardTypeReward {
			return errorf(KindCardNotApplicable, "card %s has no stamps", util.MaskCode(card.Code))
		}
		if cardExpired(&card, time.Now().UTC()) {
			return errorf(KindCardExpired, "card %s is expired", util.MaskCode(card.Code))
		}
		cardCode = card.Code

		stamp, errIssue := issueNextStamp(tx, cardID)
		if errIssue != nil {
			return errIssue
		}
		issued = stamp
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	l.notifier.StampIssued(ctx, cardCode, issued.Code)
	log.Infof("issued stamp code %s for card %d", util.MaskCode(issued.Code), cardID)
	return issued, nil
}

// issueNextStamp marks the lowest unissued stamp as issued within the
// caller's transaction.
func issueNextStamp(tx *gorm.DB, cardID uint64) (*models.Stamp, error) {
	var stamp models.Stamp
	err := tx.Where("card_id = ? AND issued_at IS NULL", cardID).
		Order("position ASC").
		First(&stamp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorf(KindNotEligible, "card %d has no stamp codes left to issue", cardID)
		}
		return nil, fmt.Errorf("loyalty: issue lookup stamp: %w", err)
	}
	now := time.Now().UTC()
	if errUpdate := tx.Model(&stamp).Update("issued_at", now).Error; errUpdate != nil {
		return nil, fmt.Errorf("loyalty: issue stamp: %w", errUpdate)
	}
	stamp.IssuedAt = &now
	return &stamp, nil
}

// activeCount counts active stamps using the caller's handle, which may be a
// transaction.
func activeCount(conn *gorm.DB, cardID uint64) (int, error) {
	var count int64
	err := conn.Model(&models.Stamp{}).
		Where("card_id = ? AND is_active = ?", cardID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("loyalty: active count: %w", err)
	}
	return int(count), nil
}
