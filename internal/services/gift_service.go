package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"progression-engine/internal/apperr"
)

// GiftService handles premium gifting: the gifter pays tokens, the recipient
// gets premium days stacked onto their current expiration.
type GiftService struct {
	db           *gorm.DB
	ledger       *LedgerService
	notifier     Notifier
	tokensPerDay int64
}

func NewGiftService(db *gorm.DB, ledger *LedgerService, notifier Notifier, tokensPerDay int64) *GiftService {
	if tokensPerDay <= 0 {
		tokensPerDay = 1
	}
	return &GiftService{db: db, ledger: ledger, notifier: notifier, tokensPerDay: tokensPerDay}
}

// GiftPremium debits the gifter and extends the recipient's premium. The
// debit is the effect-bearing first write; if the extension then fails, the
// debit is refunded with a compensating credit.
func (s *GiftService) GiftPremium(gifterID, recipientID uint, days int) (*time.Time, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be a positive integer: %w", apperr.ErrValidation)
	}

	// Fail on an unknown recipient before touching the gifter's balance.
	if _, err := s.ledger.GetAccount(recipientID); err != nil {
		return nil, err
	}

	cost := int64(days) * s.tokensPerDay
	if _, err := s.ledger.Debit(gifterID, cost); err != nil {
		return nil, err
	}

	recipient, err := s.ledger.ExtendPremium(recipientID, days)
	if err != nil {
		if _, refundErr := s.ledger.Credit(gifterID, CreditTokens, cost); refundErr != nil {
			log.Printf("Failed to refund %d tokens to account %d after gift failure: %v", cost, gifterID, refundErr)
		}
		return nil, err
	}

	log.Printf("Premium gifted: %d days from account %d to account %d (cost %d tokens)", days, gifterID, recipientID, cost)
	emit(s.notifier, Event{Type: "premium_gifted", AccountID: recipientID, Payload: map[string]interface{}{
		"gifter_id":  gifterID,
		"days":       days,
		"expires_at": recipient.PremiumExpiresAt,
	}})

	return recipient.PremiumExpiresAt, nil
}
