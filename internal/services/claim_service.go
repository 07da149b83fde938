package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"progression-engine/internal/apperr"
	"progression-engine/internal/models"
)

// ClaimService coordinates the cross-entity claim of a referral reward: the
// effect-bearing ledger write and the idempotency marker commit in one
// transaction, then the claimed flag flips on the referral side. The marker
// makes retries and crash recovery safe: the effect is applied at most once
// no matter how often the operation is re-run.
type ClaimService struct {
	db       *gorm.DB
	ledger   *LedgerService
	notifier Notifier
}

func NewClaimService(db *gorm.DB, ledger *LedgerService, notifier Notifier) *ClaimService {
	return &ClaimService{db: db, ledger: ledger, notifier: notifier}
}

// ClaimResult reports what a successful claim delivered.
type ClaimResult struct {
	Kind   models.RewardKind `json:"kind"`
	Amount int64             `json:"amount"`
	Badge  string            `json:"badge,omitempty"`
}

// Claim applies the reward's effect to the account and marks the reward
// claimed. A second call for the same reward fails with ErrAlreadyClaimed; a
// call retried after a crash between the two writes completes the flag flip
// without re-applying the effect.
func (s *ClaimService) Claim(accountID uint, rewardID string) (*ClaimResult, error) {
	acc, err := s.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acc.ReferralCode == nil {
		return nil, fmt.Errorf("account %d has no referral code: %w", accountID, apperr.ErrNotFound)
	}

	var record models.ReferralRecord
	if err := s.db.Where("owner_id = ?", accountID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("referral record for account %d: %w", accountID, apperr.ErrNotFound)
		}
		return nil, err
	}

	var reward models.Reward
	if err := s.db.Where("id = ? AND record_id = ?", rewardID, record.ID).First(&reward).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("reward %s: %w", rewardID, apperr.ErrNotFound)
		}
		return nil, err
	}

	now := time.Now()
	result := &ClaimResult{Kind: reward.Kind, Amount: reward.Amount, Badge: reward.BadgeName}

	applied, err := s.effectApplied(rewardID)
	if err != nil {
		return nil, err
	}

	switch {
	case reward.Claimed:
		return nil, fmt.Errorf("reward %s: %w", rewardID, apperr.ErrAlreadyClaimed)

	case applied:
		// Effect landed but the flag flip was lost: finish step two only.
		log.Printf("Recovering half-claimed reward %s for account %d", rewardID, accountID)

	default:
		if err := s.applyWithMarker(accountID, &reward, now); err != nil {
			return nil, err
		}
	}

	if err := s.markClaimed(rewardID, now); err != nil {
		// The effect is durable and marked; the next access recovers the
		// flag, so surface the failure without rolling anything back.
		return nil, err
	}

	log.Printf("Reward claimed: id=%s account=%d kind=%s amount=%d", rewardID, accountID, reward.Kind, reward.Amount)
	emit(s.notifier, Event{Type: "reward_claimed", AccountID: accountID, Payload: map[string]interface{}{
		"reward_id": rewardID,
		"kind":      string(reward.Kind),
		"amount":    reward.Amount,
	}})

	return result, nil
}

// effectApplied reports whether the idempotency marker for the reward exists.
func (s *ClaimService) effectApplied(rewardID string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.AppliedReward{}).Where("reward_id = ?", rewardID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyWithMarker commits the idempotency marker and the ledger effect in one
// transaction, retrying the whole transaction on version conflicts.
func (s *ClaimService) applyWithMarker(accountID uint, reward *models.Reward, now time.Time) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		conflict := false
		err := s.db.Transaction(func(tx *gorm.DB) error {
			marker := models.AppliedReward{
				AccountID: accountID,
				RewardID:  reward.ID,
				AppliedAt: now,
			}
			if err := tx.Create(&marker).Error; err != nil {
				if isDuplicateKey(err) {
					// Unique reward_id: a concurrent claim already holds the
					// effect. Report it as claimed rather than double-applying.
					return fmt.Errorf("reward %s: %w", reward.ID, apperr.ErrAlreadyClaimed)
				}
				return fmt.Errorf("failed to record applied reward %s: %w", reward.ID, err)
			}
			if err := s.ledger.ApplyRewardTx(tx, accountID, reward, now); err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					conflict = true
				}
				return err
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if !conflict {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * writeRetryDelay)
	}
	return fmt.Errorf("reward %s: %w", reward.ID, apperr.ErrConflict)
}

// isDuplicateKey reports whether err is a unique-constraint violation. Covers
// the gorm translated error plus the raw sqlite and postgres messages.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// markClaimed flips the claimed flag. Naturally idempotent, so it is retried
// on storage errors.
func (s *ClaimService) markClaimed(rewardID string, now time.Time) error {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		res := s.db.Model(&models.Reward{}).
			Where("id = ? AND claimed = ?", rewardID, false).
			Updates(map[string]interface{}{"claimed": true, "claimed_at": now})
		if res.Error == nil {
			return nil
		}
		lastErr = res.Error
		time.Sleep(time.Duration(attempt+1) * writeRetryDelay)
	}
	log.Printf("Failed to mark reward %s claimed after %d attempts: %v", rewardID, maxWriteAttempts, lastErr)
	return fmt.Errorf("failed to mark reward %s claimed: %v: %w", rewardID, lastErr, apperr.ErrInternal)
}
