package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"progression-engine/internal/apperr"
	"progression-engine/internal/models"
)

// Version-checked writes are retried from the read step this many times
// before the operation surfaces ErrConflict.
const (
	maxWriteAttempts = 5
	writeRetryDelay  = 5 * time.Millisecond
)

// CreditKind selects the balance a credit applies to.
type CreditKind string

const (
	CreditTokens CreditKind = "tokens"
	CreditXP     CreditKind = "xp"
)

// LedgerService owns every mutation of an account's tokens, xp, premium
// expiration and achievement set. All writes go through a per-account
// optimistic version check so concurrent mutators never apply on top of a
// stale read.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// GetAccount retrieves an account by ID.
func (s *LedgerService) GetAccount(accountID uint) (*models.Account, error) {
	var acc models.Account
	if err := s.db.First(&acc, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &acc, nil
}

// CreateAccount creates a new account with the starting balance. Called from
// registration, which lives outside the engine proper.
func (s *LedgerService) CreateAccount(username string, initialTokens int64) (*models.Account, error) {
	acc := models.Account{
		Username: username,
		Tokens:   initialTokens,
	}
	if err := s.db.Create(&acc).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	log.Printf("Account created: %s (ID: %d)", username, acc.ID)
	return &acc, nil
}

// mutateAccount re-reads the account and applies the version-guarded update
// produced by mutate, retrying on stale writes. mutate returns nil updates to
// signal a no-op. The returned account reflects the committed state.
func (s *LedgerService) mutateAccount(accountID uint, mutate func(acc *models.Account) (map[string]interface{}, error)) (*models.Account, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		var acc models.Account
		if err := s.db.First(&acc, accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
			}
			return nil, err
		}

		updates, err := mutate(&acc)
		if err != nil {
			return nil, err
		}
		if updates == nil {
			return &acc, nil
		}
		updates["version"] = acc.Version + 1

		res := s.db.Model(&models.Account{}).
			Where("id = ? AND version = ?", acc.ID, acc.Version).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			if err := s.db.First(&acc, accountID).Error; err != nil {
				return nil, err
			}
			return &acc, nil
		}

		// Stale version: someone else wrote first. Back off and re-read.
		time.Sleep(time.Duration(attempt+1) * writeRetryDelay)
	}
	return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrConflict)
}

// Credit increases the account's tokens or xp. A zero amount is a no-op.
func (s *LedgerService) Credit(accountID uint, kind CreditKind, amount int64) (*models.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("credit amount must be non-negative: %w", apperr.ErrValidation)
	}
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		if amount == 0 {
			return nil, nil
		}
		switch kind {
		case CreditTokens:
			return map[string]interface{}{"tokens": acc.Tokens + amount}, nil
		case CreditXP:
			return map[string]interface{}{"xp": acc.XP + amount}, nil
		default:
			return nil, fmt.Errorf("unknown credit kind %q: %w", kind, apperr.ErrValidation)
		}
	})
}

// Debit decreases the account's token balance. The balance check and the
// version-guarded write together guarantee the balance never goes negative
// under concurrent debits.
func (s *LedgerService) Debit(accountID uint, amount int64) (*models.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("debit amount must be non-negative: %w", apperr.ErrValidation)
	}
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		if amount == 0 {
			return nil, nil
		}
		if amount > acc.Tokens {
			return nil, fmt.Errorf("balance %d, need %d: %w", acc.Tokens, amount, apperr.ErrInsufficientFunds)
		}
		return map[string]interface{}{"tokens": acc.Tokens - amount}, nil
	})
}

// ExtendPremium extends the account's premium expiration by the given number
// of days, stacking on a still-active subscription.
func (s *LedgerService) ExtendPremium(accountID uint, days int) (*models.Account, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive: %w", apperr.ErrValidation)
	}
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		newExpiry := ExtendExpiration(acc.PremiumExpiresAt, time.Now(), days)
		return map[string]interface{}{"premium_expires_at": newExpiry}, nil
	})
}

// MarkReferred records the account's referrer. The field is write-once.
func (s *LedgerService) MarkReferred(accountID, referrerID uint) (*models.Account, error) {
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		if acc.ReferredByID != nil {
			return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrAlreadyReferred)
		}
		return map[string]interface{}{"referred_by_id": referrerID}, nil
	})
}

// AssignReferralCode sets the account's referral code. The field is
// write-once; a second assignment fails.
func (s *LedgerService) AssignReferralCode(accountID uint, code string) (*models.Account, error) {
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		if acc.ReferralCode != nil {
			return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrAlreadyAssigned)
		}
		return map[string]interface{}{"referral_code": code}, nil
	})
}

// SyncReferralCount sets the account's referral counter to the referred-list
// length. Absolute assignment keeps the counter derivable from the list: a
// write lost after a registration is repaired by the next attempt that reads
// the same record. A zero at leaves the last-referral timestamp alone.
func (s *LedgerService) SyncReferralCount(accountID uint, count int, at time.Time) (*models.Account, error) {
	return s.mutateAccount(accountID, func(acc *models.Account) (map[string]interface{}, error) {
		if acc.ReferralCount == count {
			return nil, nil
		}
		updates := map[string]interface{}{"referral_count": count}
		if !at.IsZero() {
			updates["last_referral_at"] = at
		}
		return updates, nil
	})
}

// GetAchievements returns the account's unlocked achievements.
func (s *LedgerService) GetAchievements(accountID uint) ([]models.Achievement, error) {
	var achievements []models.Achievement
	if err := s.db.Where("account_id = ?", accountID).Order("unlocked_at ASC").Find(&achievements).Error; err != nil {
		return nil, err
	}
	return achievements, nil
}

// RecomputeAchievements evaluates the activity counters against the account's
// held achievements and appends anything newly earned. An empty delta is a
// valid outcome, not an error.
func (s *LedgerService) RecomputeAchievements(accountID uint, counters ActivityCounters) ([]models.Achievement, error) {
	if _, err := s.GetAccount(accountID); err != nil {
		return nil, err
	}

	existing, err := s.GetAchievements(accountID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(existing))
	for _, a := range existing {
		held[a.Name] = true
	}

	grants := EvaluateAchievements(counters, held)
	if len(grants) == 0 {
		return nil, nil
	}

	now := time.Now()
	unlocked := make([]models.Achievement, 0, len(grants))
	for _, g := range grants {
		row := models.Achievement{
			AccountID:  accountID,
			Name:       g.Name,
			Icon:       g.Icon,
			UnlockedAt: now,
		}
		if err := s.db.Create(&row).Error; err != nil {
			// A concurrent evaluation beat us to this name; the unique index
			// keeps the set consistent either way.
			log.Printf("Skipping achievement %q for account %d: %v", g.Name, accountID, err)
			continue
		}
		log.Printf("Achievement unlocked: %s -> account %d", g.Name, accountID)
		unlocked = append(unlocked, row)
	}
	return unlocked, nil
}

// grantBadge appends a badge-style achievement if the account does not
// already hold it. Idempotent.
func (s *LedgerService) grantBadge(db *gorm.DB, accountID uint, name string, now time.Time) error {
	var count int64
	if err := db.Model(&models.Achievement{}).
		Where("account_id = ? AND name = ?", accountID, name).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(&models.Achievement{
		AccountID:  accountID,
		Name:       name,
		Icon:       "🏆",
		UnlockedAt: now,
	}).Error
}

// ApplyRewardTx applies a reward's effect to the account inside the caller's
// transaction, guarded by a single version check. A stale version returns
// ErrConflict so the caller can roll back and retry the whole transaction.
func (s *LedgerService) ApplyRewardTx(tx *gorm.DB, accountID uint, reward *models.Reward, now time.Time) error {
	if reward.Kind == models.RewardKindBadge {
		return s.grantBadge(tx, accountID, reward.BadgeName, now)
	}

	var acc models.Account
	if err := tx.First(&acc, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
		}
		return err
	}

	updates := map[string]interface{}{"version": acc.Version + 1}
	switch reward.Kind {
	case models.RewardKindTokens:
		updates["tokens"] = acc.Tokens + reward.Amount
	case models.RewardKindXP:
		updates["xp"] = acc.XP + reward.Amount
	case models.RewardKindPremiumDays:
		updates["premium_expires_at"] = ExtendExpiration(acc.PremiumExpiresAt, now, int(reward.Amount))
	default:
		return fmt.Errorf("unknown reward kind %q: %w", reward.Kind, apperr.ErrValidation)
	}

	res := tx.Model(&models.Account{}).
		Where("id = ? AND version = ?", acc.ID, acc.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %d: %w", accountID, apperr.ErrConflict)
	}
	return nil
}
