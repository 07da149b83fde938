package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mr-tron/base58"
	"gorm.io/gorm"

	"progression-engine/internal/apperr"
	"progression-engine/internal/models"
)

const (
	codePrefix      = "REF-"
	codeSuffixLen   = 8
	maxCodeAttempts = 10
)

// ReferralService owns referral records: code issuance, referral
// registration with milestone grants, click tracking and stats projections.
type ReferralService struct {
	db       *gorm.DB
	ledger   *LedgerService
	notifier Notifier
}

func NewReferralService(db *gorm.DB, ledger *LedgerService, notifier Notifier) *ReferralService {
	return &ReferralService{db: db, ledger: ledger, notifier: notifier}
}

// generateCode produces a candidate code: readable prefix plus a random
// base58 suffix (no ambiguous characters). A variable so tests can force
// collisions.
var generateCode = func() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code suffix: %w", err)
	}
	suffix := base58.Encode(b)
	if len(suffix) > codeSuffixLen {
		suffix = suffix[:codeSuffixLen]
	}
	return codePrefix + suffix, nil
}

// codeTaken checks the candidate against every assigned code.
func (s *ReferralService) codeTaken(code string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Account{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.db.Model(&models.ReferralRecord{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetOrCreateCode returns the account's referral code, generating one on
// first request. Generation retries on collisions up to maxCodeAttempts and
// then surfaces ErrInternal rather than looping forever.
func (s *ReferralService) GetOrCreateCode(accountID uint) (string, error) {
	acc, err := s.ledger.GetAccount(accountID)
	if err != nil {
		return "", err
	}
	if acc.ReferralCode != nil {
		// A crash between assigning the code and creating its record leaves
		// the pair half-done; repair it on the next access.
		if err := s.ensureRecord(accountID, *acc.ReferralCode); err != nil {
			return "", err
		}
		return *acc.ReferralCode, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}

		taken, err := s.codeTaken(code)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}

		if _, err := s.ledger.AssignReferralCode(accountID, code); err != nil {
			if errors.Is(err, apperr.ErrAlreadyAssigned) {
				// Lost the race against a concurrent request; return the
				// winner's code.
				acc, err := s.ledger.GetAccount(accountID)
				if err != nil {
					return "", err
				}
				if err := s.ensureRecord(accountID, *acc.ReferralCode); err != nil {
					return "", err
				}
				return *acc.ReferralCode, nil
			}
			return "", err
		}

		if err := s.ensureRecord(accountID, code); err != nil {
			return "", err
		}

		log.Printf("Generated referral code %s for account %d", code, accountID)
		return code, nil
	}

	return "", fmt.Errorf("referral code space exhausted after %d attempts: %w", maxCodeAttempts, apperr.ErrInternal)
}

// ensureRecord creates the record half of a code assignment if it is missing,
// so an interrupted assignment converges instead of orphaning the code.
func (s *ReferralService) ensureRecord(accountID uint, code string) error {
	record := models.ReferralRecord{Code: code, OwnerID: accountID}
	if err := s.db.Where("owner_id = ?", accountID).FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("failed to create referral record: %w", err)
	}
	return nil
}

// RegisterReferral appends the new account to the code's referred list,
// evaluates milestones for the post-increment count and grants any rewards
// due. Registering an already-listed account is a no-op.
func (s *ReferralService) RegisterReferral(code string, newAccountID uint) error {
	var record models.ReferralRecord
	if err := s.db.Where("code = ?", code).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("referral code %s: %w", code, apperr.ErrNotFound)
		}
		return err
	}

	if record.OwnerID == newAccountID {
		return fmt.Errorf("cannot use your own referral code: %w", apperr.ErrValidation)
	}

	var member int64
	if err := s.db.Model(&models.ReferredUser{}).
		Where("record_id = ? AND referred_id = ?", record.ID, newAccountID).
		Count(&member).Error; err != nil {
		return err
	}
	if member > 0 {
		// Retried request; the list is append-only and de-duplicated. Resync
		// the owner's counter in case the first attempt lost that write.
		return s.syncOwnerCount(record.OwnerID, record.ID)
	}

	if _, err := s.ledger.MarkReferred(newAccountID, record.OwnerID); err != nil {
		if errors.Is(err, apperr.ErrAlreadyReferred) {
			acc, accErr := s.ledger.GetAccount(newAccountID)
			if accErr != nil {
				return accErr
			}
			// A crash between marking the account and appending to the list
			// leaves the mark without the entry; the same referrer means this
			// is that recovery path, so fall through and complete the append.
			if acc.ReferredByID == nil || *acc.ReferredByID != record.OwnerID {
				return err
			}
		} else {
			return err
		}
	}

	now := time.Now()
	var granted []models.Reward
	var newCount int

	err := s.withRecordRetry(record.ID, func(tx *gorm.DB, rec *models.ReferralRecord) (map[string]interface{}, error) {
		var count int64
		if err := tx.Model(&models.ReferredUser{}).Where("record_id = ?", rec.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		newCount = int(count) + 1

		entry := models.ReferredUser{
			RecordID:   rec.ID,
			ReferredID: newAccountID,
			Position:   newCount,
			CreatedAt:  now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return nil, fmt.Errorf("failed to append referred user: %w", err)
		}

		granted = EvaluateMilestones(rec.ID, newCount, now)
		updates := map[string]interface{}{}
		if len(granted) > 0 {
			if err := tx.Create(&granted).Error; err != nil {
				return nil, fmt.Errorf("failed to create milestone rewards: %w", err)
			}
			tokens, xp, premiumDays := rec.TotalTokens, rec.TotalXP, rec.TotalPremiumDays
			for _, r := range granted {
				switch r.Kind {
				case models.RewardKindTokens:
					tokens += r.Amount
				case models.RewardKindXP:
					xp += r.Amount
				case models.RewardKindPremiumDays:
					premiumDays += r.Amount
				}
			}
			updates["total_tokens"] = tokens
			updates["total_xp"] = xp
			updates["total_premium_days"] = premiumDays
		}
		return updates, nil
	})
	if err != nil {
		return err
	}

	if _, err := s.ledger.SyncReferralCount(record.OwnerID, newCount, now); err != nil {
		// The record side is committed; surfacing the failure makes the
		// caller retry, and the retry resyncs through the membership path.
		return err
	}

	log.Printf("Referral registered: code=%s account=%d count=%d rewards=%d",
		code, newAccountID, newCount, len(granted))

	payload := map[string]interface{}{"code": code, "referred_id": newAccountID, "count": newCount}
	if len(granted) > 0 {
		payload["milestone"] = newCount
		payload["rewards"] = len(granted)
	}
	emit(s.notifier, Event{Type: "referral_registered", AccountID: record.OwnerID, Payload: payload})

	return nil
}

// syncOwnerCount aligns the owner's referral counter with the referred-list
// length.
func (s *ReferralService) syncOwnerCount(ownerID, recordID uint) error {
	var total int64
	if err := s.db.Model(&models.ReferredUser{}).Where("record_id = ?", recordID).Count(&total).Error; err != nil {
		return err
	}
	_, err := s.ledger.SyncReferralCount(ownerID, int(total), time.Time{})
	return err
}

// withRecordRetry runs mutate inside a transaction with a version-guarded
// update of the referral record, retrying from a fresh read on stale writes.
func (s *ReferralService) withRecordRetry(recordID uint, mutate func(tx *gorm.DB, rec *models.ReferralRecord) (map[string]interface{}, error)) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		stale := false
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var rec models.ReferralRecord
			if err := tx.First(&rec, recordID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("referral record %d: %w", recordID, apperr.ErrNotFound)
				}
				return err
			}

			updates, err := mutate(tx, &rec)
			if err != nil {
				return err
			}
			if updates == nil {
				updates = map[string]interface{}{}
			}
			updates["version"] = rec.Version + 1

			res := tx.Model(&models.ReferralRecord{}).
				Where("id = ? AND version = ?", rec.ID, rec.Version).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				stale = true
				return fmt.Errorf("referral record %d: %w", recordID, apperr.ErrConflict)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if !stale {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * writeRetryDelay)
	}
	return fmt.Errorf("referral record %d: %w", recordID, apperr.ErrConflict)
}

// TrackClick increments the code's click counter.
func (s *ReferralService) TrackClick(code string) (int64, error) {
	res := s.db.Model(&models.ReferralRecord{}).
		Where("code = ?", code).
		Update("clicks", gorm.Expr("clicks + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("referral code %s: %w", code, apperr.ErrNotFound)
	}

	var record models.ReferralRecord
	if err := s.db.Where("code = ?", code).First(&record).Error; err != nil {
		return 0, err
	}
	return record.Clicks, nil
}

// CodeValidation is the public projection of a code lookup.
type CodeValidation struct {
	Valid    bool   `json:"valid"`
	OwnerID  uint   `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// ValidateCode reports whether a code exists and who owns it. An unknown code
// is not an error, just invalid.
func (s *ReferralService) ValidateCode(code string) (*CodeValidation, error) {
	var record models.ReferralRecord
	err := s.db.Where("code = ?", code).Preload("Owner").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CodeValidation{Valid: false}, nil
	}
	if err != nil {
		return nil, err
	}

	v := &CodeValidation{Valid: true, OwnerID: record.OwnerID}
	if record.Owner != nil {
		v.Username = record.Owner.Username
	}
	return v, nil
}

// ReferralStats is the read-only stats projection for an account.
type ReferralStats struct {
	ReferralCount    int             `json:"referral_count"`
	ReferredUsers    []uint          `json:"referred_users"`
	Rewards          []models.Reward `json:"rewards"`
	TotalTokens      int64           `json:"total_tokens"`
	TotalXP          int64           `json:"total_xp"`
	TotalPremiumDays int64           `json:"total_premium_days"`
	HasCode          bool            `json:"has_code"`
	Code             string          `json:"code,omitempty"`
	Clicks           int64           `json:"clicks,omitempty"`
}

// GetStats returns the account's referral statistics. Accounts without a code
// get an empty projection with HasCode=false.
func (s *ReferralService) GetStats(accountID uint) (*ReferralStats, error) {
	acc, err := s.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	var record models.ReferralRecord
	err = s.db.Where("owner_id = ?", accountID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if acc.ReferralCode == nil {
			return &ReferralStats{Rewards: []models.Reward{}, ReferredUsers: []uint{}}, nil
		}
		// Assigned code without its record: repair, then project as usual.
		if err := s.ensureRecord(accountID, *acc.ReferralCode); err != nil {
			return nil, err
		}
		if err := s.db.Where("owner_id = ?", accountID).First(&record).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	var referred []models.ReferredUser
	if err := s.db.Where("record_id = ?", record.ID).
		Order("position DESC").Limit(10).
		Find(&referred).Error; err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.ReferredUser{}).Where("record_id = ?", record.ID).Count(&count).Error; err != nil {
		return nil, err
	}

	var rewards []models.Reward
	if err := s.db.Where("record_id = ?", record.ID).Order("created_at ASC").Find(&rewards).Error; err != nil {
		return nil, err
	}

	referredIDs := make([]uint, 0, len(referred))
	for _, r := range referred {
		referredIDs = append(referredIDs, r.ReferredID)
	}

	return &ReferralStats{
		ReferralCount:    int(count),
		ReferredUsers:    referredIDs,
		Rewards:          rewards,
		TotalTokens:      record.TotalTokens,
		TotalXP:          record.TotalXP,
		TotalPremiumDays: record.TotalPremiumDays,
		HasCode:          true,
		Code:             record.Code,
		Clicks:           record.Clicks,
	}, nil
}
