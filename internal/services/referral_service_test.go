package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"progression-engine/internal/apperr"
	"progression-engine/internal/models"
)

func newReferralService(db *gorm.DB) *ReferralService {
	return NewReferralService(db, NewLedgerService(db), LogNotifier{})
}

func TestGetOrCreateCodeIsStable(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	acc := createAccount(t, db, "owner", 0)

	code, err := service.GetOrCreateCode(acc.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCode failed: %v", err)
	}
	if !strings.HasPrefix(code, "REF-") {
		t.Errorf("expected REF- prefix, got %s", code)
	}

	again, err := service.GetOrCreateCode(acc.ID)
	if err != nil {
		t.Fatalf("second GetOrCreateCode failed: %v", err)
	}
	if again != code {
		t.Errorf("code changed between calls: %s vs %s", code, again)
	}

	var record models.ReferralRecord
	if err := db.Where("code = ?", code).First(&record).Error; err != nil {
		t.Fatalf("referral record missing: %v", err)
	}
	if record.OwnerID != acc.ID {
		t.Errorf("record owner mismatch: %d", record.OwnerID)
	}
}

func TestGetOrCreateCodeUnknownAccount(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)

	if _, err := service.GetOrCreateCode(404); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterReferralGrantsFirstMilestone(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)
	friend := createAccount(t, db, "friend", 0)

	code, err := service.GetOrCreateCode(owner.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCode failed: %v", err)
	}

	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Fatalf("RegisterReferral failed: %v", err)
	}

	stats, err := service.GetStats(owner.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.ReferralCount != 1 {
		t.Errorf("expected referral count 1, got %d", stats.ReferralCount)
	}
	if len(stats.Rewards) != 1 {
		t.Fatalf("expected 1 reward at count 1, got %d", len(stats.Rewards))
	}
	if stats.Rewards[0].Kind != models.RewardKindTokens || stats.Rewards[0].Amount != 20 {
		t.Errorf("expected 20 tokens reward, got %s/%d", stats.Rewards[0].Kind, stats.Rewards[0].Amount)
	}
	if stats.TotalTokens != 20 {
		t.Errorf("expected running total 20 tokens, got %d", stats.TotalTokens)
	}

	// The referred account carries the referrer mark, the owner the count.
	var friendAcc models.Account
	db.First(&friendAcc, friend.ID)
	if friendAcc.ReferredByID == nil || *friendAcc.ReferredByID != owner.ID {
		t.Error("referred account missing referrer mark")
	}

	var ownerAcc models.Account
	db.First(&ownerAcc, owner.ID)
	if ownerAcc.ReferralCount != 1 {
		t.Errorf("owner referral count: expected 1, got %d", ownerAcc.ReferralCount)
	}
	if ownerAcc.LastReferralAt == nil {
		t.Error("owner last referral timestamp not set")
	}
}

func TestRegisterReferralIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)
	friend := createAccount(t, db, "friend", 0)

	code, _ := service.GetOrCreateCode(owner.ID)
	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Fatalf("first RegisterReferral failed: %v", err)
	}

	// Retried request: no error, no double count, no duplicate reward.
	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Fatalf("retried RegisterReferral failed: %v", err)
	}

	stats, _ := service.GetStats(owner.ID)
	if stats.ReferralCount != 1 {
		t.Errorf("expected count 1 after retry, got %d", stats.ReferralCount)
	}
	if len(stats.Rewards) != 1 {
		t.Errorf("expected 1 reward after retry, got %d", len(stats.Rewards))
	}
	if stats.TotalTokens != 20 {
		t.Errorf("expected totals unchanged at 20, got %d", stats.TotalTokens)
	}
}

func TestRegisterReferralRejectsSelf(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	code, _ := service.GetOrCreateCode(owner.ID)
	if err := service.RegisterReferral(code, owner.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for self-referral, got %v", err)
	}
}

func TestRegisterReferralRejectsSecondReferrer(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	ownerA := createAccount(t, db, "owner_a", 0)
	ownerB := createAccount(t, db, "owner_b", 0)
	friend := createAccount(t, db, "friend", 0)

	codeA, _ := service.GetOrCreateCode(ownerA.ID)
	codeB, _ := service.GetOrCreateCode(ownerB.ID)

	if err := service.RegisterReferral(codeA, friend.ID); err != nil {
		t.Fatalf("RegisterReferral failed: %v", err)
	}
	if err := service.RegisterReferral(codeB, friend.ID); !errors.Is(err, apperr.ErrAlreadyReferred) {
		t.Fatalf("expected ErrAlreadyReferred, got %v", err)
	}
}

func TestRegisterReferralUnknownCode(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	friend := createAccount(t, db, "friend", 0)

	if err := service.RegisterReferral("REF-NOPE", friend.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMilestoneFiresExactlyOncePerThreshold(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	code, _ := service.GetOrCreateCode(owner.ID)
	for i := 0; i < 10; i++ {
		friend := createAccount(t, db, fmt.Sprintf("friend%d", i), 0)
		if err := service.RegisterReferral(code, friend.ID); err != nil {
			t.Fatalf("RegisterReferral %d failed: %v", i, err)
		}
	}

	stats, _ := service.GetStats(owner.ID)
	if stats.ReferralCount != 10 {
		t.Fatalf("expected 10 referrals, got %d", stats.ReferralCount)
	}

	// Thresholds 1, 5 and 10 fired exactly once: 1 + 2 + 2 rewards.
	if len(stats.Rewards) != 5 {
		t.Fatalf("expected 5 rewards, got %d", len(stats.Rewards))
	}

	perMilestone := map[int]int{}
	for _, r := range stats.Rewards {
		perMilestone[r.Milestone]++
	}
	if perMilestone[1] != 1 || perMilestone[5] != 2 || perMilestone[10] != 2 {
		t.Errorf("unexpected milestone distribution: %v", perMilestone)
	}

	// Totals mirror the grant sums: 20+50+100 tokens, 100 xp, 7 premium days.
	if stats.TotalTokens != 170 || stats.TotalXP != 100 || stats.TotalPremiumDays != 7 {
		t.Errorf("unexpected totals: tokens=%d xp=%d days=%d",
			stats.TotalTokens, stats.TotalXP, stats.TotalPremiumDays)
	}
}

func TestTrackClick(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	code, _ := service.GetOrCreateCode(owner.ID)

	clicks, err := service.TrackClick(code)
	if err != nil {
		t.Fatalf("TrackClick failed: %v", err)
	}
	if clicks != 1 {
		t.Errorf("expected 1 click, got %d", clicks)
	}

	clicks, _ = service.TrackClick(code)
	if clicks != 2 {
		t.Errorf("expected 2 clicks, got %d", clicks)
	}

	if _, err := service.TrackClick("REF-NOPE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateCode(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	code, _ := service.GetOrCreateCode(owner.ID)

	v, err := service.ValidateCode(code)
	if err != nil {
		t.Fatalf("ValidateCode failed: %v", err)
	}
	if !v.Valid || v.OwnerID != owner.ID || v.Username != "owner" {
		t.Errorf("unexpected validation: %+v", v)
	}

	// Unknown codes are invalid, never an error.
	v, err = service.ValidateCode("REF-NOPE")
	if err != nil {
		t.Fatalf("ValidateCode for unknown code errored: %v", err)
	}
	if v.Valid {
		t.Error("unknown code reported valid")
	}
}

func TestGetStatsCapsReferredList(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	code, _ := service.GetOrCreateCode(owner.ID)
	var last uint
	for i := 0; i < 12; i++ {
		friend := createAccount(t, db, fmt.Sprintf("f%d", i), 0)
		if err := service.RegisterReferral(code, friend.ID); err != nil {
			t.Fatalf("RegisterReferral %d failed: %v", i, err)
		}
		last = friend.ID
	}

	stats, _ := service.GetStats(owner.ID)
	if stats.ReferralCount != 12 {
		t.Errorf("expected count 12, got %d", stats.ReferralCount)
	}
	if len(stats.ReferredUsers) != 10 {
		t.Fatalf("expected referred list capped at 10, got %d", len(stats.ReferredUsers))
	}
	if stats.ReferredUsers[0] != last {
		t.Errorf("expected newest first, got %d (want %d)", stats.ReferredUsers[0], last)
	}
}

func TestGetStatsWithoutCode(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	acc := createAccount(t, db, "codeless", 0)

	stats, err := service.GetStats(acc.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.HasCode {
		t.Error("expected HasCode=false")
	}
	if stats.ReferralCount != 0 || len(stats.Rewards) != 0 {
		t.Errorf("expected empty projection, got %+v", stats)
	}
}

func TestGetOrCreateCodeRepairsMissingRecord(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)
	friend := createAccount(t, db, "friend", 0)

	// Half-done assignment: the code committed but the record create was
	// lost. The next access must create the record, not orphan the code.
	if _, err := service.ledger.AssignReferralCode(owner.ID, "REF-ORPHAN1"); err != nil {
		t.Fatalf("failed to seed half-done assignment: %v", err)
	}

	code, err := service.GetOrCreateCode(owner.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCode failed: %v", err)
	}
	if code != "REF-ORPHAN1" {
		t.Errorf("expected the assigned code back, got %s", code)
	}

	var record models.ReferralRecord
	if err := db.Where("owner_id = ?", owner.ID).First(&record).Error; err != nil {
		t.Fatalf("record not repaired: %v", err)
	}
	if record.Code != "REF-ORPHAN1" {
		t.Errorf("repaired record carries wrong code: %s", record.Code)
	}

	// The repaired code is fully usable.
	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Errorf("RegisterReferral on repaired code failed: %v", err)
	}
	if _, err := service.TrackClick(code); err != nil {
		t.Errorf("TrackClick on repaired code failed: %v", err)
	}
}

func TestGetStatsRepairsMissingRecord(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)

	if _, err := service.ledger.AssignReferralCode(owner.ID, "REF-ORPHAN2"); err != nil {
		t.Fatalf("failed to seed half-done assignment: %v", err)
	}

	stats, err := service.GetStats(owner.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if !stats.HasCode || stats.Code != "REF-ORPHAN2" {
		t.Errorf("expected repaired projection with the code, got %+v", stats)
	}
}

func TestRegisterReferralResyncsCounterOnRetry(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	owner := createAccount(t, db, "owner", 0)
	friend := createAccount(t, db, "friend", 0)

	code, _ := service.GetOrCreateCode(owner.ID)
	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Fatalf("RegisterReferral failed: %v", err)
	}

	// Simulate a registration whose counter write was lost.
	if err := db.Model(&models.Account{}).Where("id = ?", owner.ID).
		Update("referral_count", 0).Error; err != nil {
		t.Fatalf("failed to desync counter: %v", err)
	}

	// The retried request hits the membership no-op and realigns the counter
	// with the list length.
	if err := service.RegisterReferral(code, friend.ID); err != nil {
		t.Fatalf("retried RegisterReferral failed: %v", err)
	}

	var ownerAcc models.Account
	db.First(&ownerAcc, owner.ID)
	if ownerAcc.ReferralCount != 1 {
		t.Errorf("counter not resynced: expected 1, got %d", ownerAcc.ReferralCount)
	}
}

func TestCodeGenerationRetriesPastCollisions(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	taken := createAccount(t, db, "taken", 0)
	acc := createAccount(t, db, "owner", 0)

	// Occupy a code, then force the generator to emit it a few times before
	// producing a free one.
	if _, err := service.ledger.AssignReferralCode(taken.ID, "REF-TAKEN"); err != nil {
		t.Fatalf("failed to occupy code: %v", err)
	}

	original := generateCode
	defer func() { generateCode = original }()

	calls := 0
	generateCode = func() (string, error) {
		calls++
		if calls <= 3 {
			return "REF-TAKEN", nil
		}
		return "REF-FREE1", nil
	}

	code, err := service.GetOrCreateCode(acc.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCode failed: %v", err)
	}
	if code != "REF-FREE1" {
		t.Errorf("expected REF-FREE1, got %s", code)
	}
	if calls != 4 {
		t.Errorf("expected 4 generator calls, got %d", calls)
	}
}

func TestCodeGenerationFailsWhenExhausted(t *testing.T) {
	db := setupTestDB(t)
	service := newReferralService(db)
	taken := createAccount(t, db, "taken", 0)
	acc := createAccount(t, db, "owner", 0)

	if _, err := service.ledger.AssignReferralCode(taken.ID, "REF-TAKEN"); err != nil {
		t.Fatalf("failed to occupy code: %v", err)
	}

	original := generateCode
	defer func() { generateCode = original }()

	generateCode = func() (string, error) {
		return "REF-TAKEN", nil
	}

	_, err := service.GetOrCreateCode(acc.ID)
	if !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("expected ErrInternal after exhausting attempts, got %v", err)
	}
}
