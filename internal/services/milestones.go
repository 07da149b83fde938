package services

import (
	"time"

	"github.com/google/uuid"

	"progression-engine/internal/models"
)

// MilestoneGrant describes one reward granted when a referral count first
// reaches a threshold.
type MilestoneGrant struct {
	Kind      models.RewardKind
	Amount    int64
	BadgeName string
}

// milestonePolicy maps a referred-user count to the grants due exactly when
// the count first reaches it. Registration increments the count by one per
// call, so each threshold fires at most once per record.
var milestonePolicy = map[int][]MilestoneGrant{
	1: {
		{Kind: models.RewardKindTokens, Amount: 20},
	},
	5: {
		{Kind: models.RewardKindTokens, Amount: 50},
		{Kind: models.RewardKindXP, Amount: 100},
	},
	10: {
		{Kind: models.RewardKindTokens, Amount: 100},
		{Kind: models.RewardKindPremiumDays, Amount: 7},
	},
	25: {
		{Kind: models.RewardKindTokens, Amount: 250},
		{Kind: models.RewardKindPremiumDays, Amount: 30},
		{Kind: models.RewardKindBadge, BadgeName: "referral_master"},
	},
}

// EvaluateMilestones returns the pending rewards due at the given
// post-increment referred-user count, or nil for counts between thresholds.
func EvaluateMilestones(recordID uint, newCount int, now time.Time) []models.Reward {
	grants, ok := milestonePolicy[newCount]
	if !ok {
		return nil
	}

	rewards := make([]models.Reward, 0, len(grants))
	for _, g := range grants {
		rewards = append(rewards, models.Reward{
			ID:        uuid.NewString(),
			RecordID:  recordID,
			Kind:      g.Kind,
			Amount:    g.Amount,
			BadgeName: g.BadgeName,
			Milestone: newCount,
			Claimed:   false,
			CreatedAt: now,
		})
	}
	return rewards
}
