package models

import (
	"time"
)

// RewardKind enumerates what a referral milestone grants.
type RewardKind string

const (
	RewardKindTokens      RewardKind = "tokens"
	RewardKindXP          RewardKind = "xp"
	RewardKindPremiumDays RewardKind = "premium_days"
	RewardKindBadge       RewardKind = "badge"
)

// ReferralRecord is the per-code record of referred users, pending/claimed
// rewards and running totals. One record per code, 1:1 with the owning
// account's ReferralCode.
type ReferralRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Code             string         `gorm:"uniqueIndex;not null;size:50" json:"code"`
	OwnerID          uint           `gorm:"uniqueIndex;not null" json:"owner_id"`
	Owner            *Account       `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Clicks           int64          `gorm:"not null;default:0" json:"clicks"`
	TotalTokens      int64          `gorm:"not null;default:0" json:"total_tokens"`
	TotalXP          int64          `gorm:"not null;default:0" json:"total_xp"`
	TotalPremiumDays int64          `gorm:"not null;default:0" json:"total_premium_days"`
	Version          int64          `gorm:"not null;default:0" json:"-"`
	ReferredUsers    []ReferredUser `gorm:"foreignKey:RecordID" json:"referred_users,omitempty"`
	Rewards          []Reward       `gorm:"foreignKey:RecordID" json:"rewards,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (ReferralRecord) TableName() string {
	return "referral_records"
}

// ReferredUser is one entry of the append-only referred list. The unique
// index on (record_id, referred_id) makes re-registration a membership no-op.
type ReferredUser struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RecordID   uint      `gorm:"not null;index;uniqueIndex:idx_record_referred" json:"record_id"`
	ReferredID uint      `gorm:"not null;uniqueIndex:idx_record_referred" json:"referred_id"`
	Referred   *Account  `gorm:"foreignKey:ReferredID" json:"referred,omitempty"`
	Position   int       `gorm:"not null" json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ReferredUser) TableName() string {
	return "referred_users"
}

// Reward is a milestone grant embedded in a referral record. The only legal
// transition is claimed false -> true, once.
type Reward struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	RecordID  uint       `gorm:"not null;index" json:"record_id"`
	Kind      RewardKind `gorm:"not null;size:20" json:"kind"`
	Amount    int64      `gorm:"not null;default:0" json:"amount"`
	BadgeName string     `gorm:"size:100" json:"badge_name,omitempty"`
	Milestone int        `gorm:"not null" json:"milestone"`
	Claimed   bool       `gorm:"not null;default:false;index" json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Reward) TableName() string {
	return "rewards"
}
