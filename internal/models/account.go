package models

import (
	"time"
)

// Account is the per-user ledger: tokens, xp, premium expiration and the
// referral identity fields. All balance/expiration mutations go through the
// ledger service, which enforces the version check.
type Account struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Username         string     `gorm:"uniqueIndex;not null" json:"username"`
	Tokens           int64      `gorm:"not null;default:0" json:"tokens"`
	XP               int64      `gorm:"not null;default:0" json:"xp"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
	ReferralCode     *string    `gorm:"uniqueIndex" json:"referral_code,omitempty"`
	ReferredByID     *uint      `gorm:"index" json:"referred_by_id,omitempty"`
	ReferredBy       *Account   `gorm:"foreignKey:ReferredByID" json:"referred_by,omitempty"`
	ReferralCount    int        `gorm:"not null;default:0" json:"referral_count"`
	LastReferralAt   *time.Time `json:"last_referral_at,omitempty"`
	Version          int64      `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// IsPremium reports whether the account is premium at the given instant.
// Premium status is evaluated lazily on read; there is no expiry sweep.
func (a *Account) IsPremium(now time.Time) bool {
	return a.PremiumExpiresAt != nil && a.PremiumExpiresAt.After(now)
}

// Achievement is one unlocked achievement on an account. Names are unique per
// account; rows are only ever appended, never revoked.
type Achievement struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AccountID  uint      `gorm:"not null;index;uniqueIndex:idx_account_achievement" json:"account_id"`
	Name       string    `gorm:"not null;size:100;uniqueIndex:idx_account_achievement" json:"name"`
	Icon       string    `gorm:"size:16" json:"icon"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

func (Achievement) TableName() string {
	return "achievements"
}

// AppliedReward is the idempotency marker for reward claims. It is inserted
// in the same transaction as the effect-bearing ledger write, so a retry of a
// half-finished claim can detect that the effect already landed.
type AppliedReward struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"not null;index" json:"account_id"`
	RewardID  string    `gorm:"uniqueIndex;not null;size:36" json:"reward_id"`
	AppliedAt time.Time `json:"applied_at"`
}

func (AppliedReward) TableName() string {
	return "applied_rewards"
}
