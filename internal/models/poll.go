package models

import (
	"time"
)

// Post is the minimal post shape the engine needs for poll voting. Content
// storage and feed assembly live outside this service.
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AuthorID  uint      `gorm:"not null;index" json:"author_id"`
	Content   string    `gorm:"type:text" json:"content"`
	Poll      *Poll     `gorm:"foreignKey:PostID" json:"poll,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Post) TableName() string {
	return "posts"
}

// Poll is the voting attachment of a post.
type Poll struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	PostID        uint         `gorm:"uniqueIndex;not null" json:"post_id"`
	Question      string       `gorm:"size:500" json:"question"`
	AllowMultiple bool         `gorm:"not null;default:false" json:"allow_multiple"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	Options       []PollOption `gorm:"foreignKey:PollID" json:"options,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (Poll) TableName() string {
	return "polls"
}

// PollOption is one choice of a poll, addressed by zero-based index.
type PollOption struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PollID    uint   `gorm:"not null;index;uniqueIndex:idx_poll_option" json:"poll_id"`
	Idx       int    `gorm:"not null;uniqueIndex:idx_poll_option" json:"index"`
	Label     string `gorm:"size:200;not null" json:"label"`
	VoteCount int64  `gorm:"not null;default:0" json:"vote_count"`
}

func (PollOption) TableName() string {
	return "poll_options"
}

// PollVote is one voter/option pair. The unique index makes re-submitting the
// same option a no-op instead of a duplicate vote.
type PollVote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;index;uniqueIndex:idx_poll_vote" json:"poll_id"`
	OptionIdx int       `gorm:"not null;uniqueIndex:idx_poll_vote" json:"option_index"`
	VoterID   uint      `gorm:"not null;index;uniqueIndex:idx_poll_vote" json:"voter_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (PollVote) TableName() string {
	return "poll_votes"
}
