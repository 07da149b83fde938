package services

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"progression-engine/internal/apperr"
	"progression-engine/internal/models"
)

// PollService applies votes to post polls. Vote application is idempotent
// per option: re-submitting an option the voter already holds is a no-op.
type PollService struct {
	db       *gorm.DB
	notifier Notifier
}

func NewPollService(db *gorm.DB, notifier Notifier) *PollService {
	return &PollService{db: db, notifier: notifier}
}

// PollProjection is the poll state returned after a vote.
type PollProjection struct {
	PostID        uint                `json:"post_id"`
	Question      string              `json:"question"`
	AllowMultiple bool                `json:"allow_multiple"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	Options       []models.PollOption `json:"options"`
	VoterOptions  []int               `json:"voter_options"`
}

// Vote records the voter's choices on the post's poll.
func (s *PollService) Vote(postID, voterID uint, optionIndices []int) (*PollProjection, error) {
	var post models.Post
	if err := s.db.Preload("Poll.Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("idx ASC")
	}).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %d: %w", postID, apperr.ErrNotFound)
		}
		return nil, err
	}
	if post.Poll == nil {
		return nil, fmt.Errorf("post %d: %w", postID, apperr.ErrNotAPoll)
	}
	poll := post.Poll

	if poll.ExpiresAt != nil && poll.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("poll for post %d: %w", postID, apperr.ErrPollExpired)
	}

	if len(optionIndices) == 0 {
		return nil, fmt.Errorf("no options submitted: %w", apperr.ErrValidation)
	}

	// De-duplicate the submission and range-check every index.
	seen := make(map[int]bool, len(optionIndices))
	var wanted []int
	for _, idx := range optionIndices {
		if idx < 0 || idx >= len(poll.Options) {
			return nil, fmt.Errorf("option %d out of range: %w", idx, apperr.ErrInvalidOption)
		}
		if !seen[idx] {
			seen[idx] = true
			wanted = append(wanted, idx)
		}
	}
	if !poll.AllowMultiple && len(wanted) > 1 {
		return nil, fmt.Errorf("poll accepts a single option: %w", apperr.ErrValidation)
	}

	var existing []models.PollVote
	if err := s.db.Where("poll_id = ? AND voter_id = ?", poll.ID, voterID).Find(&existing).Error; err != nil {
		return nil, err
	}
	held := make(map[int]bool, len(existing))
	for _, v := range existing {
		held[v.OptionIdx] = true
	}

	var added []int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, idx := range wanted {
			if held[idx] {
				// Same option re-submitted: no-op, not a duplicate vote.
				continue
			}
			if !poll.AllowMultiple && len(held) > 0 {
				return fmt.Errorf("poll for post %d: %w", postID, apperr.ErrAlreadyVoted)
			}

			vote := models.PollVote{PollID: poll.ID, OptionIdx: idx, VoterID: voterID}
			if err := tx.Create(&vote).Error; err != nil {
				return fmt.Errorf("failed to record vote: %w", err)
			}
			res := tx.Model(&models.PollOption{}).
				Where("poll_id = ? AND idx = ?", poll.ID, idx).
				Update("vote_count", gorm.Expr("vote_count + 1"))
			if res.Error != nil {
				return res.Error
			}
			held[idx] = true
			added = append(added, idx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		log.Printf("Poll vote: post=%d voter=%d options=%v", postID, voterID, added)
		emit(s.notifier, Event{Type: "poll_voted", AccountID: post.AuthorID, Payload: map[string]interface{}{
			"post_id":  postID,
			"voter_id": voterID,
			"options":  added,
		}})
	}

	// Re-read options for fresh counts.
	var options []models.PollOption
	if err := s.db.Where("poll_id = ?", poll.ID).Order("idx ASC").Find(&options).Error; err != nil {
		return nil, err
	}

	voterOptions := make([]int, 0, len(held))
	for idx := range held {
		voterOptions = append(voterOptions, idx)
	}
	sort.Ints(voterOptions)

	return &PollProjection{
		PostID:        postID,
		Question:      poll.Question,
		AllowMultiple: poll.AllowMultiple,
		ExpiresAt:     poll.ExpiresAt,
		Options:       options,
		VoterOptions:  voterOptions,
	}, nil
}
