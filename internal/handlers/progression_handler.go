package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"progression-engine/internal/auth"
	"progression-engine/internal/services"
)

// ProgressionHandler exposes the ledger-facing operations: reward claims,
// premium gifting, achievement checks and the account projection.
type ProgressionHandler struct {
	ledger       *services.LedgerService
	claimService *services.ClaimService
	giftService  *services.GiftService
}

func NewProgressionHandler(ledger *services.LedgerService, claimService *services.ClaimService, giftService *services.GiftService) *ProgressionHandler {
	return &ProgressionHandler{
		ledger:       ledger,
		claimService: claimService,
		giftService:  giftService,
	}
}

// ClaimReward claims a pending referral reward for the current account.
func (h *ProgressionHandler) ClaimReward(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	result, err := h.claimService.Claim(accountID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GiftPremium gifts premium days to another account, paid in tokens.
func (h *ProgressionHandler) GiftPremium(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		RecipientID uint `json:"recipient_id" binding:"required"`
		Days        int  `json:"days" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expiresAt, err := h.giftService.GiftPremium(accountID, req.RecipientID, req.Days)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"expires_at": expiresAt},
	})
}

// CheckAchievements evaluates the submitted activity counters and unlocks
// anything newly earned.
func (h *ProgressionHandler) CheckAchievements(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req services.ActivityCounters
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newAchievements, err := h.ledger.RecomputeAchievements(accountID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	all, err := h.ledger.GetAchievements(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"new_achievements":   newAchievements,
			"total_achievements": len(all),
		},
	})
}

// GetMe returns the current account's ledger projection.
func (h *ProgressionHandler) GetMe(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	acc, err := h.ledger.GetAccount(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	achievements, err := h.ledger.GetAchievements(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"account":      acc,
			"is_premium":   acc.IsPremium(time.Now()),
			"achievements": achievements,
		},
	})
}
