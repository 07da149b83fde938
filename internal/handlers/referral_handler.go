package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"progression-engine/internal/auth"
	"progression-engine/internal/services"
)

type ReferralHandler struct {
	referralService *services.ReferralService
}

func NewReferralHandler(referralService *services.ReferralService) *ReferralHandler {
	return &ReferralHandler{referralService: referralService}
}

// GetReferralCode returns the account's referral code, creating it on first
// request. An existing code is returned as-is, not an error.
func (h *ReferralHandler) GetReferralCode(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	code, err := h.referralService.GetOrCreateCode(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"code": code},
	})
}

// ProcessReferral registers the current account under the submitted code.
func (h *ReferralHandler) ProcessReferral(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Code string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.referralService.RegisterReferral(req.Code, accountID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Referral registered successfully",
	})
}

// TrackClick increments the click counter of a referral code. Public.
func (h *ReferralHandler) TrackClick(c *gin.Context) {
	clicks, err := h.referralService.TrackClick(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"clicks": clicks},
	})
}

// ValidateCode reports whether a code exists and who owns it. Unknown codes
// return valid:false, never an error. Public.
func (h *ReferralHandler) ValidateCode(c *gin.Context) {
	validation, err := h.referralService.ValidateCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    validation,
	})
}

// GetReferralStats returns the account's referral statistics.
func (h *ReferralHandler) GetReferralStats(c *gin.Context) {
	accountID, exists := auth.GetAccountID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	stats, err := h.referralService.GetStats(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
