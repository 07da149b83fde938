package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"progression-engine/internal/auth"
	"progression-engine/internal/services"
)

// AuthHandler bootstraps accounts and issues tokens. Real identity
// verification is an external concern; this endpoint exists so the engine can
// be exercised end to end.
type AuthHandler struct {
	ledger        *services.LedgerService
	initialTokens int64
}

func NewAuthHandler(ledger *services.LedgerService, initialTokens int64) *AuthHandler {
	return &AuthHandler{ledger: ledger, initialTokens: initialTokens}
}

// Register creates an account and returns a JWT for it.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := h.ledger.CreateAccount(req.Username, h.initialTokens)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	token, err := auth.GenerateToken(acc.ID, acc.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"account": acc,
			"token":   token,
		},
	})
}
