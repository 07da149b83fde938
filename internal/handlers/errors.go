package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"progression-engine/internal/apperr"
)

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrInvalidOption),
		errors.Is(err, apperr.ErrNotAPoll),
		errors.Is(err, apperr.ErrPollExpired):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, apperr.ErrAlreadyClaimed),
		errors.Is(err, apperr.ErrAlreadyReferred),
		errors.Is(err, apperr.ErrAlreadyAssigned),
		errors.Is(err, apperr.ErrAlreadyVoted),
		errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
