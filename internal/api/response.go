package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"outreach/internal/campaign"
	"outreach/internal/phone"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Details: details})
}

// statusOf maps engine sentinel errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrBlocked):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrInvalidArgument), errors.Is(err, phone.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, campaign.ErrDisconnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err and reports whether there was one.
func handleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	writeError(c, statusOf(err), err.Error(), nil)
	return true
}

func ok(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
