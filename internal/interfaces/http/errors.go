package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"support_flow/internal/usecases"
)

// statusFor maps a usecase error code to an HTTP status.
func statusFor(err error) int {
	switch usecases.CodeOf(err) {
	case usecases.ErrorValidation:
		return http.StatusBadRequest
	case usecases.ErrorConflict:
		return http.StatusConflict
	case usecases.ErrorNotFound:
		return http.StatusNotFound
	case usecases.ErrorUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Only classified reasons reach the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	var ue *usecases.Error
	if errors.As(err, &ue) && status != http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": ue.Reason, "code": ue.Code})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": "Internal server error"})
}
