package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), loginReq.Username, loginReq.Password)
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
