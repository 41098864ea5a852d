package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/repository"
)

type UserAdmin interface {
	Register(ctx context.Context, username, password, role string) (*entities.User, error)
	ListUsers(ctx context.Context) ([]entities.User, error)
}

type SettingsAdmin interface {
	Settings(ctx context.Context) ([]repository.BotConfig, config.BotSettings, error)
	SetSetting(ctx context.Context, key, value string) (config.BotSettings, error)
	ReloadSettings(ctx context.Context) (config.BotSettings, error)
}

// WhatsAppDevice exposes the pairing state of the linked WhatsApp device.
type WhatsAppDevice interface {
	GetQR() string
	IsConnected() bool
	Logout(ctx context.Context) error
}

type AdminHandler struct {
	users    UserAdmin
	settings SettingsAdmin
	whatsapp WhatsAppDevice
}

// NewAdminHandler creates the admin handler. whatsapp may be nil when the
// linked-device client is not configured.
func NewAdminHandler(users UserAdmin, settings SettingsAdmin, whatsapp WhatsAppDevice) *AdminHandler {
	return &AdminHandler{users: users, settings: settings, whatsapp: whatsapp}
}

// ListUsers returns all staff accounts
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// CreateUser registers a staff account
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GetSettings returns stored overrides and the effective bot settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	stored, effective, err := h.settings.Settings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored, "effective": effective})
}

// SetSetting stores one override and reloads
func (h *AdminHandler) SetSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if !ValidConfigKey(req.Key) || len(req.Value) > MaxConfigValLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key or value too long"})
		return
	}
	effective, err := h.settings.SetSetting(c.Request.Context(), req.Key, SanitizeString(req.Value))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"effective": effective})
}

func (h *AdminHandler) ReloadSettings(c *gin.Context) {
	effective, err := h.settings.ReloadSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"effective": effective})
}

// GetWhatsAppQR returns the device pairing QR code as PNG
func (h *AdminHandler) GetWhatsAppQR(c *gin.Context) {
	if h.whatsapp == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp device client not configured")
		return
	}
	if h.whatsapp.IsConnected() {
		c.String(http.StatusOK, "Already logged in")
		return
	}
	code := h.whatsapp.GetQR()
	if code == "" {
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// LogoutWhatsApp unlinks the device so it can be paired again
func (h *AdminHandler) LogoutWhatsApp(c *gin.Context) {
	if h.whatsapp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp device client not configured"})
		return
	}
	if err := h.whatsapp.Logout(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to log out WhatsApp device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
