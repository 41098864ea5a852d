package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"support_flow/internal/entities"
	"support_flow/internal/usecases"
)

const processTimeout = 60 * time.Second

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, in entities.InboundMessage) (*usecases.Outcome, error)
}

// Handler serves the inbound messaging webhooks.
type Handler struct {
	processor   MessageProcessor
	verifyToken string
	log         zerolog.Logger
	dispatch    func(entities.InboundMessage)
}

type HandlerOption func(*Handler)

// WithSyncDispatch processes webhook messages before responding.
func WithSyncDispatch() HandlerOption {
	return func(h *Handler) {
		h.dispatch = h.process
	}
}

func NewHandler(processor MessageProcessor, verifyToken string, log zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		processor:   processor,
		verifyToken: verifyToken,
		log:         log,
	}
	h.dispatch = func(msg entities.InboundMessage) { go h.process(msg) }
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// process runs one message detached from the webhook request lifetime.
func (h *Handler) process(msg entities.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	if _, err := h.processor.ProcessMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("from", msg.From).Str("platform", msg.Platform).Msg("inbound message failed")
	}
}

// Routes groups everything SetupRoutes mounts.
type Routes struct {
	Webhook    *Handler
	Auth       *AuthHandler
	Dashboard  *DashboardHandler
	Admin      *AdminHandler
	Middleware *Middleware
}

func SetupRoutes(r *gin.Engine, routes Routes) {
	m := routes.Middleware

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(1 << 20))
	r.Use(m.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.GET("/webhook/whatsapp", routes.Webhook.VerifyWhatsApp)
	r.POST("/webhook/whatsapp", routes.Webhook.HandleWhatsApp)
	r.POST("/webhook/web", routes.Webhook.HandleWebMessage)

	r.POST("/api/auth/login", routes.Auth.Login)

	api := r.Group("/api")
	api.Use(m.AuthRequired())
	api.Use(m.RateLimitPerUser(5, 10))
	{
		api.GET("/dashboard/stats", routes.Dashboard.GetStats)

		api.GET("/tickets", routes.Dashboard.ListTickets)
		api.POST("/tickets", routes.Dashboard.CreateTicket)
		api.GET("/tickets/:id", routes.Dashboard.GetTicket)
		api.PUT("/tickets/:id", routes.Dashboard.UpdateTicket)

		api.GET("/appointments", routes.Dashboard.ListAppointments)
		api.POST("/appointments", routes.Dashboard.CreateAppointment)
		api.GET("/appointments/:id", routes.Dashboard.GetAppointment)
		api.PUT("/appointments/:id", routes.Dashboard.UpdateAppointment)
		api.POST("/appointments/:id/cancel", routes.Dashboard.CancelAppointment)
		api.GET("/availability", routes.Dashboard.GetAvailability)

		api.GET("/customers", routes.Dashboard.ListCustomers)
		api.POST("/customers", routes.Dashboard.CreateCustomer)
		api.GET("/customers/:id", routes.Dashboard.GetCustomer)

		api.GET("/whatsapp/qr", routes.Admin.GetWhatsAppQR)
	}

	admin := r.Group("/api/admin")
	admin.Use(m.AuthRequired())
	admin.Use(m.AdminRequired())
	{
		admin.GET("/users", routes.Admin.ListUsers)
		admin.POST("/users", routes.Admin.CreateUser)
		admin.GET("/settings", routes.Admin.GetSettings)
		admin.POST("/settings", routes.Admin.SetSetting)
		admin.POST("/settings/reload", routes.Admin.ReloadSettings)
		admin.POST("/whatsapp/logout", routes.Admin.LogoutWhatsApp)
	}
}

// VerifyWhatsApp answers the Cloud API subscription handshake.
func (h *Handler) VerifyWhatsApp(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// cloudWebhook is the subset of the WhatsApp Cloud API notification we read.
type cloudWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// HandleWhatsApp accepts Cloud API notifications. Text messages are
// dispatched; status updates and media are acknowledged and ignored.
func (h *Handler) HandleWhatsApp(c *gin.Context) {
	var payload cloudWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	received := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if m.Type != "text" || !ValidSender(m.From) || m.Text.Body == "" {
					continue
				}
				ts := time.Now()
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					ts = time.Unix(secs, 0)
				}
				h.dispatch(entities.InboundMessage{
					ExternalID: m.ID,
					From:       m.From,
					Content:    TruncateString(SanitizeString(m.Text.Body), MaxMessageLength),
					Platform:   entities.PlatformWhatsApp,
					Timestamp:  ts,
				})
				received++
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "messages": received})
}

// HandleWebMessage processes a chat widget message and returns the replies
// in the response body.
func (h *Handler) HandleWebMessage(c *gin.Context) {
	var payload struct {
		From    string `json:"from" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and content are required"})
		return
	}
	if !ValidSender(payload.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender"})
		return
	}

	out, err := h.processor.ProcessMessage(c.Request.Context(), entities.InboundMessage{
		From:      payload.From,
		Content:   TruncateString(SanitizeString(payload.Content), MaxMessageLength),
		Platform:  entities.PlatformWeb,
		Timestamp: time.Now(),
	})
	if out == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("from", payload.From).Msg("web message failed")
	}
	if out.RateLimited {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many messages, slow down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": out.ConversationID,
		"reply":           out.Reply,
		"follow_ups":      out.FollowUps,
		"state":           out.Decision.Next,
	})
}
