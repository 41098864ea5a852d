package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types/events"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/infrastructure"
	"support_flow/internal/interfaces"
	"support_flow/internal/interfaces/http"
	"support_flow/internal/repository"
	"support_flow/internal/usecases"
)

const (
	inboundTimeout   = 60 * time.Second
	limiterSweep     = 10 * time.Minute
	shutdownTimeout  = 10 * time.Second
	telegramPollSecs = 60
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger config is not known yet.
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := infrastructure.NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pgClient.Close()
	if err := pgClient.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize Repositories
	userRepo := repository.NewUserRepository(pgClient.Pool)
	configRepo := repository.NewConfigRepository(pgClient.Pool)
	customerRepo := repository.NewCustomerRepository(pgClient.Pool)
	conversationRepo := repository.NewConversationRepository(pgClient.Pool)
	messageRepo := repository.NewMessageRepository(pgClient.Pool)
	ticketRepo := repository.NewTicketRepository(pgClient.Pool)
	appointmentRepo := repository.NewAppointmentRepository(pgClient.Pool)
	statsRepo := repository.NewStatsRepository(ticketRepo, conversationRepo, appointmentRepo, repository.NewUsageRepository(pgClient.Pool))

	// Bot settings: config file defaults, then SSM, then bot_config rows.
	sources := []config.Source{}
	if cfg.ParamPrefix != "" {
		params, err := infrastructure.NewParamStoreFromEnv(ctx, cfg.ParamPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("parameter store unavailable; skipping")
		} else {
			sources = append(sources, params)
		}
	}
	sources = append(sources, configRepo)
	settings := config.NewSettings(cfg.Bot, sources...)
	if _, err := settings.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load bot settings; using defaults")
	}

	// Event publishing
	var publisher interfaces.EventPublisher = infrastructure.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := infrastructure.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	var geminiOpts []infrastructure.GeminiOption
	if cfg.Gemini.BaseURL != "" {
		geminiOpts = append(geminiOpts, infrastructure.WithGeminiBaseURL(cfg.Gemini.BaseURL))
	}
	geminiClient, err := infrastructure.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model, log, geminiOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gemini client")
	}

	// Messaging channels
	messengers := map[string]interfaces.Messenger{}
	var waDevice *infrastructure.WhatsAppClient
	switch {
	case cfg.WhatsApp.APIToken != "":
		messengers[entities.PlatformWhatsApp] = infrastructure.NewWhatsAppBusinessClient(
			cfg.WhatsApp.APIURL, cfg.WhatsApp.APIToken, cfg.WhatsApp.PhoneNumberID)
	case cfg.WhatsApp.DeviceDB != "":
		waDevice, err = infrastructure.NewWhatsAppClient(ctx, cfg.WhatsApp.DeviceDB, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open whatsapp device store")
		}
		messengers[entities.PlatformWhatsApp] = waDevice
	default:
		log.Warn().Msg("whatsapp disabled (no API token or device store configured)")
	}

	var telegramClient *infrastructure.TelegramClient
	if cfg.Telegram.Token != "" {
		telegramClient = infrastructure.NewTelegramClient(cfg.Telegram.Token, log)
		if telegramClient.Enabled() {
			messengers[entities.PlatformTelegram] = telegramClient
		}
	}

	// Initialize Usecases & Services
	keywords := usecases.DefaultKeywords()
	engine := usecases.NewFlowEngine(keywords)
	ticketService := usecases.NewTicketService(ticketRepo, messageRepo, settings, publisher, log)
	appointmentService := usecases.NewAppointmentService(appointmentRepo, ticketService, keywords, settings, publisher, log)

	limiter := infrastructure.NewMessageRateLimiter(1, 5)
	go limiter.Run(ctx, limiterSweep)

	conversationService := usecases.NewConversationService(usecases.ConversationDeps{
		Customers:     customerRepo,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Classifier:    geminiClient,
		Engine:        engine,
		Tickets:       ticketService,
		Appointments:  appointmentService,
		Messengers:    messengers,
		Locker:        infrastructure.NewConversationLocker(),
		Limiter:       limiter,
		Publisher:     publisher,
		Settings:      settings,
		Log:           log,
	})

	authUsecase := usecases.NewAuthUsecase(userRepo, cfg.JWTSecret)
	if cfg.Admin.Enabled() {
		if err := authUsecase.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
			log.Warn().Err(err).Msg("failed to ensure admin user")
		}
	}
	dashboardUsecase := usecases.NewDashboardUsecase(statsRepo, customerRepo, configRepo, settings)

	inbound := func(msg entities.InboundMessage) {
		msgCtx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		if _, err := conversationService.ProcessMessage(msgCtx, msg); err != nil {
			log.Error().Err(err).Str("from", msg.From).Str("platform", msg.Platform).Msg("inbound message failed")
		}
	}

	if waDevice != nil {
		waDevice.AddHandler(func(evt interface{}) {
			v, ok := evt.(*events.Message)
			if !ok || v.Info.IsGroup || v.Info.IsFromMe {
				return
			}
			sender, content := infrastructure.ParseMessage(v)
			if content == "" {
				return
			}
			go inbound(entities.InboundMessage{
				ExternalID: string(v.Info.ID),
				From:       sender,
				Content:    content,
				Platform:   entities.PlatformWhatsApp,
				Timestamp:  v.Info.Timestamp,
			})
		})
		if err := waDevice.Connect(); err != nil {
			log.Error().Err(err).Msg("failed to connect whatsapp device")
		}
		defer waDevice.Disconnect()
	}

	if telegramClient.Enabled() {
		log.Info().Msg("telegram bot connected")
		go func() {
			for update := range telegramClient.Updates(telegramPollSecs) {
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				go inbound(entities.InboundMessage{
					ExternalID: strconv.Itoa(update.Message.MessageID),
					From:       strconv.FormatInt(update.Message.Chat.ID, 10),
					Content:    update.Message.Text,
					Platform:   entities.PlatformTelegram,
					Timestamp:  update.Message.Time(),
				})
			}
		}()
		defer telegramClient.Stop()
	}

	// Setup HTTP server
	var device http.WhatsAppDevice
	if waDevice != nil {
		device = waDevice
	}
	r := gin.Default()
	http.SetupRoutes(r, http.Routes{
		Webhook:    http.NewHandler(conversationService, cfg.WhatsApp.VerifyToken, log),
		Auth:       http.NewAuthHandler(authUsecase),
		Dashboard:  http.NewDashboardHandler(ticketService, appointmentService, dashboardUsecase),
		Admin:      http.NewAdminHandler(authUsecase, dashboardUsecase, device),
		Middleware: http.NewMiddleware(authUsecase),
	})

	srv := &nethttp.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}
