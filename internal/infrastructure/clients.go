package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// WhatsAppBusinessClient sends text through the WhatsApp Cloud API.
type WhatsAppBusinessClient struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
}

func NewWhatsAppBusinessClient(baseURL, accessToken, phoneNumberID string) *WhatsAppBusinessClient {
	if baseURL == "" {
		baseURL = defaultGraphURL
	}
	return &WhatsAppBusinessClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WhatsAppBusinessClient) SendMessage(ctx context.Context, to, content string) error {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]string{
			"body": content,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("whatsapp: send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type TelegramClient struct {
	Bot *tgbotapi.BotAPI
}

// NewTelegramClient connects the bot. A bad token leaves Telegram disabled
// rather than failing startup.
func NewTelegramClient(token string, log zerolog.Logger) *TelegramClient {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Warn().Err(err).Msg("telegram bot token rejected; telegram disabled")
		return &TelegramClient{}
	}
	return &TelegramClient{Bot: bot}
}

func (t *TelegramClient) Enabled() bool {
	return t != nil && t.Bot != nil
}

func (t *TelegramClient) SendMessage(_ context.Context, to, content string) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram: client disabled")
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", to, err)
	}
	_, err = t.Bot.Send(tgbotapi.NewMessage(chatID, content))
	return err
}

// Updates starts long polling for incoming messages.
func (t *TelegramClient) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return t.Bot.GetUpdatesChan(u)
}

// Stop ends long polling.
func (t *TelegramClient) Stop() {
	if t.Enabled() {
		t.Bot.StopReceivingUpdates()
	}
}
