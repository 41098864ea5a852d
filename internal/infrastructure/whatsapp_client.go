package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is a linked-device WhatsApp session used as an alternative
// to the Cloud API.
type WhatsAppClient struct {
	Client *whatsmeow.Client
	log    zerolog.Logger

	// pairCtx bounds the QR pairing flow. It outlives any single request.
	pairCtx context.Context

	qrCode string
	qrLock sync.RWMutex
}

// NewWhatsAppClient opens the device store at dbPath. ctx must live as long
// as the process: it also bounds every QR pairing flow the client starts.
func NewWhatsAppClient(ctx context.Context, dbPath string, log zerolog.Logger) (*WhatsAppClient, error) {
	dbLog := waLog.Zerolog(log.With().Str("module", "whatsmeow-db").Logger())
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Zerolog(log.With().Str("module", "whatsmeow").Logger())
	return &WhatsAppClient{
		Client:  whatsmeow.NewClient(deviceStore, clientLog),
		log:     log,
		pairCtx: ctx,
	}, nil
}

// Connect opens the session, starting a QR pairing flow when no device is
// linked yet.
func (w *WhatsAppClient) Connect() error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info().Str("phone", w.Client.Store.ID.User).Msg("whatsapp connected (existing session)")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(w.pairCtx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == whatsmeow.QRChannelEventCode {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.log.Info().Msg("whatsapp pairing QR code refreshed")
			continue
		}
		w.log.Info().Str("event", evt.Event).Msg("whatsapp login event")
	}
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

// IsConnected returns true if client is connected and logged in
func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

// Logout unlinks the device and restarts pairing so a new QR code becomes
// available. ctx bounds only the unlink request. Logging out an unpaired
// device is a no-op.
func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()

	if w.Client.Store.ID == nil {
		return nil
	}
	if w.Client.IsConnected() {
		if err := w.Client.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	w.Client.Disconnect()
	w.log.Info().Msg("whatsapp device unlinked; waiting for new pairing")
	return w.Connect()
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func (w *WhatsAppClient) SendMessage(ctx context.Context, to, content string) error {
	jid, err := types.ParseJID(strings.TrimPrefix(to, "+") + "@" + types.DefaultUserServer)
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}

	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &content,
	})
	return err
}

// ParseMessage extracts sender and text from a message event.
func ParseMessage(evt *events.Message) (string, string) {
	sender := evt.Info.Sender.User
	var content string
	if evt.Message.GetConversation() != "" {
		content = evt.Message.GetConversation()
	} else if evt.Message.GetExtendedTextMessage() != nil {
		content = evt.Message.GetExtendedTextMessage().GetText()
	}
	return sender, content
}
