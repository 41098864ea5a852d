package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"support_flow/internal/entities"
	"support_flow/internal/usecases"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	mu       sync.Mutex
	received []entities.InboundMessage
	out      *usecases.Outcome
	err      error
}

func (f *fakeProcessor) ProcessMessage(_ context.Context, in entities.InboundMessage) (*usecases.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, in)
	return f.out, f.err
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func newWebhookRouter(p MessageProcessor) *gin.Engine {
	h := NewHandler(p, "verify-me", zerolog.Nop(), WithSyncDispatch())
	r := gin.New()
	r.GET("/webhook/whatsapp", h.VerifyWhatsApp)
	r.POST("/webhook/whatsapp", h.HandleWhatsApp)
	r.POST("/webhook/web", h.HandleWebMessage)
	return r
}

func TestVerifyWhatsApp(t *testing.T) {
	r := newWebhookRouter(&fakeProcessor{})

	w := doJSON(t, r, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1158201444", w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleWhatsAppDispatchesTextMessages(t *testing.T) {
	p := &fakeProcessor{out: &usecases.Outcome{}}
	r := newWebhookRouter(p)

	payload := map[string]any{
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"value": map[string]any{
					"messages": []any{
						map[string]any{"from": "5215551234567", "id": "wamid.1", "timestamp": "1704704400", "type": "text", "text": map[string]any{"body": "no tengo\x00 internet"}},
						map[string]any{"from": "5215551234567", "id": "wamid.2", "type": "image"},
						map[string]any{"from": "bad sender!", "id": "wamid.3", "type": "text", "text": map[string]any{"body": "hola"}},
					},
				},
			}},
		}},
	}
	w := doJSON(t, r, http.MethodPost, "/webhook/whatsapp", payload)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), decode(t, w)["messages"])

	require.Len(t, p.received, 1)
	msg := p.received[0]
	require.Equal(t, "wamid.1", msg.ExternalID)
	require.Equal(t, "no tengo internet", msg.Content)
	require.Equal(t, entities.PlatformWhatsApp, msg.Platform)
	require.Equal(t, int64(1704704400), msg.Timestamp.Unix())
}

func TestHandleWhatsAppRejectsMalformedBody(t *testing.T) {
	r := newWebhookRouter(&fakeProcessor{})
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebMessage(t *testing.T) {
	p := &fakeProcessor{out: &usecases.Outcome{
		ConversationID: 9,
		Decision:       usecases.Decision{From: entities.StateGreeting, Next: entities.StateTroubleshooting},
		Reply:          "¿Ya reiniciaste el router?",
		FollowUps:      []string{"Puedo crear un ticket"},
	}}
	r := newWebhookRouter(p)

	w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "web-visitor-1", "content": "no tengo internet"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, float64(9), body["conversation_id"])
	require.Equal(t, "¿Ya reiniciaste el router?", body["reply"])
	require.Equal(t, string(entities.StateTroubleshooting), body["state"])
	require.Equal(t, []any{"Puedo crear un ticket"}, body["follow_ups"])

	require.Len(t, p.received, 1)
	require.Equal(t, entities.PlatformWeb, p.received[0].Platform)
}

func TestHandleWebMessageErrors(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		r := newWebhookRouter(&fakeProcessor{})
		w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "x"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid sender", func(t *testing.T) {
		r := newWebhookRouter(&fakeProcessor{})
		w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "a b", "content": "hola"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		r := newWebhookRouter(&fakeProcessor{out: &usecases.Outcome{RateLimited: true}})
		w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "x", "content": "hola"})
		require.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("failure with apology still replies", func(t *testing.T) {
		p := &fakeProcessor{
			out: &usecases.Outcome{Reply: "Disculpa, tuvimos un problema"},
			err: &usecases.Error{Code: usecases.ErrorPersistence, Reason: "could not store message"},
		}
		r := newWebhookRouter(p)
		w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "x", "content": "hola"})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "Disculpa, tuvimos un problema", decode(t, w)["reply"])
	})

	t.Run("validation failure without outcome", func(t *testing.T) {
		p := &fakeProcessor{err: &usecases.Error{Code: usecases.ErrorValidation, Reason: "empty message"}}
		r := newWebhookRouter(p)
		w := doJSON(t, r, http.MethodPost, "/webhook/web", map[string]string{"from": "x", "content": "hola"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "empty message", decode(t, w)["error"])
	})
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{&usecases.Error{Code: usecases.ErrorValidation, Reason: "bad date"}, http.StatusBadRequest, "bad date"},
		{&usecases.Error{Code: usecases.ErrorConflict, Reason: "slot taken"}, http.StatusConflict, "slot taken"},
		{&usecases.Error{Code: usecases.ErrorNotFound, Reason: "ticket not found"}, http.StatusNotFound, "ticket not found"},
		{&usecases.Error{Code: usecases.ErrorUpstream, Reason: "classifier down"}, http.StatusBadGateway, "classifier down"},
		{&usecases.Error{Code: usecases.ErrorPersistence, Reason: "pq: relation missing"}, http.StatusInternalServerError, "Internal server error"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err)
		require.Equal(t, tt.status, w.Code)
		require.Equal(t, tt.reason, decode(t, w)["error"])
	}
}

func TestValidators(t *testing.T) {
	require.True(t, ValidSender("+5215551234567"))
	require.True(t, ValidSender("123456789"))
	require.False(t, ValidSender(""))
	require.False(t, ValidSender("drop table;"))

	require.True(t, ValidConfigKey("apology_message"))
	require.False(t, ValidConfigKey("bad-key"))

	require.Equal(t, "ab", SanitizeString("a\x00b"))
	require.Equal(t, "añ", TruncateString("año", 3))
	require.Equal(t, "a", TruncateString("añ", 2))

	_, ok := parseID("0")
	require.False(t, ok)
	d, ok := parseDateParam("2024-01-08")
	require.True(t, ok)
	require.Equal(t, 8, d.Day())
	_, ok = parseDateParam("08/01/2024")
	require.False(t, ok)
	require.Equal(t, 25, queryInt("x", 25))
}
