package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support_flow/internal/entities"
	"support_flow/internal/usecases"
)

func geminiReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]string{"text": text}}}},
		},
	})
}

func newGeminiServer(t *testing.T, classify func(w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.SystemInstruction != nil {
			geminiReply(w, "  Claro, revisemos tu conexión.  ")
			return
		}
		classify(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient("  ", "", zerolog.Nop())
	require.Error(t, err)

	c, err := NewGeminiClient("k", "", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, defaultGeminiModel, c.model)
}

func TestGeminiAnalyze(t *testing.T) {
	srv, calls := newGeminiServer(t, func(w http.ResponseWriter) {
		geminiReply(w, "```json\n{\"intent\": \"Reporte_Falla\", \"urgency\": \"alto\", \"entities\": {\"problem_description\": \"sin internet\"}}\n```")
	})
	c, err := NewGeminiClient("secret", "test-model", zerolog.Nop(), WithGeminiBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	analysis, err := c.Analyze(context.Background(), "no tengo internet", nil, &entities.Customer{Name: "Ana"})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, "reporte_falla", analysis.Intent)
	require.Equal(t, "alto", analysis.Urgency)
	require.Equal(t, entities.DefaultSentiment, analysis.Sentiment)
	desc, ok := analysis.Entities.String("problem_description")
	require.True(t, ok)
	require.Equal(t, "sin internet", desc)
	require.Equal(t, "Claro, revisemos tu conexión.", analysis.ResponseText)
}

func TestGeminiAnalyzeFallsBackWhenClassificationFails(t *testing.T) {
	srv, _ := newGeminiServer(t, func(w http.ResponseWriter) {
		geminiReply(w, "no es json")
	})
	c, err := NewGeminiClient("secret", "test-model", zerolog.Nop(), WithGeminiBaseURL(srv.URL))
	require.NoError(t, err)

	analysis, err := c.Analyze(context.Background(), "hola", nil, nil)
	require.NoError(t, err)
	require.Equal(t, entities.DefaultIntent, analysis.Intent)
	require.Equal(t, entities.DefaultUrgency, analysis.Urgency)
	require.Equal(t, "Claro, revisemos tu conexión.", analysis.ResponseText)
}

func TestGeminiStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewGeminiClient("secret", "test-model", zerolog.Nop(),
		WithGeminiBaseURL(srv.URL), WithGeminiHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "hola", nil, nil)
	var statusErr *GeminiStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "quota exceeded")
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("secret", "test-model", zerolog.Nop(), WithGeminiBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "hola", nil, nil)
	require.ErrorContains(t, err, "no candidates")
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis(`{"intent":"despedida"}`)
	require.NoError(t, err)
	require.Equal(t, "despedida", a.Intent)
	require.NotNil(t, a.Entities)

	a, err = ParseAnalysis("```\n{\"intent\":\"solicitud_cita\",\"entities\":{\"date\":\"2024-01-08\",\"time\":\"tarde\"}}\n```")
	require.NoError(t, err)
	require.Equal(t, "solicitud_cita", a.Intent)
	date, ok := a.Entities.String("date")
	require.True(t, ok)
	require.Equal(t, "2024-01-08", date)

	a, err = ParseAnalysis(`{}`)
	require.NoError(t, err)
	require.Equal(t, entities.FallbackAnalysis(), a)

	_, err = ParseAnalysis("lo siento, no puedo")
	require.Error(t, err)
}

func TestChatContents(t *testing.T) {
	history := []entities.Message{
		{Direction: entities.DirectionIncoming, Content: "hola"},
		{Direction: entities.DirectionOutgoing, Content: "¿En qué te ayudo?"},
		{Direction: entities.DirectionIncoming, Content: "sin internet"},
	}

	contents := chatContents(history, "sin internet")
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "sin internet", contents[2].Parts[0].Text)

	contents = chatContents(history, "sigue sin funcionar")
	require.Len(t, contents, 4)
	require.Equal(t, "sigue sin funcionar", contents[3].Parts[0].Text)
}

func TestSystemPromptIncludesCustomer(t *testing.T) {
	require.Equal(t, supportSystemPrompt, systemPrompt(nil))

	prompt := systemPrompt(&entities.Customer{Name: "Ana", ServicePlan: "Fibra 300", AccountNumber: "ACC-1"})
	require.Contains(t, prompt, "- Nombre: Ana")
	require.Contains(t, prompt, "- Plan contratado: Fibra 300")
	require.Contains(t, prompt, "- Número de cuenta: ACC-1")
}

func TestAnalysisPromptSuggestsActionIntents(t *testing.T) {
	for action, intents := range usecases.DefaultKeywords().Actions {
		found := false
		for _, intent := range intents {
			found = found || strings.Contains(analysisPromptTemplate, intent)
		}
		require.True(t, found, "no intent for action %s in analysis prompt", action)
	}
}
