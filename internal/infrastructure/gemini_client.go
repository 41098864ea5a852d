package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support_flow/internal/entities"
)

const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-1.5-flash"
)

const supportSystemPrompt = `Eres un asistente virtual de soporte de una empresa de telecomunicaciones (internet y televisión por fibra óptica).

Tu objetivo es ayudar a los clientes a:
1. Resolver problemas técnicos comunes
2. Programar visitas técnicas cuando sea necesario
3. Crear tickets de soporte para problemas complejos
4. Obtener información sobre planes y servicios

Sé amable, profesional y eficiente. Comunícate siempre en español.
Cuando identifiques un problema técnico que requiera atención, ofrece crear un ticket de soporte.
Si el cliente necesita una visita técnica, ayúdale a programar una cita.

Las visitas técnicas se realizan de lunes a viernes en tres horarios: mañana (9:00-12:00), tarde (12:00-15:00) y tarde-noche (15:00-18:00).
Responde de manera concisa y directa.`

const analysisPromptTemplate = `Analiza el siguiente mensaje del cliente y extrae:
1. La intención principal (intent) como una sola palabra o frase corta (ej: consulta_servicio, reporte_falla, solicitud_soporte, solicitud_cita, agendar_cita, crear_ticket, despedida).
   Usa agendar_cita cuando el cliente ya da fecha y horario para la visita, y crear_ticket cuando pide registrar un reporte.
2. El sentimiento general (sentiment): positivo, negativo o neutral
3. Entidades importantes (entities): date (YYYY-MM-DD), time (mañana, tarde o tarde-noche), problem_description, tipo_problema, ticket_number
4. La urgencia (urgency): bajo, medio o alto

Mensaje: %q

Responde solo en formato JSON con las claves: intent, sentiment, entities, urgency`

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// GeminiStatusError captures non-2xx responses from the Gemini API.
type GeminiStatusError struct {
	StatusCode int
	Body       string
}

func (e *GeminiStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, e.Body)
}

// GeminiClient classifies customer messages and drafts replies using the
// Gemini generateContent endpoint.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        zerolog.Logger
}

type GeminiOption func(*GeminiClient)

func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithGeminiHTTPClient(httpClient *http.Client) GeminiOption {
	return func(c *GeminiClient) {
		c.httpClient = httpClient
	}
}

func NewGeminiClient(apiKey, model string, log zerolog.Logger, opts ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	c := &GeminiClient{
		baseURL:    defaultGeminiURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Analyze drafts a reply using the conversation history and classifies the
// message. A failed reply is returned as an error; a failed classification
// degrades to the fallback analysis while keeping the reply.
func (c *GeminiClient) Analyze(ctx context.Context, text string, history []entities.Message, customer *entities.Customer) (entities.Analysis, error) {
	reply, err := c.generate(ctx, &geminiContent{Parts: []geminiPart{{Text: systemPrompt(customer)}}}, chatContents(history, text))
	if err != nil {
		return entities.Analysis{}, err
	}

	analysis, err := c.classify(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Msg("gemini analysis failed; using fallback")
		analysis = entities.FallbackAnalysis()
	}
	analysis.ResponseText = strings.TrimSpace(reply)
	return analysis, nil
}

func (c *GeminiClient) classify(ctx context.Context, text string) (entities.Analysis, error) {
	prompt := fmt.Sprintf(analysisPromptTemplate, text)
	raw, err := c.generate(ctx, nil, []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}})
	if err != nil {
		return entities.Analysis{}, err
	}
	return ParseAnalysis(raw)
}

// ParseAnalysis decodes a classifier JSON answer, tolerating a markdown code
// fence around it. Missing keys take their defaults.
func ParseAnalysis(raw string) (entities.Analysis, error) {
	raw = strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	var a entities.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return entities.Analysis{}, fmt.Errorf("gemini: decode analysis: %w", err)
	}
	return a.Normalize(), nil
}

func (c *GeminiClient) generate(ctx context.Context, system *geminiContent, contents []geminiContent) (string, error) {
	body, err := json.Marshal(geminiRequest{SystemInstruction: system, Contents: contents})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &GeminiStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var payload geminiResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(payload.Candidates) == 0 || len(payload.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	var sb strings.Builder
	for _, part := range payload.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func systemPrompt(customer *entities.Customer) string {
	if customer == nil {
		return supportSystemPrompt
	}
	var sb strings.Builder
	sb.WriteString(supportSystemPrompt)
	sb.WriteString("\n\nInformación del cliente:\n")
	if customer.Name != "" {
		sb.WriteString("- Nombre: " + customer.Name + "\n")
	}
	if customer.ServicePlan != "" {
		sb.WriteString("- Plan contratado: " + customer.ServicePlan + "\n")
	}
	if customer.AccountNumber != "" {
		sb.WriteString("- Número de cuenta: " + customer.AccountNumber + "\n")
	}
	return sb.String()
}

// chatContents maps stored history to Gemini roles and appends the new
// message. The new message is skipped from history if already stored.
func chatContents(history []entities.Message, text string) []geminiContent {
	contents := make([]geminiContent, 0, len(history)+1)
	for i, m := range history {
		if i == len(history)-1 && m.Direction == entities.DirectionIncoming && m.Content == text {
			break
		}
		role := "user"
		if m.Direction == entities.DirectionOutgoing {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}})
}
