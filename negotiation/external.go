package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"negotiatex/config"
)

// ExternalMediator delegates to an OpenAI-compatible chat-completions API
// (Groq by default).
type ExternalMediator struct {
	config     *config.MediatorConfig
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// mediatorPayload mirrors the JSON object the prompt asks for.
type mediatorPayload struct {
	AgreementText      string         `json:"agreement_text"`
	JustifiedPrice     *float64       `json:"justified_price"`
	FixedDeadline      string         `json:"fixed_deadline"`
	Clauses            []Clause       `json:"clauses"`
	ConfidenceScore    *float64       `json:"confidence_score"`
	TransparencyReport map[string]any `json:"transparency_report"`
	Summary            string         `json:"summary"`
	Recommendation     string         `json:"recommendation"`
}

// NewExternalMediator returns nil when no API key is configured so callers
// can treat the variant as absent.
func NewExternalMediator(cfg *config.MediatorConfig) *ExternalMediator {
	if cfg == nil || cfg.APIKey == "" {
		return nil
	}
	return &ExternalMediator{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (m *ExternalMediator) Mediate(ctx context.Context, nc Context, sessionID string) (Agreement, error) {
	user, err := userPrompt(nc)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: %v", ErrMediatorUnavailable, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: m.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: user},
		},
		Temperature:    m.config.Temperature,
		MaxTokens:      m.config.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: marshal request: %v", ErrMediatorUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(m.config.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: create request: %v", ErrMediatorUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: send request: %v", ErrMediatorUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: read response: %v", ErrMediatorUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Agreement{}, fmt.Errorf("%w: status %d", ErrMediatorUnavailable, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Agreement{}, fmt.Errorf("%w: decode envelope: %v", ErrMediatorParse, err)
	}
	if len(chat.Choices) == 0 || strings.TrimSpace(chat.Choices[0].Message.Content) == "" {
		return Agreement{}, fmt.Errorf("%w: empty completion", ErrMediatorParse)
	}

	return parseAgreement(chat.Choices[0].Message.Content, sessionID)
}

// parseAgreement validates the completion content against the agreement shape.
func parseAgreement(content, sessionID string) (Agreement, error) {
	var p mediatorPayload
	if err := json.Unmarshal([]byte(stripFence(content)), &p); err != nil {
		return Agreement{}, fmt.Errorf("%w: %v", ErrMediatorParse, err)
	}

	switch {
	case strings.TrimSpace(p.AgreementText) == "":
		return Agreement{}, fmt.Errorf("%w: missing agreement_text", ErrMediatorParse)
	case p.JustifiedPrice == nil || *p.JustifiedPrice <= 0:
		return Agreement{}, fmt.Errorf("%w: missing justified_price", ErrMediatorParse)
	case len(p.Clauses) == 0:
		return Agreement{}, fmt.Errorf("%w: no clauses", ErrMediatorParse)
	case p.ConfidenceScore == nil || *p.ConfidenceScore < 0 || *p.ConfidenceScore > 100:
		return Agreement{}, fmt.Errorf("%w: confidence_score outside 0-100", ErrMediatorParse)
	}

	clauses := make([]Clause, len(p.Clauses))
	copy(clauses, p.Clauses)
	for i := range clauses {
		if clauses[i].Status == "" {
			clauses[i].Status = ClauseAgreed
		}
	}
	if !hasPricingClause(clauses) {
		clauses = append([]Clause{{
			ID:         "pricing",
			Title:      "Base Pricing & Rate",
			Negotiated: "INR " + formatAmount(*p.JustifiedPrice),
			Reasoning:  "Rate taken from the mediator's justified price.",
			Status:     ClauseAgreed,
		}}, clauses...)
	}

	report := p.TransparencyReport
	if report == nil {
		report = map[string]any{}
	}

	return Agreement{
		ID:                 sessionID,
		Text:               p.AgreementText,
		JustifiedPrice:     *p.JustifiedPrice,
		FixedDeadline:      p.FixedDeadline,
		Clauses:            clauses,
		ConfidenceScore:    int(*p.ConfidenceScore + 0.5),
		TransparencyReport: report,
		Summary:            p.Summary,
		Recommendation:     NormalizeRecommendation(strings.ToLower(strings.TrimSpace(p.Recommendation))),
		Source:             SourceMediator,
	}, nil
}

func hasPricingClause(clauses []Clause) bool {
	for _, c := range clauses {
		if c.ID == "pricing" {
			return true
		}
	}
	return false
}

// stripFence removes a ```json fence some models wrap around the object.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
