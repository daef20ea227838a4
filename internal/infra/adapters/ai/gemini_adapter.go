package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/infra/metrics"
)

var _ adapter.ImageAnalyzer = (*GeminiAnalyzer)(nil)

const geminiProvider = "gemini"

type GeminiAnalyzer struct {
	client *genai.Client
	model  string
	maxOut int32
	log    *zerolog.Logger
}

// NewGeminiAnalyzer creates a Gemini analyzer using the official SDK.
func NewGeminiAnalyzer(ctx context.Context, apiKey, baseURL, model string, logger *zerolog.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("component", "gemini_analyzer").Logger()
	return &GeminiAnalyzer{client: c, model: model, maxOut: 800, log: &l}, nil
}

func (g *GeminiAnalyzer) Name() string { return geminiProvider }

func (g *GeminiAnalyzer) IsAvailable(ctx context.Context) bool { return g.client != nil }

func (g *GeminiAnalyzer) Analyze(ctx context.Context, image []byte, req adapter.AnalysisRequest) (*adapter.AnalysisResult, error) {
	if len(image) == 0 {
		return nil, errors.New("gemini: empty image")
	}
	prompt := buildPrompt(req)
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(image, mimeOrDefault(req)),
			genai.NewPartFromText(prompt),
		},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		MaxOutputTokens:   g.maxOut,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini: empty reply")
	}
	if resp.UsageMetadata != nil {
		metrics.AddPromptTokens(geminiProvider, g.model, int(resp.UsageMetadata.PromptTokenCount))
	}
	g.log.Debug().Str("model", g.model).Msg("analysis reply received")
	return parseAnalysis(geminiProvider, prompt, text)
}
