package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ImageAnalyzer = (*OpenAIAnalyzer)(nil)

const openAIProvider = "openai"

// OpenAIAnalyzer sends the source image to a vision capable chat model.
type OpenAIAnalyzer struct {
	client    openai.Client
	model     string
	maxOut    int64
	log       *zerolog.Logger
	countText func(model, text string) int
}

func NewOpenAIAnalyzer(apiKey, baseURL, model string, logger *zerolog.Logger) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	l := logger.With().Str("component", "openai_analyzer").Logger()
	return &OpenAIAnalyzer{
		client:    openai.NewClient(opts...),
		model:     model,
		maxOut:    800,
		log:       &l,
		countText: tiktokenCount,
	}, nil
}

func (o *OpenAIAnalyzer) Name() string { return openAIProvider }

func (o *OpenAIAnalyzer) IsAvailable(ctx context.Context) bool { return o.model != "" }

func (o *OpenAIAnalyzer) Analyze(ctx context.Context, image []byte, req adapter.AnalysisRequest) (*adapter.AnalysisResult, error) {
	if len(image) == 0 {
		return nil, errors.New("openai: empty image")
	}
	prompt := buildPrompt(req)
	dataURL := "data:" + mimeOrDefault(req) + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxCompletionTokens: openai.Int(o.maxOut),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("openai: no choice content")
	}

	// the image part is billed separately; only the text is counted locally
	tokens := int(resp.Usage.PromptTokens)
	if tokens == 0 {
		tokens = o.countText(o.model, systemPrompt+"\n"+prompt)
	}
	metrics.AddPromptTokens(openAIProvider, o.model, tokens)
	o.log.Debug().Int("prompt_tokens", tokens).Str("model", o.model).Msg("analysis reply received")

	return parseAnalysis(openAIProvider, prompt, resp.Choices[0].Message.Content)
}

var (
	encOnce  sync.Once
	encCache *tiktoken.Tiktoken
)

// tiktokenCount estimates text tokens; 0 when no encoding is available.
func tiktokenCount(model, text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("o200k_base")
		}
		if err == nil {
			encCache = enc
		}
	})
	if encCache == nil {
		return 0
	}
	return len(encCache.Encode(text, nil, nil))
}
