package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ImageAnalyzer = (*MultiAnalyzer)(nil)

// MultiAnalyzer tries each analyzer in order and returns the first answer.
type MultiAnalyzer struct {
	chain []adapter.ImageAnalyzer
	log   *zerolog.Logger
}

// NewMultiAnalyzer skips nil entries; the order given is the fallback order.
func NewMultiAnalyzer(logger *zerolog.Logger, analyzers ...adapter.ImageAnalyzer) *MultiAnalyzer {
	chain := make([]adapter.ImageAnalyzer, 0, len(analyzers))
	for _, a := range analyzers {
		if a != nil {
			chain = append(chain, a)
		}
	}
	return &MultiAnalyzer{chain: chain, log: logger}
}

func (m *MultiAnalyzer) Name() string { return "multi" }

func (m *MultiAnalyzer) IsAvailable(ctx context.Context) bool {
	for _, a := range m.chain {
		if a.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiAnalyzer) Analyze(ctx context.Context, image []byte, req adapter.AnalysisRequest) (*adapter.AnalysisResult, error) {
	var errs []error
	for _, a := range m.chain {
		if !a.IsAvailable(ctx) {
			continue
		}
		res, err := a.Analyze(ctx, image, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn().Err(err).Str("provider", providerName(a)).Msg("analyzer failed, trying next")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no analyzer available")
	}
	return nil, fmt.Errorf("all analyzers failed: %w", errors.Join(errs...))
}
