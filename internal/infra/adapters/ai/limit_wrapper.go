package ai

import (
	"context"
	"time"

	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ adapter.ImageAnalyzer = (*limitedAnalyzer)(nil)

type named interface {
	Name() string
}

// providerName falls back to "unknown" for analyzers without a Name method.
func providerName(a adapter.ImageAnalyzer) string {
	if n, ok := a.(named); ok {
		return n.Name()
	}
	return "unknown"
}

type limitedAnalyzer struct {
	inner   adapter.ImageAnalyzer
	name    string
	sem     chan struct{}
	timeout time.Duration
}

// NewLimitedAnalyzer caps concurrent calls and bounds each call by timeout.
// Every call is recorded in the analysis metrics.
func NewLimitedAnalyzer(inner adapter.ImageAnalyzer, maxConcurrent int, timeout time.Duration) adapter.ImageAnalyzer {
	l := &limitedAnalyzer{
		inner:   inner,
		name:    providerName(inner),
		timeout: timeout,
	}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedAnalyzer) Name() string { return l.name }

func (l *limitedAnalyzer) IsAvailable(ctx context.Context) bool {
	return l.inner.IsAvailable(ctx)
}

func (l *limitedAnalyzer) Analyze(ctx context.Context, image []byte, req adapter.AnalysisRequest) (*adapter.AnalysisResult, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := l.inner.Analyze(ctx, image, req)
	metrics.ObserveAnalysis(l.name, time.Since(start).Milliseconds(), err == nil)
	return res, err
}
