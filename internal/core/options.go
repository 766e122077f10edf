package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nycquery_service/internal/domain/catalog"
)

// Option configures a QueryService.
type Option func(*options)

type options struct {
	log          *zap.Logger
	cat          *catalog.Catalog
	llmTimeout   time.Duration
	storeTimeout time.Duration
	featureLimit int
	explain      bool
}

func defaultOptions() *options {
	return &options{
		log:          zap.NewNop(),
		cat:          catalog.Default(),
		llmTimeout:   60 * time.Second,
		storeTimeout: 30 * time.Second,
		featureLimit: 50000,
		explain:      true,
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) {
		if c != nil {
			o.cat = c
		}
	}
}

// WithTimeouts bounds each inference call and each data fetch. Zero
// disables the bound.
func WithTimeouts(llm, store time.Duration) Option {
	return func(o *options) {
		o.llmTimeout = llm
		o.storeTimeout = store
	}
}

// WithFeatureLimit caps the features of each map layer. Summaries always
// cover every fetched row. Zero means no cap.
func WithFeatureLimit(n int) Option {
	return func(o *options) {
		o.featureLimit = n
	}
}

// WithExplanations turns the explanation step on or off.
func WithExplanations(enabled bool) Option {
	return func(o *options) {
		o.explain = enabled
	}
}

type loggerKey struct{}

// ContextWithLogger attaches a request-scoped logger.
func ContextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
