package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

// PresentationPrice is one (package-size variant, displayed price) pair
// extracted from a supplier page.
type PresentationPrice struct {
	Presentation float64
	Price        float64
}

// Extraction is the normalized output of one engine run.
type Extraction struct {
	CanonicalURL string
	Prices       []PresentationPrice
}

// Engine is a pluggable price-extraction strategy. Implementations are pure
// apart from the network fetch and must be safe for concurrent use.
type Engine interface {
	ID() string
	Version() string
	Extract(ctx context.Context, sourceURL string) (*Extraction, error)
}

// Registry maps engine ids to extraction strategies. Adding an engine is a
// Register call; the orchestration layer never changes.
type Registry struct {
	logger  *slog.Logger
	engines map[string]Engine
}

// NewRegistry creates a registry with the built-in engines registered.
// httpClient may be nil, in which case a client with the default fetch
// timeout is used.
func NewRegistry(logger *slog.Logger, httpClient *http.Client) *Registry {
	r := &Registry{
		logger:  logger,
		engines: make(map[string]Engine),
	}
	r.Register(NewCatalogJSONEngine(logger, httpClient))
	return r
}

// Register adds or replaces an engine under its own id.
func (r *Registry) Register(e Engine) {
	r.engines[e.ID()] = e
}

// Resolve returns the engine registered under id.
func (r *Registry) Resolve(id string) (Engine, error) {
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrEngineNotImplemented, id)
	}
	return e, nil
}

// Extract resolves id and runs the engine against sourceURL.
func (r *Registry) Extract(ctx context.Context, id, sourceURL string) (*Extraction, Engine, error) {
	e, err := r.Resolve(id)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	ext, err := e.Extract(ctx, sourceURL)
	if err != nil {
		r.logger.Warn("engine extraction failed",
			slog.String("engine_id", id),
			slog.String("url", sourceURL),
			slog.String("error", err.Error()),
		)
		return nil, e, err
	}

	r.logger.Info("engine extraction complete",
		slog.String("engine_id", id),
		slog.String("url", sourceURL),
		slog.Int("prices", len(ext.Prices)),
		slog.Duration("latency", time.Since(start)),
	)
	return ext, e, nil
}
