package apr

import (
	"context"

	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// Item is one token's yield figure.
type Item struct {
	APR float64 `json:"apr"`
	// IsIBYield marks interest-bearing token yield as opposed to swap fees.
	IsIBYield bool   `json:"isIbYield"`
	Group     string `json:"group,omitempty"`
}

// Source fetches yield data for the tokens it knows about. Implementations
// declare which chains they apply to; applicability is registered statically,
// never detected by probing.
type Source interface {
	Name() string
	Supports(c chain.Chain) bool
	GetAprs(ctx context.Context, c chain.Chain) (map[string]Item, error)
}

// Registry holds the static set of APR sources.
type Registry struct {
	logger  *zap.Logger
	sources []Source
}

func NewRegistry(logger *zap.Logger, sources ...Source) *Registry {
	return &Registry{logger: logger, sources: sources}
}

// Collect merges yield data from every applicable source, keyed by lowercase
// token address. A failing source contributes nothing: the empty-on-failure
// behavior is a policy decision made here, not hidden inside the adapters.
func (r *Registry) Collect(ctx context.Context, c chain.Chain) map[string]Item {
	out := make(map[string]Item)
	for _, source := range r.sources {
		if !source.Supports(c) {
			continue
		}
		items, err := source.GetAprs(ctx, c)
		if err != nil {
			r.logger.Warn("APR source failed, skipping",
				zap.String("source", source.Name()),
				zap.String("chain", string(c)),
				zap.Error(err))
			continue
		}
		for addr, item := range items {
			out[addr] = item
		}
	}
	return out
}
