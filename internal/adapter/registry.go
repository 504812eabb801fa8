package adapter

import (
	"sort"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"
)

// Registry maps a source system to its adapter. It is built once at startup
// and read-only afterwards.
type Registry struct {
	adapters map[model.SourceSystem]Adapter
}

// NewRegistry builds a registry from adapters; a later adapter for the same
// source replaces an earlier one
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.SourceSystem]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

// NewDefaultRegistry wires the production adapters from configuration
func NewDefaultRegistry(cfg config.AdaptersConfig) *Registry {
	return NewRegistry(
		NewNCRAdapter(cfg.NCRBaseURL, cfg.Timeout, cfg.RateLimit),
		NewSquareAdapter(cfg.Square, cfg.Timeout, cfg.RateLimit),
		NewCloverAdapter(cfg.Clover, cfg.Timeout, cfg.RateLimit),
		NewShopifyAdapter(cfg.ShopifyAPI, cfg.Timeout, cfg.RateLimit),
	)
}

// Get returns the adapter for source. An unknown source is a permanent error.
func (r *Registry) Get(source model.SourceSystem) (Adapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, syncerr.Permanentf("no adapter registered for source system %q", source)
	}
	return a, nil
}

// Sources lists registered source systems in stable order
func (r *Registry) Sources() []model.SourceSystem {
	sources := make([]model.SourceSystem, 0, len(r.adapters))
	for s := range r.adapters {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}

// RefresherSources lists sources whose adapter refreshes OAuth tokens
func (r *Registry) RefresherSources() []model.SourceSystem {
	var out []model.SourceSystem
	for _, s := range r.Sources() {
		if _, ok := r.adapters[s].(TokenRefresher); ok {
			out = append(out, s)
		}
	}
	return out
}

// ListerSources lists sources whose adapter can be polled
func (r *Registry) ListerSources() []model.SourceSystem {
	var out []model.SourceSystem
	for _, s := range r.Sources() {
		if _, ok := r.adapters[s].(CatalogLister); ok {
			out = append(out, s)
		}
	}
	return out
}
