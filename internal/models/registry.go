package models

import (
	"fmt"
	"sort"
	"strings"

	"tokencount/internal/domain"
)

// registry is the fixed set of countable models, in listing order.
var registry = []domain.ModelSpec{
	{ID: "gpt-4o", Strategy: domain.StrategyLocal, Provider: "openai", Encoding: "o200k_base", ContextLimit: 128000},
	{ID: "gpt-4o-mini", Strategy: domain.StrategyLocal, Provider: "openai", Encoding: "o200k_base", ContextLimit: 128000},
	{ID: "gpt-4", Strategy: domain.StrategyLocal, Provider: "openai", Encoding: "cl100k_base", ContextLimit: 8192},
	{ID: "gpt-3.5-turbo", Strategy: domain.StrategyLocal, Provider: "openai", Encoding: "cl100k_base", ContextLimit: 16385},
	{ID: "claude-3-5-sonnet", Strategy: domain.StrategyRemote, Provider: "anthropic", ProviderModel: "claude-3-5-sonnet-20241022", ContextLimit: 200000},
	{ID: "claude-3-5-haiku", Strategy: domain.StrategyRemote, Provider: "anthropic", ProviderModel: "claude-3-5-haiku-20241022", ContextLimit: 200000},
}

// DefaultIDs are counted when the caller requests no model.
var DefaultIDs = []string{"gpt-4o", "claude-3-5-sonnet"}

// All returns a copy of the registry in listing order.
func All() []domain.ModelSpec {
	out := make([]domain.ModelSpec, len(registry))
	copy(out, registry)
	return out
}

// IDs returns the sorted registry identifiers.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for _, m := range registry {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the spec for id.
func Lookup(id string) (domain.ModelSpec, error) {
	for _, m := range registry {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.ModelSpec{}, fmt.Errorf("%w: %s. Valid models: %s", domain.ErrUnknownModel, id, strings.Join(IDs(), ", "))
}

// Resolve maps requested ids to specs in request order. An empty request
// resolves to DefaultIDs. Repeated ids keep only their first position so
// each model yields exactly one result.
func Resolve(ids []string) ([]domain.ModelSpec, error) {
	if len(ids) == 0 {
		ids = DefaultIDs
	}
	seen := make(map[string]bool, len(ids))
	specs := make([]domain.ModelSpec, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		spec, err := Lookup(id)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		specs = append(specs, spec)
	}
	return specs, nil
}
