// Package resolve turns the user's vocabulary into the system's: entity
// aliases become canonical catalog entries, business terms become schema
// fields. Ambiguous aliases surface as clarification questions unless trust
// mode tells the resolver to take its best guess.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/capability"
	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// Catalog is the lookup surface the resolver needs from storage.
type Catalog interface {
	LookupEntity(ctx context.Context, category, alias string) ([]types.ResolvedEntity, error)
	LookupField(ctx context.Context, category, term string) (string, error)
}

// NewEntityResolution returns the capability that resolves extracted entity
// aliases against the catalog. It is the canonical clarification source: an
// alias with several catalog matches pauses the plan with an options list.
func NewEntityResolution(catalog Catalog) *capability.Capability {
	return &capability.Capability{
		Name:        "entity_resolution",
		Description: "resolves entity aliases to canonical catalog entries",
		CanClarify:  true,
		TrustGuess:  true,
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			return resolveEntities(ctx, catalog, req)
		},
	}
}

func resolveEntities(ctx context.Context, catalog Catalog, req *capability.Request) *types.Outcome {
	entities := entitiesFromParams(req)
	answer, _ := req.String("clarification_answer")

	record := &types.ResolutionRecord{
		Unresolved: entities,
		Resolved:   make(map[string][]types.ResolvedEntity),
		Ambiguous:  make(map[string][]types.ResolvedEntity),
	}

	for category, aliases := range entities {
		for _, alias := range aliases {
			matches, err := catalog.LookupEntity(ctx, category, alias)
			if err != nil {
				return types.Fail("entity_resolution: catalog lookup for %s/%s: %v", category, alias, err)
			}

			switch {
			case len(matches) == 0:
				// Unknown aliases pass through verbatim; the backends can
				// still match free text.
				logging.ResolveDebug("no catalog entry for %s/%s, passing through", category, alias)
				record.Resolved[category] = append(record.Resolved[category],
					types.ResolvedEntity{Name: alias, Confidence: 0.3})

			case len(matches) == 1:
				record.Resolved[category] = append(record.Resolved[category], matches[0])

			default:
				if picked, ok := pickByAnswer(matches, answer); ok {
					logging.Resolve("disambiguated %s/%s to %s via user answer", category, alias, picked.Name)
					record.Resolved[category] = append(record.Resolved[category], picked)
					continue
				}
				if req.Trust {
					logging.Resolve("trust mode: guessing %s for ambiguous %s/%s", matches[0].Name, category, alias)
					record.Resolved[category] = append(record.Resolved[category], matches[0])
					continue
				}
				record.Ambiguous[category] = matches
				options := make([]string, len(matches))
				for i, m := range matches {
					options[i] = m.Name
				}
				return types.NeedClarification(
					fmt.Sprintf("Which %q do you mean?", alias), options...)
			}
		}
	}

	return types.Success(map[string]interface{}{"resolution": record})
}

// pickByAnswer matches a clarification answer against the candidate names.
func pickByAnswer(matches []types.ResolvedEntity, answer string) (types.ResolvedEntity, bool) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return types.ResolvedEntity{}, false
	}
	for _, m := range matches {
		name := strings.ToLower(m.Name)
		if name == answer || strings.Contains(answer, name) || strings.Contains(name, answer) {
			return m, true
		}
	}
	return types.ResolvedEntity{}, false
}

func entitiesFromParams(req *capability.Request) map[string][]string {
	out := make(map[string][]string)
	raw, ok := req.Params["entities"]
	if !ok {
		return out
	}
	switch v := raw.(type) {
	case map[string][]string:
		return v
	case map[string]interface{}:
		for category, values := range v {
			switch list := values.(type) {
			case []string:
				out[category] = list
			case []interface{}:
				for _, item := range list {
					if s, ok := item.(string); ok {
						out[category] = append(out[category], s)
					}
				}
			case string:
				out[category] = []string{list}
			}
		}
	}
	return out
}

// NewFieldMapping returns the capability that maps entity categories and
// question terms to schema fields via the field catalog. Unknown terms map
// to themselves.
func NewFieldMapping(catalog Catalog, schema string) *capability.Capability {
	if schema == "" {
		schema = "records"
	}
	return &capability.Capability{
		Name:        "field_mapping",
		Description: "maps business terms to schema fields",
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			mappings := make(map[string]string)

			categories := make([]string, 0)
			if req.Resolution != nil {
				for category := range req.Resolution.Resolved {
					categories = append(categories, category)
				}
			}
			for category := range entitiesFromParams(req) {
				categories = append(categories, category)
			}
			categories = append(categories, "time")

			for _, term := range categories {
				if _, done := mappings[term]; done {
					continue
				}
				field, err := catalog.LookupField(ctx, schema, term)
				if err != nil {
					return types.Fail("field_mapping: lookup %s: %v", term, err)
				}
				if field == "" {
					field = term
				}
				mappings[term] = field
			}

			logging.ResolveDebug("mapped %d terms for schema %s", len(mappings), schema)
			return types.Success(map[string]interface{}{"field_mappings": mappings})
		},
	}
}
