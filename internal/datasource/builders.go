package datasource

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/capability"
	"helmsman/internal/types"
)

// NewESQueryBuilder returns the capability that turns resolved entities and
// field mappings into an Elasticsearch query body.
func NewESQueryBuilder() *capability.Capability {
	return &capability.Capability{
		Name:        "es_query_builder",
		Description: "builds an Elasticsearch query from resolved entities",
		Schema:      capability.Schema{Required: []string{"question"}},
		Handler:     buildESQuery,
	}
}

func buildESQuery(_ context.Context, req *capability.Request) *types.Outcome {
	question, _ := req.String("question")

	var filters []map[string]interface{}
	if req.Resolution != nil {
		for category, matches := range req.Resolution.Resolved {
			if len(matches) == 0 {
				continue
			}
			field := category
			if mapped := req.Resolution.FieldMappings[category]; mapped != "" {
				field = mapped
			}
			values := make([]string, len(matches))
			for i, m := range matches {
				values[i] = m.Name
			}
			filters = append(filters, map[string]interface{}{
				"terms": map[string]interface{}{field: values},
			})
		}
	}
	if tr := timeRangeFromParams(req); tr != nil {
		field := "created_at"
		if req.Resolution != nil && req.Resolution.FieldMappings["time"] != "" {
			field = req.Resolution.FieldMappings["time"]
		}
		rangeBody := map[string]interface{}{}
		if tr.Start != "" {
			rangeBody["gte"] = tr.Start
		}
		if tr.End != "" {
			rangeBody["lte"] = tr.End
		}
		if len(rangeBody) > 0 {
			filters = append(filters, map[string]interface{}{
				"range": map[string]interface{}{field: rangeBody},
			})
		}
	}

	boolQuery := map[string]interface{}{}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	} else {
		boolQuery["must"] = []map[string]interface{}{
			{"match": map[string]interface{}{"_all_text": question}},
		}
	}

	query := map[string]interface{}{
		"query":            map[string]interface{}{"bool": boolQuery},
		"track_total_hits": true,
	}
	if isCountQuestion(question) {
		query["size"] = 0
	} else {
		query["size"] = 20
	}

	return types.Success(map[string]interface{}{
		"source": "elasticsearch",
		"query":  query,
	})
}

// NewGraphQLQueryBuilder returns the capability that renders a GraphQL
// document plus variables from resolved entities.
func NewGraphQLQueryBuilder() *capability.Capability {
	return &capability.Capability{
		Name:        "graphql_query_builder",
		Description: "builds a GraphQL query from resolved entities",
		Schema:      capability.Schema{Required: []string{"question"}},
		Handler:     buildGraphQLQuery,
	}
}

func buildGraphQLQuery(_ context.Context, req *capability.Request) *types.Outcome {
	rootField := req.StringOr("root_field", "records")

	variables := map[string]interface{}{}
	var filterLines []string
	if req.Resolution != nil {
		for category, matches := range req.Resolution.Resolved {
			if len(matches) == 0 {
				continue
			}
			field := category
			if mapped := req.Resolution.FieldMappings[category]; mapped != "" {
				field = mapped
			}
			varName := graphqlVarName(field)
			filterLines = append(filterLines, fmt.Sprintf("%s: $%s", field, varName))
			if len(matches) == 1 {
				variables[varName] = matches[0].Name
			} else {
				names := make([]string, len(matches))
				for i, m := range matches {
					names[i] = m.Name
				}
				variables[varName] = names
			}
		}
	}

	var doc string
	if len(filterLines) > 0 {
		varDecls := make([]string, 0, len(variables))
		for name := range variables {
			varDecls = append(varDecls, fmt.Sprintf("$%s: String", name))
		}
		doc = fmt.Sprintf("query(%s) { %s(filter: {%s}) { id name } totalCount: %sCount(filter: {%s}) }",
			strings.Join(varDecls, ", "), rootField,
			strings.Join(filterLines, ", "), rootField, strings.Join(filterLines, ", "))
	} else {
		doc = fmt.Sprintf("query { %s { id name } totalCount: %sCount }", rootField, rootField)
	}

	return types.Success(map[string]interface{}{
		"source":    "graphql",
		"graphql":   doc,
		"variables": variables,
	})
}

func graphqlVarName(field string) string {
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == '.' || r == '_' })
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func timeRangeFromParams(req *capability.Request) *types.TimeRange {
	raw, ok := req.Params["time_range"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case *types.TimeRange:
		return v
	case map[string]interface{}:
		tr := &types.TimeRange{}
		if s, ok := v["start"].(string); ok {
			tr.Start = s
		}
		if s, ok := v["end"].(string); ok {
			tr.End = s
		}
		if s, ok := v["kind"].(string); ok {
			tr.Kind = s
		}
		return tr
	}
	return nil
}

func isCountQuestion(question string) bool {
	q := strings.ToLower(question)
	return strings.Contains(q, "how many") || strings.Contains(q, "count")
}
