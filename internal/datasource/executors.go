package datasource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/capability"
	"helmsman/internal/types"
)

// NewESExecutor returns the capability that runs the built search query.
func NewESExecutor(client *ESClient) *capability.Capability {
	return &capability.Capability{
		Name:        "es_executor",
		Description: "executes the prepared Elasticsearch query",
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			if req.Query == nil || req.Query.Query == nil {
				return types.Fail("es_executor: no query prepared")
			}
			result, err := client.Search(ctx, req.Query.Query)
			if err != nil {
				return types.Fail("es_executor: %v", err)
			}
			return searchOutcome(result, req.Query.Query)
		},
	}
}

func searchOutcome(result *SearchResult, query map[string]interface{}) *types.Outcome {
	records := make([]interface{}, len(result.Hits))
	for i, hit := range result.Hits {
		records[i] = hit
	}
	out := types.Success(map[string]interface{}{
		"record_count": result.Total,
		"records":      records,
		"sources":      []string{"elasticsearch"},
		"how_to_repeat": map[string]interface{}{
			"source": "elasticsearch",
			"query":  query,
		},
	})
	out.Meta.Source = "elasticsearch"
	return out
}

// NewGraphQLExecutor returns the capability that runs the built GraphQL
// document.
func NewGraphQLExecutor(client *GraphQLClient) *capability.Capability {
	return &capability.Capability{
		Name:        "graphql_executor",
		Description: "executes the prepared GraphQL query",
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			if req.Query == nil || req.Query.GraphQL == "" {
				return types.Fail("graphql_executor: no query prepared")
			}
			data, err := client.Query(ctx, req.Query.GraphQL, req.Query.Variables)
			if err != nil {
				return types.Fail("graphql_executor: %v", err)
			}
			return graphqlOutcome(data, req.Query.GraphQL, req.Query.Variables)
		},
	}
}

func graphqlOutcome(data map[string]interface{}, doc string, variables map[string]interface{}) *types.Outcome {
	count, records := countGraphQLData(data)
	out := types.Success(map[string]interface{}{
		"record_count": count,
		"records":      records,
		"sources":      []string{"graphql"},
		"how_to_repeat": map[string]interface{}{
			"source":    "graphql",
			"graphql":   doc,
			"variables": variables,
		},
	})
	out.Meta.Source = "graphql"
	return out
}

// countGraphQLData derives a record count: an explicit totalCount field wins,
// otherwise the longest top-level list is counted.
func countGraphQLData(data map[string]interface{}) (int, []interface{}) {
	var records []interface{}
	count := -1
	if tc, ok := data["totalCount"]; ok {
		switch v := tc.(type) {
		case float64:
			count = int(v)
		case int:
			count = v
		}
	}
	for key, value := range data {
		if key == "totalCount" {
			continue
		}
		if list, ok := value.([]interface{}); ok && len(list) > len(records) {
			records = list
		}
	}
	if count < 0 {
		count = len(records)
	}
	return count, records
}

// NewHybridExecutor returns the capability that fans out to both backends
// concurrently and merges the results. Either side failing fails the task.
func NewHybridExecutor(es *ESClient, gql *GraphQLClient) *capability.Capability {
	return &capability.Capability{
		Name:        "hybrid_executor",
		Description: "runs the search and graph queries concurrently and merges results",
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			if req.Query == nil || req.Query.Query == nil || req.Query.GraphQL == "" {
				return types.Fail("hybrid_executor: both queries must be prepared")
			}

			var (
				searchResult *SearchResult
				graphData    map[string]interface{}
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				r, err := es.Search(gctx, req.Query.Query)
				if err != nil {
					return fmt.Errorf("elasticsearch side: %w", err)
				}
				searchResult = r
				return nil
			})
			g.Go(func() error {
				d, err := gql.Query(gctx, req.Query.GraphQL, req.Query.Variables)
				if err != nil {
					return fmt.Errorf("graphql side: %w", err)
				}
				graphData = d
				return nil
			})
			if err := g.Wait(); err != nil {
				return types.Fail("hybrid_executor: %v", err)
			}

			gqlCount, gqlRecords := countGraphQLData(graphData)
			records := make([]interface{}, 0, len(searchResult.Hits)+len(gqlRecords))
			for _, hit := range searchResult.Hits {
				records = append(records, hit)
			}
			records = append(records, gqlRecords...)

			out := types.Success(map[string]interface{}{
				"record_count": searchResult.Total + gqlCount,
				"records":      records,
				"sources":      []string{"elasticsearch", "graphql"},
				"how_to_repeat": map[string]interface{}{
					"source":    "hybrid",
					"query":     req.Query.Query,
					"graphql":   req.Query.GraphQL,
					"variables": req.Query.Variables,
				},
			})
			out.Meta.Source = "hybrid"
			return out
		},
	}
}

// NewFormatResults returns the terminal capability that summarizes the
// execution record for the responder.
func NewFormatResults() *capability.Capability {
	return &capability.Capability{
		Name:        "format_results",
		Description: "renders a summary of the execution results",
		Handler: func(ctx context.Context, req *capability.Request) *types.Outcome {
			if req.Execution == nil {
				return types.Fail("format_results: nothing was executed")
			}
			summary := summarize(req.Execution)
			return types.Success(map[string]interface{}{
				"summary":      summary,
				"record_count": req.Execution.RecordCount,
			})
		},
	}
}

func summarize(exec *types.ExecutionRecord) string {
	switch exec.RecordCount {
	case 0:
		return "No matching records were found."
	case 1:
		return "Found 1 matching record."
	default:
		return fmt.Sprintf("Found %d matching records.", exec.RecordCount)
	}
}
