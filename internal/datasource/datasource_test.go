package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"helmsman/internal/capability"
	"helmsman/internal/types"
)

func TestESQueryBuilderWithResolvedEntities(t *testing.T) {
	builder := NewESQueryBuilder()
	out := builder.Handler(context.Background(), &capability.Request{
		Params: map[string]interface{}{
			"question": "how many users in miami",
			"time_range": map[string]interface{}{
				"start": "2026-08-01", "end": "2026-08-29", "kind": "absolute",
			},
		},
		Resolution: &types.ResolutionRecord{
			Resolved: map[string][]types.ResolvedEntity{
				"city": {{Name: "Miami, FL", ID: "city-12", Confidence: 0.9}},
			},
			FieldMappings: map[string]string{"city": "address.city", "time": "created_at"},
		},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}

	query := out.Data["query"].(map[string]interface{})
	if query["size"] != 0 {
		t.Errorf("count question should use size 0, got %v", query["size"])
	}
	boolQuery := query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := boolQuery["filter"].([]map[string]interface{})
	if len(filters) != 2 {
		t.Fatalf("filters = %v", filters)
	}
	terms := filters[0]["terms"].(map[string]interface{})
	if _, ok := terms["address.city"]; !ok {
		t.Errorf("terms filter should use mapped field, got %v", terms)
	}
}

func TestESQueryBuilderFallsBackToMatch(t *testing.T) {
	builder := NewESQueryBuilder()
	out := builder.Handler(context.Background(), &capability.Request{
		Params: map[string]interface{}{"question": "recent signups"},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	query := out.Data["query"].(map[string]interface{})
	boolQuery := query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	if _, ok := boolQuery["must"]; !ok {
		t.Errorf("expected match fallback, got %v", boolQuery)
	}
}

func TestGraphQLQueryBuilder(t *testing.T) {
	builder := NewGraphQLQueryBuilder()
	out := builder.Handler(context.Background(), &capability.Request{
		Params: map[string]interface{}{"question": "orders related to miami users", "root_field": "orders"},
		Resolution: &types.ResolutionRecord{
			Resolved: map[string][]types.ResolvedEntity{
				"city": {{Name: "Miami, FL", ID: "city-12"}},
			},
			FieldMappings: map[string]string{"city": "city"},
		},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	doc := out.Data["graphql"].(string)
	vars := out.Data["variables"].(map[string]interface{})
	if vars["city"] != "Miami, FL" {
		t.Errorf("variables = %v", vars)
	}
	if doc == "" {
		t.Error("no document built")
	}
}

func newESServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records/_search" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"took": 4,
			"hits": map[string]interface{}{
				"total": map[string]interface{}{"value": total},
				"hits": []map[string]interface{}{
					{"_source": map[string]interface{}{"id": "u1"}},
				},
			},
		})
	}))
}

func TestESExecutor(t *testing.T) {
	server := newESServer(t, 1204)
	defer server.Close()

	exec := NewESExecutor(NewESClient(server.URL, "records", 5*time.Second))
	out := exec.Handler(context.Background(), &capability.Request{
		Query: &types.QueryRecord{
			Source: "elasticsearch",
			Query:  map[string]interface{}{"query": map[string]interface{}{"match_all": map[string]interface{}{}}},
		},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Data["record_count"] != 1204 {
		t.Errorf("record_count = %v", out.Data["record_count"])
	}
	repeat := out.Data["how_to_repeat"].(map[string]interface{})
	if repeat["source"] != "elasticsearch" {
		t.Errorf("how_to_repeat = %v", repeat)
	}
}

func TestESExecutorWithoutQueryFails(t *testing.T) {
	exec := NewESExecutor(NewESClient("http://localhost:0", "records", time.Second))
	out := exec.Handler(context.Background(), &capability.Request{})
	if out.Status != types.OutcomeFailure {
		t.Errorf("status = %s", out.Status)
	}
}

func TestGraphQLExecutor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"orders":     []interface{}{map[string]interface{}{"id": "o1"}, map[string]interface{}{"id": "o2"}},
				"totalCount": 2,
			},
		})
	}))
	defer server.Close()

	exec := NewGraphQLExecutor(NewGraphQLClient(server.URL, 5*time.Second))
	out := exec.Handler(context.Background(), &capability.Request{
		Query: &types.QueryRecord{Source: "graphql", GraphQL: "query { orders { id } }"},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Data["record_count"] != 2 {
		t.Errorf("record_count = %v", out.Data["record_count"])
	}
}

func TestGraphQLExecutorSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{{"message": "field orders not found"}},
		})
	}))
	defer server.Close()

	exec := NewGraphQLExecutor(NewGraphQLClient(server.URL, 5*time.Second))
	out := exec.Handler(context.Background(), &capability.Request{
		Query: &types.QueryRecord{GraphQL: "query { orders { id } }"},
	})
	if out.Status != types.OutcomeFailure {
		t.Fatalf("status = %s", out.Status)
	}
}

func TestHybridExecutorMergesBothSides(t *testing.T) {
	esServer := newESServer(t, 10)
	defer esServer.Close()
	gqlServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"totalCount": 5, "orders": []interface{}{}},
		})
	}))
	defer gqlServer.Close()

	exec := NewHybridExecutor(
		NewESClient(esServer.URL, "records", 5*time.Second),
		NewGraphQLClient(gqlServer.URL, 5*time.Second),
	)
	out := exec.Handler(context.Background(), &capability.Request{
		Query: &types.QueryRecord{
			Query:   map[string]interface{}{"query": map[string]interface{}{"match_all": map[string]interface{}{}}},
			GraphQL: "query { orders { id } }",
		},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Data["record_count"] != 15 {
		t.Errorf("record_count = %v, want 15", out.Data["record_count"])
	}
	if out.Meta.Source != "hybrid" {
		t.Errorf("meta source = %q", out.Meta.Source)
	}
}

func TestHybridExecutorFailsWhenOneSideFails(t *testing.T) {
	esServer := newESServer(t, 10)
	defer esServer.Close()
	gqlServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer gqlServer.Close()

	exec := NewHybridExecutor(
		NewESClient(esServer.URL, "records", 5*time.Second),
		NewGraphQLClient(gqlServer.URL, 5*time.Second),
	)
	out := exec.Handler(context.Background(), &capability.Request{
		Query: &types.QueryRecord{
			Query:   map[string]interface{}{},
			GraphQL: "query { orders { id } }",
		},
	})
	if out.Status != types.OutcomeFailure {
		t.Errorf("status = %s", out.Status)
	}
}

func TestFormatResults(t *testing.T) {
	format := NewFormatResults()
	out := format.Handler(context.Background(), &capability.Request{
		Execution: &types.ExecutionRecord{RecordCount: 3},
	})
	if !out.IsSuccess() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Data["summary"] != "Found 3 matching records." {
		t.Errorf("summary = %v", out.Data["summary"])
	}

	out = format.Handler(context.Background(), &capability.Request{})
	if out.Status != types.OutcomeFailure {
		t.Errorf("missing execution should fail, got %s", out.Status)
	}
}
