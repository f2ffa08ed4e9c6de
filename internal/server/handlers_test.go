package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

// mockClient records calls and answers with canned results.
type mockClient struct {
	queryFunc      func(req graph.QueryRequest) (*graph.QueryResult, error)
	historyFunc    func(req graph.HistoryRequest) (*graph.QueryResult, error)
	operationsFunc func() (*graph.OperationsResult, error)

	queries   []graph.QueryRequest
	histories []graph.HistoryRequest
	callCount int
	deadline  bool
}

func (m *mockClient) Query(ctx context.Context, req graph.QueryRequest) (*graph.QueryResult, error) {
	m.callCount++
	m.queries = append(m.queries, req)
	_, m.deadline = ctx.Deadline()
	if m.queryFunc != nil {
		return m.queryFunc(req)
	}
	return mustResult(`{"totalRecords":1,"count":1,"data":[{"name":"vm1","type":"microsoft.compute/virtualmachines"}]}`), nil
}

func (m *mockClient) History(ctx context.Context, req graph.HistoryRequest) (*graph.QueryResult, error) {
	m.callCount++
	m.histories = append(m.histories, req)
	if m.historyFunc != nil {
		return m.historyFunc(req)
	}
	return mustResult(`{"count":1,"data":[{"changeType":"Update"}]}`), nil
}

func (m *mockClient) Operations(ctx context.Context) (*graph.OperationsResult, error) {
	m.callCount++
	if m.operationsFunc != nil {
		return m.operationsFunc()
	}
	ops, err := graph.DecodeOperations([]byte(`{"value":[{"name":"Microsoft.ResourceGraph/resources/read","display":{"provider":"Microsoft Resource Graph","resource":"Resources","operation":"Query resources","description":"Query resources"}}]}`))
	if err != nil {
		panic(err)
	}
	return ops, nil
}

func mustResult(body string) *graph.QueryResult {
	r, err := graph.DecodeQueryResult([]byte(body))
	if err != nil {
		panic(err)
	}
	return r
}

func newTestHandlers(client graph.Client) *Handlers {
	return NewHandlers(client, graph.NewFormatter(graph.DefaultCharacterLimit), 5*time.Second)
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := handler(context.Background(), request)
	require.NoError(t, err, "handlers never return Go errors")
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestQueryHandler_Success(t *testing.T) {
	client := &mockClient{}
	h := newTestHandlers(client)

	result := callTool(t, h.QueryHandler(), graph.ToolQuery, map[string]any{
		"query":         "Resources | take 1",
		"subscriptions": []any{"sub-1"},
		"options":       map[string]any{"$top": float64(10), "skip": float64(5)},
	})

	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "# Azure Resource Graph Query Results")
	assert.Contains(t, text, "vm1")

	require.Len(t, client.queries, 1)
	got := client.queries[0]
	assert.Equal(t, "Resources | take 1", got.Query)
	assert.Equal(t, []string{"sub-1"}, got.Subscriptions)
	require.NotNil(t, got.Options)
	assert.Equal(t, 10, *got.Options.Top)
	assert.Equal(t, 5, *got.Options.Skip)
	assert.True(t, client.deadline, "handler should bound the call with a timeout")
}

func TestQueryHandler_JSON(t *testing.T) {
	h := newTestHandlers(&mockClient{})

	result := callTool(t, h.QueryHandler(), graph.ToolQuery, map[string]any{
		"query":           "Resources",
		"response_format": "json",
	})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.EqualValues(t, 1, decoded["totalRecords"])
}

func TestHandlers_InvalidArgumentsSkipClient(t *testing.T) {
	tests := []struct {
		name    string
		handler func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{
			name:    "missing query",
			handler: func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return h.QueryHandler() },
			args:    map[string]any{},
			want:    "query is required",
		},
		{
			name:    "bad response format",
			handler: func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return h.QueryHandler() },
			args:    map[string]any{"query": "Resources", "response_format": "xml"},
			want:    "response_format must be markdown or json",
		},
		{
			name:    "fractional top",
			handler: func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return h.QueryHandler() },
			args:    map[string]any{"query": "Resources", "options": map[string]any{"$top": 2.5}},
			want:    "$top must be an integer",
		},
		{
			name:    "search limit out of range",
			handler: func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return h.SearchHandler() },
			args:    map[string]any{"limit": float64(0)},
			want:    "limit must be between 1 and 1000",
		},
		{
			name:    "history without query",
			handler: func(h *Handlers) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return h.HistoryHandler() },
			args:    map[string]any{"interval": "P1D"},
			want:    "query is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			result := callTool(t, tt.handler(newTestHandlers(client)), "tool", tt.args)

			assert.True(t, result.IsError)
			text := resultText(t, result)
			assert.Contains(t, text, "Error (validation_failed)")
			assert.Contains(t, text, tt.want)
			assert.Zero(t, client.callCount)
		})
	}
}

func TestSearchHandler_StorageAccounts(t *testing.T) {
	client := &mockClient{}
	h := newTestHandlers(client)

	result := callTool(t, h.SearchHandler(), graph.ToolSearch, map[string]any{
		"resource_type": "Microsoft.Storage/storageAccounts",
	})

	assert.False(t, result.IsError)
	require.Len(t, client.queries, 1)
	got := client.queries[0]
	assert.Equal(t, "Resources | where type =~ 'Microsoft.Storage/storageAccounts' | project id, name, type, location, resourceGroup, tags | limit 50", got.Query)
	require.NotNil(t, got.Options)
	assert.Equal(t, 50, *got.Options.Top)

	text := resultText(t, result)
	assert.Contains(t, text, "# Azure Resource Search Results")
	assert.Contains(t, text, "**Resource Type:** Microsoft.Storage/storageAccounts")
}

func TestSearchHandler_CamelCaseAliases(t *testing.T) {
	client := &mockClient{}
	h := newTestHandlers(client)

	callTool(t, h.SearchHandler(), graph.ToolSearch, map[string]any{
		"resourceGroup":     "rg-prod",
		"includeProperties": true,
		"limit":             "5",
	})

	require.Len(t, client.queries, 1)
	q := client.queries[0].Query
	assert.Contains(t, q, "resourceGroup =~ 'rg-prod'")
	assert.Contains(t, q, ", properties")
	assert.True(t, strings.HasSuffix(q, "| limit 5"))
}

func TestHistoryHandler(t *testing.T) {
	client := &mockClient{}
	h := newTestHandlers(client)

	result := callTool(t, h.HistoryHandler(), graph.ToolHistory, map[string]any{
		"query":    "resourcechanges",
		"interval": "P1D",
	})

	assert.False(t, result.IsError)
	require.Len(t, client.histories, 1)
	assert.Equal(t, "P1D", client.histories[0].Interval)

	text := resultText(t, result)
	assert.Contains(t, text, "**Interval:** P1D")
	assert.Contains(t, text, "## Changes")
}

func TestOperationsHandler(t *testing.T) {
	h := newTestHandlers(&mockClient{})

	result := callTool(t, h.OperationsHandler(), graph.ToolOperations, nil)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "# Azure Resource Graph Operations")
	assert.Contains(t, text, "Microsoft.ResourceGraph/resources/read")
}

func TestHandlers_ClientErrorBecomesToolError(t *testing.T) {
	throttled := graph.NewError(graph.ErrorTypeThrottled, "too many requests").WithContext("retryAfter", "7")
	throttled.StatusCode = 429
	throttled.Code = "RateLimiting"

	client := &mockClient{queryFunc: func(graph.QueryRequest) (*graph.QueryResult, error) {
		return nil, throttled
	}}
	h := newTestHandlers(client)

	result := callTool(t, h.QueryHandler(), graph.ToolQuery, map[string]any{"query": "Resources"})
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Error (throttled): too many requests")
	assert.Contains(t, text, "HTTP status: 429")
	assert.Contains(t, text, "Azure error code: RateLimiting")
	assert.Contains(t, text, "Troubleshooting tips:")
	assert.Contains(t, text, "retry after 7 seconds")
}

func TestErrorText_PlainError(t *testing.T) {
	assert.Equal(t, "Error: boom", errorText(errors.New("boom")))
}

func TestHandlers_TruncatesLargeResults(t *testing.T) {
	var rows []string
	for i := 0; i < 2000; i++ {
		rows = append(rows, `{"name":"resource-with-a-fairly-long-name-`+strings.Repeat("x", 20)+`"}`)
	}
	body := `{"totalRecords":2000,"count":2000,"data":[` + strings.Join(rows, ",") + `]}`

	client := &mockClient{queryFunc: func(graph.QueryRequest) (*graph.QueryResult, error) {
		return mustResult(body), nil
	}}
	h := newTestHandlers(client)

	result := callTool(t, h.QueryHandler(), graph.ToolQuery, map[string]any{"query": "Resources"})
	text := resultText(t, result)
	assert.LessOrEqual(t, len([]rune(text)), graph.DefaultCharacterLimit)
	assert.Contains(t, text, "Response truncated")
}
