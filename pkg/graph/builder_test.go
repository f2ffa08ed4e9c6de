package graph

import (
	"context"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func requestBody(t *testing.T, req *policy.Request) string {
	t.Helper()
	body := req.Body()
	require.NotNil(t, body)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data)
}

func TestRequestBuilder_BuildQuery(t *testing.T) {
	b := NewRequestBuilder("https://management.example.com/", nil)

	req, err := b.BuildQuery(context.Background(), QueryRequest{
		Query:         "  Resources | count  ",
		Subscriptions: []string{"sub-1", "sub-2"},
		Facets: []FacetRequest{
			{Expression: "location", Options: &FacetOptions{Top: intPtr(5), SortOrder: "DESC"}},
		},
		Options: &QueryOptions{
			Top:                      intPtr(10),
			Skip:                     intPtr(20),
			SkipToken:                "abc",
			AllowPartialScopes:       boolPtr(true),
			AuthorizationScopeFilter: "atscopeandbelow",
			ResultFormat:             "table",
		},
	})
	require.NoError(t, err)

	raw := req.Raw()
	assert.Equal(t, http.MethodPost, raw.Method)
	assert.Equal(t, "management.example.com", raw.URL.Host)
	assert.Equal(t, resourcesPath, raw.URL.Path)
	assert.Equal(t, ResourcesAPIVersion, raw.URL.Query().Get("api-version"))

	body := requestBody(t, req)
	assert.Equal(t, "Resources | count", gjson.Get(body, "query").String())
	assert.Equal(t, `["sub-1","sub-2"]`, gjson.Get(body, "subscriptions").Raw)
	assert.False(t, gjson.Get(body, "managementGroups").Exists())
	assert.Equal(t, int64(10), gjson.Get(body, `options.\$top`).Int())
	assert.Equal(t, int64(20), gjson.Get(body, `options.\$skip`).Int())
	assert.Equal(t, "abc", gjson.Get(body, `options.\$skipToken`).String())
	assert.True(t, gjson.Get(body, "options.allowPartialScopes").Bool())
	assert.Equal(t, "AtScopeAndBelow", gjson.Get(body, "options.authorizationScopeFilter").String())
	assert.Equal(t, "table", gjson.Get(body, "options.resultFormat").String())
	assert.Equal(t, "location", gjson.Get(body, "facets.0.expression").String())
	assert.Equal(t, int64(5), gjson.Get(body, `facets.0.options.\$top`).Int())
	assert.Equal(t, "desc", gjson.Get(body, "facets.0.options.sortOrder").String())
}

func TestRequestBuilder_DefaultSubscription(t *testing.T) {
	b := NewRequestBuilder("", []string{"default-sub"})

	req, err := b.BuildQuery(context.Background(), QueryRequest{Query: "Resources"})
	require.NoError(t, err)
	body := requestBody(t, req)
	assert.Equal(t, `["default-sub"]`, gjson.Get(body, "subscriptions").Raw)
	assert.Equal(t, "management.azure.com", req.Raw().URL.Host)

	req, err = b.BuildQuery(context.Background(), QueryRequest{Query: "Resources", ManagementGroups: []string{"mg-1"}})
	require.NoError(t, err)
	body = requestBody(t, req)
	assert.False(t, gjson.Get(body, "subscriptions").Exists(), "explicit management groups replace the default")
	assert.Equal(t, `["mg-1"]`, gjson.Get(body, "managementGroups").Raw)
}

func TestRequestBuilder_Validation(t *testing.T) {
	manySubs := make([]string, MaxScopeItems+1)
	for i := range manySubs {
		manySubs[i] = "sub"
	}
	manyFacets := make([]FacetRequest, MaxFacets+1)
	for i := range manyFacets {
		manyFacets[i] = FacetRequest{Expression: "type"}
	}

	tests := []struct {
		name    string
		req     QueryRequest
		wantMsg string
	}{
		{"empty query", QueryRequest{Query: "   "}, "query cannot be empty"},
		{"query too long", QueryRequest{Query: strings.Repeat("x", MaxQueryLength+1)}, "maximum is 10000"},
		{"empty subscription", QueryRequest{Query: "Resources", Subscriptions: []string{"a", " "}}, "subscriptions[1]"},
		{"empty management group", QueryRequest{Query: "Resources", ManagementGroups: []string{""}}, "management_groups[0]"},
		{"too many subscriptions", QueryRequest{Query: "Resources", Subscriptions: manySubs}, "maximum is 1000"},
		{"top zero", QueryRequest{Query: "Resources", Options: &QueryOptions{Top: intPtr(0)}}, "options.$top"},
		{"top too large", QueryRequest{Query: "Resources", Options: &QueryOptions{Top: intPtr(1001)}}, "options.$top"},
		{"negative skip", QueryRequest{Query: "Resources", Options: &QueryOptions{Skip: intPtr(-1)}}, "options.$skip"},
		{"skip beyond int32", QueryRequest{Query: "Resources", Options: &QueryOptions{Skip: intPtr(4294967297)}}, "options.$skip must be at most 2147483647"},
		{"bad result format", QueryRequest{Query: "Resources", Options: &QueryOptions{ResultFormat: "csv"}}, "resultFormat"},
		{"bad scope filter", QueryRequest{Query: "Resources", Options: &QueryOptions{AuthorizationScopeFilter: "everywhere"}}, "authorizationScopeFilter"},
		{"too many facets", QueryRequest{Query: "Resources", Facets: manyFacets}, "at most 10 facets"},
		{"empty facet", QueryRequest{Query: "Resources", Facets: []FacetRequest{{Expression: ""}}}, "facets[0].expression"},
		{"facet top", QueryRequest{Query: "Resources", Facets: []FacetRequest{{Expression: "type", Options: &FacetOptions{Top: intPtr(0)}}}}, "facets[0].options.$top"},
		{"facet sort order", QueryRequest{Query: "Resources", Facets: []FacetRequest{{Expression: "type", Options: &FacetOptions{SortOrder: "up"}}}}, "sortOrder"},
	}

	b := NewRequestBuilder("", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := b.BuildQuery(context.Background(), tt.req)
			assert.Nil(t, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRequestBuilder_BuildHistory(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	b := NewRequestBuilder("", nil)
	b.now = func() time.Time { return now }

	req, err := b.BuildHistory(context.Background(), HistoryRequest{
		Query:    "resourcechanges",
		Options:  &QueryOptions{Top: intPtr(5)},
		Interval: "P1D",
	})
	require.NoError(t, err)
	assert.Equal(t, historyPath, req.Raw().URL.Path)
	assert.Equal(t, HistoryAPIVersion, req.Raw().URL.Query().Get("api-version"))

	body := requestBody(t, req)
	assert.Equal(t, int64(5), gjson.Get(body, `options.\$top`).Int())
	assert.Equal(t, "2024-05-01T10:00:00Z", gjson.Get(body, "options.interval.start").String())
	assert.Equal(t, "2024-05-02T10:00:00Z", gjson.Get(body, "options.interval.end").String())
}

func TestRequestBuilder_BuildHistory_NoOptions(t *testing.T) {
	b := NewRequestBuilder("", nil)
	req, err := b.BuildHistory(context.Background(), HistoryRequest{Query: "resourcechanges"})
	require.NoError(t, err)
	assert.False(t, gjson.Get(requestBody(t, req), "options").Exists())
}

func TestRequestBuilder_BuildHistory_SkipOutOfRange(t *testing.T) {
	b := NewRequestBuilder("", nil)
	req, err := b.BuildHistory(context.Background(), HistoryRequest{
		Query:   "resourcechanges",
		Options: &QueryOptions{Skip: intPtr(math.MaxInt32 + 1)},
	})
	assert.Nil(t, req)
	assert.ErrorIs(t, err, ErrValidation)

	req, err = b.BuildHistory(context.Background(), HistoryRequest{
		Query:   "resourcechanges",
		Options: &QueryOptions{Skip: intPtr(math.MaxInt32)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt32), gjson.Get(requestBody(t, req), `options.\$skip`).Int())
}

func TestRequestBuilder_BuildOperations(t *testing.T) {
	req, err := NewRequestBuilder("", nil).BuildOperations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Raw().Method)
	assert.Equal(t, operationsPath, req.Raw().URL.Path)
	assert.Equal(t, OperationsAPIVersion, req.Raw().URL.Query().Get("api-version"))
}

func TestParseInterval(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input     string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{input: "PT1H", wantStart: now.Add(-time.Hour), wantEnd: now},
		{input: "p7d", wantStart: now.Add(-7 * 24 * time.Hour), wantEnd: now},
		{input: "P1DT12H", wantStart: now.Add(-36 * time.Hour), wantEnd: now},
		{input: "PT30M", wantStart: now.Add(-30 * time.Minute), wantEnd: now},
		{input: "P2W", wantStart: now.Add(-14 * 24 * time.Hour), wantEnd: now},
		{input: "PT1.5S", wantStart: now.Add(-1500 * time.Millisecond), wantEnd: now},
		{
			input:     "2024-05-01T00:00:00Z/2024-05-01T06:00:00+02:00",
			wantStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC),
		},
		{input: "P", wantErr: true},
		{input: "PT", wantErr: true},
		{input: "PT0S", wantErr: true},
		{input: "1h", wantErr: true},
		{input: "2024-05-02T00:00:00Z/2024-05-01T00:00:00Z", wantErr: true},
		{input: "yesterday/today", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseInterval(tt.input, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(got.Start), "start = %s", got.Start)
			assert.True(t, tt.wantEnd.Equal(got.End), "end = %s", got.End)
		})
	}
}
