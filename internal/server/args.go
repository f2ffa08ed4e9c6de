package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

func invalidArg(format string, args ...any) error {
	return graph.NewError(graph.ErrorTypeValidation, fmt.Sprintf(format, args...))
}

// lookup returns the first key present, so snake_case and camelCase
// spellings are both accepted.
func lookup(args map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := args[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringArg(args map[string]any, keys ...string) (string, error) {
	v, ok := lookup(args, keys...)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg("%s must be a string", keys[0])
	}
	return s, nil
}

func boolArg(args map[string]any, keys ...string) (*bool, error) {
	v, ok := lookup(args, keys...)
	if !ok {
		return nil, nil
	}
	switch b := v.(type) {
	case bool:
		return &b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, invalidArg("%s must be a boolean", keys[0])
		}
		return &parsed, nil
	}
	return nil, invalidArg("%s must be a boolean", keys[0])
}

// intArg accepts JSON numbers (float64 after decoding) and numeric strings,
// rejecting fractions and values outside the 32-bit range Azure accepts.
func intArg(args map[string]any, keys ...string) (*int, error) {
	v, ok := lookup(args, keys...)
	if !ok {
		return nil, nil
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, invalidArg("%s must be an integer", keys[0])
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, invalidArg("%s must be an integer", keys[0])
		}
		f = parsed
	default:
		return nil, invalidArg("%s must be an integer", keys[0])
	}

	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, invalidArg("%s must be an integer, got %v", keys[0], v)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil, invalidArg("%s is out of range, got %v", keys[0], v)
	}
	i := int(f)
	return &i, nil
}

// stringListArg accepts an array of strings or a single comma-separated
// string. Entries are passed through untrimmed so the builder can reject
// empty ones.
func stringListArg(args map[string]any, keys ...string) ([]string, error) {
	v, ok := lookup(args, keys...)
	if !ok {
		return nil, nil
	}

	switch list := v.(type) {
	case string:
		if strings.TrimSpace(list) == "" {
			return nil, nil
		}
		return strings.Split(list, ","), nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalidArg("%s[%d] must be a string", keys[0], i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalidArg("%s must be an array of strings", keys[0])
}

func objectArg(args map[string]any, keys ...string) (map[string]any, error) {
	v, ok := lookup(args, keys...)
	if !ok {
		return nil, nil
	}
	switch obj := v.(type) {
	case map[string]any:
		return obj, nil
	case string:
		if strings.TrimSpace(obj) == "" {
			return nil, nil
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
			return nil, invalidArg("%s must be an object", keys[0])
		}
		return decoded, nil
	}
	return nil, invalidArg("%s must be an object", keys[0])
}

func parseFormat(args map[string]any) (graph.Format, error) {
	s, err := stringArg(args, "response_format", "responseFormat")
	if err != nil {
		return "", err
	}
	switch graph.Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", graph.FormatMarkdown:
		return graph.FormatMarkdown, nil
	case graph.FormatJSON:
		return graph.FormatJSON, nil
	}
	return "", invalidArg("response_format must be markdown or json, got %q", s)
}

func parseOptions(args map[string]any) (*graph.QueryOptions, error) {
	raw, err := objectArg(args, "options")
	if err != nil || raw == nil {
		return nil, err
	}

	opts := &graph.QueryOptions{}
	if opts.Top, err = intArg(raw, "$top", "top"); err != nil {
		return nil, err
	}
	if opts.Skip, err = intArg(raw, "$skip", "skip"); err != nil {
		return nil, err
	}
	if opts.SkipToken, err = stringArg(raw, "$skipToken", "skipToken", "skip_token"); err != nil {
		return nil, err
	}
	if opts.AllowPartialScopes, err = boolArg(raw, "allowPartialScopes", "allow_partial_scopes"); err != nil {
		return nil, err
	}
	if opts.AuthorizationScopeFilter, err = stringArg(raw, "authorizationScopeFilter", "authorization_scope_filter"); err != nil {
		return nil, err
	}
	if opts.ResultFormat, err = stringArg(raw, "resultFormat", "result_format"); err != nil {
		return nil, err
	}
	return opts, nil
}

func parseFacets(args map[string]any) ([]graph.FacetRequest, error) {
	v, ok := lookup(args, "facets")
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, invalidArg("facets must be an array")
	}

	facets := make([]graph.FacetRequest, 0, len(list))
	for i, item := range list {
		switch f := item.(type) {
		case string:
			facets = append(facets, graph.FacetRequest{Expression: f})
		case map[string]any:
			expr, err := stringArg(f, "expression")
			if err != nil {
				return nil, invalidArg("facets[%d].expression must be a string", i)
			}
			facet := graph.FacetRequest{Expression: expr}

			rawOpts, err := objectArg(f, "options")
			if err != nil {
				return nil, invalidArg("facets[%d].options must be an object", i)
			}
			if rawOpts != nil {
				opts := &graph.FacetOptions{}
				if opts.Top, err = intArg(rawOpts, "$top", "top"); err != nil {
					return nil, err
				}
				if opts.Filter, err = stringArg(rawOpts, "filter"); err != nil {
					return nil, err
				}
				if opts.SortBy, err = stringArg(rawOpts, "sortBy", "sort_by"); err != nil {
					return nil, err
				}
				if opts.SortOrder, err = stringArg(rawOpts, "sortOrder", "sort_order"); err != nil {
					return nil, err
				}
				facet.Options = opts
			}
			facets = append(facets, facet)
		default:
			return nil, invalidArg("facets[%d] must be an object with an expression", i)
		}
	}
	return facets, nil
}

func requireQuery(request mcp.CallToolRequest) (string, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return "", invalidArg("query is required")
	}
	return query, nil
}

func parseQueryRequest(request mcp.CallToolRequest) (graph.QueryRequest, graph.Format, error) {
	args := request.GetArguments()
	var (
		req graph.QueryRequest
		err error
	)

	if req.Query, err = requireQuery(request); err != nil {
		return req, "", err
	}
	if req.Subscriptions, err = stringListArg(args, "subscriptions"); err != nil {
		return req, "", err
	}
	if req.ManagementGroups, err = stringListArg(args, "management_groups", "managementGroups"); err != nil {
		return req, "", err
	}
	if req.Facets, err = parseFacets(args); err != nil {
		return req, "", err
	}
	if req.Options, err = parseOptions(args); err != nil {
		return req, "", err
	}
	format, err := parseFormat(args)
	return req, format, err
}

func parseHistoryRequest(request mcp.CallToolRequest) (graph.HistoryRequest, graph.Format, error) {
	args := request.GetArguments()
	var (
		req graph.HistoryRequest
		err error
	)

	if req.Query, err = requireQuery(request); err != nil {
		return req, "", err
	}
	if req.Subscriptions, err = stringListArg(args, "subscriptions"); err != nil {
		return req, "", err
	}
	if req.ManagementGroups, err = stringListArg(args, "management_groups", "managementGroups"); err != nil {
		return req, "", err
	}
	if req.Options, err = parseOptions(args); err != nil {
		return req, "", err
	}
	if req.Interval, err = stringArg(args, "interval"); err != nil {
		return req, "", err
	}
	format, err := parseFormat(args)
	return req, format, err
}

func parseSearchRequest(request mcp.CallToolRequest) (graph.SearchRequest, graph.Format, error) {
	args := request.GetArguments()
	var (
		req graph.SearchRequest
		err error
	)

	fields := []struct {
		dst  *string
		keys []string
	}{
		{&req.ResourceType, []string{"resource_type", "resourceType"}},
		{&req.Location, []string{"location"}},
		{&req.ResourceGroup, []string{"resource_group", "resourceGroup"}},
		{&req.NameFilter, []string{"name_filter", "nameFilter"}},
		{&req.TagFilter, []string{"tag_filter", "tagFilter"}},
	}
	for _, f := range fields {
		if *f.dst, err = stringArg(args, f.keys...); err != nil {
			return req, "", err
		}
	}

	if req.Subscriptions, err = stringListArg(args, "subscriptions"); err != nil {
		return req, "", err
	}
	if req.Limit, err = intArg(args, "limit"); err != nil {
		return req, "", err
	}
	include, err := boolArg(args, "include_properties", "includeProperties")
	if err != nil {
		return req, "", err
	}
	req.IncludeProperties = include != nil && *include

	format, err := parseFormat(args)
	return req, format, err
}
