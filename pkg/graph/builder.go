package graph

import (
	"context"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
)

const (
	resourcesPath  = "/providers/Microsoft.ResourceGraph/resources"
	historyPath    = "/providers/Microsoft.ResourceGraph/resourcesHistory"
	operationsPath = "/providers/Microsoft.ResourceGraph/operations"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// RequestBuilder validates tool input and turns it into ARG REST requests.
// Validation never touches the network.
type RequestBuilder struct {
	endpoint             string
	defaultSubscriptions []string
	now                  func() time.Time
}

func NewRequestBuilder(endpoint string, defaultSubscriptions []string) *RequestBuilder {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &RequestBuilder{
		endpoint:             strings.TrimSuffix(endpoint, "/"),
		defaultSubscriptions: defaultSubscriptions,
		now:                  time.Now,
	}
}

func (b *RequestBuilder) BuildQuery(ctx context.Context, req QueryRequest) (*policy.Request, error) {
	body, err := b.queryBody(req)
	if err != nil {
		return nil, err
	}
	return b.newRequest(ctx, http.MethodPost, resourcesPath, ResourcesAPIVersion, body)
}

func (b *RequestBuilder) BuildHistory(ctx context.Context, req HistoryRequest) (*policy.Request, error) {
	body, err := b.historyBody(req)
	if err != nil {
		return nil, err
	}
	return b.newRequest(ctx, http.MethodPost, historyPath, HistoryAPIVersion, body)
}

func (b *RequestBuilder) BuildOperations(ctx context.Context) (*policy.Request, error) {
	return b.newRequest(ctx, http.MethodGet, operationsPath, OperationsAPIVersion, nil)
}

func (b *RequestBuilder) newRequest(ctx context.Context, method, path, apiVersion string, body any) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, b.endpoint+path)
	if err != nil {
		return nil, NewError(ErrorTypeRequest, "failed to create request: "+err.Error())
	}

	qp := req.Raw().URL.Query()
	qp.Set("api-version", apiVersion)
	req.Raw().URL.RawQuery = qp.Encode()
	req.Raw().Header["Accept"] = []string{"application/json"}

	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, NewError(ErrorTypeRequest, "failed to encode request body: "+err.Error())
		}
	}
	return req, nil
}

func (b *RequestBuilder) queryBody(req QueryRequest) (*armresourcegraph.QueryRequest, error) {
	query, err := validateQueryText(req.Query)
	if err != nil {
		return nil, err
	}
	subs, mgs, err := b.scopes(req.Subscriptions, req.ManagementGroups)
	if err != nil {
		return nil, err
	}
	options, err := validateOptions(req.Options)
	if err != nil {
		return nil, err
	}
	facets, err := validateFacets(req.Facets)
	if err != nil {
		return nil, err
	}

	return &armresourcegraph.QueryRequest{
		Query:            to.Ptr(query),
		Subscriptions:    ptrs(subs),
		ManagementGroups: ptrs(mgs),
		Facets:           facets,
		Options:          options,
	}, nil
}

type historyRequestBody struct {
	Query            string          `json:"query"`
	Subscriptions    []string        `json:"subscriptions,omitempty"`
	ManagementGroups []string        `json:"managementGroups,omitempty"`
	Options          *historyOptions `json:"options,omitempty"`
}

type historyOptions struct {
	Top                      *int32            `json:"$top,omitempty"`
	Skip                     *int32            `json:"$skip,omitempty"`
	SkipToken                *string           `json:"$skipToken,omitempty"`
	AllowPartialScopes       *bool             `json:"allowPartialScopes,omitempty"`
	AuthorizationScopeFilter *string           `json:"authorizationScopeFilter,omitempty"`
	ResultFormat             *string           `json:"resultFormat,omitempty"`
	Interval                 *dateTimeInterval `json:"interval,omitempty"`
}

type dateTimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (b *RequestBuilder) historyBody(req HistoryRequest) (*historyRequestBody, error) {
	query, err := validateQueryText(req.Query)
	if err != nil {
		return nil, err
	}
	subs, mgs, err := b.scopes(req.Subscriptions, req.ManagementGroups)
	if err != nil {
		return nil, err
	}
	options, err := validateOptions(req.Options)
	if err != nil {
		return nil, err
	}

	body := &historyRequestBody{
		Query:            query,
		Subscriptions:    subs,
		ManagementGroups: mgs,
	}

	var hist historyOptions
	if options != nil {
		hist.Top = options.Top
		hist.Skip = options.Skip
		hist.SkipToken = options.SkipToken
		hist.AllowPartialScopes = options.AllowPartialScopes
		if options.AuthorizationScopeFilter != nil {
			hist.AuthorizationScopeFilter = to.Ptr(string(*options.AuthorizationScopeFilter))
		}
		if options.ResultFormat != nil {
			hist.ResultFormat = to.Ptr(string(*options.ResultFormat))
		}
		body.Options = &hist
	}

	if strings.TrimSpace(req.Interval) != "" {
		interval, err := parseInterval(req.Interval, b.now())
		if err != nil {
			return nil, err
		}
		hist.Interval = interval
		body.Options = &hist
	}

	return body, nil
}

func ptrs(values []string) []*string {
	if len(values) == 0 {
		return nil
	}
	return to.SliceOfPtrs(values...)
}

func validateQueryText(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", validationErrorf("query cannot be empty")
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return "", validationErrorf("query is %d characters long, the maximum is %d", n, MaxQueryLength)
	}
	return query, nil
}

// scopes validates both scope lists and falls back to the default
// subscriptions when the caller named none.
func (b *RequestBuilder) scopes(subscriptions, managementGroups []string) ([]string, []string, error) {
	subs, err := validateScopeList("subscriptions", subscriptions)
	if err != nil {
		return nil, nil, err
	}
	mgs, err := validateScopeList("management_groups", managementGroups)
	if err != nil {
		return nil, nil, err
	}
	if len(subs) == 0 && len(mgs) == 0 && len(b.defaultSubscriptions) > 0 {
		subs = append([]string(nil), b.defaultSubscriptions...)
	}
	return subs, mgs, nil
}

func validateScopeList(name string, ids []string) ([]string, error) {
	if len(ids) > MaxScopeItems {
		return nil, validationErrorf("%s has %d entries, the maximum is %d", name, len(ids), MaxScopeItems)
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, validationErrorf("%s[%d] must be a non-empty string", name, i)
		}
		out = append(out, id)
	}
	return out, nil
}

func validateTop(name string, top *int) (*int32, error) {
	if top == nil {
		return nil, nil
	}
	if *top < 1 || *top > MaxTop {
		return nil, validationErrorf("%s must be between 1 and %d, got %d", name, MaxTop, *top)
	}
	return to.Ptr(int32(*top)), nil
}

func validateOptions(opts *QueryOptions) (*armresourcegraph.QueryRequestOptions, error) {
	if opts == nil {
		return nil, nil
	}

	out := &armresourcegraph.QueryRequestOptions{
		AllowPartialScopes: opts.AllowPartialScopes,
	}

	top, err := validateTop("options.$top", opts.Top)
	if err != nil {
		return nil, err
	}
	out.Top = top

	if opts.Skip != nil {
		if *opts.Skip < 0 {
			return nil, validationErrorf("options.$skip must be 0 or greater, got %d", *opts.Skip)
		}
		if *opts.Skip > math.MaxInt32 {
			return nil, validationErrorf("options.$skip must be at most %d, got %d", math.MaxInt32, *opts.Skip)
		}
		out.Skip = to.Ptr(int32(*opts.Skip))
	}

	if opts.SkipToken != "" {
		out.SkipToken = to.Ptr(opts.SkipToken)
	}

	if opts.AuthorizationScopeFilter != "" {
		filter, ok := matchEnum(opts.AuthorizationScopeFilter, armresourcegraph.PossibleAuthorizationScopeFilterValues())
		if !ok {
			return nil, validationErrorf("options.authorizationScopeFilter %q is not one of %s",
				opts.AuthorizationScopeFilter, enumList(armresourcegraph.PossibleAuthorizationScopeFilterValues()))
		}
		out.AuthorizationScopeFilter = to.Ptr(filter)
	}

	if opts.ResultFormat != "" {
		format, ok := matchEnum(opts.ResultFormat, armresourcegraph.PossibleResultFormatValues())
		if !ok {
			return nil, validationErrorf("options.resultFormat %q is not one of %s",
				opts.ResultFormat, enumList(armresourcegraph.PossibleResultFormatValues()))
		}
		out.ResultFormat = to.Ptr(format)
	}

	return out, nil
}

func validateFacets(facets []FacetRequest) ([]*armresourcegraph.FacetRequest, error) {
	if len(facets) > MaxFacets {
		return nil, validationErrorf("at most %d facets may be requested, got %d", MaxFacets, len(facets))
	}
	if len(facets) == 0 {
		return nil, nil
	}

	out := make([]*armresourcegraph.FacetRequest, 0, len(facets))
	for i, f := range facets {
		expr := strings.TrimSpace(f.Expression)
		if expr == "" {
			return nil, validationErrorf("facets[%d].expression cannot be empty", i)
		}
		facet := &armresourcegraph.FacetRequest{Expression: to.Ptr(expr)}

		if f.Options != nil {
			opts := &armresourcegraph.FacetRequestOptions{}
			top, err := validateTop("facets["+strconv.Itoa(i)+"].options.$top", f.Options.Top)
			if err != nil {
				return nil, err
			}
			opts.Top = top
			if f.Options.Filter != "" {
				opts.Filter = to.Ptr(f.Options.Filter)
			}
			if f.Options.SortBy != "" {
				opts.SortBy = to.Ptr(f.Options.SortBy)
			}
			if f.Options.SortOrder != "" {
				order, ok := matchEnum(f.Options.SortOrder, armresourcegraph.PossibleFacetSortOrderValues())
				if !ok {
					return nil, validationErrorf("facets[%d].options.sortOrder must be asc or desc, got %q", i, f.Options.SortOrder)
				}
				opts.SortOrder = to.Ptr(order)
			}
			facet.Options = opts
		}
		out = append(out, facet)
	}
	return out, nil
}

func matchEnum[T ~string](value string, allowed []T) (T, bool) {
	for _, a := range allowed {
		if strings.EqualFold(string(a), strings.TrimSpace(value)) {
			return a, true
		}
	}
	var zero T
	return zero, false
}

func enumList[T ~string](allowed []T) string {
	return strings.Join(enumStrings(allowed), ", ")
}

func enumStrings[T ~string](allowed []T) []string {
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return names
}

// parseInterval accepts an ISO 8601 duration ending now (PT1H, P7D) or an
// explicit "start/end" pair of RFC 3339 timestamps.
func parseInterval(s string, now time.Time) (*dateTimeInterval, error) {
	s = strings.TrimSpace(s)

	if start, end, found := strings.Cut(s, "/"); found {
		from, err := time.Parse(time.RFC3339, strings.TrimSpace(start))
		if err != nil {
			return nil, validationErrorf("interval start %q is not an RFC 3339 timestamp", start)
		}
		until, err := time.Parse(time.RFC3339, strings.TrimSpace(end))
		if err != nil {
			return nil, validationErrorf("interval end %q is not an RFC 3339 timestamp", end)
		}
		if !from.Before(until) {
			return nil, validationErrorf("interval start must be before its end")
		}
		return &dateTimeInterval{Start: from.UTC(), End: until.UTC()}, nil
	}

	d, err := parseISODuration(strings.ToUpper(s))
	if err != nil {
		return nil, err
	}
	end := now.UTC()
	return &dateTimeInterval{Start: end.Add(-d), End: end}, nil
}

func parseISODuration(s string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, validationErrorf("interval %q is not an ISO 8601 duration (e.g. PT1H, P7D) or a start/end pair", s)
	}

	units := []time.Duration{
		365 * 24 * time.Hour,
		30 * 24 * time.Hour,
		7 * 24 * time.Hour,
		24 * time.Hour,
		time.Hour,
		time.Minute,
	}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, validationErrorf("interval component %q is out of range", m[i+1])
		}
		total += time.Duration(n) * unit
	}
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return 0, validationErrorf("interval seconds %q are invalid", m[7])
		}
		total += time.Duration(secs * float64(time.Second))
	}
	if total <= 0 {
		return 0, validationErrorf("interval %q must be longer than zero", s)
	}
	return total, nil
}
