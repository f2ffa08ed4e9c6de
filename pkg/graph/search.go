package graph

import (
	"fmt"
	"strings"
)

var (
	searchColumns     = []string{"id", "name", "type", "location", "resourceGroup", "tags"}
	searchPropsColumn = "properties"
)

// BuildSearchQuery translates simplified filters into a KQL query over the
// Resources table. Every filter that is set becomes one condition and the
// conditions are joined with "and".
func BuildSearchQuery(req SearchRequest) (string, error) {
	limit, err := searchLimit(req.Limit)
	if err != nil {
		return "", err
	}

	var conditions []string
	if v := strings.TrimSpace(req.ResourceType); v != "" {
		conditions = append(conditions, fmt.Sprintf("type =~ %s", kqlString(v)))
	}
	if v := strings.TrimSpace(req.Location); v != "" {
		conditions = append(conditions, fmt.Sprintf("location =~ %s", kqlString(v)))
	}
	if v := strings.TrimSpace(req.ResourceGroup); v != "" {
		conditions = append(conditions, fmt.Sprintf("resourceGroup =~ %s", kqlString(v)))
	}
	if v := strings.TrimSpace(req.NameFilter); v != "" {
		conditions = append(conditions, fmt.Sprintf("name contains %s", kqlString(v)))
	}
	if v := strings.TrimSpace(req.TagFilter); v != "" {
		conditions = append(conditions, tagCondition(v))
	}

	parts := []string{"Resources"}
	if len(conditions) > 0 {
		parts = append(parts, "| where "+strings.Join(conditions, " and "))
	}

	columns := searchColumns
	if req.IncludeProperties {
		columns = append(append([]string{}, searchColumns...), searchPropsColumn)
	}
	parts = append(parts, "| project "+strings.Join(columns, ", "))
	parts = append(parts, fmt.Sprintf("| limit %d", limit))

	return strings.Join(parts, " "), nil
}

// SearchQueryRequest wraps the generated query into a QueryRequest whose $top
// matches the search limit.
func SearchQueryRequest(req SearchRequest) (QueryRequest, string, error) {
	query, err := BuildSearchQuery(req)
	if err != nil {
		return QueryRequest{}, "", err
	}
	limit, _ := searchLimit(req.Limit)
	return QueryRequest{
		Query:         query,
		Subscriptions: req.Subscriptions,
		Options:       &QueryOptions{Top: &limit},
	}, query, nil
}

func searchLimit(limit *int) (int, error) {
	if limit == nil {
		return DefaultSearchLimit, nil
	}
	if *limit < 1 || *limit > MaxTop {
		return 0, validationErrorf("limit must be between 1 and %d, got %d", MaxTop, *limit)
	}
	return *limit, nil
}

// tagCondition handles "key=value" as an exact (case-insensitive) tag match
// and a bare word as a match on any tag.
func tagCondition(filter string) string {
	if key, value, found := strings.Cut(filter, "="); found {
		return fmt.Sprintf("tags[%s] =~ %s", kqlString(strings.TrimSpace(key)), kqlString(strings.TrimSpace(value)))
	}
	return fmt.Sprintf("tags has %s", kqlString(filter))
}

// kqlString quotes s as a single-quoted KQL string literal.
func kqlString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}
