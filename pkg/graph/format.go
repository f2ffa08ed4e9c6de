package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Document is one tool response before layout: a title, markdown lines shown
// ahead of the result, the result page itself and extra top-level JSON fields.
type Document struct {
	Title       string
	Preamble    []string
	RowsHeading string
	Result      *QueryResult
	Extra       []Field
}

type Field struct {
	Key   string
	Value Value
}

type FormattedResponse struct {
	Text        string
	Truncated   bool
	OmittedRows int
}

const (
	maxInlineSkipToken = 200
	skipTokenPrefix    = 40
)

// Formatter renders documents within a character ceiling. Rows are dropped
// from the end before facet summaries are dropped; the preamble is cut only
// when nothing else is left to remove.
type Formatter struct {
	limit int
}

func NewFormatter(limit int) *Formatter {
	if limit < MinCharacterLimit {
		limit = DefaultCharacterLimit
	}
	return &Formatter{limit: limit}
}

func (f *Formatter) Limit() int {
	return f.limit
}

func (f *Formatter) Render(doc Document, format Format) FormattedResponse {
	if doc.Result == nil {
		doc.Result = &QueryResult{Raw: NewRecord()}
	}
	total := len(doc.Result.Rows)

	full := f.layout(doc, format, total, true)
	if runeLen(full) <= f.limit {
		return FormattedResponse{Text: full}
	}

	for _, facets := range []bool{true, false} {
		if !facets && len(doc.Result.Facets) == 0 {
			break
		}
		if k, ok := f.largestFit(doc, format, total, facets); ok {
			return FormattedResponse{
				Text:        f.layout(doc, format, k, facets),
				Truncated:   true,
				OmittedRows: total - k,
			}
		}
	}

	return FormattedResponse{
		Text:        f.hardCut(doc, format),
		Truncated:   true,
		OmittedRows: total,
	}
}

// largestFit binary searches the number of rows that fit alongside the
// truncation notice. Rendered length grows monotonically with the row count.
func (f *Formatter) largestFit(doc Document, format Format, total int, facets bool) (int, bool) {
	upper := total - 1
	if !facets {
		upper = total
	}
	if upper < 0 {
		return 0, false
	}
	if runeLen(f.layout(doc, format, 0, facets)) > f.limit {
		return 0, false
	}

	lo, hi := 0, upper
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if runeLen(f.layout(doc, format, mid, facets)) <= f.limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, true
}

func (f *Formatter) layout(doc Document, format Format, rows int, facets bool) string {
	truncated := rows < len(doc.Result.Rows) || (!facets && len(doc.Result.Facets) > 0)
	notice := ""
	if truncated {
		notice = f.notice(doc.Result, rows, !facets && len(doc.Result.Facets) > 0)
	}

	if format == FormatJSON {
		return f.layoutJSON(doc, rows, facets, notice)
	}
	return f.layoutMarkdown(doc, rows, facets, notice)
}

func (f *Formatter) notice(r *QueryResult, shown int, facetsDropped bool) string {
	total := len(r.Rows)
	var b strings.Builder
	fmt.Fprintf(&b, "Response truncated to stay within %d characters: showing %d of %d rows, %d rows omitted.",
		f.limit, shown, total, total-shown)
	if facetsDropped {
		b.WriteString(" Facet summaries were omitted.")
	}
	if shown < total {
		fmt.Fprintf(&b, " Request the omitted rows with options.$skip=%d added to the current $skip, or narrow the query.", shown)
	}
	if r.SkipToken != "" {
		b.WriteString(" More results are available beyond this page: ")
		if runeLen(r.SkipToken) <= maxInlineSkipToken {
			fmt.Fprintf(&b, "pass options.$skipToken=%q.", r.SkipToken)
		} else {
			fmt.Fprintf(&b, "the continuation token (starting %q) is too long to repeat here; request response_format=json to receive it in full.",
				abbreviate(r.SkipToken, skipTokenPrefix))
		}
	}
	return b.String()
}

// abbreviate keeps the first n runes of s.
func abbreviate(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func (f *Formatter) layoutMarkdown(doc Document, rows int, facets bool, notice string) string {
	r := doc.Result
	lines := []string{"# " + doc.Title, ""}

	if len(doc.Preamble) > 0 {
		lines = append(lines, doc.Preamble...)
		lines = append(lines, "")
	}

	lines = append(lines, markdownMetadata(r)...)

	heading := doc.RowsHeading
	if heading == "" {
		heading = "Resources"
	}
	if len(r.Rows) > 0 {
		lines = append(lines, "## "+heading, "")
		lines = append(lines, markdownTable(r.Rows, rows)...)
		lines = append(lines, "")
	} else {
		lines = append(lines, "_No rows returned._", "")
	}

	if facets && len(r.Facets) > 0 {
		lines = append(lines, "## Facets", "")
		lines = append(lines, markdownFacets(r.Facets)...)
		lines = append(lines, "")
	}

	if notice != "" {
		lines = append(lines, "---", "**"+notice+"**")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func markdownMetadata(r *QueryResult) []string {
	var lines []string
	if _, ok := r.Raw.Get("totalRecords"); ok {
		lines = append(lines, fmt.Sprintf("**Total Records:** %d", r.TotalRecords))
	}
	if _, ok := r.Raw.Get("count"); ok {
		lines = append(lines, fmt.Sprintf("**Returned:** %d", r.Count))
	}
	if r.ResultTruncated {
		lines = append(lines, "**Results truncated by Azure** - use pagination or filters for complete data")
	}
	if r.SkipToken != "" {
		if runeLen(r.SkipToken) <= maxInlineSkipToken {
			lines = append(lines, fmt.Sprintf("**Next Page Available** - pass options.$skipToken: `%s`", r.SkipToken))
		} else {
			lines = append(lines, fmt.Sprintf("**Next Page Available** - token `%s` is returned in full with response_format=json",
				abbreviate(r.SkipToken, skipTokenPrefix)))
		}
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	return lines
}

// markdownTable lays out the first n rows. Columns come from the first row;
// a later row missing a column gets an empty cell.
func markdownTable(rows []Record, n int) []string {
	cols := rows[0].Keys()
	if len(cols) == 0 {
		cols = []string{"value"}
	}

	header := make([]string, len(cols))
	sep := make([]string, len(cols))
	for i, c := range cols {
		header[i] = escapeCell(c)
		sep[i] = "---"
	}

	lines := make([]string, 0, n+2)
	lines = append(lines, tableLine(header), tableLine(sep))
	for i := 0; i < n && i < len(rows); i++ {
		cells := make([]string, len(cols))
		for j, c := range cols {
			if v, ok := rows[i].Get(c); ok {
				cells[j] = escapeCell(v.Text())
			}
		}
		lines = append(lines, tableLine(cells))
	}
	return lines
}

func tableLine(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func markdownFacets(facets []FacetResult) []string {
	var lines []string
	for _, facet := range facets {
		if facet.IsError() {
			lines = append(lines, fmt.Sprintf("- **%s** (error)", facet.Expression))
			for _, msg := range facet.Errors {
				lines = append(lines, "  - "+msg)
			}
			continue
		}

		lines = append(lines, fmt.Sprintf("- **%s** (%d of %d)", facet.Expression, facet.Count, facet.TotalRecords))
		for _, row := range facet.Rows {
			label, count := facetEntry(row)
			lines = append(lines, fmt.Sprintf("  - %s: %s", label, count))
		}
	}
	return lines
}

func facetEntry(row Record) (string, string) {
	count := "N/A"
	var labels []string
	for _, key := range row.Keys() {
		v, _ := row.Get(key)
		if key == "count" || key == "count_" {
			count = v.Text()
			continue
		}
		labels = append(labels, v.Text())
	}
	if len(labels) == 0 {
		return "Unknown", count
	}
	return strings.Join(labels, ", "), count
}

func (f *Formatter) layoutJSON(doc Document, rows int, facets bool, notice string) string {
	r := doc.Result
	out := r.withRows(rows)
	if !facets {
		out.Delete("facets")
	}
	for _, field := range doc.Extra {
		out.Set(field.Key, field.Value)
	}
	if notice != "" {
		t := NewRecord()
		t.Set("shownRows", Int(int64(rows)))
		t.Set("omittedRows", Int(int64(len(r.Rows)-rows)))
		t.Set("message", String(notice))
		out.Set("_truncation", Object(t))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// hardCut handles a preamble that alone exceeds the ceiling. The result is
// clamped to the ceiling whatever the notice length.
func (f *Formatter) hardCut(doc Document, format Format) string {
	notice := f.notice(doc.Result, 0, len(doc.Result.Facets) > 0)

	if format == FormatJSON {
		return f.minimalJSON(doc.Result, notice)
	}

	tail := "\n---\n**" + notice + "**"
	if runeLen(tail) >= f.limit {
		return string([]rune(tail)[:f.limit])
	}
	text := f.layoutMarkdown(doc, 0, false, "")
	text = cutAtLine(text, f.limit-runeLen(tail))
	return text + tail
}

// minimalJSON reports the truncation alone, shortening the message until the
// object fits. The full skip token is included when there is room for it.
func (f *Formatter) minimalJSON(r *QueryResult, notice string) string {
	build := func(message string, token bool) string {
		t := NewRecord()
		t.Set("shownRows", Int(0))
		t.Set("omittedRows", Int(int64(len(r.Rows))))
		t.Set("message", String(message))
		if token {
			t.Set("$skipToken", String(r.SkipToken))
		}
		out := NewRecord()
		out.Set("_truncation", Object(t))
		data, _ := json.MarshalIndent(out, "", "  ")
		return string(data)
	}

	if r.SkipToken != "" {
		if text := build(notice, true); runeLen(text) <= f.limit {
			return text
		}
	}

	message := []rune(notice)
	for {
		text := build(string(message), false)
		over := runeLen(text) - f.limit
		if over <= 0 {
			return text
		}
		if over >= len(message) {
			return "{}"
		}
		message = message[:len(message)-over]
	}
}

func cutAtLine(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if runeLen(s) <= maxRunes {
		return s
	}
	runes := []rune(s)[:maxRunes]
	cut := string(runes)
	if i := strings.LastIndex(cut, "\n"); i >= 0 {
		return cut[:i]
	}
	return ""
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// RenderOperations lays out the operations list as a table (markdown) or the
// raw response (JSON), under the same ceiling.
func (f *Formatter) RenderOperations(ops *OperationsResult, format Format) FormattedResponse {
	return f.Render(Document{
		Title:       "Azure Resource Graph Operations",
		RowsHeading: "Operations",
		Result:      ops.asQueryResult(),
	}, format)
}

func (o *OperationsResult) asQueryResult() *QueryResult {
	value, _ := o.Raw.Get("value")
	return &QueryResult{
		Rows:    o.Records(),
		Raw:     o.Raw,
		rawRows: value.Items(),
		dataKey: "value",
	}
}

// SearchCriteria describes a search for both output formats.
func SearchCriteria(req SearchRequest, query string) ([]string, Field) {
	var lines []string
	lines = append(lines, "## Search Criteria")
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("**%s:** %s", label, value))
		}
	}
	add("Resource Type", req.ResourceType)
	add("Location", req.Location)
	add("Resource Group", req.ResourceGroup)
	add("Name Contains", req.NameFilter)
	add("Tag Filter", req.TagFilter)
	if len(req.Subscriptions) > 0 {
		subs := req.Subscriptions
		suffix := ""
		if len(subs) > 3 {
			subs, suffix = subs[:3], "..."
		}
		add("Subscriptions", strings.Join(subs, ", ")+suffix)
	}
	lines = append(lines, fmt.Sprintf("**Generated Query:** `%s`", query))

	criteria := NewRecord()
	optional := func(key, value string) {
		if value == "" {
			criteria.Set(key, Null())
			return
		}
		criteria.Set(key, String(value))
	}
	optional("resource_type", req.ResourceType)
	optional("location", req.Location)
	optional("resource_group", req.ResourceGroup)
	optional("name_filter", req.NameFilter)
	optional("tag_filter", req.TagFilter)
	if len(req.Subscriptions) > 0 {
		items := make([]Value, len(req.Subscriptions))
		for i, s := range req.Subscriptions {
			items[i] = String(s)
		}
		criteria.Set("subscriptions", Array(items))
	} else {
		criteria.Set("subscriptions", Null())
	}
	criteria.Set("generated_query", String(query))

	return lines, Field{Key: "search_criteria", Value: Object(criteria)}
}
