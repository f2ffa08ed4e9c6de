package graph

import (
	"encoding/json"
	"fmt"
)

// QueryResult is a decoded ARG response page. Raw keeps the full body so the
// JSON renderer can pass it through with Azure's key order.
type QueryResult struct {
	TotalRecords    int64
	Count           int64
	ResultTruncated bool
	SkipToken       string
	Columns         []string
	Rows            []Record
	Facets          []FacetResult
	Raw             *Record

	// table result format keeps its original row arrays for passthrough
	tableFormat bool
	rawRows     []Value
	dataKey     string
}

type FacetResult struct {
	Expression   string
	ResultType   string
	TotalRecords int64
	Count        int64
	Rows         []Record
	Errors       []string
}

func (f FacetResult) IsError() bool {
	return f.ResultType == "FacetError"
}

type Operation struct {
	Name        string
	Provider    string
	Resource    string
	Operation   string
	Description string
	Origin      string
}

type OperationsResult struct {
	Operations []Operation
	Raw        *Record
}

func DecodeQueryResult(body []byte) (*QueryResult, error) {
	raw := NewRecord()
	if err := json.Unmarshal(body, raw); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	result := &QueryResult{Raw: raw}
	if v, ok := raw.Get("totalRecords"); ok {
		result.TotalRecords, _ = v.Int64()
	}
	if v, ok := raw.Get("count"); ok {
		result.Count, _ = v.Int64()
	}
	if v, ok := raw.Get("resultTruncated"); ok {
		result.ResultTruncated = v.Truthy()
	}
	if v, ok := raw.Get("$skipToken"); ok {
		result.SkipToken = v.Str()
	}

	if data, ok := raw.Get("data"); ok {
		cols, rows, rawRows, table := decodeRows(data)
		result.Columns = cols
		result.Rows = rows
		result.rawRows = rawRows
		result.tableFormat = table
	}

	if facets, ok := raw.Get("facets"); ok {
		for _, f := range facets.Items() {
			result.Facets = append(result.Facets, decodeFacet(f.Record()))
		}
	}

	return result, nil
}

// decodeRows normalises both ARG result formats into records. objectArray data
// is a list of objects; table data is {columns:[{name,type}], rows:[[...]]}.
func decodeRows(data Value) ([]string, []Record, []Value, bool) {
	switch data.Kind() {
	case KindArray:
		items := data.Items()
		rows := make([]Record, 0, len(items))
		for _, item := range items {
			if item.Kind() == KindObject {
				rows = append(rows, *item.Record())
				continue
			}
			r := NewRecord()
			r.Set("value", item)
			rows = append(rows, *r)
		}
		var cols []string
		if len(rows) > 0 {
			cols = rows[0].Keys()
		}
		return cols, rows, items, false

	case KindObject:
		tbl := data.Record()
		var cols []string
		if c, ok := tbl.Get("columns"); ok {
			for _, col := range c.Items() {
				name, _ := col.Record().Get("name")
				cols = append(cols, name.Str())
			}
		}
		rv, _ := tbl.Get("rows")
		items := rv.Items()
		rows := make([]Record, 0, len(items))
		for _, item := range items {
			r := NewRecord()
			for i, cell := range item.Items() {
				if i < len(cols) {
					r.Set(cols[i], cell)
				}
			}
			rows = append(rows, *r)
		}
		return cols, rows, items, true
	}
	return nil, nil, nil, false
}

func decodeFacet(r *Record) FacetResult {
	var f FacetResult
	if r == nil {
		return f
	}
	if v, ok := r.Get("expression"); ok {
		f.Expression = v.Str()
	}
	if v, ok := r.Get("resultType"); ok {
		f.ResultType = v.Str()
	}
	if v, ok := r.Get("totalRecords"); ok {
		f.TotalRecords, _ = v.Int64()
	}
	if v, ok := r.Get("count"); ok {
		f.Count, _ = v.Int64()
	}
	if v, ok := r.Get("data"); ok {
		_, f.Rows, _, _ = decodeRows(v)
	}
	if v, ok := r.Get("errors"); ok {
		for _, e := range v.Items() {
			msg, _ := e.Record().Get("message")
			if msg.Str() == "" {
				f.Errors = append(f.Errors, "Unknown error")
				continue
			}
			f.Errors = append(f.Errors, msg.Str())
		}
	}
	return f
}

// withRows returns a copy of the raw body whose data holds only the first n
// rows, in the format Azure used.
func (r *QueryResult) withRows(n int) *Record {
	key := r.dataKey
	if key == "" {
		key = "data"
	}
	out := r.Raw.Clone()
	if _, ok := out.Get(key); !ok {
		return out
	}
	if n > len(r.rawRows) {
		n = len(r.rawRows)
	}
	kept := append([]Value{}, r.rawRows[:n]...)
	if !r.tableFormat {
		out.Set(key, Array(kept))
		return out
	}
	data, _ := out.Get(key)
	tbl := data.Record().Clone()
	tbl.Set("rows", Array(kept))
	out.Set(key, Object(tbl))
	return out
}

func DecodeOperations(body []byte) (*OperationsResult, error) {
	raw := NewRecord()
	if err := json.Unmarshal(body, raw); err != nil {
		return nil, fmt.Errorf("failed to decode operations response: %w", err)
	}

	result := &OperationsResult{Raw: raw}
	value, _ := raw.Get("value")
	for _, item := range value.Items() {
		rec := item.Record()
		if rec == nil {
			continue
		}
		op := Operation{Name: "Unknown"}
		if v, ok := rec.Get("name"); ok && v.Str() != "" {
			op.Name = v.Str()
		}
		if v, ok := rec.Get("origin"); ok {
			op.Origin = v.Str()
		}
		if d, ok := rec.Get("display"); ok && d.Record() != nil {
			disp := d.Record()
			p, _ := disp.Get("provider")
			res, _ := disp.Get("resource")
			o, _ := disp.Get("operation")
			desc, _ := disp.Get("description")
			op.Provider = p.Str()
			op.Resource = res.Str()
			op.Operation = o.Str()
			op.Description = desc.Str()
		}
		result.Operations = append(result.Operations, op)
	}
	return result, nil
}

// Records turns the operation list into table rows for the markdown renderer.
func (o *OperationsResult) Records() []Record {
	rows := make([]Record, 0, len(o.Operations))
	for _, op := range o.Operations {
		r := NewRecord()
		r.Set("name", String(op.Name))
		r.Set("provider", String(op.Provider))
		r.Set("resource", String(op.Resource))
		r.Set("operation", String(op.Operation))
		r.Set("description", String(op.Description))
		rows = append(rows, *r)
	}
	return rows
}
