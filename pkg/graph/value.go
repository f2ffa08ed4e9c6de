package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Value is one loosely-typed JSON value from a result set. Objects keep the key
// order Azure sent.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	obj  *Record
	arr  []Value
}

func Null() Value                { return Value{kind: KindNull} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Object(r *Record) Value     { return Value{kind: KindObject, obj: r} }
func Array(items []Value) Value  { return Value{kind: KindArray, arr: items} }

func Int(n int64) Value {
	return Value{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", n))}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload, or "" for non-string values.
func (v Value) Str() string { return v.str }

func (v Value) Num() json.Number { return v.num }

func (v Value) Record() *Record { return v.obj }

func (v Value) Items() []Value { return v.arr }

func (v Value) Int64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := v.num.Int64()
	if err != nil {
		f, ferr := v.num.Float64()
		if ferr != nil {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

// Truthy accepts both JSON booleans and the "true"/"false" strings ARG uses for
// resultTruncated.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return strings.EqualFold(v.str, "true")
	default:
		return false
	}
}

// Text renders a scalar the way it should appear in a table cell.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindObject:
		if flat, ok := v.obj.flatPairs(); ok {
			return flat
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return v.obj.MarshalJSON()
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 'n':
		*v = Null()
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '{':
		r := NewRecord()
		if err := r.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Object(r)
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		if items == nil {
			items = []Value{}
		}
		*v = Array(items)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// Record is an ordered mapping from column name to Value.
type Record struct {
	m *orderedmap.OrderedMap[string, Value]
}

func NewRecord() *Record {
	return &Record{m: orderedmap.New[string, Value]()}
}

func (r *Record) Set(key string, v Value) {
	r.m.Set(key, v)
}

func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	return r.m.Get(key)
}

func (r *Record) Delete(key string) {
	if r == nil {
		return
	}
	r.m.Delete(key)
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.m.Len()
}

func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, r.m.Len())
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone copies the top level; nested values are shared.
func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		out.m.Set(pair.Key, pair.Value)
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil || r.m == nil {
		return []byte("{}"), nil
	}
	return r.m.MarshalJSON()
}

func (r *Record) UnmarshalJSON(data []byte) error {
	if r.m == nil {
		r.m = orderedmap.New[string, Value]()
	}
	return r.m.UnmarshalJSON(data)
}

func (r *Record) flatPairs() (string, bool) {
	if r == nil || r.m.Len() == 0 {
		return "", false
	}
	parts := make([]string, 0, r.m.Len())
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		switch pair.Value.kind {
		case KindObject, KindArray:
			return "", false
		}
		parts = append(parts, pair.Key+"="+pair.Value.Text())
	}
	return strings.Join(parts, ", "), true
}
