package dataset

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Value is a single cell: either a number or a string.
type Value struct {
	num    float64
	str    string
	number bool
}

// Number returns a numeric cell value.
func Number(f float64) Value { return Value{num: f, number: true} }

// String returns a string cell value.
func String(s string) Value { return Value{str: s} }

// IsNumber reports whether the cell holds a number.
func (v Value) IsNumber() bool { return v.number }

// Float returns the numeric value and whether the cell is numeric.
func (v Value) Float() (float64, bool) { return v.num, v.number }

// Text returns the cell's display form. Numbers use the shortest
// representation that round-trips.
func (v Value) Text() string {
	if !v.number {
		return v.str
	}
	switch {
	case math.IsInf(v.num, 1):
		return "Infinity"
	case math.IsInf(v.num, -1):
		return "-Infinity"
	case math.IsNaN(v.num):
		return "NaN"
	}
	return strconv.FormatFloat(v.num, 'g', -1, 64)
}

func (v Value) String() string { return v.Text() }

// MarshalJSON encodes numbers as JSON numbers (non-finite as null) and
// strings as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.number {
		return json.Marshal(v.str)
	}
	if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
		return []byte("null"), nil
	}
	if v.num == 0 {
		return []byte("0"), nil
	}
	return json.Marshal(v.num)
}

// Row maps column names to cell values, preserving header order.
// A repeated column name keeps its first position and its last value.
type Row struct {
	keys []string
	vals map[string]Value
}

// NewRow returns an empty row with room for n columns.
func NewRow(n int) Row {
	return Row{keys: make([]string, 0, n), vals: make(map[string]Value, n)}
}

// Set assigns a column value.
func (r *Row) Set(key string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

// Get returns the value of a column.
func (r Row) Get(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Keys returns the distinct column names in header order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of distinct columns.
func (r Row) Len() int { return len(r.keys) }

// MarshalJSON encodes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
