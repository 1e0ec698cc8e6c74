package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Reserved chunk metadata keys. The index writes them itself.
const (
	KeyDocumentID = "document_id"
	KeyChunkIndex = "chunk_index"

	// DocumentPrefix namespaces document-level metadata on chunks.
	DocumentPrefix = "doc_"
)

// IsReserved reports whether callers may not set key on chunk metadata.
func IsReserved(key string) bool {
	return key == KeyDocumentID || key == KeyChunkIndex
}

// Kind identifies the scalar held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a scalar metadata value.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func IntValue(i int64) Value { return Value{kind: KindInt, num: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, flt: f} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsValid() bool { return v.kind != 0 }

// ValueOf converts a Go scalar into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint32:
		return IntValue(int64(t)), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad number %q", ErrValidation, t)
		}
		return FloatValue(f), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported metadata type %T", ErrValidation, x)
	}
}

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsFloat returns numeric values as float64. Ints are converted.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.flt, true
	case KindInt:
		return float64(v.num), true
	}
	return 0, false
}

// Interface returns the underlying Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

// Equal compares two values. Ints and floats compare numerically.
func (v Value) Equal(o Value) bool {
	if a, ok := v.AsFloat(); ok {
		b, ok := o.AsFloat()
		return ok && a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	}
	return false
}

func (v Value) validate() error {
	switch v.kind {
	case KindString, KindInt, KindBool:
		return nil
	case KindFloat:
		if math.IsNaN(v.flt) || math.IsInf(v.flt, 0) {
			return fmt.Errorf("%w: non-finite float", ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: empty metadata value", ErrValidation)
}

// rawJSON renders non-string values. Floats always carry a decimal point so
// they decode back as floats.
func (v Value) rawJSON() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		s := strconv.FormatFloat(v.flt, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "null"
}

func valueFromResult(r gjson.Result) (Value, error) {
	switch r.Type {
	case gjson.String:
		return StringValue(r.Str), nil
	case gjson.True:
		return BoolValue(true), nil
	case gjson.False:
		return BoolValue(false), nil
	case gjson.Number:
		if !strings.ContainsAny(r.Raw, ".eE") {
			if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
				return IntValue(i), nil
			}
		}
		return FloatValue(r.Num), nil
	}
	return Value{}, fmt.Errorf("%w: metadata values must be scalars, got %s", ErrValidation, r.Type)
}

// Field is one metadata entry.
type Field struct {
	Key   string
	Value Value
}

// Metadata is an insertion-ordered set of scalar fields.
type Metadata []Field

// NewMetadata builds metadata from alternating key/value pairs. It panics on
// odd argument counts or unsupported values and is meant for literals.
func NewMetadata(kv ...any) Metadata {
	if len(kv)%2 != 0 {
		panic("store.NewMetadata: odd number of arguments")
	}
	m := make(Metadata, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("store.NewMetadata: key %v is not a string", kv[i]))
		}
		v, err := ValueOf(kv[i+1])
		if err != nil {
			panic(err)
		}
		m.Set(key, v)
	}
	return m
}

// MetadataFromMap converts a plain map. Keys are sorted since map order is lost.
func MetadataFromMap(src map[string]any) (Metadata, error) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := make(Metadata, 0, len(keys))
	for _, k := range keys {
		v, err := ValueOf(src[k])
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		m.Set(k, v)
	}
	return m, nil
}

func (m Metadata) Len() int { return len(m) }

func (m Metadata) Get(key string) (Value, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// GetString returns the string form of key, or "" when absent.
func (m Metadata) GetString(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return v.String()
}

func (m Metadata) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set replaces key in place or appends it.
func (m *Metadata) Set(key string, v Value) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = v
			return
		}
	}
	*m = append(*m, Field{Key: key, Value: v})
}

func (m *Metadata) Delete(key string) {
	for i := range *m {
		if (*m)[i].Key == key {
			*m = append((*m)[:i], (*m)[i+1:]...)
			return
		}
	}
}

func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// Map returns the fields as a plain map.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m))
	for _, f := range m {
		out[f.Key] = f.Value.Interface()
	}
	return out
}

// MarshalJSON encodes the fields as an object, preserving order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := []byte("{}")
	var err error
	for _, f := range m {
		path := ":" + gjson.Escape(f.Key)
		if s, ok := f.Value.AsString(); ok {
			out, err = sjson.SetBytes(out, path, s)
		} else {
			out, err = sjson.SetRawBytes(out, path, []byte(f.Value.rawJSON()))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata key %q: %w", f.Key, err)
		}
	}
	return out, nil
}

// UnmarshalJSON decodes an object of scalars, preserving order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid metadata json", ErrValidation)
	}
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*m = nil
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("%w: metadata must be a JSON object", ErrValidation)
	}

	out := Metadata{}
	var ferr error
	res.ForEach(func(key, value gjson.Result) bool {
		v, err := valueFromResult(value)
		if err != nil {
			ferr = fmt.Errorf("metadata %q: %w", key.String(), err)
			return false
		}
		out.Set(key.String(), v)
		return true
	})
	if ferr != nil {
		return ferr
	}
	*m = out
	return nil
}

func decodeMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := m.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, err
	}
	return m, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty metadata key", ErrValidation)
	}
	if strings.ContainsAny(key, "\"\\") {
		return fmt.Errorf("%w: metadata key %q contains a quote or backslash", ErrValidation, key)
	}
	return nil
}

// validate checks keys and values. Reserved keys are rejected unless allowed.
func (m Metadata) validate(allowReserved bool) error {
	for _, f := range m {
		if err := validateKey(f.Key); err != nil {
			return err
		}
		if !allowReserved && IsReserved(f.Key) {
			return fmt.Errorf("%w: metadata key %q is reserved", ErrValidation, f.Key)
		}
		if err := f.Value.validate(); err != nil {
			return fmt.Errorf("metadata %q: %w", f.Key, err)
		}
	}
	return nil
}
