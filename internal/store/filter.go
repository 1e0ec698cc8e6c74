package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Op is a filter comparison.
type Op uint8

const (
	OpEq Op = iota + 1
	OpIn
)

// Condition restricts one metadata key.
type Condition struct {
	Key    string
	Op     Op
	Values []Value
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

// Eq matches chunks whose key equals v.
func Eq(key string, v Value) Condition {
	return Condition{Key: key, Op: OpEq, Values: []Value{v}}
}

// In matches chunks whose key equals any of vs. An empty set matches nothing.
func In(key string, vs ...Value) Condition {
	return Condition{Key: key, Op: OpIn, Values: vs}
}

// Where builds a filter from conditions.
func Where(conds ...Condition) Filter {
	return Filter(conds)
}

// DocumentIn restricts candidates to the given document IDs.
func DocumentIn(ids ...string) Condition {
	vs := make([]Value, len(ids))
	for i, id := range ids {
		vs[i] = StringValue(id)
	}
	return In(KeyDocumentID, vs...)
}

// Match evaluates the filter against metadata in memory.
func (f Filter) Match(m Metadata) bool {
	for _, c := range f {
		got, ok := m.Get(c.Key)
		if !ok {
			return false
		}
		hit := false
		for _, want := range c.Values {
			if got.Equal(want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (f Filter) validate() error {
	for _, c := range f {
		if err := validateKey(c.Key); err != nil {
			return err
		}
		if c.Op != OpEq && c.Op != OpIn {
			return fmt.Errorf("%w: unknown filter operator on %q", ErrValidation, c.Key)
		}
		if c.Op == OpEq && len(c.Values) != 1 {
			return fmt.Errorf("%w: equality on %q needs exactly one value", ErrValidation, c.Key)
		}
		for _, v := range c.Values {
			if err := v.validate(); err != nil {
				return fmt.Errorf("filter %q: %w", c.Key, err)
			}
		}
	}
	return nil
}

// ParseFilter reads the JSON filter syntax:
//
//	{"document_id": "doc_1"}
//	{"document_id": {"$in": ["doc_1", "doc_2"]}, "lang": {"$eq": "en"}}
//	{"$and": [{...}, {...}]}
func ParseFilter(data []byte) (Filter, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid filter json", ErrValidation)
	}
	return parseFilterResult(gjson.ParseBytes(data))
}

func parseFilterResult(res gjson.Result) (Filter, error) {
	if res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("%w: filter must be a JSON object", ErrValidation)
	}

	var f Filter
	var ferr error
	res.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == "$and" {
			if !value.IsArray() {
				ferr = fmt.Errorf("%w: $and expects an array", ErrValidation)
				return false
			}
			for _, sub := range value.Array() {
				subFilter, err := parseFilterResult(sub)
				if err != nil {
					ferr = err
					return false
				}
				f = append(f, subFilter...)
			}
			return true
		}

		cond, err := parseCondition(k, value)
		if err != nil {
			ferr = err
			return false
		}
		f = append(f, cond)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return f, f.validate()
}

func parseCondition(key string, value gjson.Result) (Condition, error) {
	if !value.IsObject() {
		v, err := valueFromResult(value)
		if err != nil {
			return Condition{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return Eq(key, v), nil
	}

	ops := value.Map()
	if len(ops) != 1 {
		return Condition{}, fmt.Errorf("%w: filter %q needs exactly one operator", ErrValidation, key)
	}
	if eq, ok := ops["$eq"]; ok {
		v, err := valueFromResult(eq)
		if err != nil {
			return Condition{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return Eq(key, v), nil
	}
	if in, ok := ops["$in"]; ok {
		if !in.IsArray() {
			return Condition{}, fmt.Errorf("%w: $in on %q expects an array", ErrValidation, key)
		}
		var vs []Value
		for _, item := range in.Array() {
			v, err := valueFromResult(item)
			if err != nil {
				return Condition{}, fmt.Errorf("filter %q: %w", key, err)
			}
			vs = append(vs, v)
		}
		return In(key, vs...), nil
	}
	return Condition{}, fmt.Errorf("%w: unsupported operator on %q", ErrValidation, key)
}

// sqliteArg converts a value for binding against json_extract output, which
// yields 1/0 for JSON booleans.
func sqliteArg(v Value) any {
	if b, ok := v.AsBool(); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v.Interface()
}

// sqliteClause renders the filter as a WHERE fragment over the chunks alias c.
func (f Filter) sqliteClause() (string, []any) {
	if len(f) == 0 {
		return "1", nil
	}

	var parts []string
	var args []any
	for _, c := range f {
		if len(c.Values) == 0 {
			parts = append(parts, "0")
			continue
		}

		ors := make([]string, len(c.Values))
		for i, v := range c.Values {
			switch c.Key {
			case KeyDocumentID:
				ors[i] = "c.document_id = ?"
			case KeyChunkIndex:
				ors[i] = "c.chunk_index = ?"
			default:
				ors[i] = "json_extract(c.metadata, ?) = ?"
				args = append(args, `$."`+c.Key+`"`)
			}
			args = append(args, sqliteArg(v))
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(parts, " AND "), args
}

// postgresClause renders the filter using $n placeholders starting at next.
// It returns the fragment, the args and the next free placeholder number.
func (f Filter) postgresClause(next int) (string, []any, int) {
	if len(f) == 0 {
		return "TRUE", nil, next
	}

	var parts []string
	var args []any
	for _, c := range f {
		if len(c.Values) == 0 {
			parts = append(parts, "FALSE")
			continue
		}

		if ids, ok := allStrings(c.Values); ok && c.Key == KeyDocumentID {
			parts = append(parts, "document_id = ANY($"+strconv.Itoa(next)+")")
			args = append(args, ids)
			next++
			continue
		}

		ors := make([]string, len(c.Values))
		for i, v := range c.Values {
			doc, _ := Metadata{{Key: c.Key, Value: v}}.MarshalJSON()
			ors[i] = "metadata::jsonb @> $" + strconv.Itoa(next) + "::jsonb"
			args = append(args, string(doc))
			next++
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(parts, " AND "), args, next
}

func allStrings(vs []Value) ([]string, bool) {
	out := make([]string, len(vs))
	for i, v := range vs {
		s, ok := v.AsString()
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
