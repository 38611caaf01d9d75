package lib

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindMap
	KindList
)

// Value is one node of a semi-structured record: a scalar, a mapping or a
// sequence. The zero Value is null.
type Value struct {
	Kind   Kind
	Scalar any
	Map    Record
	List   []Value
}

type Record map[string]Value

func Scalar(x any) Value {
	if x == nil {
		return Value{}
	}
	return Value{Kind: KindScalar, Scalar: x}
}

func MapOf(r Record) Value {
	return Value{Kind: KindMap, Map: r}
}

func ListOf(xs ...Value) Value {
	return Value{Kind: KindList, List: xs}
}

// FromAny converts a decoded json or dynamodb tree into a Value.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Value{}
	case Value:
		return v
	case Record:
		return MapOf(v)
	case map[string]any:
		r := make(Record, len(v))
		for k, child := range v {
			r[k] = FromAny(child)
		}
		return MapOf(r)
	case []any:
		xs := make([]Value, 0, len(v))
		for _, child := range v {
			xs = append(xs, FromAny(child))
		}
		return ListOf(xs...)
	case []string:
		xs := make([]Value, 0, len(v))
		for _, child := range v {
			xs = append(xs, Scalar(child))
		}
		return ListOf(xs...)
	default:
		return Scalar(v)
	}
}

func RecordFromAny(m map[string]any) Record {
	return FromAny(m).Map
}

func (v Value) Any() any {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindMap:
		return v.Map.Any()
	case KindList:
		xs := make([]any, 0, len(v.List))
		for _, child := range v.List {
			xs = append(xs, child.Any())
		}
		return xs
	default:
		return nil
	}
}

func (r Record) Any() map[string]any {
	m := make(map[string]any, len(r))
	for k, v := range r {
		m[k] = v.Any()
	}
	return m
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		return cast.ToString(v.Scalar)
	case KindList:
		var xs []string
		for _, child := range v.List {
			xs = append(xs, child.String())
		}
		return strings.Join(xs, ",")
	case KindMap:
		bytes, err := json.Marshal(v.Map.Any())
		if err != nil {
			return fmt.Sprint(v.Map.Any())
		}
		return string(bytes)
	default:
		return ""
	}
}

// Get returns the field as a string, empty when missing.
func (r Record) Get(key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	return v.String()
}

func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Record) Copy() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
