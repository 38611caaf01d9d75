package lib

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
)

type Caster interface {
	Cast(v Value) (Value, error)
}

type CastFunc func(v Value) (Value, error)

func (f CastFunc) Cast(v Value) (Value, error) {
	return f(v)
}

const (
	castTimeFormat = "2006-01-02 15:04:05 UTC"
	castDateFormat = "2006-01-02"
)

var castNow = time.Now

func castScalar(fn func(x any) (any, error)) CastFunc {
	return func(v Value) (Value, error) {
		if v.Kind != KindScalar {
			return Value{}, fmt.Errorf("expected scalar, got kind %d", v.Kind)
		}
		x, err := fn(v.Scalar)
		if err != nil {
			return Value{}, err
		}
		return Scalar(x), nil
	}
}

func castTime(format string) CastFunc {
	return castScalar(func(x any) (any, error) {
		t, err := cast.ToTimeE(x)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(format), nil
	})
}

var Casts = map[string]Caster{
	"string": castScalar(func(x any) (any, error) { return cast.ToStringE(x) }),
	"int":    castScalar(func(x any) (any, error) { return cast.ToInt64E(x) }),
	"lower": castScalar(func(x any) (any, error) {
		s, err := cast.ToStringE(x)
		return strings.ToLower(s), err
	}),
	"upper": castScalar(func(x any) (any, error) {
		s, err := cast.ToStringE(x)
		return strings.ToUpper(s), err
	}),
	"time": castTime(castTimeFormat),
	"date": castTime(castDateFormat),
	"ago": castScalar(func(x any) (any, error) {
		t, err := cast.ToTimeE(x)
		if err != nil {
			return nil, err
		}
		return humanize.RelTime(t, castNow(), "ago", "from now"), nil
	}),
	"join": CastFunc(func(v Value) (Value, error) {
		switch v.Kind {
		case KindList, KindScalar:
			return Scalar(v.String()), nil
		default:
			return Value{}, fmt.Errorf("cannot join kind %d", v.Kind)
		}
	}),
}

func LookupCast(name string) (Caster, error) {
	c, ok := Casts[name]
	if !ok {
		var names []string
		for k := range Casts {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown cast %q, expected one of: %s", name, strings.Join(names, ", "))
	}
	return c, nil
}

// CastKeys replaces the value of every key present in both r and casts. The
// first failing cast aborts with a CastError.
func CastKeys(r Record, casts map[string]Caster) (Record, error) {
	out := r.Copy()
	var keys []string
	for k := range casts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := out[k]
		if !ok {
			continue
		}
		casted, err := casts[k].Cast(v)
		if err != nil {
			return nil, &CastError{Key: k, Value: v.Any(), Err: err}
		}
		out[k] = casted
	}
	return out, nil
}

type Rename struct {
	From string
	To   string
}

type RenameSpec []Rename

// RenameKeys moves each From to To in order, so when two sources share a
// destination the later one wins.
func RenameKeys(r Record, renames RenameSpec) Record {
	out := r.Copy()
	for _, rn := range renames {
		v, ok := out[rn.From]
		if !ok {
			continue
		}
		delete(out, rn.From)
		out[rn.To] = v
	}
	return out
}

// Schema is the versioned filter, cast and rename configuration that turns
// a raw provider record into the flat record used everywhere else.
type Schema struct {
	Version int
	Filter  *FilterSpec
	Casts   map[string]Caster
	Renames RenameSpec
}

func (s *Schema) Apply(raw Record) (Record, error) {
	r := FilterKeys(raw, s.Filter)
	r, err := CastKeys(r, s.Casts)
	if err != nil {
		return nil, err
	}
	return RenameKeys(r, s.Renames), nil
}

// Fields lists the names a transformed record can carry, in path order.
func (s *Schema) Fields() []string {
	var fields []string
	for _, name := range s.Filter.Names() {
		for _, rn := range s.Renames {
			if rn.From == name {
				name = rn.To
			}
		}
		if !Contains(fields, name) {
			fields = append(fields, name)
		}
	}
	return fields
}
