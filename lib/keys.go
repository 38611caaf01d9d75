package lib

import (
	"strings"
)

const (
	KeyDelimiter    = "__"
	KeyDelimiterDot = "."
)

type KeyPath struct {
	Segments []string
}

// Name is the flattened output key, segments joined with __.
func (p KeyPath) Name() string {
	return strings.Join(p.Segments, KeyDelimiter)
}

func ParseKeyPath(s string) (KeyPath, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return KeyPath{}, &FilterPathError{Path: s, Reason: "empty path"}
	}
	hasDouble := strings.Contains(raw, KeyDelimiter)
	hasDot := strings.Contains(raw, KeyDelimiterDot)
	if hasDouble && hasDot {
		return KeyPath{}, &FilterPathError{Path: s, Reason: "mixes . and __ delimiters"}
	}
	delim := KeyDelimiterDot
	if hasDouble {
		delim = KeyDelimiter
	}
	segments := strings.Split(raw, delim)
	for _, seg := range segments {
		if seg == "" {
			return KeyPath{}, &FilterPathError{Path: s, Reason: "empty segment"}
		}
		if strings.ContainsAny(seg, " \t\n") {
			return KeyPath{}, &FilterPathError{Path: s, Reason: "whitespace in segment"}
		}
		if hasDouble && (strings.HasPrefix(seg, "_") || strings.HasSuffix(seg, "_")) {
			// a___b splits into a and _b
			return KeyPath{}, &FilterPathError{Path: s, Reason: "stray underscore next to delimiter"}
		}
	}
	return KeyPath{Segments: segments}, nil
}

// ParseKeyPaths parses a comma separated list like "Tags__Value, State__Name".
func ParseKeyPaths(s string) ([]KeyPath, error) {
	var paths []KeyPath
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParseKeyPath(part)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// NormalizeKey maps State.Name and State__Name to State__Name.
func NormalizeKey(s string) (string, error) {
	p, err := ParseKeyPath(s)
	if err != nil {
		return "", err
	}
	return p.Name(), nil
}

type Predicate interface {
	Matches(v Value) bool
}

// FieldEquals matches a mapping whose Field equals Value, or a scalar equal
// to Value.
type FieldEquals struct {
	Field string `yaml:"field"`
	Value string `yaml:"equals"`
}

func (f FieldEquals) Matches(v Value) bool {
	return predicateTarget(v, f.Field) == f.Value
}

type FieldContains struct {
	Field string `yaml:"field"`
	Value string `yaml:"contains"`
}

func (f FieldContains) Matches(v Value) bool {
	return strings.Contains(strings.ToLower(predicateTarget(v, f.Field)), strings.ToLower(f.Value))
}

func predicateTarget(v Value, field string) string {
	if v.Kind == KindMap {
		return v.Map.Get(field)
	}
	return v.String()
}

type FilterSpec struct {
	Paths      []KeyPath
	Conditions map[string]Predicate
}

// NewFilterSpec validates every path and condition up front. Duplicate paths
// keep their first position.
func NewFilterSpec(paths []string, conditions map[string]Predicate) (*FilterSpec, error) {
	spec := &FilterSpec{Conditions: map[string]Predicate{}}
	seen := map[string]bool{}
	for _, s := range paths {
		p, err := ParseKeyPath(s)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		spec.Paths = append(spec.Paths, p)
	}
	for s, pred := range conditions {
		name, err := NormalizeKey(s)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		if !seen[name] {
			return nil, &FilterPathError{Path: s, Reason: "condition for a path that is not filtered"}
		}
		spec.Conditions[name] = pred
	}
	return spec, nil
}

func (s *FilterSpec) Names() []string {
	var names []string
	for _, p := range s.Paths {
		names = append(names, p.Name())
	}
	return names
}

// FilterKeys keeps only the filter's paths, flattening nested ones into
// __ joined names. Missing paths are skipped. Broadcast results stay lists,
// except that a single value picked out by a condition is unwrapped.
func FilterKeys(r Record, spec *FilterSpec) Record {
	out := Record{}
	for _, p := range spec.Paths {
		name := p.Name()
		if v, ok := r[name]; ok && len(p.Segments) > 1 {
			out[name] = v
			continue
		}
		pred := spec.Conditions[name]
		v, ok := resolvePath(MapOf(r), p.Segments, pred)
		if !ok {
			continue
		}
		if pred != nil && v.Kind == KindList && len(v.List) == 1 {
			v = v.List[0]
		}
		out[name] = v
	}
	return out
}

func resolvePath(v Value, segs []string, pred Predicate) (Value, bool) {
	switch v.Kind {
	case KindList:
		if len(segs) == 0 && pred == nil {
			return v, true
		}
		var results []Value
		for _, elem := range v.List {
			childPred := pred
			if pred != nil && elem.Kind == KindMap {
				if !pred.Matches(elem) {
					continue
				}
				childPred = nil
			}
			child, ok := resolvePath(elem, segs, childPred)
			if !ok {
				continue
			}
			if child.Kind == KindList {
				results = append(results, child.List...)
			} else {
				results = append(results, child)
			}
		}
		if len(results) == 0 {
			return Value{}, false
		}
		return ListOf(results...), true
	case KindMap:
		if len(segs) == 0 {
			if pred != nil && !pred.Matches(v) {
				return Value{}, false
			}
			return v, true
		}
		child, ok := v.Map[segs[0]]
		if !ok {
			return Value{}, false
		}
		return resolvePath(child, segs[1:], pred)
	default:
		if len(segs) != 0 {
			return Value{}, false
		}
		if v.IsNull() {
			return Value{}, false
		}
		if pred != nil && !pred.Matches(v) {
			return Value{}, false
		}
		return v, true
	}
}
