package lib

import (
	"sort"
	"strings"
)

type Clause struct {
	Field   string // empty matches any field
	Pattern string
	Exact   bool
}

// ParseQuery splits "status:running,name:web" on , ; or | into clauses.
func ParseQuery(query string) []Clause {
	var clauses []Clause
	parts := strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, pattern, err := SplitOnce(part, ":")
		if err != nil {
			clauses = append(clauses, Clause{Pattern: strings.ToLower(part)})
			continue
		}
		clause := Clause{Field: strings.TrimSpace(field)}
		pattern = strings.TrimSpace(pattern)
		switch {
		case strings.HasPrefix(pattern, "="):
			clause.Exact = true
			pattern = pattern[1:]
		case strings.HasPrefix(pattern, "$"):
			pattern = pattern[1:]
		}
		clause.Pattern = strings.ToLower(pattern)
		clauses = append(clauses, clause)
	}
	return clauses
}

func (c Clause) matchValue(s string) bool {
	s = strings.ToLower(s)
	if c.Exact {
		return s == c.Pattern
	}
	return strings.Contains(s, c.Pattern)
}

func (c Clause) Matches(r Record) bool {
	if c.Field != "" {
		return c.matchValue(r.Get(c.Field))
	}
	for _, k := range r.Keys() {
		if c.matchValue(r.Get(k)) {
			return true
		}
	}
	return false
}

func MatchAll(r Record, clauses []Clause) bool {
	for _, c := range clauses {
		if !c.Matches(r) {
			return false
		}
	}
	return true
}

// FindItems returns the records matching every clause of query, in input
// order.
func FindItems(records []Record, query string) []Record {
	clauses := ParseQuery(query)
	var matched []Record
	for _, r := range records {
		if MatchAll(r, clauses) {
			matched = append(matched, r)
		}
	}
	return matched
}

// FindAny returns records where any of fields contains any term, deduped,
// in the order first matched.
func FindAny(records []Record, terms []string, fields []string) []Record {
	var matched []Record
	seen := map[int]bool{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		for _, field := range fields {
			clause := Clause{Field: field, Pattern: strings.ToLower(term)}
			for i, r := range records {
				if !seen[i] && clause.Matches(r) {
					seen[i] = true
					matched = append(matched, r)
				}
			}
		}
	}
	return matched
}

// SortByKeys is a stable ascending sort comparing fields as strings, missing
// fields sort first.
func SortByKeys(records []Record, keys []string) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			a, b := records[i].Get(k), records[j].Get(k)
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func SplitList(s string) []string {
	var xs []string
	for _, x := range strings.Split(s, ",") {
		x = strings.TrimSpace(x)
		if x != "" {
			xs = append(xs, x)
		}
	}
	return xs
}
