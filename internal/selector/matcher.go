// Package selector implements the minimongo-style selector/modifier engine
// spec.md §6 describes as a black-box external collaborator. No example in
// the retrieval pack ships a comparable selector DSL to ground an import
// on, so this is a compact, dependency-free matcher/sorter sufficient to
// drive the polling observe driver and the test suite: equality,
// $eq/$ne/$gt/$gte/$lt/$lte, $in/$nin, $and/$or, $exists, dotted field
// paths, and a minimal $near for distance-ordered geo queries.
package selector

import (
	"fmt"
	"math"
	"strings"
)

// Document is a loosely typed document, matching the store's representation.
type Document = map[string]any

// MatchResult is the outcome of matching one document against a Matcher.
type MatchResult struct {
	Result   bool
	Distance *float64 // set only when the selector used $near
}

// Matcher compiles a selector document once and evaluates it repeatedly.
type Matcher struct {
	selector Document
	simple   bool
	nearPath string
	nearPt   [2]float64
	hasNear  bool
}

// New compiles selector into a Matcher.
func New(sel Document) *Matcher {
	m := &Matcher{selector: sel, simple: true}
	for k, v := range sel {
		if strings.HasPrefix(k, "$") {
			m.simple = false
		}
		if sub, ok := v.(Document); ok {
			if _, ok := sub["$near"]; ok {
				m.hasNear = true
				m.nearPath = k
				m.nearPt = nearPoint(sub["$near"])
			}
			for opK := range sub {
				if strings.HasPrefix(opK, "$") {
					m.simple = false
				}
			}
		}
	}
	return m
}

func nearPoint(v any) [2]float64 {
	if d, ok := v.(Document); ok {
		if geom, ok := d["$geometry"].(Document); ok {
			if coords, ok := geom["coordinates"].([]float64); ok && len(coords) == 2 {
				return [2]float64{coords[0], coords[1]}
			}
			if coords, ok := geom["coordinates"].([]any); ok && len(coords) == 2 {
				return [2]float64{toFloat(coords[0]), toFloat(coords[1])}
			}
		}
	}
	return [2]float64{}
}

// IsSimple reports whether the selector is a plain field-equality map with
// no operators — the common case the polling driver can diff cheaply.
func (m *Matcher) IsSimple() bool { return m.simple }

// HasGeoQuery reports whether the selector contains a $near clause.
func (m *Matcher) HasGeoQuery() bool { return m.hasNear }

// DocumentMatches evaluates doc against the compiled selector.
func (m *Matcher) DocumentMatches(doc Document) MatchResult {
	if !matchSelector(m.selector, doc) {
		return MatchResult{Result: false}
	}
	res := MatchResult{Result: true}
	if m.hasNear {
		if pt, ok := fieldPoint(doc, m.nearPath); ok {
			d := distance(m.nearPt, pt)
			res.Distance = &d
		}
	}
	return res
}

func fieldPoint(doc Document, path string) ([2]float64, bool) {
	v, ok := getPath(doc, path)
	if !ok {
		return [2]float64{}, false
	}
	d, ok := v.(Document)
	if !ok {
		return [2]float64{}, false
	}
	coords, ok := d["coordinates"]
	if !ok {
		return [2]float64{}, false
	}
	switch c := coords.(type) {
	case []float64:
		if len(c) == 2 {
			return [2]float64{c[0], c[1]}, true
		}
	case []any:
		if len(c) == 2 {
			return [2]float64{toFloat(c[0]), toFloat(c[1])}, true
		}
	}
	return [2]float64{}, false
}

func distance(a, b [2]float64) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

func matchSelector(sel, doc Document) bool {
	for k, v := range sel {
		switch k {
		case "$and":
			clauses, _ := v.([]Document)
			for _, c := range clauses {
				if !matchSelector(c, doc) {
					return false
				}
			}
		case "$or":
			clauses, _ := v.([]Document)
			if len(clauses) == 0 {
				continue
			}
			any := false
			for _, c := range clauses {
				if matchSelector(c, doc) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		default:
			fieldVal, exists := getPath(doc, k)
			if !matchField(v, fieldVal, exists) {
				return false
			}
		}
	}
	return true
}

func matchField(expected any, actual any, exists bool) bool {
	if ops, ok := expected.(Document); ok && hasOperatorKeys(ops) {
		for op, opArg := range ops {
			if !matchOperator(op, opArg, actual, exists) {
				return false
			}
		}
		return true
	}
	return exists && equalValue(actual, expected)
}

func hasOperatorKeys(d Document) bool {
	for k := range d {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOperator(op string, arg any, actual any, exists bool) bool {
	switch op {
	case "$eq":
		return exists && equalValue(actual, arg)
	case "$ne":
		return !exists || !equalValue(actual, arg)
	case "$gt":
		return exists && compareValue(actual, arg) > 0
	case "$gte":
		return exists && compareValue(actual, arg) >= 0
	case "$lt":
		return exists && compareValue(actual, arg) < 0
	case "$lte":
		return exists && compareValue(actual, arg) <= 0
	case "$in":
		items, _ := arg.([]any)
		for _, it := range items {
			if exists && equalValue(actual, it) {
				return true
			}
		}
		return false
	case "$nin":
		items, _ := arg.([]any)
		for _, it := range items {
			if exists && equalValue(actual, it) {
				return false
			}
		}
		return true
	case "$exists":
		want, _ := arg.(bool)
		return exists == want
	case "$near":
		return exists // actual matching handled separately for distance
	default:
		return true
	}
}

// getPath resolves a dotted field path ("a.b.c") against nested maps.
func getPath(doc Document, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(Document)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	// Numbers compare across width per BSON ordering; strings/bools must match kind.
	_, aNum := toNumber(a)
	_, bNum := toNumber(b)
	if aNum && bNum {
		return true
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b) || (a == nil && b == nil)
}

func compareValue(a, b any) int {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(as, bs)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toNumber(v)
	return f
}

// CanBecomeTrueByModifier reports whether applying mod to some document
// that does not currently match could cause it to start matching. This is a
// conservative over-approximation: true whenever the modifier touches any
// field the selector references.
func (m *Matcher) CanBecomeTrueByModifier(mod Document) bool {
	return m.AffectedByModifier(mod)
}

// AffectedByModifier reports whether mod could change whether a document
// matches this selector: true when the modifier writes to any top-level
// field the selector reads.
func (m *Matcher) AffectedByModifier(mod Document) bool {
	fields := modifierFields(mod)
	for k := range m.selector {
		top := strings.SplitN(k, ".", 2)[0]
		if top == "$and" || top == "$or" {
			continue
		}
		if fields[top] {
			return true
		}
	}
	return false
}

func modifierFields(mod Document) map[string]bool {
	out := map[string]bool{}
	for op, v := range mod {
		if !strings.HasPrefix(op, "$") {
			out[op] = true
			continue
		}
		fields, _ := v.(Document)
		for f := range fields {
			out[strings.SplitN(f, ".", 2)[0]] = true
		}
	}
	return out
}

// CombineIntoProjection merges the fields this selector reads into proj,
// so a cursor's field projection never excludes a field the selector needs
// to re-evaluate matches against a partial update.
func (m *Matcher) CombineIntoProjection(proj Document) Document {
	out := Document{}
	for k, v := range proj {
		out[k] = v
	}
	for k := range m.selector {
		top := strings.SplitN(k, ".", 2)[0]
		if top == "$and" || top == "$or" || top == "$near" {
			continue
		}
		out[top] = 1
	}
	return out
}
