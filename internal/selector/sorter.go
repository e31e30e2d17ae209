package selector

import "strings"

// SortField is one (path, ascending) pair in a sort spec, evaluated in order.
type SortField struct {
	Path      string
	Ascending bool
}

// Sorter compiles a sort spec into a comparator usable by sort.Slice.
type Sorter struct {
	fields []SortField
}

// NewSorter builds a Sorter from an ordered field list, e.g.
// []SortField{{"category", true}, {"qty", false}}.
func NewSorter(fields []SortField) *Sorter {
	return &Sorter{fields: fields}
}

// GetComparator returns a (a, b) -> int comparator: negative if a sorts
// before b, positive if after, zero if the sort spec can't distinguish them.
func (s *Sorter) GetComparator() func(a, b Document) int {
	return func(a, b Document) int {
		for _, f := range s.fields {
			av, _ := getPath(a, f.Path)
			bv, _ := getPath(b, f.Path)
			c := compareValue(av, bv)
			if !f.Ascending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// Paths returns the dotted field paths this sort spec reads, used to widen
// a cursor's projection the same way Matcher.CombineIntoProjection does.
func (s *Sorter) Paths() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = strings.SplitN(f.Path, ".", 2)[0]
	}
	return out
}
