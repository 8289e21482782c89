package listutil

import "cmp"

// Equal reports whether two elements share the same identity.
type Equal[T any] func(a, b T) bool

// Find returns every element of list equal to item.
func Find[T any](item T, list []T, eq Equal[T]) []T {
	var matches []T
	for _, v := range list {
		if eq(item, v) {
			matches = append(matches, v)
		}
	}
	return matches
}

// Contains reports whether list holds an element equal to item.
func Contains[T any](item T, list []T, eq Equal[T]) bool {
	for _, v := range list {
		if eq(item, v) {
			return true
		}
	}
	return false
}

// Remove returns a new slice without any element equal to item.
// The input slice is never modified.
func Remove[T any](item T, list []T, eq Equal[T]) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if !eq(item, v) {
			out = append(out, v)
		}
	}
	return out
}

// Upsert returns a new slice where the first element equal to item is
// replaced in place, or item is appended when there is no match.
// Later duplicates of item, if the caller let any in, are left alone.
func Upsert[T any](item T, list []T, eq Equal[T]) []T {
	out := make([]T, len(list), len(list)+1)
	copy(out, list)
	for i, v := range out {
		if eq(item, v) {
			out[i] = item
			return out
		}
	}
	return append(out, item)
}

// Direction orders a single sort key.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// SortKey compares two elements on one extracted value.
type SortKey[T any] struct {
	compare func(a, b T) int
}

// By builds a sort key from an extractor. The zero value of K counts as
// absent: two absent values tie, and a lone absent value sorts first
// under Asc and last under Desc.
func By[T any, K cmp.Ordered](extract func(T) K, dir Direction) SortKey[T] {
	return SortKey[T]{compare: func(a, b T) int {
		var zero K
		va, vb := extract(a), extract(b)
		aAbsent, bAbsent := va == zero, vb == zero
		switch {
		case aAbsent && bAbsent:
			return 0
		case aAbsent:
			if dir == Desc {
				return 1
			}
			return -1
		case bAbsent:
			if dir == Desc {
				return -1
			}
			return 1
		}
		c := cmp.Compare(va, vb)
		if dir == Desc {
			return -c
		}
		return c
	}}
}

// CompareBy returns a lexicographic comparator over keys, suitable for
// slices.SortFunc. The first non-tied key decides.
func CompareBy[T any](keys ...SortKey[T]) func(a, b T) int {
	return func(a, b T) int {
		for _, k := range keys {
			if c := k.compare(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}
