package pagination

import "github.com/vinodismyname/mcpsheets/config"

// MaxResults is the fixed ceiling for every list-shaped result.
const MaxResults = config.DefaultResultCap

// Page is a bounded slice of a larger ordered result.
type Page[T any] struct {
	Items        []T
	Offset       int
	Total        int
	Returned     int
	LimitApplied bool
}

// Clamp bounds a caller-requested limit to MaxResults; non-positive means MaxResults.
func Clamp(requested int) int {
	if requested <= 0 || requested > MaxResults {
		return MaxResults
	}
	return requested
}

// Limit returns the first Clamp(requested) items.
func Limit[T any](items []T, requested int) Page[T] {
	return Window(items, 0, requested)
}

// Window returns up to Clamp(requested) items starting at offset. LimitApplied
// reports whether items remain after the returned window.
func Window[T any](items []T, offset, requested int) Page[T] {
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + Clamp(requested)
	if end > total {
		end = total
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return Page[T]{
		Items:        out,
		Offset:       offset,
		Total:        total,
		Returned:     len(out),
		LimitApplied: end < total,
	}
}

// Next returns the offset following this page.
func (p Page[T]) Next() int { return NextOffset(p.Offset, p.Returned) }
