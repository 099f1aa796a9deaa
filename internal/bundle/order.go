package bundle

import (
	"fmt"
	"strings"
)

// Less orders two bundles for the outbound queue; true means a is handed
// out before b. Ties have no defined order.
type Less func(a, b *Bundle) bool

type SortMode string

const (
	SortPriority      SortMode = ""
	SortYoungestFirst SortMode = "yf"
	SortOldestFirst   SortMode = "of"
	SortSmallestFirst SortMode = "sf"
	SortLargestFirst  SortMode = "lf"
)

// ParseSortMode accepts the short codes yf, of, sf and lf, plus "" or
// "priority" for plain priority order.
func ParseSortMode(s string) (SortMode, error) {
	switch m := SortMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SortPriority, SortYoungestFirst, SortOldestFirst, SortSmallestFirst, SortLargestFirst:
		return m, nil
	case "priority":
		return SortPriority, nil
	default:
		return SortPriority, fmt.Errorf("unknown sort mode %q", s)
	}
}

// Ordering returns the queue ordering for mode. Priority always dominates;
// lower values are more urgent.
func Ordering(mode SortMode) Less {
	switch mode {
	case SortYoungestFirst:
		return thenBy(func(a, b *Bundle) bool { return a.YoungestFileTime > b.YoungestFileTime })
	case SortOldestFirst:
		return thenBy(func(a, b *Bundle) bool { return a.OldestFileTime < b.OldestFileTime })
	case SortSmallestFirst:
		return thenBy(func(a, b *Bundle) bool { return a.TotalFileSize < b.TotalFileSize })
	case SortLargestFirst:
		return thenBy(func(a, b *Bundle) bool { return a.TotalFileSize > b.TotalFileSize })
	default:
		return ByPriority
	}
}

// ByPriority orders by ascending priority value only.
func ByPriority(a, b *Bundle) bool { return a.Priority < b.Priority }

func thenBy(secondary Less) Less {
	return func(a, b *Bundle) bool {
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return secondary(a, b)
	}
}
