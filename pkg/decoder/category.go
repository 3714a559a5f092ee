package decoder

import "strings"

// Category classifies a decoded function call
type Category string

const (
	CategoryTransfer Category = "transfer"
	CategorySwap     Category = "swap"
	CategoryBridge   Category = "bridge"
	CategoryCustom   Category = "custom"
	CategoryUnknown  Category = "unknown"
)

// AllCategories lists every category in display order
var AllCategories = []Category{
	CategoryTransfer,
	CategorySwap,
	CategoryBridge,
	CategoryCustom,
	CategoryUnknown,
}

// Categorize assigns a category from a function name.
// Matching is case-insensitive and checked in the order swap, bridge, transfer.
func Categorize(name string) Category {
	if name == "" {
		return CategoryUnknown
	}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "swap"):
		return CategorySwap
	case strings.Contains(lower, "bridge"):
		return CategoryBridge
	case strings.Contains(lower, "transfer"):
		return CategoryTransfer
	default:
		return CategoryCustom
	}
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}
