package feed

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

// SortOrder is a display-only ordering of loaded items.
type SortOrder uint8

const (
	// SortRelevance keeps backend order.
	SortRelevance SortOrder = iota
	SortPriceAsc
	SortPriceDesc
	SortNameAsc
	SortNameDesc
)

var sortNames = map[string]SortOrder{
	"":           SortRelevance,
	"relevance":  SortRelevance,
	"price_asc":  SortPriceAsc,
	"price_desc": SortPriceDesc,
	"name_asc":   SortNameAsc,
	"name_desc":  SortNameDesc,
}

// ParseSortOrder parses a sort query value. Empty means relevance.
func ParseSortOrder(s string) (SortOrder, error) {
	o, ok := sortNames[s]
	if !ok {
		return 0, errors.Errorf("unknown sort order %q", s)
	}
	return o, nil
}

func (o SortOrder) String() string {
	switch o {
	case SortPriceAsc:
		return "price_asc"
	case SortPriceDesc:
		return "price_desc"
	case SortNameAsc:
		return "name_asc"
	case SortNameDesc:
		return "name_desc"
	default:
		return "relevance"
	}
}

// ViewMode is the renderer layout. It does not change the items.
type ViewMode uint8

const (
	ViewGrid ViewMode = iota
	ViewList
)

// ParseViewMode parses a view query value. Empty means grid.
func ParseViewMode(s string) (ViewMode, error) {
	switch s {
	case "", "grid":
		return ViewGrid, nil
	case "list":
		return ViewList, nil
	default:
		return 0, errors.Errorf("unknown view mode %q", s)
	}
}

func (v ViewMode) String() string {
	if v == ViewList {
		return "list"
	}
	return "grid"
}

// Display holds the local post-filters applied to loaded items.
type Display struct {
	Sort     SortOrder
	View     ViewMode
	MinPrice decimal.NullDecimal
	MaxPrice decimal.NullDecimal
}

// View projects the loaded items through d. The state itself is untouched.
func (s State) View(d Display) []catalog.Product {
	out := make([]catalog.Product, 0, len(s.Items))
	for _, p := range s.Items {
		if d.MinPrice.Valid && p.Price.LessThan(d.MinPrice.Decimal) {
			continue
		}
		if d.MaxPrice.Valid && p.Price.GreaterThan(d.MaxPrice.Decimal) {
			continue
		}
		out = append(out, p)
	}

	switch d.Sort {
	case SortPriceAsc:
		slices.SortStableFunc(out, func(a, b catalog.Product) int { return a.Price.Cmp(b.Price) })
	case SortPriceDesc:
		slices.SortStableFunc(out, func(a, b catalog.Product) int { return b.Price.Cmp(a.Price) })
	case SortNameAsc, SortNameDesc:
		col := collate.New(language.Und, collate.IgnoreCase)
		desc := d.Sort == SortNameDesc
		slices.SortStableFunc(out, func(a, b catalog.Product) int {
			if desc {
				return col.CompareString(b.Name, a.Name)
			}
			return col.CompareString(a.Name, b.Name)
		})
	}
	return out
}
