package suggest

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

// Kind is the source of a suggestion.
type Kind uint8

const (
	KindProduct Kind = iota + 1
	KindShop
	KindCategory
)

// ErrUnknownKind is returned by ParseKind for unrecognised names.
var ErrUnknownKind = errors.New("unknown suggestion kind")

func (k Kind) String() string {
	switch k {
	case KindProduct:
		return "product"
	case KindShop:
		return "shop"
	case KindCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ParseKind parses the lowercase kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "product":
		return KindProduct, nil
	case "shop":
		return KindShop, nil
	case "category":
		return KindCategory, nil
	default:
		return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
	}
}

// Suggestion is a single type-ahead entry. It is never mutated after creation.
type Suggestion struct {
	Kind        Kind
	ID          string
	DisplayName string
	Slug        string
	ImageRef    string
	Price       decimal.NullDecimal
}

// Intent is the navigation request emitted when a suggestion is selected.
type Intent struct {
	Kind Kind
	ID   string
	Slug string
}

// Set is a published suggestion snapshot. Buckets are capped and kept in
// Product, Shop, Category order.
type Set struct {
	Epoch      uint64
	Query      string
	Products   []Suggestion
	Shops      []Suggestion
	Categories []Suggestion
}

// Len returns the total number of suggestions.
func (s Set) Len() int {
	return len(s.Products) + len(s.Shops) + len(s.Categories)
}

// All returns every suggestion in bucket order.
func (s Set) All() []Suggestion {
	out := make([]Suggestion, 0, s.Len())
	out = append(out, s.Products...)
	out = append(out, s.Shops...)
	out = append(out, s.Categories...)
	return out
}

func fromProduct(p catalog.Product) Suggestion {
	return Suggestion{
		Kind:        KindProduct,
		ID:          p.ID,
		DisplayName: p.Name,
		Slug:        p.Slug,
		ImageRef:    p.Image,
		Price:       decimal.NewNullDecimal(p.Price),
	}
}

func fromShop(s catalog.Shop) Suggestion {
	return Suggestion{
		Kind:        KindShop,
		ID:          s.ID,
		DisplayName: s.Name,
		Slug:        s.Slug,
		ImageRef:    s.Logo,
	}
}

func fromCategory(c catalog.Category) Suggestion {
	return Suggestion{
		Kind:        KindCategory,
		ID:          c.ID,
		DisplayName: c.Name,
		Slug:        c.Slug,
	}
}
