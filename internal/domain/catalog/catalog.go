// Package catalog holds the marketplace catalog types shared by the storefront
// controllers, the backend client and the catalog stub.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested catalog entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Product represents a sellable item listed by a shop.
type Product struct {
	ID           string
	Name         string
	Slug         string
	Price        decimal.Decimal
	Image        string
	ShopID       string
	CategorySlug string
}

// Shop is a vendor storefront inside the marketplace.
type Shop struct {
	ID   string
	Name string
	Slug string
	Logo string
}

// Category groups products for browsing.
type Category struct {
	ID   string
	Name string
	Slug string
}

// ProductQuery describes a single page request against the product listing.
// Page is zero-based.
type ProductQuery struct {
	Search       string
	CategorySlug string
	Page         int
	PageSize     int
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Items []Product
	// Last is set when the backend reported that no further page exists.
	Last bool
	// Total is the backend-reported total match count, or -1 when unknown.
	Total int
}

// Directory is the read side of the shop and category lists that are loaded
// once when a storefront session mounts.
type Directory interface {
	Shops() []Shop
	Categories() []Category
}

// StaticDirectory is an immutable Directory snapshot.
type StaticDirectory struct {
	ShopList     []Shop
	CategoryList []Category
}

var _ Directory = StaticDirectory{}

// Shops returns the shop list.
func (d StaticDirectory) Shops() []Shop { return d.ShopList }

// Categories returns the category list.
func (d StaticDirectory) Categories() []Category { return d.CategoryList }

// Repository defines the read operations the catalog stub serves.
type Repository interface {
	ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error)
	ListShops(ctx context.Context, page, pageSize int) (shops []Shop, total int, err error)
	ListCategories(ctx context.Context) ([]Category, error)
}
