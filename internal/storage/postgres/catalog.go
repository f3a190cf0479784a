package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, slug, price, image, shop_id, category_slug, count(*) OVER () AS total
		FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR category_slug = $2)
		ORDER BY id
		LIMIT $3 OFFSET $4`

	listShopsSQL = `SELECT id, name, slug, logo, count(*) OVER () AS total
		FROM shops ORDER BY id LIMIT $1 OFFSET $2`

	listCategoriesSQL = `SELECT id, name, slug FROM categories ORDER BY id`

	upsertShopSQL = `INSERT INTO shops (id, name, slug, logo) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, logo = EXCLUDED.logo`

	upsertCategorySQL = `INSERT INTO categories (id, name, slug) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug`

	upsertProductSQL = `INSERT INTO products (id, name, slug, price, image, shop_id, category_slug)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, price = EXCLUDED.price,
			image = EXCLUDED.image, shop_id = EXCLUDED.shop_id, category_slug = EXCLUDED.category_slug`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListProducts returns one page of products whose name contains q.Search,
// ignoring case, optionally restricted to a category. Results are ordered by
// id. A page past the end yields no items and Total -1.
func (r *CatalogRepository) ListProducts(ctx context.Context, q catalog.ProductQuery) (catalog.ProductPage, error) {
	limit, offset := window(q.Page, q.PageSize)
	rows, err := r.pool.Query(ctx, listProductsSQL, escapeLike(q.Search), q.CategorySlug, limit, offset)
	if err != nil {
		return catalog.ProductPage{}, errors.Wrap(err, "list products")
	}

	total := -1
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var (
			p          catalog.Product
			id, shopID int64
			price      decimal.Decimal
		)
		if err := row.Scan(&id, &p.Name, &p.Slug, &price, &p.Image, &shopID, &p.CategorySlug, &total); err != nil {
			return p, err
		}
		p.ID = formatID(id)
		p.ShopID = formatID(shopID)
		p.Price = price
		return p, nil
	})
	if err != nil {
		return catalog.ProductPage{}, errors.Wrap(err, "scan products")
	}
	if len(items) == 0 && q.Page == 0 {
		total = 0
	}
	return catalog.ProductPage{
		Items: items,
		Last:  total >= 0 && offset+len(items) >= total,
		Total: total,
	}, nil
}

// ListShops returns one page of shops ordered by id with the total count.
func (r *CatalogRepository) ListShops(ctx context.Context, page, pageSize int) ([]catalog.Shop, int, error) {
	limit, offset := window(page, pageSize)
	rows, err := r.pool.Query(ctx, listShopsSQL, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list shops")
	}

	total := 0
	shops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Shop, error) {
		var (
			s  catalog.Shop
			id int64
		)
		if err := row.Scan(&id, &s.Name, &s.Slug, &s.Logo, &total); err != nil {
			return s, err
		}
		s.ID = formatID(id)
		return s, nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan shops")
	}
	return shops, total, nil
}

// ListCategories returns every category ordered by id.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var (
			c  catalog.Category
			id int64
		)
		err := row.Scan(&id, &c.Name, &c.Slug)
		c.ID = formatID(id)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan categories")
	}
	return categories, nil
}

// UpsertShops inserts or updates shops in a single batch.
func (r *CatalogRepository) UpsertShops(ctx context.Context, shops []catalog.Shop) error {
	b := &pgx.Batch{}
	for _, s := range shops {
		id, err := parseID(s.ID)
		if err != nil {
			return errors.Wrapf(err, "shop %q", s.Slug)
		}
		b.Queue(upsertShopSQL, id, s.Name, s.Slug, s.Logo)
	}
	return r.send(ctx, "upsert shops", b)
}

// UpsertCategories inserts or updates categories in a single batch.
func (r *CatalogRepository) UpsertCategories(ctx context.Context, categories []catalog.Category) error {
	b := &pgx.Batch{}
	for _, c := range categories {
		id, err := parseID(c.ID)
		if err != nil {
			return errors.Wrapf(err, "category %q", c.Slug)
		}
		b.Queue(upsertCategorySQL, id, c.Name, c.Slug)
	}
	return r.send(ctx, "upsert categories", b)
}

// UpsertProducts inserts or updates products in a single batch. Shops and
// categories they reference must already exist.
func (r *CatalogRepository) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		id, err := parseID(p.ID)
		if err != nil {
			return errors.Wrapf(err, "product %q", p.Slug)
		}
		shopID, err := parseID(p.ShopID)
		if err != nil {
			return errors.Wrapf(err, "product %q shop", p.Slug)
		}
		b.Queue(upsertProductSQL, id, p.Name, p.Slug, p.Price, p.Image, shopID, p.CategorySlug)
	}
	return r.send(ctx, "upsert products", b)
}

// Ping checks database connectivity.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *CatalogRepository) send(ctx context.Context, op string, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := r.pool.SendBatch(ctx, b)
	for i := range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "%s: item %d", op, i)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, op)
	}
	return nil
}

// window converts a zero-based page into LIMIT and OFFSET.
func window(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 1
	}
	if page < 0 {
		page = 0
	}
	return pageSize, page * pageSize
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse id %q", s)
	}
	return id, nil
}
