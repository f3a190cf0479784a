package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

const (
	bloomFPR     = 0.001
	maxLineBytes = 1 << 20
)

type shopJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Logo string `json:"logo"`
}

type categoryJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type productJSON struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image"`
	ShopID   int64           `json:"shop_id"`
	Category string          `json:"category"`
}

// dump is the parsed content of a data directory.
type dump struct {
	Shops      []catalog.Shop
	Categories []catalog.Category
	Products   []catalog.Product
}

// dumpFile finds name.jsonl.gz or name.jsonl in dir.
func dumpFile(dir, name string) (string, error) {
	for _, ext := range []string{".jsonl.gz", ".jsonl"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Errorf("no %s.jsonl.gz or %s.jsonl in %s", name, name, dir)
}

// readDump loads the shop, category and product files concurrently.
func readDump(ctx context.Context, dir string) (*dump, error) {
	var d dump
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return readFile(ctx, dir, "shops", func(line []byte) error {
			var v shopJSON
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			d.Shops = append(d.Shops, catalog.Shop{ID: formatID(v.ID), Name: v.Name, Slug: v.Slug, Logo: v.Logo})
			return nil
		})
	})
	g.Go(func() error {
		return readFile(ctx, dir, "categories", func(line []byte) error {
			var v categoryJSON
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			d.Categories = append(d.Categories, catalog.Category{ID: formatID(v.ID), Name: v.Name, Slug: v.Slug})
			return nil
		})
	})
	g.Go(func() error {
		return readFile(ctx, dir, "products", func(line []byte) error {
			var v productJSON
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			if v.Price.IsNegative() {
				return errors.Errorf("product %d: negative price", v.ID)
			}
			d.Products = append(d.Products, catalog.Product{
				ID:           formatID(v.ID),
				Name:         v.Name,
				Slug:         v.Slug,
				Price:        v.Price,
				Image:        v.Image,
				ShopID:       formatID(v.ShopID),
				CategorySlug: v.Category,
			})
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

func readFile(ctx context.Context, dir, name string, fn func(line []byte) error) error {
	path, err := dumpFile(dir, name)
	if err != nil {
		return err
	}
	var count int
	if err := streamLines(ctx, path, func(line []byte) error {
		count++
		return fn(line)
	}); err != nil {
		return errors.Wrapf(err, "read %s line %d", name, count)
	}
	slog.Info("read dump file", slog.String("path", path), slog.Int("records", count))
	return nil
}

// streamLines calls fn for every non-blank line of path, decompressing
// .gz files.
func streamLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// dedupeSlugs makes product slugs unique. A bloom filter flags slugs that
// may repeat; only those candidates are counted exactly. Every occurrence of a
// confirmed duplicate after the first gets the product id appended. It
// returns the number of renamed products.
func dedupeSlugs(products []catalog.Product) int {
	if len(products) == 0 {
		return 0
	}
	filter := bloom.NewWithEstimates(uint(len(products)), bloomFPR)
	candidates := make(map[string]int)
	for _, p := range products {
		if filter.TestAndAddString(p.Slug) {
			candidates[p.Slug] = 0
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	renamed := 0
	for i, p := range products {
		n, ok := candidates[p.Slug]
		if !ok {
			continue
		}
		candidates[p.Slug] = n + 1
		if n > 0 {
			products[i].Slug = p.Slug + "-" + p.ID
			renamed++
		}
	}
	return renamed
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
