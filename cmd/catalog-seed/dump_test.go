package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestReadDump(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, filepath.Join(dir, "products.jsonl.gz"),
		`{"id":1,"name":"Phone","slug":"phone","price":"199.90","image":"/p.png","shop_id":3,"category":"phones"}
{"id":2,"name":"Cable","slug":"cable","price":4.5,"shop_id":3,"category":"cables"}

`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shops.jsonl"),
		[]byte(`{"id":3,"name":"Telecom Hub","slug":"telecom-hub","logo":"/l.png"}`+"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.jsonl"),
		[]byte(`{"id":1,"name":"Phones","slug":"phones"}
{"id":2,"name":"Cables","slug":"cables"}`), 0o600))

	d, err := readDump(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, d.Products, 2)
	assert.Equal(t, "1", d.Products[0].ID)
	assert.Equal(t, "199.9", d.Products[0].Price.String())
	assert.Equal(t, "3", d.Products[0].ShopID)
	assert.Equal(t, "phones", d.Products[0].CategorySlug)
	assert.Equal(t, "4.5", d.Products[1].Price.String())
	assert.Equal(t, []catalog.Shop{{ID: "3", Name: "Telecom Hub", Slug: "telecom-hub", Logo: "/l.png"}}, d.Shops)
	assert.Len(t, d.Categories, 2)
}

func TestReadDump_Errors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := readDump(context.Background(), t.TempDir())
		require.Error(t, err)
	})
	t.Run("BadLine", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"shops", "categories"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name+".jsonl"), nil, 0o600))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "products.jsonl"),
			[]byte(`{"id":1,"slug":"a","price":"1"}`+"\n"+`{"id":`), 0o600))
		_, err := readDump(context.Background(), dir)
		require.ErrorContains(t, err, "products line 2")
	})
	t.Run("NegativePrice", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"shops", "categories"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name+".jsonl"), nil, 0o600))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "products.jsonl"),
			[]byte(`{"id":1,"slug":"a","price":"-1"}`), 0o600))
		_, err := readDump(context.Background(), dir)
		require.ErrorContains(t, err, "negative price")
	})
}

func TestDedupeSlugs(t *testing.T) {
	products := []catalog.Product{
		{ID: "1", Slug: "phone"},
		{ID: "2", Slug: "cable"},
		{ID: "3", Slug: "phone"},
		{ID: "4", Slug: "case"},
		{ID: "5", Slug: "phone"},
	}
	assert.Equal(t, 2, dedupeSlugs(products))

	var slugs []string
	for _, p := range products {
		slugs = append(slugs, p.Slug)
	}
	assert.Equal(t, []string{"phone", "cable", "phone-3", "case", "phone-5"}, slugs)

	assert.Zero(t, dedupeSlugs(nil))
	assert.Zero(t, dedupeSlugs([]catalog.Product{{ID: "1", Slug: "a"}, {ID: "2", Slug: "b"}}))
}

func TestInBatches(t *testing.T) {
	items := make([]int, batchSize*2+1)
	var sizes []int
	require.NoError(t, inBatches(items, func(b []int) error {
		sizes = append(sizes, len(b))
		return nil
	}))
	assert.Equal(t, []int{batchSize, batchSize, 1}, sizes)
}
