package suggest

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

type foldedName struct {
	name string
	idx  int
}

// localIndex holds case-folded shop and category names of one directory.
type localIndex struct {
	fold       cases.Caser
	shops      []catalog.Shop
	categories []catalog.Category
	shopNames  []foldedName
	catNames   []foldedName
}

func newLocalIndex(dir catalog.Directory) *localIndex {
	ix := &localIndex{fold: cases.Fold()}
	if dir == nil {
		return ix
	}
	ix.shops = dir.Shops()
	ix.categories = dir.Categories()
	for i, s := range ix.shops {
		ix.shopNames = append(ix.shopNames, foldedName{name: ix.fold.String(s.Name), idx: i})
	}
	for i, c := range ix.categories {
		ix.catNames = append(ix.catNames, foldedName{name: ix.fold.String(c.Name), idx: i})
	}
	return ix
}

// match returns up to limit shops and categories whose names contain query,
// ignoring case. Directory order is preserved.
func (ix *localIndex) match(query string, shopLimit, categoryLimit int) (shops, categories []Suggestion) {
	q := ix.fold.String(query)
	for _, n := range ix.shopNames {
		if len(shops) >= shopLimit {
			break
		}
		if strings.Contains(n.name, q) {
			shops = append(shops, fromShop(ix.shops[n.idx]))
		}
	}
	for _, n := range ix.catNames {
		if len(categories) >= categoryLimit {
			break
		}
		if strings.Contains(n.name, q) {
			categories = append(categories, fromCategory(ix.categories[n.idx]))
		}
	}
	return shops, categories
}
