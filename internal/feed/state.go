package feed

import (
	"context"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

// Filter selects the product listing. Filters compare by value.
type Filter struct {
	SearchText   string
	CategorySlug string
}

// Status is the feed loading state.
type Status uint8

const (
	StatusIdle Status = iota
	StatusLoadingFirst
	StatusLoadingMore
	StatusExhausted
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoadingFirst:
		return "loading_first"
	case StatusLoadingMore:
		return "loading_more"
	case StatusExhausted:
		return "exhausted"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Loading reports whether a page fetch is outstanding.
func (s Status) Loading() bool {
	return s == StatusLoadingFirst || s == StatusLoadingMore
}

// Page is one fetched page of products.
type Page struct {
	Index int
	Items []catalog.Product
	// IsLast is set when the backend reported that no further page exists.
	IsLast bool
}

// PageFetcher loads a page of the listing. index is zero-based.
type PageFetcher interface {
	FetchPage(ctx context.Context, f Filter, index, size int) (Page, error)
}

// State is a published feed snapshot. Items is never mutated after publishing.
type State struct {
	Generation  uint64
	Filter      Filter
	Items       []catalog.Product
	CurrentPage int
	HasMore     bool
	Status      Status
}
