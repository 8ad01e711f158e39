package notion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notiontools/notion2prompt/pkg/cache"
	"github.com/notiontools/notion2prompt/pkg/logging"
)

// CachedRepository wraps a Client behind a request-coalescing TTL cache.
// Raw API JSON is what gets cached; cache hits re-parse through the same
// parsers as live responses, so the domain model is never serialized.
//
// Keys follow the fetch kind plus content id ("page_{id}",
// "children_{id}", ...) so the same node reached via multiple parents
// coalesces onto one network call.
type CachedRepository struct {
	inner  *Client
	store  *cache.Store
	logger zerolog.Logger
}

// NewCachedRepository wraps client with store.
func NewCachedRepository(client *Client, store *cache.Store) *CachedRepository {
	return &CachedRepository{
		inner:  client,
		store:  store,
		logger: logging.NewLogger("cached-repository"),
	}
}

func pageKey(id ID) string     { return "page_" + string(id) }
func databaseKey(id ID) string { return "db_" + string(id) }
func blockKey(id ID) string    { return "block_" + string(id) }
func childrenKey(id ID) string { return "children_" + string(id) }
func rowsKey(id ID) string     { return "rows_" + string(id) }

// RetrievePage fetches a page through the cache.
func (r *CachedRepository) RetrievePage(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := r.store.GetOrFetch(ctx, pageKey(id), func(ctx context.Context) ([]byte, error) {
		return r.inner.get(ctx, "pages/"+id.Dashed(), "pages")
	})
	if err != nil {
		return nil, err
	}
	return parsePage(data)
}

// RetrieveDatabase fetches a database object through the cache.
func (r *CachedRepository) RetrieveDatabase(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := r.store.GetOrFetch(ctx, databaseKey(id), func(ctx context.Context) ([]byte, error) {
		return r.inner.get(ctx, "databases/"+id.Dashed(), "databases")
	})
	if err != nil {
		return nil, err
	}
	return parseDatabase(data)
}

// RetrieveBlock fetches a block through the cache.
func (r *CachedRepository) RetrieveBlock(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := r.store.GetOrFetch(ctx, blockKey(id), func(ctx context.Context) ([]byte, error) {
		return r.inner.get(ctx, "blocks/"+id.Dashed(), "blocks")
	})
	if err != nil {
		return nil, err
	}
	return parseBlock(data)
}

// RetrieveChildren fetches child blocks through the cache. Complete
// listings are cached as an array of raw response pages; a listing cut
// short by max is returned but not cached, since a later caller with a
// larger budget could not reuse it.
func (r *CachedRepository) RetrieveChildren(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error) {
	key := childrenKey(id)

	if data, ok := r.store.Get(key); ok {
		nodes, err := parseRawBlockPages(data)
		if err != nil {
			return nil, false, err
		}
		r.logger.Debug().Str("key", key).Bool("cache_hit", true).Msg("Children served from cache")
		return nodes, false, nil
	}

	var nodes []*ContentNode
	var hasMore bool
	_, err := r.store.Coalesce(ctx, key, func(ctx context.Context) ([]byte, error) {
		raw, fetched, more, err := r.inner.fetchAllChildren(ctx, id, max)
		if err != nil {
			return nil, err
		}
		nodes, hasMore = fetched, more
		if !more {
			if data, err := marshalRawPages(raw); err == nil {
				r.store.Set(key, data)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}
	if nodes == nil {
		// A coalesced waiter does not share the winner's parsed slice;
		// the winner has populated the cache for complete listings, so
		// retry the read and fall back to a direct fetch for partials.
		if data, ok := r.store.Get(key); ok {
			parsed, err := parseRawBlockPages(data)
			if err != nil {
				return nil, false, err
			}
			return parsed, false, nil
		}
		return r.inner.RetrieveChildren(ctx, id, max)
	}
	return nodes, hasMore, nil
}

// QueryRows fetches database rows through the cache, mirroring
// RetrieveChildren's complete-listing policy.
func (r *CachedRepository) QueryRows(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error) {
	key := rowsKey(id)

	if data, ok := r.store.Get(key); ok {
		nodes, err := parseRawRowPages(data)
		if err != nil {
			return nil, false, err
		}
		sortRowsByLastEditedDesc(nodes)
		r.logger.Debug().Str("key", key).Bool("cache_hit", true).Msg("Rows served from cache")
		return nodes, false, nil
	}

	var nodes []*ContentNode
	var hasMore bool
	_, err := r.store.Coalesce(ctx, key, func(ctx context.Context) ([]byte, error) {
		raw, fetched, more, err := r.inner.fetchAllRows(ctx, id, max)
		if err != nil {
			return nil, err
		}
		nodes, hasMore = fetched, more
		if !more {
			if data, err := marshalRawPages(raw); err == nil {
				r.store.Set(key, data)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}
	if nodes == nil {
		if data, ok := r.store.Get(key); ok {
			parsed, err := parseRawRowPages(data)
			if err != nil {
				return nil, false, err
			}
			sortRowsByLastEditedDesc(parsed)
			return parsed, false, nil
		}
		return r.inner.QueryRows(ctx, id, max)
	}
	return nodes, hasMore, nil
}

// ResolveObject determines an unknown id's type through the cache.
func (r *CachedRepository) ResolveObject(ctx context.Context, id ID, hint TypeHint) (*ContentNode, error) {
	return resolveObject(ctx, r, id, hint)
}

// marshalRawPages encodes the raw response pages of a complete paginated
// listing as a single cache value.
func marshalRawPages(raw [][]byte) ([]byte, error) {
	pages := make([]json.RawMessage, len(raw))
	for i, p := range raw {
		pages[i] = json.RawMessage(p)
	}
	return json.Marshal(pages)
}

func unmarshalRawPages(data []byte) ([]json.RawMessage, error) {
	var pages []json.RawMessage
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decode cached listing: %w", err)
	}
	return pages, nil
}

func parseRawBlockPages(data []byte) ([]*ContentNode, error) {
	pages, err := unmarshalRawPages(data)
	if err != nil {
		return nil, err
	}
	var nodes []*ContentNode
	for _, page := range pages {
		pageNodes, _, err := parseBlockList(page)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, pageNodes...)
	}
	return nodes, nil
}

func parseRawRowPages(data []byte) ([]*ContentNode, error) {
	pages, err := unmarshalRawPages(data)
	if err != nil {
		return nil, err
	}
	var nodes []*ContentNode
	for _, page := range pages {
		pageNodes, _, err := parsePageList(page)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, pageNodes...)
	}
	return nodes, nil
}
