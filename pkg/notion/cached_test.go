package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/notiontools/notion2prompt/internal/testutil"
	"github.com/notiontools/notion2prompt/pkg/cache"
)

func newCachedRepo(t *testing.T, m *testutil.MockNotion) *CachedRepository {
	t.Helper()
	return NewCachedRepository(newTestClient(t, m), cache.New(time.Minute))
}

func TestCachedRepositoryReusesPage(t *testing.T) {
	m := testutil.NewMockNotion(t)
	id := makeID(40)
	path := "pages/" + id.Dashed()
	m.AddPage(id.Dashed(), testutil.PageJSON(id.Dashed(), "Cached", "2026-01-15T10:00:00.000Z"))

	repo := newCachedRepo(t, m)
	ctx := context.Background()

	first, err := repo.RetrievePage(ctx, id)
	if err != nil {
		t.Fatalf("first RetrievePage: %v", err)
	}
	second, err := repo.RetrievePage(ctx, id)
	if err != nil {
		t.Fatalf("second RetrievePage: %v", err)
	}
	if first.Title != second.Title {
		t.Errorf("cache hit parsed differently: %q vs %q", first.Title, second.Title)
	}
	if got := m.RequestsFor(path); got != 1 {
		t.Errorf("requests = %d, want 1 (second call must be a cache hit)", got)
	}
}

func TestCachedRepositoryCoalescesConcurrentFetches(t *testing.T) {
	m := testutil.NewMockNotion(t)
	id := makeID(41)
	path := "pages/" + id.Dashed()
	m.AddPage(id.Dashed(), testutil.PageJSON(id.Dashed(), "Hot", "2026-01-15T10:00:00.000Z"))

	repo := newCachedRepo(t, m)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.RetrievePage(context.Background(), id)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	// Coalescing admits at most a few flights, never one per caller.
	if got := m.RequestsFor(path); got > 2 {
		t.Errorf("requests = %d, want concurrent callers coalesced onto one flight", got)
	}
}

func TestCachedRepositoryFailuresNotCached(t *testing.T) {
	m := testutil.NewMockNotion(t)
	id := makeID(42)
	path := "pages/" + id.Dashed()
	m.AddPage(id.Dashed(), testutil.PageJSON(id.Dashed(), "Recovers", "2026-01-15T10:00:00.000Z"))
	m.FailNext(path, 500, 500, 500) // exhausts the fast retry budget

	repo := newCachedRepo(t, m)
	ctx := context.Background()

	if _, err := repo.RetrievePage(ctx, id); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	node, err := repo.RetrievePage(ctx, id)
	if err != nil {
		t.Fatalf("second fetch should retry fresh, got: %v", err)
	}
	if node.Title != "Recovers" {
		t.Errorf("Title = %q", node.Title)
	}
}

func TestCachedRepositoryCachesCompleteListings(t *testing.T) {
	m := testutil.NewMockNotion(t)
	parent := makeID(43)
	path := "blocks/" + parent.Dashed() + "/children"

	var raws []json.RawMessage
	for i := 0; i < 5; i++ {
		raws = append(raws, testutil.BlockJSON(makeID(4300+i).Dashed(), "paragraph", fmt.Sprintf("b%d", i), false))
	}
	m.SetChildren(parent.Dashed(), raws...)

	repo := newCachedRepo(t, m)
	ctx := context.Background()

	first, _, err := repo.RetrieveChildren(ctx, parent, 0)
	if err != nil {
		t.Fatalf("first RetrieveChildren: %v", err)
	}
	second, hasMore, err := repo.RetrieveChildren(ctx, parent, 0)
	if err != nil {
		t.Fatalf("second RetrieveChildren: %v", err)
	}
	if hasMore {
		t.Error("cached complete listing reported hasMore")
	}
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("got %d then %d children, want 5 and 5", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Errorf("child %d differs after cache round-trip: %q vs %q", i, first[i].Text, second[i].Text)
		}
	}
	if got := m.RequestsFor(path); got != 1 {
		t.Errorf("requests = %d, want 1 (complete listing must be cached)", got)
	}
}

func TestCachedRepositoryDoesNotCachePartialListings(t *testing.T) {
	m := testutil.NewMockNotion(t)
	parent := makeID(44)
	path := "blocks/" + parent.Dashed() + "/children"

	var raws []json.RawMessage
	for i := 0; i < 250; i++ {
		raws = append(raws, testutil.BlockJSON(makeID(4400+i).Dashed(), "paragraph", fmt.Sprintf("b%d", i), false))
	}
	m.SetChildren(parent.Dashed(), raws...)

	repo := newCachedRepo(t, m)
	ctx := context.Background()

	partial, hasMore, err := repo.RetrieveChildren(ctx, parent, 100)
	if err != nil {
		t.Fatalf("partial RetrieveChildren: %v", err)
	}
	if !hasMore || len(partial) != 100 {
		t.Fatalf("got %d children hasMore=%v, want 100 and true", len(partial), hasMore)
	}

	full, hasMore, err := repo.RetrieveChildren(ctx, parent, 0)
	if err != nil {
		t.Fatalf("full RetrieveChildren: %v", err)
	}
	if hasMore || len(full) != 250 {
		t.Errorf("got %d children hasMore=%v, want 250 and false (partial result must not be served)", len(full), hasMore)
	}
	if got := m.RequestsFor(path); got < 4 {
		t.Errorf("requests = %d, want the second call to refetch all 3 pages", got)
	}
}

func TestCachedRepositoryRowsSortedOnCacheHit(t *testing.T) {
	m := testutil.NewMockNotion(t)
	db := makeID(45)
	m.SetRows(db.Dashed(),
		testutil.PageJSON(makeID(4501).Dashed(), "Old", "2026-01-01T00:00:00.000Z"),
		testutil.PageJSON(makeID(4502).Dashed(), "New", "2026-02-01T00:00:00.000Z"),
	)

	repo := newCachedRepo(t, m)
	ctx := context.Background()

	if _, _, err := repo.QueryRows(ctx, db, 0); err != nil {
		t.Fatalf("first QueryRows: %v", err)
	}
	rows, _, err := repo.QueryRows(ctx, db, 0)
	if err != nil {
		t.Fatalf("second QueryRows: %v", err)
	}
	if rows[0].Title != "New" || rows[1].Title != "Old" {
		t.Errorf("cache hit lost newest-first order: %q, %q", rows[0].Title, rows[1].Title)
	}
	if got := m.RequestsFor("databases/" + db.Dashed() + "/query"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}
