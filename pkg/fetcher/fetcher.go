// Package fetcher walks a Notion content tree breadth-bounded by a
// per-branch depth budget and a global item budget shared across all
// branches.
package fetcher

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/notiontools/notion2prompt/pkg/logging"
	"github.com/notiontools/notion2prompt/pkg/notion"
	"github.com/notiontools/notion2prompt/pkg/scheduler"
)

// Prometheus metrics for tree traversal.
var (
	itemsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_fetcher_items_total",
		Help: "Total number of content nodes attached to fetched trees",
	})

	errorLeaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_fetcher_error_leaves_total",
		Help: "Total number of nodes turned into error leaves during traversal",
	})

	budgetTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_fetcher_truncations_total",
		Help: "Total number of nodes whose children were cut off by the item budget",
	})
)

// Config controls a traversal.
type Config struct {
	// Depth is how many levels below the root to expand. 0 fetches the
	// root alone.
	Depth int

	// Limit caps the total number of nodes in the tree, root included.
	Limit int

	// AlwaysFetchDatabases fetches rows of databases encountered at the
	// depth boundary, where pages and blocks would not be expanded.
	AlwaysFetchDatabases bool

	// IncludeProperties keeps page properties on fetched nodes.
	IncludeProperties bool
}

// Fetcher expands content trees through a Repository, bounding API
// concurrency with a shared scheduler.
type Fetcher struct {
	repo   notion.Repository
	sched  *scheduler.Scheduler
	cfg    Config
	logger zerolog.Logger
}

// New creates a fetcher. All branches of one Fetch call share the
// scheduler's slots and a single item budget.
func New(repo notion.Repository, sched *scheduler.Scheduler, cfg Config) *Fetcher {
	return &Fetcher{
		repo:   repo,
		sched:  sched,
		cfg:    cfg,
		logger: logging.NewLogger("fetcher"),
	}
}

// Fetch resolves the root object and expands the tree below it. A root
// that cannot be resolved is a fatal error; failures below the root
// become error leaves inside the tree instead.
func (f *Fetcher) Fetch(ctx context.Context, id notion.ID, hint notion.TypeHint) (*notion.ContentNode, error) {
	budget := NewBudget(f.cfg.Limit)

	var root *notion.ContentNode
	err := f.sched.Do(ctx, func() error {
		var err error
		root, err = f.repo.ResolveObject(ctx, id, hint)
		return err
	})
	if err != nil {
		return nil, err
	}

	budget.TakeItem() // the root itself
	itemsFetched.Inc()
	f.stripProperties(root)

	if err := f.expand(ctx, root, f.cfg.Depth, budget); err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("root_id", string(id)).
		Int("nodes", root.CountNodes()).
		Int("depth", root.MaxDepth()).
		Int("budget_remaining", budget.Remaining()).
		Msg("Tree fetch complete")

	return root, nil
}

// expand attaches children to node and recurses. depth is the number of
// levels still allowed below node; the item budget is global.
func (f *Fetcher) expand(ctx context.Context, node *notion.ContentNode, depth int, budget *Budget) error {
	if node.FetchErr != "" {
		return nil
	}

	switch node.Kind {
	case notion.KindDatabase:
		return f.expandDatabase(ctx, node, depth, budget)
	case notion.KindPage:
		if depth <= 0 {
			return nil
		}
		return f.expandChildren(ctx, node, depth, budget)
	case notion.KindBlock:
		if depth <= 0 || !node.HasChildren {
			return nil
		}
		return f.expandChildren(ctx, node, depth, budget)
	}
	return nil
}

// expandDatabase attaches a database's rows. Rows are fetched even at
// the depth boundary when AlwaysFetchDatabases is set, but are only
// expanded further while depth remains.
func (f *Fetcher) expandDatabase(ctx context.Context, node *notion.ContentNode, depth int, budget *Budget) error {
	if depth <= 0 && !f.cfg.AlwaysFetchDatabases {
		return nil
	}
	if !budget.HasItems() {
		node.Truncated = true
		budgetTruncations.Inc()
		return nil
	}

	var rows []*notion.ContentNode
	var hasMore bool
	err := f.sched.Do(ctx, func() error {
		var err error
		rows, hasMore, err = f.repo.QueryRows(ctx, node.ID, budget.Remaining())
		return err
	})
	if err != nil {
		return f.markErrorLeaf(ctx, node, err)
	}

	attached := f.attach(node, rows, budget, hasMore)
	if depth <= 0 {
		return nil
	}
	return f.recurse(ctx, attached, depth-1, budget)
}

// expandChildren attaches a page's or block's child blocks. child_page
// and child_database blocks are swapped for the full page or database
// object when they will be expanded further.
func (f *Fetcher) expandChildren(ctx context.Context, node *notion.ContentNode, depth int, budget *Budget) error {
	if !budget.HasItems() {
		node.Truncated = true
		budgetTruncations.Inc()
		return nil
	}

	var children []*notion.ContentNode
	var hasMore bool
	err := f.sched.Do(ctx, func() error {
		var err error
		children, hasMore, err = f.repo.RetrieveChildren(ctx, node.ID, budget.Remaining())
		return err
	})
	if err != nil {
		return f.markErrorLeaf(ctx, node, err)
	}

	attached := f.attach(node, children, budget, hasMore)

	// Upgrade stubs only for children that made it past the budget.
	for i, child := range attached {
		if resolved, err := f.resolveChild(ctx, child, depth-1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			child.FetchErr = err.Error()
			errorLeaves.Inc()
		} else if resolved != nil {
			attached[i] = resolved
		}
	}

	return f.recurse(ctx, attached, depth-1, budget)
}

// resolveChild upgrades child_page and child_database stub blocks to
// their full objects. Returns nil when the block stays as-is.
func (f *Fetcher) resolveChild(ctx context.Context, child *notion.ContentNode, childDepth int) (*notion.ContentNode, error) {
	if child.Kind != notion.KindBlock {
		return nil, nil
	}

	switch child.BlockType {
	case "child_page":
		if childDepth <= 0 {
			return nil, nil
		}
		var page *notion.ContentNode
		err := f.sched.Do(ctx, func() error {
			var err error
			page, err = f.repo.RetrievePage(ctx, child.ID)
			return err
		})
		if err != nil {
			return nil, err
		}
		f.stripProperties(page)
		return page, nil
	case "child_database":
		if childDepth <= 0 && !f.cfg.AlwaysFetchDatabases {
			return nil, nil
		}
		var db *notion.ContentNode
		err := f.sched.Do(ctx, func() error {
			var err error
			db, err = f.repo.RetrieveDatabase(ctx, child.ID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, nil
}

// attach claims budget for each candidate child and appends those that
// fit, marking the parent truncated when the budget or the listing cut
// the set short. Returns the children that were attached.
func (f *Fetcher) attach(node *notion.ContentNode, candidates []*notion.ContentNode, budget *Budget, listingCut bool) []*notion.ContentNode {
	node.Children = make([]*notion.ContentNode, 0, len(candidates))
	for _, child := range candidates {
		if !budget.TakeItem() {
			node.Truncated = true
			budgetTruncations.Inc()
			break
		}
		f.stripProperties(child)
		node.Children = append(node.Children, child)
		itemsFetched.Inc()
	}
	if listingCut && !node.Truncated {
		node.Truncated = true
		budgetTruncations.Inc()
	}
	return node.Children
}

// recurse expands the attached children concurrently. Children were
// attached in order and each goroutine only touches its own subtree, so
// the tree stays deterministic.
func (f *Fetcher) recurse(ctx context.Context, children []*notion.ContentNode, depth int, budget *Budget) error {
	if depth < 0 || len(children) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return f.expand(gctx, child, depth, budget)
		})
	}
	return g.Wait()
}

// markErrorLeaf converts a fetch failure into an error leaf, except for
// context cancellation, which aborts the whole traversal.
func (f *Fetcher) markErrorLeaf(ctx context.Context, node *notion.ContentNode, err error) error {
	if ctx.Err() != nil || errors.Is(err, notion.ErrContextCancelled) {
		return err
	}
	node.FetchErr = err.Error()
	errorLeaves.Inc()
	f.logger.Warn().
		Str("id", string(node.ID)).
		Str("kind", string(node.Kind)).
		Err(err).
		Msg("Node content unavailable, continuing traversal")
	return nil
}

func (f *Fetcher) stripProperties(node *notion.ContentNode) {
	if !f.cfg.IncludeProperties && node != nil {
		node.Properties = nil
	}
}
