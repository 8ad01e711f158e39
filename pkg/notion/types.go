// Package notion provides the Notion API client and the content tree
// data model: pages, databases, and blocks fetched from a workspace.
package notion

import (
	"context"
	"time"
)

// Kind discriminates the three content node variants.
type Kind string

const (
	// KindPage is a Notion page.
	KindPage Kind = "page"

	// KindDatabase is a Notion database (schema plus rows).
	KindDatabase Kind = "database"

	// KindBlock is a content block inside a page.
	KindBlock Kind = "block"
)

// PropertyValue is a page property rendered to a display string.
type PropertyValue struct {
	Type  string
	Value string
}

// SchemaProperty describes one column of a database schema.
type SchemaProperty struct {
	Name string
	Type string
}

// ContentNode is one node of a fetched content tree. It is a tagged
// variant: Kind selects which payload fields are meaningful.
//
// Children are absent until the tree fetcher attaches them; they are
// kept in source document order (database rows are the exception and
// are sorted newest first).
type ContentNode struct {
	Kind       Kind
	ID         ID
	Title      string
	LastEdited time.Time
	URL        string

	// Block payload.
	BlockType   string
	Text        string
	Checked     bool   // to_do blocks
	Language    string // code blocks
	HasChildren bool

	// Database payload: column definitions, sorted by name.
	Schema []SchemaProperty

	// Page properties; attached only when properties were requested.
	Properties map[string]PropertyValue

	Children []*ContentNode

	// Truncated marks a node whose children were cut short by the
	// global item budget. Rendered as a truncation marker, not an error.
	Truncated bool

	// FetchErr records why this node's content could not be fetched.
	// A node with FetchErr set is an error leaf: it is rendered with an
	// error marker and never expanded.
	FetchErr string
}

// CountNodes returns the number of nodes in the tree rooted at n.
func (n *ContentNode) CountNodes() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += child.CountNodes()
	}
	return total
}

// MaxDepth returns the depth of the deepest node below n (0 for a leaf).
func (n *ContentNode) MaxDepth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, child := range n.Children {
		if d := child.MaxDepth() + 1; d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Repository is the fetch surface the tree fetcher walks. It is
// implemented by Client (direct HTTP) and CachedRepository (HTTP behind
// a request-coalescing TTL cache).
//
// RetrieveChildren and QueryRows follow pagination cursors until the
// source is exhausted or roughly max items have been collected; the
// returned bool reports whether more items remained unfetched.
type Repository interface {
	RetrievePage(ctx context.Context, id ID) (*ContentNode, error)
	RetrieveDatabase(ctx context.Context, id ID) (*ContentNode, error)
	RetrieveBlock(ctx context.Context, id ID) (*ContentNode, error)
	RetrieveChildren(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error)
	QueryRows(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error)
	ResolveObject(ctx context.Context, id ID, hint TypeHint) (*ContentNode, error)
}
