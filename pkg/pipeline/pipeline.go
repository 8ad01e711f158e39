// Package pipeline wires the client, cache, scheduler, fetcher, and
// renderer into the fetch-and-render flow behind a single Config.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/notiontools/notion2prompt/pkg/cache"
	"github.com/notiontools/notion2prompt/pkg/fetcher"
	"github.com/notiontools/notion2prompt/pkg/logging"
	"github.com/notiontools/notion2prompt/pkg/notion"
	"github.com/notiontools/notion2prompt/pkg/render"
	"github.com/notiontools/notion2prompt/pkg/scheduler"
)

// EnvAPIKey is the environment variable consulted when Config.APIKey is
// empty.
const EnvAPIKey = "NOTION_API_KEY"

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultDepth    = 5
	DefaultLimit    = 1000
	DefaultTemplate = "claude-xml"
	DefaultCacheTTL = 300 * time.Second
)

// Config holds every setting of one pipeline instance.
type Config struct {
	// Input is the root to fetch: a Notion URL or a bare 32-char id.
	Input string

	// APIKey is the integration token. Falls back to the NOTION_API_KEY
	// environment variable when empty.
	APIKey string

	// Depth is how many levels below the root to expand. 0 applies the
	// default; a negative value fetches the root alone.
	Depth int

	// Limit caps the total number of fetched nodes, root included.
	Limit int

	// Template selects the output format.
	Template string

	// AlwaysFetchDatabases fetches rows of databases sitting at the
	// depth boundary.
	AlwaysFetchDatabases bool

	// IncludeProperties keeps page properties in the output.
	IncludeProperties bool

	// Instruction opens the rendered prompt when non-empty.
	Instruction string

	// NoCache disables the response cache entirely.
	NoCache bool

	// CacheTTL is how long cached responses stay fresh.
	CacheTTL time.Duration

	// Concurrency bounds simultaneous API calls. 0 derives a limit from
	// the CPU count.
	Concurrency int

	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// Pipeline is a configured fetch-and-render flow. The cache and the
// concurrency limiter live on the Pipeline, so repeated calls on one
// instance share cached responses.
type Pipeline struct {
	cfg    Config
	id     notion.ID
	hint   notion.TypeHint
	repo   notion.Repository
	sched  *scheduler.Scheduler
	logger zerolog.Logger
}

// New validates cfg and builds a pipeline. Validation is complete
// before any network traffic: an unknown template or malformed input
// fails here, not after a fetch.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Depth == 0 {
		cfg.Depth = DefaultDepth
	} else if cfg.Depth < 0 {
		cfg.Depth = 0
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = scheduler.DefaultLimit()
	}

	if cfg.Limit < 1 {
		return nil, &ConfigError{Field: "limit", Err: fmt.Errorf("must be at least 1, got %d", cfg.Limit)}
	}
	if err := render.Validate(cfg.Template); err != nil {
		return nil, &ConfigError{Field: "template", Err: err}
	}

	id, err := notion.ParseID(cfg.Input)
	if err != nil {
		return nil, &ConfigError{Field: "input", Err: err}
	}
	hint := notion.DetectTypeHint(cfg.Input)

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, &AuthError{Err: fmt.Errorf("no API key: set Config.APIKey or %s", EnvAPIKey)}
	}

	clientOpts := []notion.Option{}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, notion.WithBaseURL(cfg.BaseURL))
	}
	client, err := notion.NewClient(cfg.APIKey, clientOpts...)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	store := cache.New(cfg.CacheTTL)
	if cfg.NoCache {
		store = cache.Disabled()
	}

	return &Pipeline{
		cfg:    cfg,
		id:     id,
		hint:   hint,
		repo:   notion.NewCachedRepository(client, store),
		sched:  scheduler.New(cfg.Concurrency),
		logger: logging.NewLogger("pipeline"),
	}, nil
}

// FetchContent fetches the content tree rooted at the configured input.
func (p *Pipeline) FetchContent(ctx context.Context) (*notion.ContentNode, error) {
	f := fetcher.New(p.repo, p.sched, fetcher.Config{
		Depth:                p.cfg.Depth,
		Limit:                p.cfg.Limit,
		AlwaysFetchDatabases: p.cfg.AlwaysFetchDatabases,
		IncludeProperties:    p.cfg.IncludeProperties,
	})

	p.logger.Info().
		Str("root_id", string(p.id)).
		Int("depth", p.cfg.Depth).
		Int("limit", p.cfg.Limit).
		Int("concurrency", p.sched.Limit()).
		Msg("Fetching content tree")

	root, err := f.Fetch(ctx, p.id, p.hint)
	if err != nil {
		return nil, classifyRootError(p.id, err)
	}
	return root, nil
}

// RenderContent renders an already-fetched tree with the configured
// template. Pure: no network, and the tree is not modified.
func (p *Pipeline) RenderContent(root *notion.ContentNode) (string, error) {
	return render.Render(root, render.Options{
		Template:          p.cfg.Template,
		IncludeProperties: p.cfg.IncludeProperties,
		Instruction:       p.cfg.Instruction,
	})
}

// FetchAndRender runs the full flow: fetch the tree, render the prompt.
func (p *Pipeline) FetchAndRender(ctx context.Context) (string, error) {
	root, err := p.FetchContent(ctx)
	if err != nil {
		return "", err
	}
	return p.RenderContent(root)
}
