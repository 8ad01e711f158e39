package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/notiontools/notion2prompt/internal/testutil"
	"github.com/notiontools/notion2prompt/pkg/notion"
)

const rootID = "0123456789abcdef0123456789abcdef"

func dashed(id string) string {
	return notion.ID(id).Dashed()
}

func validConfig(m *testutil.MockNotion) Config {
	return Config{
		Input:   rootID,
		APIKey:  "secret_test",
		BaseURL: m.URL(),
	}
}

func TestNewRejectsUnknownTemplateBeforeNetwork(t *testing.T) {
	m := testutil.NewMockNotion(t)
	cfg := validConfig(m)
	cfg.Template = "claude_xml"

	_, err := New(cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "template" {
		t.Fatalf("error = %v, want template ConfigError", err)
	}
	if m.Requests() != 0 {
		t.Errorf("requests = %d, want 0 (validation must precede fetching)", m.Requests())
	}
}

func TestNewRejectsMalformedInput(t *testing.T) {
	m := testutil.NewMockNotion(t)
	cfg := validConfig(m)
	cfg.Input = "not-an-id"

	_, err := New(cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "input" {
		t.Fatalf("error = %v, want input ConfigError", err)
	}
}

func TestNewRejectsInvalidLimit(t *testing.T) {
	m := testutil.NewMockNotion(t)

	cfg := validConfig(m)
	cfg.Limit = -1
	_, err := New(cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "limit" {
		t.Fatalf("error = %v, want limit ConfigError", err)
	}
}

func TestNegativeDepthFetchesRootAlone(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Root Only", "2026-01-15T10:00:00.000Z"))
	m.SetChildren(dashed(rootID),
		testutil.BlockJSON(dashed("ffff0000ffff0000ffff0000ffff0000"), "paragraph", "skipped", false),
	)

	cfg := validConfig(m)
	cfg.Depth = -1

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tree, err := p.FetchContent(context.Background())
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if tree.CountNodes() != 1 {
		t.Errorf("nodes = %d, want 1", tree.CountNodes())
	}
	if got := m.RequestsFor("blocks/" + dashed(rootID) + "/children"); got != 0 {
		t.Errorf("children requests = %d, want 0", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	m := testutil.NewMockNotion(t)
	cfg := validConfig(m)
	cfg.APIKey = ""

	_, err := New(cfg)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
}

func TestNewFallsBackToEnvAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "secret_from_env")
	m := testutil.NewMockNotion(t)
	m.ValidKey = "secret_from_env"
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Env Page", "2026-01-15T10:00:00.000Z"))

	cfg := validConfig(m)
	cfg.APIKey = ""

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tree, err := p.FetchContent(context.Background())
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if tree.Title != "Env Page" {
		t.Errorf("Title = %q", tree.Title)
	}
}

func TestFetchAndRender(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Release Notes", "2026-01-15T10:00:00.000Z"))
	m.SetChildren(dashed(rootID),
		testutil.BlockJSON(dashed("aaaa0000aaaa0000aaaa0000aaaa0000"), "heading_1", "Changes", false),
		testutil.BlockJSON(dashed("bbbb0000bbbb0000bbbb0000bbbb0000"), "paragraph", "Everything is faster.", false),
	)

	cfg := validConfig(m)
	cfg.Instruction = "Write the announcement."

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prompt, err := p.FetchAndRender(context.Background())
	if err != nil {
		t.Fatalf("FetchAndRender: %v", err)
	}

	for _, want := range []string{
		"<document_title>Release Notes</document_title>",
		"# Changes",
		"Everything is faster.",
		"Write the announcement.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRootNotFound(t *testing.T) {
	m := testutil.NewMockNotion(t)
	p, err := New(validConfig(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.FetchContent(context.Background())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if nf.ID != notion.ID(rootID) {
		t.Errorf("NotFoundError.ID = %q, want the root id", nf.ID)
	}
}

func TestRootUnauthorized(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.ValidKey = "some_other_key"
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Private", "2026-01-15T10:00:00.000Z"))

	p, err := New(validConfig(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.FetchContent(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
}

func TestRepeatedFetchesUseCache(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Cached", "2026-01-15T10:00:00.000Z"))
	m.SetChildren(dashed(rootID),
		testutil.BlockJSON(dashed("cccc0000cccc0000cccc0000cccc0000"), "paragraph", "body", false),
	)

	p, err := New(validConfig(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := p.FetchContent(ctx); err != nil {
		t.Fatalf("first FetchContent: %v", err)
	}
	after := m.Requests()

	if _, err := p.FetchContent(ctx); err != nil {
		t.Fatalf("second FetchContent: %v", err)
	}
	if m.Requests() != after {
		t.Errorf("requests grew from %d to %d; second fetch should be served from cache", after, m.Requests())
	}
}

func TestNoCacheDisablesReuse(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Fresh", "2026-01-15T10:00:00.000Z"))

	cfg := validConfig(m)
	cfg.NoCache = true
	cfg.Depth = 0

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := p.FetchContent(ctx); err != nil {
		t.Fatalf("first FetchContent: %v", err)
	}
	first := m.Requests()
	if _, err := p.FetchContent(ctx); err != nil {
		t.Fatalf("second FetchContent: %v", err)
	}
	if m.Requests() <= first {
		t.Error("NoCache should force a refetch")
	}
}

func TestRenderContentIsPure(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Stable", "2026-01-15T10:00:00.000Z"))

	p, err := New(validConfig(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tree, err := p.FetchContent(context.Background())
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	before := m.Requests()

	var outputs []string
	for i := 0; i < 3; i++ {
		out, err := p.RenderContent(tree)
		if err != nil {
			t.Fatalf("RenderContent: %v", err)
		}
		outputs = append(outputs, out)
	}
	if m.Requests() != before {
		t.Error("RenderContent must not touch the network")
	}
	for i := 1; i < len(outputs); i++ {
		if outputs[i] != outputs[0] {
			t.Fatal("RenderContent output varies for the same tree")
		}
	}
}

func TestConcurrencyLimitRespected(t *testing.T) {
	m := testutil.NewMockNotion(t)
	m.AddPage(dashed(rootID), testutil.PageJSON(dashed(rootID), "Serial", "2026-01-15T10:00:00.000Z"))

	var stubs []json.RawMessage
	for i := 0; i < 6; i++ {
		id := dashed(fmt.Sprintf("%028x%04x", 0xd, i))
		stubs = append(stubs, testutil.ChildPageBlockJSON(id, fmt.Sprintf("Sub %d", i)))
		m.AddPage(id, testutil.PageJSON(id, fmt.Sprintf("Sub %d", i), "2026-01-15T10:00:00.000Z"))
		m.SetChildren(id)
	}
	m.SetChildren(dashed(rootID), stubs...)

	cfg := validConfig(m)
	cfg.Concurrency = 1

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.FetchContent(context.Background()); err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if m.MaxInFlight() > 1 {
		t.Errorf("max in-flight requests = %d, want 1", m.MaxInFlight())
	}
}
