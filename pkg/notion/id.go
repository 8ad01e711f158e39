package notion

import (
	"fmt"
	"net/url"
	"strings"
)

// ID is a normalized Notion object identifier: 32 lowercase hex
// characters with dashes stripped.
type ID string

// ParseID normalizes the various ways users hand us a Notion id:
// a bare 32-hex id, a dashed UUID, or a notion.so URL.
func ParseID(input string) (ID, error) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		id, ok := idFromURL(input)
		if !ok {
			return "", fmt.Errorf("%w: could not extract id from URL %q", ErrInvalidID, input)
		}
		input = id
	}

	normalized := strings.ToLower(strings.ReplaceAll(input, "-", ""))
	if len(normalized) != 32 {
		return "", fmt.Errorf("%w: expected 32 hex characters, got %d", ErrInvalidID, len(normalized))
	}
	for _, r := range normalized {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: %q is not hexadecimal", ErrInvalidID, input)
		}
	}

	return ID(normalized), nil
}

// String returns the compact 32-hex form.
func (id ID) String() string {
	return string(id)
}

// Dashed returns the hyphenated UUID form the API expects in paths.
func (id ID) Dashed() string {
	s := string(id)
	if len(s) != 32 {
		return s
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}

// idFromURL pulls the trailing 32-hex id out of a notion.so URL.
// Page URLs look like notion.so/Some-Title-<32hex>; the `p` query
// parameter takes precedence when present (peek-preview links).
func idFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	if p := u.Query().Get("p"); p != "" {
		return p, true
	}

	segment := u.Path
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	segment = strings.ReplaceAll(segment, "-", "")
	if len(segment) < 32 {
		return "", false
	}
	return segment[len(segment)-32:], true
}

// TypeHint is a guess at an object's type derived from the raw user
// input, used to skip a wasted resolution attempt.
type TypeHint string

const (
	// HintUnknown means no type could be inferred; resolution tries
	// page, then database, then block.
	HintUnknown TypeHint = "unknown"

	// HintDatabase means the input looked like a database URL;
	// resolution tries the database endpoint first.
	HintDatabase TypeHint = "database"
)

// DetectTypeHint inspects the raw user input for database URL markers.
// Database view URLs carry a `v` query parameter.
func DetectTypeHint(input string) TypeHint {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return HintUnknown
	}
	u, err := url.Parse(input)
	if err != nil {
		return HintUnknown
	}
	if u.Query().Get("v") != "" {
		return HintDatabase
	}
	return HintUnknown
}
