package pipeline

import (
	"errors"
	"fmt"

	"github.com/notiontools/notion2prompt/pkg/notion"
)

// ConfigError reports invalid configuration: a malformed input
// reference, an unknown template, or out-of-range numeric settings. It
// is always raised before any network traffic.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError reports a missing or rejected API key.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError reports that the requested root object does not exist
// or is not shared with the integration.
type NotFoundError struct {
	ID  notion.ID
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("content %s not found or not shared with the integration", e.ID.Dashed())
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// classifyRootError maps a root fetch failure onto the caller-facing
// error types. Failures below the root never reach here; they become
// error leaves inside the tree.
func classifyRootError(id notion.ID, err error) error {
	switch {
	case errors.Is(err, notion.ErrUnauthorized):
		return &AuthError{Err: err}
	case errors.Is(err, notion.ErrNotFound):
		return &NotFoundError{ID: id, Err: err}
	default:
		return err
	}
}
