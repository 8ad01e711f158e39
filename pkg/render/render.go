// Package render turns a fetched content tree into prompt text. Output
// is a pure function of the tree and the options: no network, no clock,
// no randomness, and the input tree is never mutated.
package render

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/notiontools/notion2prompt/pkg/notion"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrUnknownTemplate is returned when the requested template name is
// not in the registry.
var ErrUnknownTemplate = fmt.Errorf("unknown template")

// registry maps template names to embedded template files. Aliases map
// to the same file.
var registry = map[string]string{
	"claude-xml": "templates/claude-xml.tmpl",
	"default":    "templates/default.tmpl",
	"markdown":   "templates/default.tmpl",
}

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Options controls rendering.
type Options struct {
	// Template is the registry name of the output format.
	Template string

	// IncludeProperties emits page properties alongside content.
	IncludeProperties bool

	// Instruction opens the prompt when non-empty.
	Instruction string
}

// Names lists the registered template names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that name is a registered template. Doing this before
// any fetching means a typo fails fast instead of after the network work.
func Validate(name string) error {
	if _, ok := registry[name]; !ok {
		return fmt.Errorf("%w: %q (available: %s)", ErrUnknownTemplate, name, strings.Join(Names(), ", "))
	}
	return nil
}

// Render produces prompt text from the tree. Same tree and options,
// same output.
func Render(root *notion.ContentNode, opts Options) (string, error) {
	file, ok := registry[opts.Template]
	if !ok {
		return "", fmt.Errorf("%w: %q (available: %s)", ErrUnknownTemplate, opts.Template, strings.Join(Names(), ", "))
	}

	data := promptData{
		Documents:   flatten(root, opts.IncludeProperties),
		Instruction: strings.TrimSpace(opts.Instruction),
	}

	name := file[strings.LastIndex(file, "/")+1:]
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", opts.Template, err)
	}
	return strings.TrimLeft(b.String(), "\n"), nil
}
