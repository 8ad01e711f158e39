package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notiontools/notion2prompt/pkg/notion"
)

// markers embedded in rendered content for nodes that could not be
// fetched or were cut off by the item budget.
const (
	unavailableMarker = "[unavailable: %s]"
	truncatedMarker   = "[content truncated: item limit reached]"
)

// Property is one page property prepared for rendering, in sorted order.
type Property struct {
	Name  string
	Value string
}

// Document is one renderable unit: a page or database flattened out of
// the content tree. Block content is folded into the owning document.
type Document struct {
	Index      int
	Source     string
	Title      string
	Properties []Property
	Content    string
}

// promptData is the root object handed to a template.
type promptData struct {
	Documents   []Document
	Instruction string
}

// flatten walks the tree in document order and emits one Document per
// page and database. The input tree is never modified.
func flatten(root *notion.ContentNode, includeProperties bool) []Document {
	var docs []Document
	flattenNode(root, nil, includeProperties, &docs)
	for i := range docs {
		docs[i].Index = i + 1
	}
	return docs
}

func flattenNode(node *notion.ContentNode, path []string, includeProperties bool, docs *[]Document) {
	switch node.Kind {
	case notion.KindPage:
		flattenPage(node, path, includeProperties, docs)
	case notion.KindDatabase:
		flattenDatabase(node, path, includeProperties, docs)
	case notion.KindBlock:
		// A bare block root still renders as a single document.
		doc := Document{
			Source: sourceOf(node),
			Title:  titlePath(path, blockTitle(node)),
		}
		var b strings.Builder
		writeBlock(&b, node, 0, new(int))
		doc.Content = strings.TrimRight(b.String(), "\n")
		*docs = append(*docs, doc)
	}
}

func flattenPage(node *notion.ContentNode, path []string, includeProperties bool, docs *[]Document) {
	doc := Document{
		Source: sourceOf(node),
		Title:  titlePath(path, node.Title),
	}
	if includeProperties {
		doc.Properties = sortedProperties(node.Properties)
	}

	if node.FetchErr != "" {
		doc.Content = fmt.Sprintf(unavailableMarker, node.FetchErr)
		*docs = append(*docs, doc)
		return
	}

	var b strings.Builder
	var nested []*notion.ContentNode
	counter := 0
	for _, child := range node.Children {
		if child.Kind == notion.KindBlock {
			writeBlock(&b, child, 0, &counter)
		} else {
			nested = append(nested, child)
		}
	}
	if node.Truncated {
		b.WriteString(truncatedMarker + "\n")
	}
	doc.Content = strings.TrimRight(b.String(), "\n")
	*docs = append(*docs, doc)

	childPath := append(append([]string(nil), path...), titleOf(node.Title))
	for _, child := range nested {
		flattenNode(child, childPath, includeProperties, docs)
	}
}

func flattenDatabase(node *notion.ContentNode, path []string, includeProperties bool, docs *[]Document) {
	doc := Document{
		Source: sourceOf(node),
		Title:  titlePath(path, node.Title),
	}

	if node.FetchErr != "" {
		doc.Content = fmt.Sprintf(unavailableMarker, node.FetchErr)
		*docs = append(*docs, doc)
		return
	}

	var b strings.Builder
	if len(node.Schema) > 0 {
		cols := make([]string, 0, len(node.Schema))
		for _, p := range node.Schema {
			cols = append(cols, fmt.Sprintf("%s (%s)", p.Name, p.Type))
		}
		b.WriteString("Columns: " + strings.Join(cols, ", ") + "\n")
	}
	b.WriteString(fmt.Sprintf("Entries: %d\n", len(node.Children)))
	if node.Truncated {
		b.WriteString(truncatedMarker + "\n")
	}
	doc.Content = strings.TrimRight(b.String(), "\n")
	*docs = append(*docs, doc)

	// Rows render as their own documents, newest first as fetched.
	childPath := append(append([]string(nil), path...), titleOf(node.Title))
	for _, row := range node.Children {
		flattenNode(row, childPath, includeProperties, docs)
	}
}

// writeBlock renders one block and its nested blocks as indented
// markdown-flavored text. counter numbers consecutive numbered list
// items at the same level.
func writeBlock(b *strings.Builder, node *notion.ContentNode, indent int, counter *int) {
	if node.BlockType != "numbered_list_item" {
		*counter = 0
	}

	if node.FetchErr != "" {
		writeLine(b, indent, fmt.Sprintf(unavailableMarker, node.FetchErr))
		return
	}

	switch node.BlockType {
	case "heading_1":
		writeLine(b, indent, "# "+node.Text)
	case "heading_2":
		writeLine(b, indent, "## "+node.Text)
	case "heading_3":
		writeLine(b, indent, "### "+node.Text)
	case "bulleted_list_item", "toggle":
		writeLine(b, indent, "- "+node.Text)
	case "numbered_list_item":
		*counter++
		writeLine(b, indent, fmt.Sprintf("%d. %s", *counter, node.Text))
	case "to_do":
		box := "[ ]"
		if node.Checked {
			box = "[x]"
		}
		writeLine(b, indent, "- "+box+" "+node.Text)
	case "code":
		writeLine(b, indent, "```"+node.Language)
		for _, line := range strings.Split(node.Text, "\n") {
			writeLine(b, indent, line)
		}
		writeLine(b, indent, "```")
	case "quote":
		writeLine(b, indent, "> "+node.Text)
	case "callout":
		writeLine(b, indent, "> "+node.Text)
	case "divider":
		writeLine(b, indent, "---")
	case "child_page", "child_database":
		// Unexpanded stub: reference by title only.
		writeLine(b, indent, "→ "+blockTitle(node))
	case "paragraph":
		if node.Text != "" {
			writeLine(b, indent, node.Text)
		}
	default:
		if node.Text != "" {
			writeLine(b, indent, node.Text)
		}
	}

	nestedCounter := 0
	for _, child := range node.Children {
		if child.Kind == notion.KindBlock {
			writeBlock(b, child, indent+1, &nestedCounter)
		}
	}
	if node.Truncated {
		writeLine(b, indent+1, truncatedMarker)
	}
}

func writeLine(b *strings.Builder, indent int, line string) {
	for i := 0; i < indent; i++ {
		b.WriteString("  ")
	}
	b.WriteString(line)
	b.WriteByte('\n')
}

func sortedProperties(props map[string]notion.PropertyValue) []Property {
	if len(props) == 0 {
		return nil
	}
	out := make([]Property, 0, len(props))
	for name, v := range props {
		out = append(out, Property{Name: name, Value: v.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sourceOf(node *notion.ContentNode) string {
	if node.URL != "" {
		return node.URL
	}
	return node.ID.Dashed()
}

func titleOf(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

func blockTitle(node *notion.ContentNode) string {
	if node.Title != "" {
		return node.Title
	}
	return titleOf("")
}

func titlePath(path []string, title string) string {
	parts := append(append([]string(nil), path...), titleOf(title))
	return strings.Join(parts, " > ")
}
