package testutil

import (
	"encoding/json"
	"fmt"
)

// JSON builders for Notion API object payloads. They produce the
// minimal shape the parsers read; ids are passed dashed, as the API
// returns them.

func rich(text string) []map[string]any {
	if text == "" {
		return []map[string]any{}
	}
	return []map[string]any{{"plain_text": text}}
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal payload: %v", err))
	}
	return data
}

// PageJSON builds a page object with a Name title property.
func PageJSON(id, title, lastEdited string) json.RawMessage {
	return PageWithPropsJSON(id, title, lastEdited, nil)
}

// PageWithPropsJSON builds a page object with extra properties beyond
// the title. Extra values are rich_text properties.
func PageWithPropsJSON(id, title, lastEdited string, extra map[string]string) json.RawMessage {
	props := map[string]any{
		"Name": map[string]any{"type": "title", "title": rich(title)},
	}
	for name, value := range extra {
		props[name] = map[string]any{"type": "rich_text", "rich_text": rich(value)}
	}
	return marshal(map[string]any{
		"object":           "page",
		"id":               id,
		"last_edited_time": lastEdited,
		"url":              "https://www.notion.so/" + id,
		"properties":       props,
	})
}

// DatabaseJSON builds a database object. schema maps column names to
// property types.
func DatabaseJSON(id, title, lastEdited string, schema map[string]string) json.RawMessage {
	props := map[string]any{}
	for name, typ := range schema {
		props[name] = map[string]any{"type": typ}
	}
	return marshal(map[string]any{
		"object":           "database",
		"id":               id,
		"title":            rich(title),
		"last_edited_time": lastEdited,
		"url":              "https://www.notion.so/" + id,
		"properties":       props,
	})
}

// BlockJSON builds a block whose payload carries rich text, e.g.
// paragraph or heading_1.
func BlockJSON(id, blockType, text string, hasChildren bool) json.RawMessage {
	return marshal(map[string]any{
		"object":       "block",
		"id":           id,
		"type":         blockType,
		"has_children": hasChildren,
		blockType:      map[string]any{"rich_text": rich(text)},
	})
}

// TodoBlockJSON builds a to_do block.
func TodoBlockJSON(id, text string, checked bool) json.RawMessage {
	return marshal(map[string]any{
		"object":       "block",
		"id":           id,
		"type":         "to_do",
		"has_children": false,
		"to_do":        map[string]any{"rich_text": rich(text), "checked": checked},
	})
}

// CodeBlockJSON builds a code block.
func CodeBlockJSON(id, code, language string) json.RawMessage {
	return marshal(map[string]any{
		"object":       "block",
		"id":           id,
		"type":         "code",
		"has_children": false,
		"code":         map[string]any{"rich_text": rich(code), "language": language},
	})
}

// ChildPageBlockJSON builds a child_page stub block.
func ChildPageBlockJSON(id, title string) json.RawMessage {
	return marshal(map[string]any{
		"object":       "block",
		"id":           id,
		"type":         "child_page",
		"has_children": true,
		"child_page":   map[string]any{"title": title},
	})
}

// ChildDatabaseBlockJSON builds a child_database stub block.
func ChildDatabaseBlockJSON(id, title string) json.RawMessage {
	return marshal(map[string]any{
		"object":         "block",
		"id":             id,
		"type":           "child_database",
		"has_children":   true,
		"child_database": map[string]any{"title": title},
	})
}
