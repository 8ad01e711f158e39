package notion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Wire-format fragments shared by page, database, and block payloads.

type richText struct {
	PlainText string `json:"plain_text"`
}

func joinRichText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

type optionJSON struct {
	Name string `json:"name"`
}

type dateJSON struct {
	Start string  `json:"start"`
	End   *string `json:"end"`
}

// propertyJSON covers the property value variants we render. The Type
// field selects which payload field is populated.
type propertyJSON struct {
	Type           string       `json:"type"`
	Title          []richText   `json:"title"`
	RichText       []richText   `json:"rich_text"`
	Number         *float64     `json:"number"`
	Select         *optionJSON  `json:"select"`
	MultiSelect    []optionJSON `json:"multi_select"`
	Status         *optionJSON  `json:"status"`
	Date           *dateJSON    `json:"date"`
	Checkbox       *bool        `json:"checkbox"`
	URL            *string      `json:"url"`
	Email          *string      `json:"email"`
	PhoneNumber    *string      `json:"phone_number"`
	People         []optionJSON `json:"people"`
	CreatedTime    *time.Time   `json:"created_time"`
	LastEditedTime *time.Time   `json:"last_edited_time"`
}

// formatProperty renders a property value to a display string.
// Returns false for variants we don't render (relations, rollups, files).
func formatProperty(p propertyJSON) (string, bool) {
	switch p.Type {
	case "title":
		return joinRichText(p.Title), true
	case "rich_text":
		return joinRichText(p.RichText), true
	case "number":
		if p.Number == nil {
			return "", true
		}
		return strconv.FormatFloat(*p.Number, 'f', -1, 64), true
	case "select":
		if p.Select == nil {
			return "", true
		}
		return p.Select.Name, true
	case "status":
		if p.Status == nil {
			return "", true
		}
		return p.Status.Name, true
	case "multi_select":
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ", "), true
	case "date":
		if p.Date == nil {
			return "", true
		}
		if p.Date.End != nil {
			return p.Date.Start + " → " + *p.Date.End, true
		}
		return p.Date.Start, true
	case "checkbox":
		if p.Checkbox != nil && *p.Checkbox {
			return "Yes", true
		}
		return "No", true
	case "url":
		if p.URL == nil {
			return "", true
		}
		return *p.URL, true
	case "email":
		if p.Email == nil {
			return "", true
		}
		return *p.Email, true
	case "phone_number":
		if p.PhoneNumber == nil {
			return "", true
		}
		return *p.PhoneNumber, true
	case "people":
		names := make([]string, 0, len(p.People))
		for _, o := range p.People {
			names = append(names, o.Name)
		}
		return strings.Join(names, ", "), true
	case "created_time":
		if p.CreatedTime == nil {
			return "", true
		}
		return p.CreatedTime.Format(time.RFC3339), true
	case "last_edited_time":
		if p.LastEditedTime == nil {
			return "", true
		}
		return p.LastEditedTime.Format(time.RFC3339), true
	default:
		return "", false
	}
}

// parsePage converts a GET /pages/{id} response into a page node.
// Properties are always parsed; the fetcher strips them when they were
// not requested.
func parsePage(data []byte) (*ContentNode, error) {
	var p struct {
		Object         string                  `json:"object"`
		ID             string                  `json:"id"`
		LastEditedTime time.Time               `json:"last_edited_time"`
		URL            string                  `json:"url"`
		Properties     map[string]propertyJSON `json:"properties"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse page response: %w", err)
	}
	if p.Object != "page" {
		return nil, fmt.Errorf("parse page response: unexpected object %q", p.Object)
	}

	node := &ContentNode{
		Kind:       KindPage,
		ID:         normalizeID(p.ID),
		LastEdited: p.LastEditedTime,
		URL:        p.URL,
		Properties: make(map[string]PropertyValue, len(p.Properties)),
	}

	for name, prop := range p.Properties {
		if prop.Type == "title" {
			node.Title = joinRichText(prop.Title)
		}
		if value, ok := formatProperty(prop); ok {
			node.Properties[name] = PropertyValue{Type: prop.Type, Value: value}
		}
	}
	if node.Title == "" {
		node.Title = "Untitled"
	}

	return node, nil
}

// parseDatabase converts a GET /databases/{id} response into a database
// node carrying the schema. Rows are attached later via QueryRows.
func parseDatabase(data []byte) (*ContentNode, error) {
	var d struct {
		Object         string     `json:"object"`
		ID             string     `json:"id"`
		Title          []richText `json:"title"`
		LastEditedTime time.Time  `json:"last_edited_time"`
		URL            string     `json:"url"`
		Properties     map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse database response: %w", err)
	}
	if d.Object != "database" {
		return nil, fmt.Errorf("parse database response: unexpected object %q", d.Object)
	}

	node := &ContentNode{
		Kind:       KindDatabase,
		ID:         normalizeID(d.ID),
		Title:      joinRichText(d.Title),
		LastEdited: d.LastEditedTime,
		URL:        d.URL,
		Schema:     make([]SchemaProperty, 0, len(d.Properties)),
	}
	if node.Title == "" {
		node.Title = "Untitled"
	}

	for name, prop := range d.Properties {
		node.Schema = append(node.Schema, SchemaProperty{Name: name, Type: prop.Type})
	}
	// Map iteration order is random; keep the schema deterministic.
	sort.Slice(node.Schema, func(i, j int) bool { return node.Schema[i].Name < node.Schema[j].Name })

	return node, nil
}

// blockPayload is the type-specific payload under a block's type key.
type blockPayload struct {
	RichText []richText `json:"rich_text"`
	Title    string     `json:"title"` // child_page / child_database
	Checked  *bool      `json:"checked"`
	Language string     `json:"language"`
}

// parseBlock converts a block object into a block node. The payload
// lives under a dynamic key named after the block type.
func parseBlock(data []byte) (*ContentNode, error) {
	var b struct {
		Object         string    `json:"object"`
		ID             string    `json:"id"`
		Type           string    `json:"type"`
		HasChildren    bool      `json:"has_children"`
		LastEditedTime time.Time `json:"last_edited_time"`
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse block response: %w", err)
	}
	if b.Object != "block" {
		return nil, fmt.Errorf("parse block response: unexpected object %q", b.Object)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse block response: %w", err)
	}

	node := &ContentNode{
		Kind:        KindBlock,
		ID:          normalizeID(b.ID),
		BlockType:   b.Type,
		HasChildren: b.HasChildren,
		LastEdited:  b.LastEditedTime,
	}

	if raw, ok := fields[b.Type]; ok {
		var payload blockPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("parse %s block payload: %w", b.Type, err)
		}
		node.Text = joinRichText(payload.RichText)
		node.Title = payload.Title
		node.Language = payload.Language
		if payload.Checked != nil {
			node.Checked = *payload.Checked
		}
	}

	return node, nil
}

// listEnvelope is the paginated list wrapper shared by the children and
// query endpoints.
type listEnvelope struct {
	Object     string            `json:"object"`
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

func parseList(data []byte) (*listEnvelope, error) {
	var env listEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse list response: %w", err)
	}
	if env.Object != "list" {
		return nil, fmt.Errorf("parse list response: unexpected object %q", env.Object)
	}
	return &env, nil
}

// parseBlockList parses one page of a children listing.
func parseBlockList(data []byte) ([]*ContentNode, *listEnvelope, error) {
	env, err := parseList(data)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]*ContentNode, 0, len(env.Results))
	for _, raw := range env.Results {
		node, err := parseBlock(raw)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, env, nil
}

// parsePageList parses one page of a database query result.
func parsePageList(data []byte) ([]*ContentNode, *listEnvelope, error) {
	env, err := parseList(data)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]*ContentNode, 0, len(env.Results))
	for _, raw := range env.Results {
		node, err := parsePage(raw)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, env, nil
}

// normalizeID strips dashes from ids as returned by the API. Falls back
// to the raw string when it isn't a well-formed id.
func normalizeID(raw string) ID {
	id, err := ParseID(raw)
	if err != nil {
		return ID(raw)
	}
	return id
}
