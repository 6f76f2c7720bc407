package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Base content document keys. Every other key of a content document belongs
// to the type-specific Fields map.
const (
	ContentKeyID           = "id"
	ContentKeyResourceID   = "resourceId"
	ContentKeyResourceType = "resourceType"
	ContentKeyLocationID   = "locationId"
	ContentKeyComment      = "comment"
	ContentKeyNotes        = "notes"
	ContentKeyCreatedAt    = "createdAt"
	ContentKeyModifiedAt   = "modifiedAt"
)

var contentBaseKeys = map[string]bool{
	ContentKeyID:           true,
	ContentKeyResourceID:   true,
	ContentKeyResourceType: true,
	ContentKeyLocationID:   true,
	ContentKeyComment:      true,
	ContentKeyNotes:        true,
	ContentKeyCreatedAt:    true,
	ContentKeyModifiedAt:   true,
}

// IsContentBaseKey reports whether key is a base content key rather than a
// type-specific field.
func IsContentBaseKey(key string) bool {
	return contentBaseKeys[key]
}

// Content is one typed payload bound to a resource and a location. The JSON
// form flattens Fields into the top-level document.
type Content struct {
	ID           string
	ResourceID   string
	ResourceType string
	LocationID   string
	Comment      string
	Notes        string
	Fields       map[string]any // Type-specific fields, keyed by field name.
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// Document returns the flattened document form of c.
func (c *Content) Document() map[string]any {
	doc := make(map[string]any, len(c.Fields)+8)
	maps.Copy(doc, c.Fields)
	if c.ID != "" {
		doc[ContentKeyID] = c.ID
	}
	doc[ContentKeyResourceID] = c.ResourceID
	doc[ContentKeyResourceType] = c.ResourceType
	doc[ContentKeyLocationID] = c.LocationID
	if c.Comment != "" {
		doc[ContentKeyComment] = c.Comment
	}
	if c.Notes != "" {
		doc[ContentKeyNotes] = c.Notes
	}
	if !c.CreatedAt.IsZero() {
		doc[ContentKeyCreatedAt] = c.CreatedAt.Format(time.RFC3339Nano)
	}
	if !c.ModifiedAt.IsZero() {
		doc[ContentKeyModifiedAt] = c.ModifiedAt.Format(time.RFC3339Nano)
	}
	return doc
}

// ContentFromDocument builds a Content from its flattened document form.
// Bookkeeping keys are ignored; the caller assigns them.
func ContentFromDocument(doc map[string]any) (*Content, error) {
	c := &Content{Fields: map[string]any{}}
	for k, v := range doc {
		switch k {
		case ContentKeyID, ContentKeyCreatedAt, ContentKeyModifiedAt:
		case ContentKeyResourceID:
			s, err := stringValue(k, v)
			if err != nil {
				return nil, err
			}
			c.ResourceID = s
		case ContentKeyResourceType:
			s, err := stringValue(k, v)
			if err != nil {
				return nil, err
			}
			c.ResourceType = s
		case ContentKeyLocationID:
			s, err := stringValue(k, v)
			if err != nil {
				return nil, err
			}
			c.LocationID = s
		case ContentKeyComment:
			s, err := stringValue(k, v)
			if err != nil {
				return nil, err
			}
			c.Comment = s
		case ContentKeyNotes:
			s, err := stringValue(k, v)
			if err != nil {
				return nil, err
			}
			c.Notes = s
		default:
			c.Fields[k] = v
		}
	}
	return c, nil
}

// MarshalJSON encodes c in its flattened document form.
func (c *Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Document())
}

// UnmarshalJSON decodes a flattened content document, including bookkeeping
// keys.
func (c *Content) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	parsed, err := ContentFromDocument(doc)
	if err != nil {
		return err
	}
	if id, ok := doc[ContentKeyID].(string); ok {
		parsed.ID = id
	}
	parsed.CreatedAt = parseTime(doc[ContentKeyCreatedAt])
	parsed.ModifiedAt = parseTime(doc[ContentKeyModifiedAt])
	*c = *parsed
	return nil
}

func stringValue(key string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %s must be a string", ErrValidation, key)
	}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
