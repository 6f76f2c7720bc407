// Package registry maps resource type keys to their behavior bundles.
//
// A Registry is filled once at startup and sealed; after that it is read-only
// and safe for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mesh-intelligence/folio/internal/schema"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Registration errors.
var (
	ErrDuplicateType = errors.New("resource type already registered")
	ErrSealed        = errors.New("registry is sealed")
	ErrInvalidType   = errors.New("invalid resource type")
)

// ResourceType is implemented by every concrete resource type. The field
// lists extend the base resource config, the base content definition and the
// search query shape.
type ResourceType interface {
	Key() string
	ConfigFields() []schema.Field
	ContentFields() []schema.Field
	SearchQueryFields() []schema.Field
}

// IndexProjector customizes the search document of a content item. The
// default projection holds every type-specific field plus the comment.
type IndexProjector interface {
	IndexFields(c *types.Content) map[string]any
}

// Exporter renders type-specific export formats.
type Exporter interface {
	ExportFormats() []ExportFormat
	Export(w io.Writer, in ExportInput, format string) error
}

// TemplateProvider adds type-specific placeholder fields to each content row
// of an import template.
type TemplateProvider interface {
	TemplateFields() map[string]any
}

// MaintenanceHook computes a type-specific precomputed artifact.
type MaintenanceHook interface {
	PrecomputeKind() string
	Precompute(ctx context.Context, in MaintenanceInput) (any, error)
}

// QueryTermer turns a validated type-specific search query into index terms.
// The default uses every non-empty string field of the query.
type QueryTermer interface {
	QueryTerms(q map[string]any) []search.Term
}

// MaintenanceInput is what a MaintenanceHook computes from.
type MaintenanceInput struct {
	Resource *types.Resource
	Contents []*types.Content
}

// Entry is the behavior bundle of one registered type.
type Entry struct {
	Key         string
	Type        ResourceType
	Resource    *schema.Variants
	Content     *schema.Variants
	SearchQuery *schema.View
}

// Registry maps type keys to entries. The zero value is not usable; call New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	sealed  bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Register synthesizes the views of rt and adds it under rt.Key(). It fails
// when the key is taken, the registry is sealed, or synthesis fails.
func (r *Registry) Register(rt ResourceType) error {
	key := rt.Key()
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidType)
	}
	for _, f := range rt.ContentFields() {
		if types.IsContentBaseKey(f.Name) {
			return fmt.Errorf("%w: %s content field %q shadows a base field", ErrInvalidType, key, f.Name)
		}
	}
	resource, err := schema.Synthesize(resourceDefinition(rt))
	if err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}
	content, err := schema.Synthesize(contentDefinition(rt))
	if err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}
	query, err := schema.NewView(key+"Query", schema.VariantQuery, rt.SearchQueryFields())
	if err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, key)
	}
	r.entries[key] = &Entry{
		Key:         key,
		Type:        rt,
		Resource:    resource,
		Content:     content,
		SearchQuery: query,
	}
	r.order = append(r.order, key)
	return nil
}

// Seal freezes the registry. Later Register calls fail with ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the entry for key or types.ErrUnknownResourceType.
func (r *Registry) Get(key string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownResourceType, key)
	}
	return e, nil
}

// CheckStored validates doc against the Stored view of type key for table,
// which is types.ResourcesTable or types.ContentsTable.
func (r *Registry) CheckStored(table, key string, doc map[string]any) error {
	e, err := r.Get(key)
	if err != nil {
		return err
	}
	switch table {
	case types.ResourcesTable:
		return e.Resource.Stored.Validate(doc)
	case types.ContentsTable:
		return e.Content.Stored.Validate(doc)
	}
	return fmt.Errorf("%w: no stored view for table %q", types.ErrValidation, table)
}

// All returns every entry in registration order.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.order))
	for i, k := range r.order {
		out[i] = r.entries[k]
	}
	return out
}

// Keys returns every registered key in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// IndexDocument projects c into a search document fields map.
func (e *Entry) IndexDocument(c *types.Content) map[string]any {
	if p, ok := e.Type.(IndexProjector); ok {
		return p.IndexFields(c)
	}
	out := make(map[string]any, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	if c.Comment != "" {
		out[types.ContentKeyComment] = c.Comment
	}
	return out
}

// QueryTerms converts a type-specific search query into index terms.
func (e *Entry) QueryTerms(q map[string]any) []search.Term {
	if qt, ok := e.Type.(QueryTermer); ok {
		return qt.QueryTerms(q)
	}
	var terms []search.Term
	for _, name := range e.SearchQuery.Names() {
		if s, ok := q[name].(string); ok && s != "" {
			terms = append(terms, search.Term{Field: name, Value: s})
		}
	}
	return terms
}

// TemplateFields returns the placeholder fields of an import template row.
func (e *Entry) TemplateFields() map[string]any {
	if tp, ok := e.Type.(TemplateProvider); ok {
		return tp.TemplateFields()
	}
	return nil
}

// MaintenanceHook returns the type's maintenance hook, if any.
func (e *Entry) MaintenanceHook() (MaintenanceHook, bool) {
	h, ok := e.Type.(MaintenanceHook)
	return h, ok
}
