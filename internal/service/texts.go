package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// LocationInput is one node of a text structure to create. Children sit one
// level deeper.
type LocationInput struct {
	Label    string          `json:"label" yaml:"label"`
	Children []LocationInput `json:"children,omitempty" yaml:"children,omitempty"`
}

// TextInput describes a text and its full structure.
type TextInput struct {
	Slug           string          `json:"slug" yaml:"slug"`
	Title          string          `json:"title" yaml:"title"`
	Levels         []string        `json:"levels" yaml:"levels"`
	LabelDelimiter string          `json:"labelDelimiter,omitempty" yaml:"labelDelimiter,omitempty"`
	Locations      []LocationInput `json:"locations" yaml:"locations"`
}

// CreateText stores a text and its locations. Only superusers may create
// texts. Positions are assigned per level in document order.
func (s *Service) CreateText(ctx context.Context, p types.Principal, in TextInput) (*types.Text, error) {
	if !p.Superuser {
		return nil, fmt.Errorf("%w: creating texts requires a superuser", types.ErrForbidden)
	}
	if strings.TrimSpace(in.Slug) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: text slug and title are required", types.ErrValidation)
	}
	if len(in.Levels) == 0 {
		return nil, fmt.Errorf("%w: text needs at least one level", types.ErrValidation)
	}

	text := &types.Text{
		Slug:           in.Slug,
		Title:          in.Title,
		Levels:         in.Levels,
		LabelDelimiter: in.LabelDelimiter,
	}
	var locs []*types.Location
	positions := make([]int, len(in.Levels))
	var walk func(nodes []LocationInput, level int, parentID string) error
	walk = func(nodes []LocationInput, level int, parentID string) error {
		if len(nodes) > 0 && level >= len(in.Levels) {
			return fmt.Errorf("%w: location tree is deeper than %d levels", types.ErrValidation, len(in.Levels))
		}
		for _, n := range nodes {
			loc := &types.Location{
				ID:       newID(),
				ParentID: parentID,
				Level:    level,
				Position: positions[level],
				Label:    n.Label,
			}
			positions[level]++
			locs = append(locs, loc)
			if err := walk(n.Children, level+1, loc.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(in.Locations, 0, ""); err != nil {
		return nil, err
	}

	if err := s.store.Texts().Insert(ctx, text); err != nil {
		return nil, err
	}
	for _, l := range locs {
		l.TextID = text.ID
	}
	if len(locs) > 0 {
		if err := s.store.Locations().InsertMany(ctx, locs); err != nil {
			return nil, fmt.Errorf("storing locations of text %s: %w", text.Slug, err)
		}
	}
	s.log.Info().Str("text_id", text.ID).Str("slug", text.Slug).Int("locations", len(locs)).Msg("text created")
	return text, nil
}

// Texts lists every text.
func (s *Service) Texts(ctx context.Context) ([]*types.Text, error) {
	return s.store.Texts().Find(ctx)
}

// Text returns a text by ID.
func (s *Service) Text(ctx context.Context, id string) (*types.Text, error) {
	return s.store.Texts().Get(ctx, id)
}

// Locations returns the locations of a text on one level, ordered by
// position, with their full labels.
func (s *Service) Locations(ctx context.Context, textID string, level int) ([]*types.Location, map[string]string, error) {
	text, err := s.store.Texts().Get(ctx, textID)
	if err != nil {
		return nil, nil, err
	}
	all, err := s.store.Locations().Find(ctx, types.LocationFilter{TextID: textID})
	if err != nil {
		return nil, nil, err
	}
	labels := types.FullLabels(all, text.LabelDelimiter)
	var out []*types.Location
	for _, l := range all {
		if l.Level == level {
			out = append(out, l)
		}
	}
	return out, labels, nil
}
