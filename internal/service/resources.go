package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/access"
	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/schema"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Lifecycle transition names used in logs and metrics.
const (
	TransitionCreate    = "create"
	TransitionVersion   = "version"
	TransitionUpdate    = "update"
	TransitionShares    = "shares"
	TransitionPropose   = "propose"
	TransitionUnpropose = "unpropose"
	TransitionPublish   = "publish"
	TransitionUnpublish = "unpublish"
	TransitionTransfer  = "transfer"
	TransitionDelete    = "delete"
)

// ResourceRead is the read form of a resource as seen by one principal.
// Share lists are only disclosed to principals who can manage the resource.
type ResourceRead struct {
	*types.Resource
	Writable         bool               `json:"writable"`
	Owner            *types.PublicInfo  `json:"owner"`
	SharedReadUsers  []types.PublicInfo `json:"sharedReadUsers,omitempty"`
	SharedWriteUsers []types.PublicInfo `json:"sharedWriteUsers,omitempty"`
}

// Document returns the read form as a generic document, the shape the
// resource type's read view describes.
func (rr *ResourceRead) Document() (map[string]any, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, fmt.Errorf("encoding resource %s: %w", rr.ID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding resource %s: %w", rr.ID, err)
	}
	return doc, nil
}

// ResourceQuery filters FindResources. Zero fields do not filter.
type ResourceQuery struct {
	TextID       string
	Level        *int
	ResourceType string
	OwnerID      string
	Limit        int
}

// resourceInput is the decoded create/update payload of a resource.
type resourceInput struct {
	ResourceType string             `json:"resourceType"`
	TextID       string             `json:"textId"`
	Level        int                `json:"level"`
	Title        types.Translations `json:"title"`
	Description  types.Translations `json:"description"`
	Config       map[string]any     `json:"config"`
	SharedRead   []string           `json:"sharedRead"`
	SharedWrite  []string           `json:"sharedWrite"`
}

func decodeInput(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return nil
}

// typeOf returns the discriminant of doc.
func typeOf(doc map[string]any) string {
	s, _ := doc[registry.FieldResourceType].(string)
	return s
}

// CreateResource creates a private resource owned by p from a document in
// the create view of its type.
func (s *Service) CreateResource(ctx context.Context, p types.Principal, doc map[string]any) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionCreate, outcome(err)).Inc() }()

	if p.IsAnonymous() {
		return nil, fmt.Errorf("%w: anonymous principals cannot create resources", types.ErrForbidden)
	}
	entry, err := s.registry.Get(typeOf(doc))
	if err != nil {
		return nil, err
	}
	if err := entry.Resource.Create.Validate(doc); err != nil {
		return nil, err
	}
	var in resourceInput
	if err := decodeInput(entry.Resource.Create.Shape(doc), &in); err != nil {
		return nil, err
	}

	text, err := s.store.Texts().Get(ctx, in.TextID)
	if err != nil {
		return nil, err
	}
	if !text.ValidLevel(in.Level) {
		return nil, fmt.Errorf("%w: level %d is outside text %s", types.ErrValidation, in.Level, text.Slug)
	}
	if err := s.checkQuota(ctx, p); err != nil {
		return nil, err
	}

	r := &types.Resource{
		ResourceType: entry.Key,
		TextID:       text.ID,
		Level:        in.Level,
		Title:        in.Title,
		Description:  in.Description,
		OwnerID:      p.ID,
		Config:       in.Config,
	}
	if err := r.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := s.store.Resources().Insert(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info().Str("resource_id", r.ID).Str("resource_type", r.ResourceType).Str("owner_id", p.ID).
		Str("transition", TransitionCreate).Msg("resource created")
	return s.readView(ctx, p, r)
}

// checkQuota fails with ErrQuotaExceeded when p already owns the maximum
// number of resources. Superusers have no quota.
func (s *Service) checkQuota(ctx context.Context, p types.Principal) error {
	if p.Superuser {
		return nil
	}
	n, err := s.store.Resources().Count(ctx, types.ResourceFilter{OwnerID: p.ID})
	if err != nil {
		return err
	}
	if n >= s.opts.MaxResourcesPerUser {
		return fmt.Errorf("%w: %s owns %d of %d resources", types.ErrQuotaExceeded, p.Username, n, s.opts.MaxResourcesPerUser)
	}
	return nil
}

// readable loads a resource and hides it behind ErrNotFound when p may not
// read it.
func (s *Service) readable(ctx context.Context, p types.Principal, id string) (*types.Resource, error) {
	r, err := s.store.Resources().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(p, r) {
		return nil, fmt.Errorf("%w: resource %s", types.ErrNotFound, id)
	}
	return r, nil
}

// writable loads a resource p must be able to write.
func (s *Service) writable(ctx context.Context, p types.Principal, id string) (*types.Resource, error) {
	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(p, r) {
		return nil, fmt.Errorf("%w: resource %s is not writable", types.ErrForbidden, id)
	}
	return r, nil
}

// GetResource returns a resource p may read.
func (s *Service) GetResource(ctx context.Context, p types.Principal, id string) (*ResourceRead, error) {
	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return s.readView(ctx, p, r)
}

// FindResources lists the resources p may read that match q.
func (s *Service) FindResources(ctx context.Context, p types.Principal, q ResourceQuery) ([]*ResourceRead, error) {
	rs, err := s.store.Resources().Find(ctx, types.ResourceFilter{
		TextID:       q.TextID,
		Level:        q.Level,
		ResourceType: q.ResourceType,
		OwnerID:      q.OwnerID,
		Access:       access.ReadCondition(p),
		Limit:        q.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*ResourceRead, 0, len(rs))
	for _, r := range rs {
		rr, err := s.readView(ctx, p, r)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

// UpdateResource applies a document in the update view of the resource's
// type. Only the keys present in doc change. Share lists in doc go through
// the same rules as SetShares.
func (s *Service) UpdateResource(ctx context.Context, p types.Principal, id string, doc map[string]any) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionUpdate, outcome(err)).Inc() }()

	r, err := s.writable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	if t := typeOf(doc); t != r.ResourceType {
		return nil, fmt.Errorf("%w: resource %s is %s, got %q", types.ErrTypeMismatch, id, r.ResourceType, t)
	}
	if err := entry.Resource.Update.Validate(doc); err != nil {
		return nil, err
	}
	shaped := entry.Resource.Update.Shape(doc)
	var in resourceInput
	if err := decodeInput(shaped, &in); err != nil {
		return nil, err
	}

	if _, ok := shaped["title"]; ok {
		r.Title = in.Title
	}
	if _, ok := shaped["description"]; ok {
		r.Description = in.Description
	}
	if _, ok := shaped[registry.FieldConfig]; ok {
		r.Config = in.Config
	}
	_, hasRead := shaped["sharedRead"]
	_, hasWrite := shaped["sharedWrite"]
	if hasRead || hasWrite {
		read, write := r.SharedRead, r.SharedWrite
		if hasRead {
			read = in.SharedRead
		}
		if hasWrite {
			write = in.SharedWrite
		}
		if _, err := s.applyShares(ctx, p, r, read, write); err != nil {
			return nil, err
		}
	}
	if err := s.store.Resources().Update(ctx, r); err != nil {
		return nil, err
	}
	return s.readView(ctx, p, r)
}

// SetShares replaces the share lists of a resource. Requests from principals
// who cannot manage the resource, and requests on public resources, are
// ignored and return the unchanged resource. Every shared principal must
// exist.
func (s *Service) SetShares(ctx context.Context, p types.Principal, id string, read, write []string) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionShares, outcome(err)).Inc() }()

	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	changed, err := s.applyShares(ctx, p, r, read, write)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.store.Resources().Update(ctx, r); err != nil {
			return nil, err
		}
	}
	return s.readView(ctx, p, r)
}

// applyShares replaces the share lists of r in memory and reports whether
// it did.
func (s *Service) applyShares(ctx context.Context, p types.Principal, r *types.Resource, read, write []string) (bool, error) {
	if !r.CanManage(p) || r.Public {
		s.log.Debug().Str("resource_id", r.ID).Str("principal_id", p.ID).Msg("share update ignored")
		return false, nil
	}
	for _, list := range [][]string{read, write} {
		for _, id := range list {
			if _, err := s.Principal(ctx, id); err != nil {
				return false, fmt.Errorf("sharing resource %s: %w", r.ID, err)
			}
		}
	}
	return r.SetShares(p, read, write), nil
}

// DeleteResource deletes a private, unproposed resource together with its
// contents and precomputed data. Versions of the resource are kept and
// detached from it.
func (s *Service) DeleteResource(ctx context.Context, p types.Principal, id string) (err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionDelete, outcome(err)).Inc() }()

	r, err := s.readable(ctx, p, id)
	if err != nil {
		return err
	}
	if err := r.CheckDelete(p); err != nil {
		return err
	}
	detached, err := s.store.Resources().DetachVersions(ctx, r.ID)
	if err != nil {
		return err
	}
	contents, err := s.store.Contents().DeleteByResource(ctx, r.ID)
	if err != nil {
		return err
	}
	if err := s.store.Precomputed().DeleteByRef(ctx, r.ID); err != nil {
		return err
	}
	if err := s.store.Resources().Delete(ctx, r.ID); err != nil {
		return err
	}
	s.touchText(ctx, r.TextID, time.Now().UTC())
	s.log.Info().Str("resource_id", r.ID).Str("transition", TransitionDelete).
		Int("versions_detached", detached).Int("contents_deleted", contents).Msg("resource deleted")
	return nil
}

// CreateVersion creates a private version of a resource p may read. The
// version copies the original's type, text, level, description and config;
// contents are not copied.
func (s *Service) CreateVersion(ctx context.Context, p types.Principal, id string) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionVersion, outcome(err)).Inc() }()

	orig, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, p); err != nil {
		return nil, err
	}
	existing, err := s.store.Resources().Count(ctx, types.ResourceFilter{OriginalID: orig.ID})
	if err != nil {
		return nil, err
	}
	v, err := orig.NewVersion(p, existing)
	if err != nil {
		return nil, err
	}
	if err := s.store.Resources().Insert(ctx, v); err != nil {
		return nil, err
	}
	s.log.Info().Str("resource_id", v.ID).Str("original_id", orig.ID).Str("transition", TransitionVersion).Msg("version created")
	return s.readView(ctx, p, v)
}

// Propose marks a resource as proposed for publication.
func (s *Service) Propose(ctx context.Context, p types.Principal, id string) (*ResourceRead, error) {
	return s.transition(ctx, p, id, TransitionPropose, (*types.Resource).Propose, EventResourceProposed)
}

// Unpropose withdraws a proposal.
func (s *Service) Unpropose(ctx context.Context, p types.Principal, id string) (*ResourceRead, error) {
	return s.transition(ctx, p, id, TransitionUnpropose, (*types.Resource).Unpropose, "")
}

// Publish makes a proposed resource public.
func (s *Service) Publish(ctx context.Context, p types.Principal, id string) (*ResourceRead, error) {
	return s.transition(ctx, p, id, TransitionPublish, (*types.Resource).Publish, EventResourcePublished)
}

// Unpublish makes a public resource private again.
func (s *Service) Unpublish(ctx context.Context, p types.Principal, id string) (*ResourceRead, error) {
	return s.transition(ctx, p, id, TransitionUnpublish, (*types.Resource).Unpublish, "")
}

func (s *Service) transition(
	ctx context.Context,
	p types.Principal,
	id, name string,
	apply func(*types.Resource, types.Principal) error,
	event string,
) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(name, outcome(err)).Inc() }()

	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	before := r.State()
	if err := apply(r, p); err != nil {
		return nil, err
	}
	if r.State() != before {
		if err := s.store.Resources().Update(ctx, r); err != nil {
			return nil, err
		}
		s.log.Info().Str("resource_id", r.ID).Str("transition", name).
			Str("from", before).Str("to", r.State()).Str("principal_id", p.ID).Msg("resource transition")
		if event != "" {
			s.notifier.Notify(ctx, Notification{
				Event:      event,
				ResourceID: r.ID,
				TextID:     r.TextID,
				ActorID:    p.ID,
				Title:      r.Title.Get(""),
			})
		}
	}
	return s.readView(ctx, p, r)
}

// Transfer hands a private resource to another principal. The target's
// quota applies unless the target is a superuser.
func (s *Service) Transfer(ctx context.Context, p types.Principal, id, targetID string) (rr *ResourceRead, err error) {
	defer func() { transitionsTotal.WithLabelValues(TransitionTransfer, outcome(err)).Inc() }()

	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := r.CheckTransfer(p); err != nil {
		return nil, err
	}
	if r.OwnerID == targetID {
		return s.readView(ctx, p, r)
	}
	target, err := s.Principal(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("transfer target: %w", err)
	}
	if err := s.checkQuota(ctx, target); err != nil {
		return nil, err
	}
	if err := r.TransferTo(p, target.ID); err != nil {
		return nil, err
	}
	if err := s.store.Resources().Update(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info().Str("resource_id", r.ID).Str("transition", TransitionTransfer).Str("owner_id", target.ID).Msg("resource transferred")
	return s.readView(ctx, p, r)
}

// readView builds the read form of r for p.
func (s *Service) readView(ctx context.Context, p types.Principal, r *types.Resource) (*ResourceRead, error) {
	cp := *r
	if cp.SharedRead == nil {
		cp.SharedRead = []string{}
	}
	if cp.SharedWrite == nil {
		cp.SharedWrite = []string{}
	}
	rr := &ResourceRead{Resource: &cp, Writable: access.CanWrite(p, r)}
	if r.OwnerID != "" {
		if owner, err := s.Principal(ctx, r.OwnerID); err == nil {
			info := owner.Public()
			rr.Owner = &info
		}
	}
	if !r.CanManage(p) {
		cp.SharedRead = []string{}
		cp.SharedWrite = []string{}
		return rr, nil
	}
	rr.SharedReadUsers = s.publicInfos(ctx, r.SharedRead)
	rr.SharedWriteUsers = s.publicInfos(ctx, r.SharedWrite)
	return rr, nil
}

func (s *Service) publicInfos(ctx context.Context, ids []string) []types.PublicInfo {
	var out []types.PublicInfo
	for _, id := range ids {
		if p, err := s.Principal(ctx, id); err == nil {
			out = append(out, p.Public())
		}
	}
	return out
}

// TypeInfo describes a registered resource type for clients.
type TypeInfo struct {
	Key           string                  `json:"key"`
	ExportFormats []registry.ExportFormat `json:"exportFormats"`
	Schemas       map[string]any          `json:"schemas"`
}

// ResourceTypes lists every registered type with its views.
func (s *Service) ResourceTypes() []TypeInfo {
	entries := s.registry.All()
	out := make([]TypeInfo, 0, len(entries))
	for _, e := range entries {
		schemas := map[string]any{"searchQuery": e.SearchQuery.Schema()}
		for _, v := range []schema.Variant{schema.VariantCreate, schema.VariantRead, schema.VariantUpdate} {
			schemas["resource."+string(v)] = e.Resource.View(v).Schema()
			schemas["content."+string(v)] = e.Content.View(v).Schema()
		}
		out = append(out, TypeInfo{Key: e.Key, ExportFormats: e.Formats(), Schemas: schemas})
	}
	return out
}
