package types

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Resource lifecycle states. A version is tracked separately through
// OriginalID and can only be private or proposed.
const (
	StatePrivate  = "private"
	StateProposed = "proposed"
	StatePublic   = "public"
)

// MaxTitleLength bounds each title translation, version suffix included.
const MaxTitleLength = 64

// Resource is one instance of a resource type attached to a text at one
// structural level. Entity methods change the struct in memory; the caller
// persists the result through ResourceTable.Update.
type Resource struct {
	ID                string         `json:"id"`
	ResourceType      string         `json:"resourceType"`
	TextID            string         `json:"textId"`
	Level             int            `json:"level"`
	Title             Translations   `json:"title"`
	Description       Translations   `json:"description,omitempty"`
	OwnerID           string         `json:"ownerId,omitempty"`    // Empty for public resources.
	SharedRead        []string       `json:"sharedRead"`
	SharedWrite       []string       `json:"sharedWrite"`
	Proposed          bool           `json:"proposed"`
	Public            bool           `json:"public"`
	OriginalID        string         `json:"originalId,omitempty"` // Set on versions only.
	Config            map[string]any `json:"config,omitempty"`
	ContentsChangedAt time.Time      `json:"contentsChangedAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	ModifiedAt        time.Time      `json:"modifiedAt"`
}

// IsVersion reports whether r is a version of another resource.
func (r *Resource) IsVersion() bool {
	return r.OriginalID != ""
}

// State returns the lifecycle state of r.
func (r *Resource) State() string {
	switch {
	case r.Public:
		return StatePublic
	case r.Proposed:
		return StateProposed
	default:
		return StatePrivate
	}
}

// OwnedBy reports whether p owns r. Anonymous principals own nothing.
func (r *Resource) OwnedBy(p Principal) bool {
	return !p.IsAnonymous() && r.OwnerID == p.ID
}

// CanManage reports whether p may run owner-level transitions on r.
func (r *Resource) CanManage(p Principal) bool {
	return p.Superuser || r.OwnedBy(p)
}

// Propose marks r as proposed for publication and clears its shares.
// Returns ErrForbidden unless p owns r or is a superuser, and
// ErrInvalidState for public resources and versions. Idempotent.
func (r *Resource) Propose(p Principal) error {
	if !r.CanManage(p) {
		return fmt.Errorf("%w: propose resource %s", ErrForbidden, r.ID)
	}
	if r.Proposed {
		return nil
	}
	if r.Public {
		return fmt.Errorf("%w: resource %s is public", ErrInvalidState, r.ID)
	}
	if r.IsVersion() {
		return fmt.Errorf("%w: resource %s is a version", ErrInvalidState, r.ID)
	}
	r.Proposed = true
	r.clearShares()
	r.ModifiedAt = time.Now().UTC()
	return nil
}

// Unpropose withdraws a proposal. Public is forced false as well.
func (r *Resource) Unpropose(p Principal) error {
	if !r.CanManage(p) {
		return fmt.Errorf("%w: unpropose resource %s", ErrForbidden, r.ID)
	}
	if !r.Proposed && !r.Public {
		return nil
	}
	r.Proposed = false
	r.Public = false
	r.ModifiedAt = time.Now().UTC()
	return nil
}

// Publish makes a proposed resource public. Only superusers may publish.
// The owner is cleared along with all shares.
func (r *Resource) Publish(p Principal) error {
	if !p.Superuser {
		return fmt.Errorf("%w: publish requires a superuser", ErrForbidden)
	}
	if r.Public {
		return nil
	}
	if r.IsVersion() {
		return fmt.Errorf("%w: resource %s is a version", ErrInvalidState, r.ID)
	}
	if !r.Proposed {
		return fmt.Errorf("%w: resource %s is not proposed", ErrInvalidState, r.ID)
	}
	r.Public = true
	r.Proposed = false
	r.OwnerID = ""
	r.clearShares()
	r.ModifiedAt = time.Now().UTC()
	return nil
}

// Unpublish makes r non-public and non-proposed. Only superusers may
// unpublish.
func (r *Resource) Unpublish(p Principal) error {
	if !p.Superuser {
		return fmt.Errorf("%w: unpublish requires a superuser", ErrForbidden)
	}
	if !r.Public && !r.Proposed {
		return nil
	}
	r.Public = false
	r.Proposed = false
	r.ModifiedAt = time.Now().UTC()
	return nil
}

// CheckTransfer returns the error TransferTo would return before looking at
// the target principal.
func (r *Resource) CheckTransfer(p Principal) error {
	if !r.CanManage(p) {
		return fmt.Errorf("%w: transfer resource %s", ErrForbidden, r.ID)
	}
	if r.Public || r.Proposed {
		return fmt.Errorf("%w: resource %s is %s", ErrInvalidState, r.ID, r.State())
	}
	return nil
}

// TransferTo hands ownership of r to the principal with the given ID and
// removes that principal from the share lists. Transferring to the current
// owner is a no-op.
func (r *Resource) TransferTo(p Principal, targetID string) error {
	if err := r.CheckTransfer(p); err != nil {
		return err
	}
	if targetID == "" {
		return fmt.Errorf("%w: empty transfer target", ErrValidation)
	}
	if r.OwnerID == targetID {
		return nil
	}
	r.OwnerID = targetID
	r.SharedRead = without(r.SharedRead, targetID)
	r.SharedWrite = without(r.SharedWrite, targetID)
	r.ModifiedAt = time.Now().UTC()
	return nil
}

// SetShares replaces the share lists. Updates from principals that cannot
// manage r, and any update on a public resource, are ignored. It reports
// whether the lists were replaced.
func (r *Resource) SetShares(p Principal, read, write []string) bool {
	if !r.CanManage(p) || r.Public {
		return false
	}
	r.SharedRead = dedupe(read)
	r.SharedWrite = dedupe(write)
	r.ModifiedAt = time.Now().UTC()
	return true
}

// CheckDelete reports whether p may delete r in its current state.
func (r *Resource) CheckDelete(p Principal) error {
	if !r.CanManage(p) {
		return fmt.Errorf("%w: delete resource %s", ErrForbidden, r.ID)
	}
	if r.Public || r.Proposed {
		return fmt.Errorf("%w: cannot delete %s resource %s", ErrInvalidState, r.State(), r.ID)
	}
	return nil
}

// NewVersion derives an unsaved private version of r owned by p. existing is
// the number of versions r already has; it picks the title suffix.
func (r *Resource) NewVersion(p Principal, existing int) (*Resource, error) {
	if r.IsVersion() {
		return nil, fmt.Errorf("%w: resource %s is already a version", ErrInvalidState, r.ID)
	}
	if p.IsAnonymous() {
		return nil, fmt.Errorf("%w: anonymous principal", ErrForbidden)
	}
	suffix := fmt.Sprintf(" v%d", existing+2)
	title := make(Translations, len(r.Title))
	for i, t := range r.Title {
		title[i] = Translation{
			Locale:      t.Locale,
			Translation: truncateRunes(t.Translation, MaxTitleLength-len(suffix)) + suffix,
		}
	}
	return &Resource{
		ResourceType: r.ResourceType,
		TextID:       r.TextID,
		Level:        r.Level,
		Title:        title,
		Description:  r.Description.Clone(),
		OwnerID:      p.ID,
		SharedRead:   []string{},
		SharedWrite:  []string{},
		OriginalID:   r.ID,
		Config:       maps.Clone(r.Config),
	}, nil
}

// CheckInvariants returns ErrInvalidState when r violates a lifecycle
// invariant.
func (r *Resource) CheckInvariants() error {
	if r.Public && (r.OwnerID != "" || len(r.SharedRead) > 0 || len(r.SharedWrite) > 0) {
		return fmt.Errorf("%w: public resource %s has an owner or shares", ErrInvalidState, r.ID)
	}
	if r.IsVersion() && (r.Public || r.Proposed) {
		return fmt.Errorf("%w: version %s is %s", ErrInvalidState, r.ID, r.State())
	}
	if r.Level < 0 {
		return fmt.Errorf("%w: negative level", ErrValidation)
	}
	return nil
}

func (r *Resource) clearShares() {
	r.SharedRead = []string{}
	r.SharedWrite = []string{}
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
