package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/tasks"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Task kinds submitted by the service.
const (
	TaskImport      = "import"
	TaskExport      = "export"
	TaskMaintenance = "maintenance"
)

// Import template row keys that carry location hints for humans. Import
// drops them because no view declares them.
const (
	TemplateKeyPosition = "_position"
	TemplateKeyLocation = "_location"
)

const templateReadme = "Fill in the fields of each content row and import the file. " +
	"Rows whose location already has content update it; other rows create new content. " +
	"Remove rows you do not want to import. Keys starting with an underscore are ignored."

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Template is a pre-filled import document for one resource.
type Template struct {
	ResourceID   string           `json:"resourceId"`
	ResourceType string           `json:"resourceType"`
	Readme       string           `json:"_readme"`
	Contents     []map[string]any `json:"contents"`
}

// ExportRequest selects the format and the optional location range of an
// export.
type ExportRequest struct {
	Format         string `json:"format"`
	FromLocationID string `json:"from,omitempty"`
	ToLocationID   string `json:"to,omitempty"`
}

// Artifact is a rendered export waiting on disk to be downloaded.
type Artifact struct {
	ResourceID string `json:"resourceId"`
	Format     string `json:"format"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"` // BLAKE3, hex encoded.
	Path       string `json:"-"`
}

// ImportTemplate returns an import document listing every location of the
// resource's level with the type's placeholder fields.
func (s *Service) ImportTemplate(ctx context.Context, p types.Principal, resourceID string) (*Template, error) {
	r, err := s.writable(ctx, p, resourceID)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	locs, labels, err := s.Locations(ctx, r.TextID, r.Level)
	if err != nil {
		return nil, err
	}
	placeholders := entry.TemplateFields()
	rows := make([]map[string]any, 0, len(locs))
	for _, l := range locs {
		row := maps.Clone(placeholders)
		if row == nil {
			row = map[string]any{}
		}
		row[types.ContentKeyLocationID] = l.ID
		row[TemplateKeyPosition] = l.Position
		row[TemplateKeyLocation] = labels[l.ID]
		rows = append(rows, row)
	}
	return &Template{
		ResourceID:   r.ID,
		ResourceType: r.ResourceType,
		Readme:       templateReadme,
		Contents:     rows,
	}, nil
}

// ImportContents applies an import document to a writable resource. Rows
// for locations that already hold content update it; the rest are created.
// A row that fails view validation fails the whole import. Rows that cannot
// be applied for other reasons are counted as errors.
func (s *Service) ImportContents(ctx context.Context, p types.Principal, resourceID string, data []byte) (*ImportResult, error) {
	r, err := s.writable(ctx, p, resourceID)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	var doc registry.ImportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: import document: %v", types.ErrValidation, err)
	}
	if doc.ResourceID != r.ID {
		return nil, fmt.Errorf("%w: import is for %q, not %s", types.ErrIDMismatch, doc.ResourceID, r.ID)
	}

	existing, err := s.store.Contents().Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
	if err != nil {
		return nil, err
	}
	byLocation := make(map[string]*types.Content, len(existing))
	for _, c := range existing {
		byLocation[c.LocationID] = c
	}

	var updates []*types.Content
	var creates []*types.Content
	for i, row := range doc.Contents {
		row = maps.Clone(row)
		row[types.ContentKeyResourceID] = r.ID
		row[types.ContentKeyResourceType] = r.ResourceType
		locationID, _ := row[types.ContentKeyLocationID].(string)
		if c, ok := byLocation[locationID]; ok {
			if err := entry.Content.Update.Validate(row); err != nil {
				return nil, fmt.Errorf("import row %d: %w", i, err)
			}
			upd := *c
			upd.Fields = maps.Clone(c.Fields)
			applyContentUpdate(&upd, entry.Content.Update.Shape(row))
			updates = append(updates, &upd)
			continue
		}
		if err := entry.Content.Create.Validate(row); err != nil {
			return nil, fmt.Errorf("import row %d: %w", i, err)
		}
		c, err := types.ContentFromDocument(entry.Content.Create.Shape(row))
		if err != nil {
			return nil, fmt.Errorf("import row %d: %w", i, err)
		}
		creates = append(creates, c)
	}

	res := &ImportResult{}
	onLevel, err := s.locationSet(ctx, r)
	if err != nil {
		return nil, err
	}
	valid := creates[:0]
	for _, c := range creates {
		if onLevel[c.LocationID] {
			valid = append(valid, c)
		} else {
			res.Errors++
		}
	}

	for _, c := range updates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.store.Contents().Update(ctx, c); err != nil {
			s.log.Warn().Err(err).Str("content_id", c.ID).Msg("import update failed")
			res.Errors++
			continue
		}
		res.Updated++
	}
	if len(valid) > 0 {
		inserted, err := s.store.Contents().InsertMany(ctx, valid)
		if err != nil {
			return res, err
		}
		res.Created = len(inserted)
		res.Errors += len(valid) - len(inserted)
	}

	importRecordsTotal.WithLabelValues("created").Add(float64(res.Created))
	importRecordsTotal.WithLabelValues("updated").Add(float64(res.Updated))
	importRecordsTotal.WithLabelValues("error").Add(float64(res.Errors))
	if res.Created+res.Updated > 0 {
		s.touchContents(ctx, r)
	}
	s.log.Info().Str("resource_id", r.ID).Int("created", res.Created).Int("updated", res.Updated).
		Int("errors", res.Errors).Msg("contents imported")
	return res, nil
}

// locationSet returns the IDs of every location on the level of r.
func (s *Service) locationSet(ctx context.Context, r *types.Resource) (map[string]bool, error) {
	level := r.Level
	locs, err := s.store.Locations().Find(ctx, types.LocationFilter{TextID: r.TextID, Level: &level})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(locs))
	for _, l := range locs {
		out[l.ID] = true
	}
	return out, nil
}

// StartImport checks access and runs ImportContents as a background task.
// The task result is an *ImportResult.
func (s *Service) StartImport(ctx context.Context, p types.Principal, resourceID string, data []byte) (tasks.Task, error) {
	if _, err := s.writable(ctx, p, resourceID); err != nil {
		return tasks.Task{}, err
	}
	return s.runner.Submit(tasks.Spec{Kind: TaskImport, OwnerID: p.ID, TargetID: resourceID}, func(ctx context.Context) (any, error) {
		return s.ImportContents(ctx, p, resourceID, data)
	})
}

// ExportContents renders the contents of a readable resource to a file in
// the temp directory and returns its description.
func (s *Service) ExportContents(ctx context.Context, p types.Principal, resourceID string, req ExportRequest) (*Artifact, error) {
	r, err := s.readable(ctx, p, resourceID)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	format, err := entry.Format(req.Format)
	if err != nil {
		return nil, err
	}
	contents, err := s.contentsInRange(ctx, r, req.FromLocationID, req.ToLocationID)
	if err != nil {
		return nil, err
	}
	text, err := s.store.Texts().Get(ctx, r.TextID)
	if err != nil {
		return nil, err
	}
	locs, err := s.store.Locations().Find(ctx, types.LocationFilter{TextID: r.TextID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Location, len(locs))
	for _, l := range locs {
		byID[l.ID] = l
	}
	in := registry.ExportInput{
		Resource:  r,
		Text:      text,
		Contents:  contents,
		Locations: byID,
		Labels:    types.FullLabels(locs, text.LabelDelimiter),
	}

	art := &Artifact{
		ResourceID: r.ID,
		Format:     format.Key,
		Filename:   exportFilename(text, r, format),
		MimeType:   format.MimeType,
	}
	if err := s.writeArtifact(ctx, art, func(w io.Writer) error { return entry.Export(w, in, format.Key) }); err != nil {
		return nil, err
	}
	exportsTotal.WithLabelValues(format.Key).Inc()
	s.log.Info().Str("resource_id", r.ID).Str("format", format.Key).Int("contents", len(contents)).
		Int64("size", art.Size).Msg("contents exported")
	return art, nil
}

// writeArtifact renders into a temp file, then renames it into place. Size
// and checksum are recorded on art.
func (s *Service) writeArtifact(ctx context.Context, art *Artifact, render func(io.Writer) error) error {
	if err := os.MkdirAll(s.opts.TempDir, 0o700); err != nil {
		return fmt.Errorf("creating temp files directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.opts.TempDir, "export-*.tmp")
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := blake3.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	if err := render(cw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.opts.TempDir, newID()+filepath.Ext(art.Filename))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storing export file: %w", err)
	}
	art.Path = path
	art.Size = cw.n
	art.Checksum = hex.EncodeToString(h.Sum(nil))
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func exportFilename(text *types.Text, r *types.Resource, f registry.ExportFormat) string {
	title := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		case c == ' ':
			return '_'
		}
		return -1
	}, r.Title.Get(""))
	if title == "" {
		title = r.ID
	}
	return fmt.Sprintf("%s_%s.%s", text.Slug, title, f.Extension)
}

// StartExport checks access and the format, then runs ExportContents as a
// background task. The task's pickup key downloads the artifact.
func (s *Service) StartExport(ctx context.Context, p types.Principal, resourceID string, req ExportRequest) (tasks.Task, error) {
	r, err := s.readable(ctx, p, resourceID)
	if err != nil {
		return tasks.Task{}, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return tasks.Task{}, err
	}
	if _, err := entry.Format(req.Format); err != nil {
		return tasks.Task{}, err
	}
	return s.runner.Submit(tasks.Spec{Kind: TaskExport, OwnerID: p.ID, TargetID: resourceID}, func(ctx context.Context) (any, error) {
		return s.ExportContents(ctx, p, resourceID, req)
	})
}

// Download claims the artifact of a finished export task. It can be claimed
// once: closing the returned reader removes the file and forgets the task.
func (s *Service) Download(ctx context.Context, pickupKey string) (*Artifact, io.ReadCloser, error) {
	task, err := s.runner.ByPickupKey(pickupKey)
	if err != nil {
		return nil, nil, err
	}
	if task.Kind != TaskExport {
		return nil, nil, fmt.Errorf("%w: task %s is not an export", types.ErrNotFound, task.ID)
	}
	if task.Status != tasks.StatusDone {
		return nil, nil, fmt.Errorf("%w: export task %s is %s", types.ErrInvalidState, task.ID, task.Status)
	}
	art, ok := task.Result.(*Artifact)
	if !ok {
		return nil, nil, fmt.Errorf("export task %s has no artifact", task.ID)
	}

	claimed := art.Path + ".claimed"
	if err := os.Rename(art.Path, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: artifact was already downloaded", types.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("claiming artifact: %w", err)
	}
	f, err := os.Open(claimed)
	if err != nil {
		return nil, nil, fmt.Errorf("opening artifact: %w", err)
	}
	return art, &artifactReader{File: f, release: func() {
		if err := os.Remove(claimed); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", claimed).Msg("removing downloaded artifact")
		}
		if err := s.runner.Delete(task.ID); err != nil {
			s.log.Debug().Err(err).Str("task_id", task.ID).Msg("forgetting export task")
		}
	}}, nil
}

type artifactReader struct {
	*os.File
	release func()
}

func (a *artifactReader) Close() error {
	err := a.File.Close()
	a.release()
	return err
}

// PruneTasks forgets finished tasks older than age and removes the
// artifacts of pruned exports. It returns the number of pruned tasks.
func (s *Service) PruneTasks(age time.Duration) int {
	pruned := s.runner.Prune(age)
	for _, t := range pruned {
		if art, ok := t.Result.(*Artifact); ok {
			if err := os.Remove(art.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn().Err(err).Str("task_id", t.ID).Msg("removing expired artifact")
			}
		}
	}
	return len(pruned)
}
