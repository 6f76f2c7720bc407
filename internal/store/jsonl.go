package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// DumpStats counts the records written by Dump or read by Restore, keyed by
// table name.
type DumpStats map[string]int

// Dump writes every text, location, principal, resource and content in s to
// one JSONL file per table under dir. Precomputed data is derived and is not
// dumped. Each file is replaced atomically.
func Dump(ctx context.Context, s types.Store, dir string) (DumpStats, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dump dir: %w", err)
	}
	stats := DumpStats{}

	texts, err := s.Texts().Find(ctx)
	if err != nil {
		return nil, err
	}
	if err := dumpTable(dir, types.TextsTable, texts, stats); err != nil {
		return nil, err
	}
	locs, err := s.Locations().Find(ctx, types.LocationFilter{})
	if err != nil {
		return nil, err
	}
	if err := dumpTable(dir, types.LocationsTable, locs, stats); err != nil {
		return nil, err
	}
	principals, err := s.Principals().Find(ctx)
	if err != nil {
		return nil, err
	}
	if err := dumpTable(dir, types.PrincipalsTable, principals, stats); err != nil {
		return nil, err
	}
	resources, err := s.Resources().Find(ctx, types.ResourceFilter{})
	if err != nil {
		return nil, err
	}
	if err := dumpTable(dir, types.ResourcesTable, resources, stats); err != nil {
		return nil, err
	}
	contents, err := s.Contents().Find(ctx, types.ContentFilter{})
	if err != nil {
		return nil, err
	}
	if err := dumpTable(dir, types.ContentsTable, contents, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// DocumentCheck validates the stored form of a resource or content document
// of one resource type. table is types.ResourcesTable or types.ContentsTable.
type DocumentCheck func(table, resourceType string, doc map[string]any) error

// Restore loads a dump written by Dump into s, keeping IDs and timestamps.
// Missing files are treated as empty tables. When check is not nil, every
// resource and content is checked before anything is written, and the first
// failure aborts the restore.
func Restore(ctx context.Context, s types.Store, dir string, check DocumentCheck) (DumpStats, error) {
	stats := DumpStats{}

	texts, err := restoreTable[types.Text](dir, types.TextsTable, stats)
	if err != nil {
		return nil, err
	}
	locs, err := restoreTable[types.Location](dir, types.LocationsTable, stats)
	if err != nil {
		return nil, err
	}
	principals, err := restoreTable[types.Principal](dir, types.PrincipalsTable, stats)
	if err != nil {
		return nil, err
	}
	resources, err := restoreTable[types.Resource](dir, types.ResourcesTable, stats)
	if err != nil {
		return nil, err
	}
	contents, err := restoreTable[types.Content](dir, types.ContentsTable, stats)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := checkRestored(resources, contents, check); err != nil {
			return nil, err
		}
	}

	for _, t := range texts {
		if err := s.Texts().Insert(ctx, t); err != nil {
			return nil, err
		}
	}
	if len(locs) > 0 {
		if err := s.Locations().InsertMany(ctx, locs); err != nil {
			return nil, err
		}
	}
	for _, p := range principals {
		if err := s.Principals().Insert(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, r := range resources {
		if err := s.Resources().Insert(ctx, r); err != nil {
			return nil, err
		}
	}
	if len(contents) > 0 {
		if _, err := s.Contents().InsertMany(ctx, contents); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func checkRestored(resources []*types.Resource, contents []*types.Content, check DocumentCheck) error {
	for _, r := range resources {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding resource %s: %w", r.ID, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decoding resource %s: %w", r.ID, err)
		}
		if err := check(types.ResourcesTable, r.ResourceType, doc); err != nil {
			return fmt.Errorf("restoring resource %s: %w", r.ID, err)
		}
	}
	for _, c := range contents {
		if err := check(types.ContentsTable, c.ResourceType, c.Document()); err != nil {
			return fmt.Errorf("restoring content %s: %w", c.ID, err)
		}
	}
	return nil
}

func dumpTable[T any](dir, table string, items []*T, stats DumpStats) error {
	records := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding %s record: %w", table, err)
		}
		records = append(records, data)
	}
	if err := writeJSONL(filepath.Join(dir, table+".jsonl"), records); err != nil {
		return err
	}
	stats[table] = len(records)
	return nil
}

func restoreTable[T any](dir, table string, stats DumpStats) ([]*T, error) {
	records, err := readJSONL(filepath.Join(dir, table+".jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]*T, 0, len(records))
	for _, rec := range records {
		item := new(T)
		if err := json.Unmarshal(rec, item); err != nil {
			return nil, fmt.Errorf("decoding %s record: %w", table, err)
		}
		items = append(items, item)
	}
	stats[table] = len(items)
	return items, nil
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
