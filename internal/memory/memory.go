// Package memory implements the project- and global-scoped memory store
// described in spec §4.10: YAML-front-matter entry files with TTL and
// count-cap pruning into an archive subdirectory.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/multi-agent-mcp/orchestrator/internal/fsutil"
	"github.com/multi-agent-mcp/orchestrator/internal/frontmatter"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

const archiveDirName = "archive"

// Store is a single memory scope (project or global), rooted at dir.
type Store struct {
	dir         string
	maxEntries  int
	ttlDays     int
	autoPrune   bool
}

// NewStore opens a memory store rooted at dir with the given pruning policy.
func NewStore(dir string, maxEntries, ttlDays int, autoPrune bool) *Store {
	return &Store{dir: dir, maxEntries: maxEntries, ttlDays: ttlDays, autoPrune: autoPrune}
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, fsutil.Sanitize(key, "entry")+".md")
}

func (s *Store) archiveDir() string {
	return filepath.Join(s.dir, archiveDirName)
}

type meta struct {
	Key        string         `yaml:"key"`
	Tags       []string       `yaml:"tags,omitempty"`
	CreatedAt  time.Time      `yaml:"created_at"`
	UpdatedAt  time.Time      `yaml:"updated_at"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
	ArchivedAt *time.Time     `yaml:"archived_at,omitempty"`
}

func toEntry(md meta, content string) *types.MemoryEntry {
	return &types.MemoryEntry{
		Key:        md.Key,
		Content:    content,
		Tags:       md.Tags,
		CreatedAt:  md.CreatedAt,
		UpdatedAt:  md.UpdatedAt,
		Metadata:   md.Metadata,
		ArchivedAt: md.ArchivedAt,
	}
}

func write(path string, e *types.MemoryEntry) error {
	md := meta{Key: e.Key, Tags: e.Tags, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, Metadata: e.Metadata, ArchivedAt: e.ArchivedAt}
	data, err := frontmatter.Encode(md, e.Content)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "encode memory entry", err)
	}
	return fsutil.AtomicWriteFile(path, data, 0o644)
}

func readEntries(dir string) ([]*types.MemoryEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "list memory entries", err)
	}
	var out []*types.MemoryEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var md meta
		body, err := frontmatter.Decode(data, &md)
		if err != nil {
			continue
		}
		out = append(out, toEntry(md, body))
	}
	return out, nil
}

// Put creates or updates the entry for key.
func (s *Store) Put(key, content string, tags []string, metadata map[string]any) (*types.MemoryEntry, error) {
	now := time.Now()
	existingPath := s.entryPath(key)
	createdAt := now
	if data, err := os.ReadFile(existingPath); err == nil {
		var md meta
		if _, derr := frontmatter.Decode(data, &md); derr == nil {
			createdAt = md.CreatedAt
		}
	}

	e := &types.MemoryEntry{Key: key, Content: content, Tags: tags, CreatedAt: createdAt, UpdatedAt: now, Metadata: metadata}
	if err := write(existingPath, e); err != nil {
		return nil, err
	}

	if s.autoPrune {
		if _, err := s.Prune(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Load returns up to maxEntries most-recent active entries, newest first by
// the entries' UpdatedAt front-matter field; the files' modification times
// are not consulted. When
// autoPrune is set and the active set exceeds maxEntries, excess entries
// are moved to the archive.
func (s *Store) Load() ([]*types.MemoryEntry, error) {
	all, err := readEntries(s.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	if s.maxEntries > 0 && len(all) > s.maxEntries {
		if s.autoPrune {
			if _, err := s.Prune(); err != nil {
				return nil, err
			}
			return s.Load()
		}
		all = all[:s.maxEntries]
	}
	return all, nil
}

// archivePath returns the archive destination for key, appending a
// timestamp suffix on collision per spec §4.10.
func (s *Store) archivePath(key string) string {
	base := fsutil.Sanitize(key, "entry")
	path := filepath.Join(s.archiveDir(), base+".md")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(s.archiveDir(), fmt.Sprintf("%s_%d.md", base, time.Now().UnixNano()))
	}
	return path
}

// Prune moves expired entries (updated_at older than ttlDays) to the
// archive, then moves oldest-by-updated_at entries until the active set is
// at or under maxEntries. Returns the number of entries archived.
func (s *Store) Prune() (int, error) {
	all, err := readEntries(s.dir)
	if err != nil {
		return 0, err
	}

	archived := 0
	cutoff := time.Now().AddDate(0, 0, -s.ttlDays)

	var remaining []*types.MemoryEntry
	for _, e := range all {
		if s.ttlDays > 0 && e.UpdatedAt.Before(cutoff) {
			if err := s.archiveOne(e); err != nil {
				return archived, err
			}
			archived++
			continue
		}
		remaining = append(remaining, e)
	}

	if s.maxEntries > 0 && len(remaining) > s.maxEntries {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].UpdatedAt.Before(remaining[j].UpdatedAt) })
		excess := len(remaining) - s.maxEntries
		for i := 0; i < excess; i++ {
			if err := s.archiveOne(remaining[i]); err != nil {
				return archived, err
			}
			archived++
		}
	}

	return archived, nil
}

func (s *Store) archiveOne(e *types.MemoryEntry) error {
	now := time.Now()
	e.ArchivedAt = &now
	dest := s.archivePath(e.Key)
	if err := write(dest, e); err != nil {
		return err
	}
	return os.Remove(s.entryPath(e.Key))
}

// Search linear-scans active entries for a case-insensitive substring match
// over key|content, optionally intersected with tags.
func (s *Store) Search(q string, tags []string, limit int) ([]*types.MemoryEntry, error) {
	all, err := readEntries(s.dir)
	if err != nil {
		return nil, err
	}
	return filterSearch(all, q, tags, limit), nil
}

// SearchArchive mirrors Search over the archive directory.
func (s *Store) SearchArchive(q string, tags []string, limit int) ([]*types.MemoryEntry, error) {
	all, err := readEntries(s.archiveDir())
	if err != nil {
		return nil, err
	}
	return filterSearch(all, q, tags, limit), nil
}

// ListArchive returns every archived entry.
func (s *Store) ListArchive() ([]*types.MemoryEntry, error) {
	return readEntries(s.archiveDir())
}

func filterSearch(all []*types.MemoryEntry, q string, tags []string, limit int) []*types.MemoryEntry {
	q = strings.ToLower(q)
	var out []*types.MemoryEntry
	for _, e := range all {
		if q != "" && !strings.Contains(strings.ToLower(e.Key), q) && !strings.Contains(strings.ToLower(e.Content), q) {
			continue
		}
		if len(tags) > 0 && !hasAllTags(e.Tags, tags) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// RestoreFromArchive moves key out of the archive, clears archived_at, bumps
// updated_at, and re-adds it to the active store.
func (s *Store) RestoreFromArchive(key string) (*types.MemoryEntry, error) {
	archivePath := filepath.Join(s.archiveDir(), fsutil.Sanitize(key, "entry")+".md")
	data, err := os.ReadFile(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.New(orcherr.KindNotFound, "archived entry not found: "+key)
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "read archived entry", err)
	}

	var md meta
	body, err := frontmatter.Decode(data, &md)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "decode archived entry", err)
	}

	e := toEntry(md, body)
	e.ArchivedAt = nil
	e.UpdatedAt = time.Now()

	if err := write(s.entryPath(key), e); err != nil {
		return nil, err
	}
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return nil, orcherr.Wrap(orcherr.KindInternal, "remove archived entry", err)
	}
	return e, nil
}
