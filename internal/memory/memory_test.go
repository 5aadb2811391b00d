package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), 0, 0, false)
	entry, err := s.Put("k1", "hello world", []string{"tag1"}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "k1", entry.Key)

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "hello world", all[0].Content)
	assert.Equal(t, []string{"tag1"}, all[0].Tags)
}

func TestPutPreservesCreatedAtOnUpdate(t *testing.T) {
	s := NewStore(t.TempDir(), 0, 0, false)
	first, err := s.Put("k1", "v1", nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Put("k1", "v2", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestSearchBySubstringAndTags(t *testing.T) {
	s := NewStore(t.TempDir(), 0, 0, false)
	_, err := s.Put("alpha", "the quick fox", []string{"animal"}, nil)
	require.NoError(t, err)
	_, err = s.Put("beta", "a slow turtle", []string{"animal", "slow"}, nil)
	require.NoError(t, err)

	results, err := s.Search("fox", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Key)

	tagged, err := s.Search("", []string{"slow"}, 0)
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "beta", tagged[0].Key)
}

func TestPruneArchivesEntriesBeyondMaxEntries(t *testing.T) {
	s := NewStore(t.TempDir(), 2, 0, false)
	_, err := s.Put("a", "1", nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Put("b", "2", nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Put("c", "3", nil, nil)
	require.NoError(t, err)

	archived, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	active, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	inArchive, err := s.ListArchive()
	require.NoError(t, err)
	require.Len(t, inArchive, 1)
	assert.Equal(t, "a", inArchive[0].Key, "the oldest entry is archived first")
}

func TestPruneArchivesExpiredEntries(t *testing.T) {
	s := NewStore(t.TempDir(), 0, 30, false)
	entry, err := s.Put("stale", "old content", nil, nil)
	require.NoError(t, err)

	// backdate the entry past the TTL directly through Put's write path
	entry.UpdatedAt = time.Now().AddDate(0, 0, -31)
	require.NoError(t, write(s.entryPath("stale"), entry))

	archived, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	active, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRestoreFromArchive(t *testing.T) {
	s := NewStore(t.TempDir(), 1, 0, false)
	_, err := s.Put("a", "1", nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Put("b", "2", nil, nil)
	require.NoError(t, err)

	_, err = s.Prune()
	require.NoError(t, err)

	restored, err := s.RestoreFromArchive("a")
	require.NoError(t, err)
	assert.Nil(t, restored.ArchivedAt)

	stillArchived, err := s.ListArchive()
	require.NoError(t, err)
	assert.Empty(t, stillArchived)
}

func TestRestoreFromArchiveNotFound(t *testing.T) {
	s := NewStore(t.TempDir(), 0, 0, false)
	_, err := s.RestoreFromArchive("missing")
	assert.Error(t, err)
}
