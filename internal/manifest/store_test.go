package manifest_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/grab/api/schemas"
	"github.com/xkilldash9x/grab/internal/manifest"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func resource(i int) schemas.CapturedResource {
	return schemas.CapturedResource{
		SourceURL:   fmt.Sprintf("https://example.com/%d.js", i),
		StoragePath: fmt.Sprintf("example.com/%d.js", i),
		ByteSize:    int64(i * 100),
		ContentType: "text/javascript",
		CapturedAt:  time.Date(2024, 5, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestStore_NewStoreGeneratesSessionID(t *testing.T) {
	s := manifest.NewStore("https://example.com/")
	_, err := uuid.Parse(s.SessionID())
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/", s.Target())

	fixed := manifest.NewStore("https://example.com/", manifest.WithSessionID("abc"))
	assert.Equal(t, "abc", fixed.SessionID())
}

func TestStore_RejectsDuplicates(t *testing.T) {
	s := manifest.NewStore("https://example.com/")
	require.NoError(t, s.AddResource(resource(1)))

	sameURL := resource(2)
	sameURL.SourceURL = resource(1).SourceURL
	assert.ErrorIs(t, s.AddResource(sameURL), schemas.ErrDuplicateResource)

	samePath := resource(3)
	samePath.StoragePath = resource(1).StoragePath
	assert.ErrorIs(t, s.AddResource(samePath), schemas.ErrDuplicateResource)

	assert.Len(t, s.Resources(), 1)
}

func TestStore_AddActionPreservesOrder(t *testing.T) {
	s := manifest.NewStore("https://example.com/", manifest.WithClock(fixedClock()))
	first := s.AddAction(schemas.ActionNavigateRoot, "https://example.com/")
	s.AddAction(schemas.ActionScroll, "1/2")
	s.AddAction(schemas.ActionClick, "click failed: #missing - not found")

	actions := s.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, first, actions[0])
	assert.Equal(t, schemas.ActionScroll, actions[1].Kind)
	assert.Equal(t, "click failed: #missing - not found", actions[2].Detail)
	assert.True(t, actions[1].PerformedAt.After(actions[0].PerformedAt))
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	s := manifest.NewStore("https://example.com/")
	require.NoError(t, s.AddResource(resource(1)))
	s.AddAction(schemas.ActionWait, "1.5s")

	res := s.Resources()
	res[0].ByteSize = 999
	acts := s.Actions()
	acts[0].Detail = "mutated"

	assert.Equal(t, int64(100), s.Resources()[0].ByteSize)
	assert.Equal(t, "1.5s", s.Actions()[0].Detail)
}

func TestStore_FlushWritesCompleteManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := manifest.NewStore("https://example.com/", manifest.WithClock(fixedClock()), manifest.WithSessionID("session-1"))

	s.AddAction(schemas.ActionClick, "#real")
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AddResource(resource(i)))
	}
	s.AddAction(schemas.ActionClick, "click failed: #missing - timeout")

	path, err := s.Flush(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, schemas.ManifestFileName), path)

	got, err := manifest.Load(path)
	require.NoError(t, err)

	want := s.Snapshot()
	want.CollectedAt = got.CollectedAt
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, got.Count)
	require.Len(t, got.Resources, 3)
	require.Len(t, got.Actions, 2)
	for i, r := range got.Resources {
		assert.Equal(t, resource(i+1).SourceURL, r.SourceURL)
	}
	assert.Equal(t, "#real", got.Actions[0].Detail)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStore_FlushEmptySessionWritesEmptyLists(t *testing.T) {
	dir := t.TempDir()
	s := manifest.NewStore("https://example.com/")
	path, err := s.Flush(dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"resources": []`)
	assert.Contains(t, string(raw), `"actions": []`)
	assert.Contains(t, string(raw), `"count": 0`)
}

func TestStore_FlushOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	s := manifest.NewStore("https://example.com/")
	_, err := s.Flush(dir)
	require.NoError(t, err)

	_, err = s.Flush(dir)
	assert.ErrorIs(t, err, schemas.ErrManifestFlushed)
	assert.ErrorIs(t, s.AddResource(resource(1)), schemas.ErrManifestFlushed)
}

func TestStore_FlushFailureCanBeRetried(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := manifest.NewStore("https://example.com/")
	_, err := s.Flush(filepath.Join(blocker, "out"))
	assert.ErrorIs(t, err, schemas.ErrStorage)

	_, err = s.Flush(root)
	assert.NoError(t, err)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := manifest.NewStore("https://example.com/")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AddResource(resource(i)))
			s.AddAction(schemas.ActionWait, "x")
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Resources(), 50)
	assert.Len(t, s.Actions(), 50)
}
