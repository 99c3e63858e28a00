package hashcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestParamsRoundTrip(t *testing.T) {
	p := Params{HashSize: 10, HashVersion: 1}
	assert.Equal(t, "hash_size=10;hash_version=1", p.String())
	assert.Equal(t, p, ParseParams(p.String()))
}

func TestParseParamsFallbacks(t *testing.T) {
	assert.Equal(t, Params{HashSize: DefaultHashSize, HashVersion: DefaultHashVersion}, ParseParams(""))
	assert.Equal(t, Params{HashSize: 8, HashVersion: DefaultHashVersion}, ParseParams("hash_size=8"))
	assert.Equal(t, Params{HashSize: DefaultHashSize, HashVersion: DefaultHashVersion}, ParseParams("hash_size=junk"))
}

func TestLoadStoreBothValueShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")
	writeJSON(t, path, map[string]any{
		"_hash_params": "hash_size=10;hash_version=1",
		"hashes": map[string]any{
			"file:///a.jpg": "ABCD",
			"file:///b.jpg": map[string]string{"hash": "1234"},
		},
	})

	params, hashes, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, Params{HashSize: 10, HashVersion: 1}, params)
	assert.Equal(t, "abcd", hashes["file:///a.jpg"], "hex is lowercased on load")
	assert.Equal(t, "1234", hashes["file:///b.jpg"])
}

func TestLoadStoreGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	require.NoError(t, json.NewEncoder(gz).Encode(map[string]any{
		"_hash_params": "hash_size=10;hash_version=1",
		"hashes":       map[string]string{"file:///a.jpg": "beef"},
	}))
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	_, hashes, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, "beef", hashes["file:///a.jpg"])
}

func TestWriteStoreRoundTrip(t *testing.T) {
	for _, name := range []string{"hashes.json", "hashes.json.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			in := map[string]string{"file:///a.jpg": "cafe", "file:///b.jpg": "f00d"}
			require.NoError(t, WriteStore(path, Params{HashSize: 10, HashVersion: 1}, in))

			params, out, err := LoadStore(path)
			require.NoError(t, err)
			assert.Equal(t, Params{HashSize: 10, HashVersion: 1}, params)
			assert.Equal(t, in, out)
		})
	}
}

func TestLoadStoreMissingFile(t *testing.T) {
	_, _, err := LoadStore(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestCacheStartsEmptyOnMissingStores(t *testing.T) {
	c := New(Options{StorePaths: []string{filepath.Join(t.TempDir(), "nope.json")}})
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("file:///a.jpg")
	assert.False(t, ok)
}

func TestCachePutGet(t *testing.T) {
	c := New(Options{StorePaths: []string{filepath.Join(t.TempDir(), "hashes.json")}})
	c.Put("file:///a.jpg", "abcd")

	h, ok := c.Get("file:///a.jpg")
	require.True(t, ok)
	assert.Equal(t, "abcd", h)
	assert.Equal(t, 1, c.Len())
}

func TestCacheFlushThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")
	c := New(Options{
		StorePaths:     []string{path},
		FlushThreshold: 3,
		FlushInterval:  time.Hour,
	})

	c.Put("file:///a.jpg", "aa")
	c.Put("file:///b.jpg", "bb")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "below threshold, nothing flushed")

	c.Put("file:///c.jpg", "cc")
	_, hashes, err := LoadStore(path)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
}

func TestCacheForceFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")
	c := New(Options{StorePaths: []string{path}, FlushInterval: time.Hour})
	c.Put("file:///a.jpg", "aa")

	assert.True(t, c.Flush(true))
	params, hashes, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, Params{HashSize: DefaultHashSize, HashVersion: DefaultHashVersion}, params)
	assert.Equal(t, map[string]string{"file:///a.jpg": "aa"}, hashes)
}

func TestCacheFlushTargetsLastStore(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	writeJSON(t, first, map[string]any{
		"_hash_params": "hash_size=10;hash_version=1",
		"hashes":       map[string]string{"file:///old.jpg": "0123"},
	})

	c := New(Options{StorePaths: []string{first, second}})
	assert.Equal(t, 1, c.Len(), "initial load merges readable stores")

	c.Put("file:///new.jpg", "4567")
	require.True(t, c.Flush(true))

	_, hashes, err := LoadStore(second)
	require.NoError(t, err)
	assert.Len(t, hashes, 2, "flush writes the merged snapshot to the last path")

	_, hashes, err = LoadStore(first)
	require.NoError(t, err)
	assert.Len(t, hashes, 1, "earlier stores are never written")
}

func TestCacheRefreshSwapsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")
	writeJSON(t, path, map[string]any{
		"_hash_params": "hash_size=10;hash_version=1",
		"hashes":       map[string]string{"file:///a.jpg": "aaaa"},
	})

	c := New(Options{StorePaths: []string{path}})
	h, _ := c.Get("file:///a.jpg")
	assert.Equal(t, "aaaa", h)

	writeJSON(t, path, map[string]any{
		"_hash_params": "hash_size=10;hash_version=1",
		"hashes":       map[string]string{"file:///b.jpg": "bbbb"},
	})
	c.Refresh()

	_, ok := c.Get("file:///a.jpg")
	assert.False(t, ok, "refresh replaces the whole snapshot")
	h, ok = c.Get("file:///b.jpg")
	require.True(t, ok)
	assert.Equal(t, "bbbb", h)
}

func TestCacheRefreshKeepsSnapshotWhenNothingLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")
	c := New(Options{StorePaths: []string{path}})
	c.Put("file:///a.jpg", "aaaa")

	// The store path still does not exist; a refresh must not wipe memory.
	c.Refresh()
	_, ok := c.Get("file:///a.jpg")
	assert.True(t, ok)
}
