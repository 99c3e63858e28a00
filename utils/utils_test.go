package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArguments(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"imagefliter", "filter", "--input=/data", "--threshold", "8", "--debug"}
	args := ParseArguments()

	assert.Equal(t, "filter", args["command"])
	assert.Equal(t, "/data", args["input"])
	assert.Equal(t, "8", args["threshold"])
	assert.Equal(t, "true", args["debug"])
}

func TestParseArgumentsNoCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"imagefliter", "--input=/data"}
	args := ParseArguments()
	_, ok := args["command"]
	assert.False(t, ok)
}

func TestParseIntFlag(t *testing.T) {
	args := map[string]string{"threshold": "8", "bad": "x"}

	n, err := ParseIntFlag(args, "threshold", 12)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = ParseIntFlag(args, "absent", 12)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = ParseIntFlag(args, "bad", 12)
	assert.Error(t, err)
}

func TestParseFloatFlag(t *testing.T) {
	args := map[string]string{"ratio": "0.6", "bad": "x"}

	f, err := ParseFloatFlag(args, "ratio", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.6, f)

	f, err = ParseFloatFlag(args, "absent", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	_, err = ParseFloatFlag(args, "bad", 0.5)
	assert.Error(t, err)
}

func TestSplitKeywords(t *testing.T) {
	assert.Nil(t, SplitKeywords(""))
	assert.Equal(t, []string{"a", "b"}, SplitKeywords("a,b"))
	assert.Equal(t, []string{"a", "b"}, SplitKeywords(" a , ,b, "))
}

func TestCollectImagePaths(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	for _, name := range []string{"a.jpg", "b.PNG", "notes.txt", "sub/c.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	paths, err := CollectImagePaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3, "extension match is case-insensitive, non-images skipped")
	assert.Contains(t, paths, filepath.Join(dir, "a.jpg"))
	assert.Contains(t, paths, filepath.Join(dir, "b.PNG"))
	assert.Contains(t, paths, filepath.Join(sub, "c.webp"))
}
