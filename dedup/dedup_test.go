package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagefliter/fingerprint"
	"imagefliter/hashcache"
	"imagefliter/types"
	"imagefliter/uri"
)

// fixture seeds the hash cache directly, so detection runs against chosen
// hashes without decoding any real image.
type fixture struct {
	t     *testing.T
	dir   string
	cache *hashcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cache := hashcache.New(hashcache.Options{
		StorePaths: []string{filepath.Join(dir, "hashes.json")},
	})
	return &fixture{t: t, dir: dir, cache: cache}
}

// addImage creates a file of the given byte size and pins its hash.
func (f *fixture) addImage(name, hash string, size int) types.ImageRef {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, make([]byte, size), 0o644))
	ref := uri.NewRef(path)
	f.cache.Put(ref.URI, hash)
	return ref
}

func (f *fixture) detector(opts Options) *Detector {
	return NewDetector(fingerprint.NewComputer(f.cache, 10), nil, opts)
}

// hashAt returns a 25-char hex hash at the given Hamming distance from the
// all-zero hash, for distances up to 4.
func hashAt(distance int) string {
	nibble := []string{"0", "1", "3", "7", "f"}[distance]
	return nibble + strings.Repeat("0", 24)
}

func TestIdenticalHashesFormOneGroup(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	refs := []types.ImageRef{
		f.addImage("a.jpg", h, 1000),
		f.addImage("b.jpg", h, 2000),
		f.addImage("c.jpg", h, 1500),
	}

	groups := f.detector(Options{}).FindSimilarGroups(refs)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestQualityKeepsLargestFile(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	a := f.addImage("a.jpg", h, 1000)
	b := f.addImage("b.jpg", h, 2000)
	c := f.addImage("c.jpg", h, 1500)

	verdict, err := f.detector(Options{Mode: ModeQuality}).DetectDuplicates([]types.ImageRef{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, 2, verdict.Len())
	assert.False(t, verdict.Contains(b.URI), "largest file is kept")
	assert.True(t, verdict.Contains(a.URI))
	assert.True(t, verdict.Contains(c.URI))

	reason := verdict.Reasons[a.URI]
	assert.Equal(t, types.ReasonQuality, reason.Kind)
	assert.Equal(t, int64(1000), reason.SizeDiff)
}

func TestDistantHashesDoNotGroup(t *testing.T) {
	f := newFixture(t)
	far := "f" + strings.Repeat("0f0", 8)
	a := f.addImage("a.jpg", hashAt(0), 1000)
	b := f.addImage("b.jpg", far, 2000)

	verdict, err := f.detector(Options{Mode: ModeQuality, HammingThreshold: 12}).
		DetectDuplicates([]types.ImageRef{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, verdict.Len())
}

func TestNearHashesGroupUnderThreshold(t *testing.T) {
	f := newFixture(t)
	a := f.addImage("a.jpg", hashAt(0), 1000)
	b := f.addImage("b.jpg", hashAt(3), 2000)

	d := f.detector(Options{Mode: ModeQuality, HammingThreshold: 4})
	verdict, err := d.DetectDuplicates([]types.ImageRef{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, verdict.Len())
	assert.True(t, verdict.Contains(a.URI), "smaller file removed")

	// Threshold below the distance: no group, nothing removed.
	d = f.detector(Options{Mode: ModeQuality, HammingThreshold: 2})
	verdict, err = d.DetectDuplicates([]types.ImageRef{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, verdict.Len())
}

func TestUnhashableImagesAreSkipped(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	a := f.addImage("a.jpg", h, 1000)
	b := f.addImage("b.jpg", h, 2000)
	// No cached hash and no decodable content: fingerprinting fails and
	// the image drops out of grouping.
	broken := uri.NewRef(filepath.Join(f.dir, "broken.jpg"))
	require.NoError(t, os.WriteFile(broken.Location.Path, []byte("junk"), 0o644))

	verdict, err := f.detector(Options{Mode: ModeQuality}).
		DetectDuplicates([]types.ImageRef{a, b, broken})
	require.NoError(t, err)
	assert.True(t, verdict.Contains(a.URI))
	assert.False(t, verdict.Contains(broken.URI))
}

func TestHashModeMatchesReferenceStore(t *testing.T) {
	f := newFixture(t)
	refStore := filepath.Join(f.dir, "refs.json")

	refHashes := map[string]string{
		"file:///ref/near.jpg": hashAt(3),
		"file:///ref/far.jpg":  "f" + strings.Repeat("0f0", 8),
	}
	for i := 0; i < 50; i++ {
		refHashes[fmt.Sprintf("file:///ref/noise%02d.jpg", i)] =
			fmt.Sprintf("%025x", 0xffff00000000+int64(i))
	}
	require.NoError(t, hashcache.WriteStore(refStore,
		hashcache.Params{HashSize: 10, HashVersion: 1}, refHashes))

	target := f.addImage("target.jpg", hashAt(0), 1000)
	clean := f.addImage("clean.jpg", "e"+strings.Repeat("e0", 12), 1000)

	d := f.detector(Options{Mode: ModeHash, HashFile: refStore, RefHammingThreshold: 10})
	verdict, err := d.DetectDuplicates([]types.ImageRef{target, clean})
	require.NoError(t, err)

	require.True(t, verdict.Contains(target.URI))
	reason := verdict.Reasons[target.URI]
	assert.Equal(t, types.ReasonHashDuplicate, reason.Kind)
	assert.Equal(t, "file:///ref/near.jpg", reason.RefURI)
	assert.Equal(t, 3, reason.Distance)

	assert.False(t, verdict.Contains(clean.URI), "no reference within threshold")
}

func TestHashModeExcludesSelfEntry(t *testing.T) {
	f := newFixture(t)
	target := f.addImage("target.jpg", hashAt(0), 1000)

	// The store contains the image's own entry at distance zero; it must
	// not match itself.
	refStore := filepath.Join(f.dir, "refs.json")
	require.NoError(t, hashcache.WriteStore(refStore,
		hashcache.Params{HashSize: 10, HashVersion: 1},
		map[string]string{target.URI: hashAt(0)}))

	d := f.detector(Options{Mode: ModeHash, HashFile: refStore})
	verdict, err := d.DetectDuplicates([]types.ImageRef{target})
	require.NoError(t, err)
	assert.Equal(t, 0, verdict.Len())
}

func TestHashModeMissingStoreIsAnError(t *testing.T) {
	f := newFixture(t)
	target := f.addImage("target.jpg", hashAt(0), 1000)

	d := f.detector(Options{Mode: ModeHash, HashFile: filepath.Join(f.dir, "nope.json")})
	_, err := d.DetectDuplicates([]types.ImageRef{target})
	assert.Error(t, err)

	d = f.detector(Options{Mode: ModeHash})
	_, err = d.DetectDuplicates([]types.ImageRef{target})
	assert.Error(t, err)
}

// stubScanner maps URIs to canned OCR output.
type stubScanner struct {
	texts map[string][]string
	errs  map[string]error
}

func (s *stubScanner) DetectText(ref types.ImageRef, data []byte) ([]string, error) {
	if err := s.errs[ref.URI]; err != nil {
		return nil, err
	}
	return s.texts[ref.URI], nil
}

func (f *fixture) watermarkDetector(scanner TextScanner, keywords []string) *Detector {
	return NewDetector(fingerprint.NewComputer(f.cache, 10), scanner, Options{
		Mode:              ModeWatermark,
		WatermarkKeywords: keywords,
	})
}

func TestWatermarkRemovesMarkedMembers(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	a := f.addImage("a.jpg", h, 1000)
	b := f.addImage("b.jpg", h, 2000)
	c := f.addImage("c.jpg", h, 3000)

	scanner := &stubScanner{texts: map[string][]string{
		a.URI: {"scanned by SomeGroup"},
		b.URI: {"scanned by SomeGroup"},
	}}
	d := f.watermarkDetector(scanner, []string{"somegroup"})

	verdict, err := d.DetectDuplicates([]types.ImageRef{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, 2, verdict.Len())
	assert.False(t, verdict.Contains(c.URI), "clean member kept")
	require.True(t, verdict.Contains(a.URI))
	reason := verdict.Reasons[a.URI]
	assert.Equal(t, types.ReasonWatermark, reason.Kind)
	assert.Equal(t, []string{"somegroup"}, reason.MatchedKeywords)
	assert.Equal(t, []string{"scanned by SomeGroup"}, reason.DetectedTexts)
}

func TestWatermarkAllMarkedKeepsEverything(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	a := f.addImage("a.jpg", h, 1000)
	b := f.addImage("b.jpg", h, 2000)

	scanner := &stubScanner{texts: map[string][]string{
		a.URI: {"credit: somegroup"},
		b.URI: {"credit: somegroup"},
	}}
	d := f.watermarkDetector(scanner, []string{"somegroup"})

	verdict, err := d.DetectDuplicates([]types.ImageRef{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, verdict.Len(), "no clean keeper, group left untouched")
}

func TestWatermarkOCRFailureReadsAsNoText(t *testing.T) {
	f := newFixture(t)
	h := hashAt(0)
	a := f.addImage("a.jpg", h, 1000)
	b := f.addImage("b.jpg", h, 2000)

	scanner := &stubScanner{
		texts: map[string][]string{a.URI: {"by somegroup"}},
		errs:  map[string]error{b.URI: fmt.Errorf("ocr service down")},
	}
	d := f.watermarkDetector(scanner, []string{"somegroup"})

	verdict, err := d.DetectDuplicates([]types.ImageRef{a, b})
	require.NoError(t, err)
	assert.True(t, verdict.Contains(a.URI))
	assert.False(t, verdict.Contains(b.URI), "failed OCR counts as clean")
}

func TestMatchKeywordsCaseInsensitive(t *testing.T) {
	matched := matchKeywords([]string{"Scanned By GROUP"}, []string{"group", "absent"})
	assert.Equal(t, []string{"group"}, matched)
	assert.Empty(t, matchKeywords(nil, []string{"group"}))
}

func TestEmptyInput(t *testing.T) {
	f := newFixture(t)
	verdict, err := f.detector(Options{}).DetectDuplicates(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, verdict.Len())
}
