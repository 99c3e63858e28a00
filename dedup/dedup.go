// Package dedup finds near-duplicate images and decides which members of
// each similar group to keep. Grouping is greedy single-pass: each hash is
// processed once, and a seed pulls in every unclaimed hash reported similar
// to it. Already-closed groups are never re-merged, so pathological chains
// depend on the (deterministic, sorted) iteration order.
package dedup

import (
	"fmt"
	"sort"

	"imagefliter/fingerprint"
	"imagefliter/hashcache"
	"imagefliter/logging"
	"imagefliter/matcher"
	"imagefliter/types"

	"golang.org/x/sync/errgroup"
)

// DefaultHammingThreshold is the max Hamming distance for two images to
// count as near-duplicates.
const DefaultHammingThreshold = 12

// Mode selects the resolution policy applied to duplicate candidates.
type Mode string

const (
	// ModeQuality keeps the largest file in each similar group.
	ModeQuality Mode = "quality"
	// ModeWatermark keeps the largest watermark-free member of each group.
	ModeWatermark Mode = "watermark"
	// ModeHash removes images matching an external reference hash store.
	ModeHash Mode = "hash"
)

// TextScanner obtains detected text for an image. Implemented by
// textdetect.Client; stubbed in tests.
type TextScanner interface {
	DetectText(ref types.ImageRef, data []byte) ([]string, error)
}

// DefaultWatermarkKeywords flag scanlation-group credit text, in both
// simplified and traditional script.
var DefaultWatermarkKeywords = []string{
	"汉化", "漢化", "翻译", "翻譯", "扫描", "掃描", "嵌字", "扫图",
	"校对", "校對", "润色", "招募", "公众号", "众筹", "关注",
	"有偿", "福利", "二维", "淘宝", "免费", "汉化组", "漢化組",
}

// Options configures a Detector. Zero values select the defaults.
type Options struct {
	Mode                Mode
	HammingThreshold    int
	RefHammingThreshold int // hash mode; 0 → HammingThreshold
	WatermarkKeywords   []string
	HashFile            string // reference store, required in hash mode
	MaxWorkers          int
}

// Detector runs duplicate detection under one resolution policy. Construct
// once and share; only the injected hash cache synchronizes state.
type Detector struct {
	computer *fingerprint.Computer
	scanner  TextScanner
	opts     Options
}

// NewDetector builds a detector. scanner is only consulted in watermark
// mode and may be nil otherwise.
func NewDetector(computer *fingerprint.Computer, scanner TextScanner, opts Options) *Detector {
	if opts.Mode == "" {
		opts.Mode = ModeQuality
	}
	if opts.HammingThreshold <= 0 {
		opts.HammingThreshold = DefaultHammingThreshold
	}
	if opts.RefHammingThreshold <= 0 {
		opts.RefHammingThreshold = opts.HammingThreshold
	}
	if len(opts.WatermarkKeywords) == 0 {
		opts.WatermarkKeywords = DefaultWatermarkKeywords
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	return &Detector{computer: computer, scanner: scanner, opts: opts}
}

// DetectDuplicates returns the removal verdict for a candidate set under
// the configured mode. Only configuration problems (an unreadable
// reference store in hash mode) are hard errors; per-image failures are
// logged and skipped.
func (d *Detector) DetectDuplicates(images []types.ImageRef) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()
	if len(images) == 0 {
		return verdict, nil
	}

	pre := fingerprint.Preload(images)
	defer pre.Close()

	if d.opts.Mode == ModeHash {
		return d.resolveHashReference(images, pre)
	}

	groups := d.findSimilarGroups(images, pre)
	for _, group := range groups {
		var groupVerdict types.RemovalVerdict
		if d.opts.Mode == ModeWatermark {
			groupVerdict = d.resolveWatermark(group, pre)
		} else {
			groupVerdict = d.resolveQuality(group)
		}
		verdict.Merge(groupVerdict)
	}
	return verdict, nil
}

// FindSimilarGroups exposes grouping without resolution.
func (d *Detector) FindSimilarGroups(images []types.ImageRef) []types.SimilarGroup {
	pre := fingerprint.Preload(images)
	defer pre.Close()
	return d.findSimilarGroups(images, pre)
}

// fingerprints computes or retrieves a fingerprint per image across the
// worker pool. Failed images are dropped with a logged reason. Results
// come back sorted by URI so grouping order is deterministic.
func (d *Detector) fingerprints(images []types.ImageRef, pre *fingerprint.Preloader) []types.Fingerprint {
	slots := make([]*types.Fingerprint, len(images))

	var g errgroup.Group
	g.SetLimit(d.opts.MaxWorkers)
	for i, ref := range images {
		i, ref := i, ref
		g.Go(func() error {
			fp, err := d.computer.ComputeFile(ref, pre)
			if err != nil {
				logging.LogWarning("fingerprint failed %s: %v", ref.URI, err)
				return nil
			}
			slots[i] = &fp
			return nil
		})
	}
	g.Wait()

	fps := make([]types.Fingerprint, 0, len(images))
	for _, fp := range slots {
		if fp != nil {
			fps = append(fps, *fp)
		}
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i].Source.URI < fps[j].Source.URI })
	return fps
}

func (d *Detector) findSimilarGroups(images []types.ImageRef, pre *fingerprint.Preloader) []types.SimilarGroup {
	fps := d.fingerprints(images, pre)
	if len(fps) < 2 {
		return nil
	}

	// Images with the identical hash share a bit vector; compare unique
	// hashes once and fan results back out to images.
	imagesByHash := make(map[string][]types.ImageRef)
	var uniqueHashes []string
	uriOf := make(map[string]string)
	for _, fp := range fps {
		if _, seen := imagesByHash[fp.Hash]; !seen {
			uniqueHashes = append(uniqueHashes, fp.Hash)
			uriOf[fp.Hash] = fp.Source.URI
		}
		imagesByHash[fp.Hash] = append(imagesByHash[fp.Hash], fp.Source)
	}

	similar := matcher.BatchFindSimilar(uniqueHashes, uniqueHashes, uriOf, d.opts.HammingThreshold)

	var groups []types.SimilarGroup
	processed := make(map[string]bool, len(uniqueHashes))
	for _, seed := range uniqueHashes {
		if processed[seed] {
			continue
		}
		processed[seed] = true

		group := types.SimilarGroup(append([]types.ImageRef(nil), imagesByHash[seed]...))
		for _, m := range similar[seed] {
			if m.Hash == seed || processed[m.Hash] {
				continue
			}
			processed[m.Hash] = true
			group = append(group, imagesByHash[m.Hash]...)
			logging.DebugLog("similar: %s -> %s (distance %d)", seed, m.Hash, m.Distance)
		}

		if len(group) >= 2 {
			groups = append(groups, group)
			logging.DebugLog("similar group of %d images", len(group))
		}
	}
	return groups
}

// resolveHashReference compares every candidate against the external
// reference store and marks the first (closest) match per image. Intra-set
// structure is irrelevant here, so grouping is bypassed entirely.
func (d *Detector) resolveHashReference(images []types.ImageRef, pre *fingerprint.Preloader) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()

	if d.opts.HashFile == "" {
		return verdict, fmt.Errorf("dedup: hash mode requires a reference hash store")
	}
	params, refHashes, err := hashcache.LoadStore(d.opts.HashFile)
	if err != nil {
		return verdict, fmt.Errorf("dedup: cannot load reference store: %w", err)
	}
	if params.HashSize != d.computer.HashSize() {
		logging.LogWarning("reference store hash_size=%d differs from configured %d; entries will not match",
			params.HashSize, d.computer.HashSize())
	}

	refs := make([]string, 0, len(refHashes))
	uriOf := make(map[string]string, len(refHashes))
	for uri, h := range refHashes {
		if _, dup := uriOf[h]; !dup {
			refs = append(refs, h)
			uriOf[h] = uri
		}
	}
	sort.Strings(refs)
	m := matcher.NewMatrix(refs)

	fps := d.fingerprints(images, pre)
	for _, fp := range fps {
		matches := m.Query(fp.Hash, uriOf, d.opts.RefHammingThreshold)
		best, ok := closestMatch(matches, fp.Source.URI)
		if !ok {
			continue
		}
		verdict.Mark(fp.Source, types.Reason{
			Kind:     types.ReasonHashDuplicate,
			Detail:   fmt.Sprintf("matches %s at distance %d", best.URI, best.Distance),
			RefURI:   best.URI,
			Distance: best.Distance,
		})
		logging.DebugLog("hash duplicate %s -> %s (distance %d)", fp.Source.URI, best.URI, best.Distance)
	}
	return verdict, nil
}

// closestMatch picks the smallest-distance match, first occurrence on
// ties, excluding the image's own reference entry.
func closestMatch(matches []matcher.Match, selfURI string) (matcher.Match, bool) {
	var best matcher.Match
	found := false
	for _, m := range matches {
		if m.URI == selfURI {
			continue
		}
		if !found || m.Distance < best.Distance {
			best = m
			found = true
		}
	}
	return best, found
}
