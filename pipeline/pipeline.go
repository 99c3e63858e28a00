// Package pipeline runs the filter stages over a candidate image set in
// fixed priority order: small-image, grayscale, duplicate, text-only. Each
// stage only sees images not already marked by an earlier stage, and a
// failing stage contributes nothing instead of aborting the run.
package pipeline

import (
	"fmt"
	"sort"

	"imagefliter/dedup"
	"imagefliter/detectors"
	"imagefliter/fingerprint"
	"imagefliter/hashcache"
	"imagefliter/logging"
	"imagefliter/signalhandler"
	"imagefliter/textdetect"
	"imagefliter/types"
)

// Options are the explicit parameters of one pipeline configuration.
// Nothing is read from ambient state.
type Options struct {
	EnableSmall     bool
	EnableGrayscale bool
	EnableDuplicate bool
	EnableText      bool

	MinSize int // small-image stage

	Mode                dedup.Mode // duplicate stage policy
	HammingThreshold    int
	RefHammingThreshold int
	HashFile            string // reference store, hash mode only
	WatermarkKeywords   []string

	TextThreshold float64 // text-only stage

	MaxWorkers int

	OCRURL        string
	OCRLanguage   string
	TextCachePath string // sqlite text cache; empty disables caching

	HashSize int // 0 → hash cache's configured size
}

// Filter owns the constructed detectors for one configuration. Detectors
// are built once and shared across worker goroutines; only the injected
// hash cache synchronizes state.
type Filter struct {
	opts  Options
	small *detectors.SmallDetector
	gray  *detectors.GrayscaleDetector
	text  *detectors.TextDetector
	dup   *dedup.Detector
	store *textdetect.Store
}

// New wires a pipeline against the given hash cache. The only hard
// failures are configuration errors; in particular, hash mode requires a
// readable reference store up front.
func New(opts Options, cache *hashcache.Cache) (*Filter, error) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = signalhandler.GetOptimalProcs()
	}

	if opts.EnableDuplicate && opts.Mode == dedup.ModeHash {
		if opts.HashFile == "" {
			return nil, fmt.Errorf("pipeline: hash mode requires --hash-file")
		}
		if _, _, err := hashcache.LoadStore(opts.HashFile); err != nil {
			return nil, fmt.Errorf("pipeline: reference store unreadable: %w", err)
		}
	}

	f := &Filter{opts: opts}

	if opts.TextCachePath != "" {
		store, err := textdetect.OpenStore(opts.TextCachePath)
		if err != nil {
			logging.LogWarning("text cache disabled: %v", err)
		} else {
			f.store = store
		}
	}

	if opts.EnableSmall {
		f.small = detectors.NewSmallDetector(opts.MinSize)
	}
	if opts.EnableGrayscale {
		f.gray = detectors.NewGrayscaleDetector()
	}
	if opts.EnableText {
		f.text = detectors.NewTextDetector(opts.TextThreshold, f.store)
	}
	if opts.EnableDuplicate {
		computer := fingerprint.NewComputer(cache, opts.HashSize)
		var scanner dedup.TextScanner
		if opts.Mode == dedup.ModeWatermark {
			scanner = textdetect.NewClient(textdetect.Options{
				APIURL:   opts.OCRURL,
				Language: opts.OCRLanguage,
			}, f.store)
		}
		f.dup = dedup.NewDetector(computer, scanner, dedup.Options{
			Mode:                opts.Mode,
			HammingThreshold:    opts.HammingThreshold,
			RefHammingThreshold: opts.RefHammingThreshold,
			WatermarkKeywords:   opts.WatermarkKeywords,
			HashFile:            opts.HashFile,
			MaxWorkers:          opts.MaxWorkers,
		})
	}

	return f, nil
}

// Close releases detector resources. The hash cache is owned by the
// caller and flushed there.
func (f *Filter) Close() {
	if f.small != nil {
		f.small.Close()
	}
	if f.store != nil {
		f.store.Close()
	}
}

type stage struct {
	name string
	run  func([]types.ImageRef) (types.RemovalVerdict, error)
}

// Process runs the enabled stages over the images and returns the merged
// verdict. The input is sorted by URI first so runs are deterministic. A
// run always completes: per-stage failures are absorbed and logged.
func (f *Filter) Process(images []types.ImageRef) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()
	if len(images) == 0 {
		return verdict, nil
	}

	sorted := append([]types.ImageRef(nil), images...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })
	logging.LogInfo("processing %d images", len(sorted))

	var stages []stage
	if f.small != nil {
		stages = append(stages, stage{"small_image_filter", f.small.Detect})
	}
	if f.gray != nil {
		stages = append(stages, stage{"grayscale_filter", f.gray.Detect})
	}
	if f.dup != nil {
		stages = append(stages, stage{"duplicate_filter", f.dup.DetectDuplicates})
	}
	if f.text != nil {
		stages = append(stages, stage{"text_filter", f.text.Detect})
	}

	for _, s := range stages {
		remaining := surviving(sorted, verdict)
		if len(remaining) == 0 {
			break
		}

		stageVerdict, err := runStage(s, remaining)
		logging.LogStage(s.name, stageVerdict.Len(), err)
		if err != nil {
			continue
		}
		verdict.Merge(stageVerdict)
	}

	return verdict, nil
}

// surviving returns the images not yet marked, preserving order.
func surviving(images []types.ImageRef, verdict types.RemovalVerdict) []types.ImageRef {
	out := make([]types.ImageRef, 0, len(images))
	for _, ref := range images {
		if !verdict.Contains(ref.URI) {
			out = append(out, ref)
		}
	}
	return out
}

// runStage executes one stage, converting a panic into a stage error so a
// broken stage never takes down the run.
func runStage(s stage, images []types.ImageRef) (verdict types.RemovalVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = types.NewRemovalVerdict()
			err = fmt.Errorf("stage %s panicked: %v", s.name, r)
		}
	}()
	return s.run(images)
}
