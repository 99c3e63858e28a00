// Package detectors holds the independent per-image filter stages that run
// before and after duplicate resolution: small-image, grayscale/pure-color
// and text-only detection.
package detectors

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"imagefliter/fingerprint"
	"imagefliter/logging"
	"imagefliter/types"

	"github.com/barasher/go-exiftool"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMinSize is the minimum width/height below which an image counts
// as a small image.
const DefaultMinSize = 631

// rawFormats are camera formats whose dimensions come from exiftool
// because the stdlib decoders cannot read their headers.
var rawFormats = []string{".dng", ".raf", ".arw", ".nef", ".cr2", ".cr3", ".nrw", ".srf"}

// SmallDetector flags images whose width or height falls below a minimum.
type SmallDetector struct {
	minSize int
	et      *exiftool.Exiftool // nil when exiftool is unavailable
}

// NewSmallDetector builds a detector. minSize <= 0 selects the default.
// The exiftool helper process is optional; without it RAW files are
// skipped rather than misjudged.
func NewSmallDetector(minSize int) *SmallDetector {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		logging.LogWarning("exiftool unavailable, RAW dimensions disabled: %v", err)
		et = nil
	}
	return &SmallDetector{minSize: minSize, et: et}
}

// Close releases the exiftool helper process.
func (d *SmallDetector) Close() {
	if d.et != nil {
		d.et.Close()
	}
}

// Detect returns the verdict for one batch. Images whose dimensions cannot
// be read are skipped, never marked.
func (d *SmallDetector) Detect(refs []types.ImageRef) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()
	for _, ref := range refs {
		w, h, err := d.dimensions(ref.Location)
		if err != nil {
			logging.LogWarning("small-image check skipped %s: %v", ref.URI, err)
			continue
		}
		if w < d.minSize || h < d.minSize {
			verdict.Mark(ref, types.Reason{
				Kind:       types.ReasonSmallImage,
				Detail:     fmt.Sprintf("below %d px", d.minSize),
				Dimensions: fmt.Sprintf("%dx%d", w, h),
			})
			logging.DebugLog("small image %s: %dx%d", ref.URI, w, h)
		}
	}
	return verdict, nil
}

func (d *SmallDetector) dimensions(loc types.ImageLocation) (int, int, error) {
	ext := strings.ToLower(filepath.Ext(loc.String()))
	for _, raw := range rawFormats {
		if ext == raw {
			return d.rawDimensions(loc)
		}
	}

	data, err := fingerprint.ReadBytes(loc, nil)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// rawDimensions reads ImageWidth/ImageHeight tags through exiftool. Only
// plain files are supported; RAW files inside archives are skipped.
func (d *SmallDetector) rawDimensions(loc types.ImageLocation) (int, int, error) {
	if d.et == nil {
		return 0, 0, fmt.Errorf("exiftool unavailable")
	}
	if loc.IsArchiveMember() {
		return 0, 0, fmt.Errorf("RAW file inside archive: %s", loc)
	}

	metas := d.et.ExtractMetadata(loc.Path)
	if len(metas) == 0 {
		return 0, 0, fmt.Errorf("no metadata for %s", loc.Path)
	}
	if metas[0].Err != nil {
		return 0, 0, metas[0].Err
	}
	w, err := metas[0].GetInt("ImageWidth")
	if err != nil {
		return 0, 0, err
	}
	h, err := metas[0].GetInt("ImageHeight")
	if err != nil {
		return 0, 0, err
	}
	return int(w), int(h), nil
}
