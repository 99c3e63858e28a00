package detectors

import (
	"bytes"
	"image"

	"imagefliter/fingerprint"
	"imagefliter/logging"
	"imagefliter/types"
)

// Pixel classification thresholds, on 8-bit channel values.
const (
	pureWhiteMin  = 240 // every sampled channel above → pure white
	pureBlackMax  = 15  // every sampled channel below → pure black
	graySpreadMax = 5   // max channel spread for a grayscale pixel
	maxSamples    = 100
)

// GrayscaleDetector flags grayscale, pure-white and pure-black images by
// sampling a grid of pixels.
type GrayscaleDetector struct{}

// NewGrayscaleDetector builds the detector.
func NewGrayscaleDetector() *GrayscaleDetector {
	return &GrayscaleDetector{}
}

// Detect returns the verdict for one batch. Undecodable images are
// skipped, never marked.
func (d *GrayscaleDetector) Detect(refs []types.ImageRef) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()
	for _, ref := range refs {
		data, err := fingerprint.ReadBytes(ref.Location, nil)
		if err != nil {
			logging.LogWarning("grayscale check skipped %s: %v", ref.URI, err)
			continue
		}
		kind := Classify(data)
		if kind == "" {
			continue
		}
		detail := map[types.ReasonKind]string{
			types.ReasonGrayscale: "grayscale image",
			types.ReasonPureWhite: "pure white image",
			types.ReasonPureBlack: "pure black image",
		}[kind]
		verdict.Mark(ref, types.Reason{Kind: kind, Detail: detail})
		logging.DebugLog("%s: %s", detail, ref.URI)
	}
	return verdict, nil
}

// Classify inspects raw image bytes and reports ReasonPureWhite,
// ReasonPureBlack, ReasonGrayscale, or "" for a color image or undecodable
// data.
func Classify(data []byte) types.ReasonKind {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	if _, ok := img.(*image.Gray); ok {
		return types.ReasonGrayscale
	}
	if _, ok := img.(*image.Gray16); ok {
		return types.ReasonGrayscale
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return ""
	}
	stepX := w / 10
	if stepX < 1 {
		stepX = 1
	}
	stepY := h / 10
	if stepY < 1 {
		stepY = 1
	}

	allWhite, allBlack, allGray := true, true, true
	samples := 0
	for y := bounds.Min.Y; y < bounds.Max.Y && samples < maxSamples; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X && samples < maxSamples; x += stepX {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, b := int(r16>>8), int(g16>>8), int(b16>>8)
			samples++

			if r <= pureWhiteMin || g <= pureWhiteMin || b <= pureWhiteMin {
				allWhite = false
			}
			if r >= pureBlackMax || g >= pureBlackMax || b >= pureBlackMax {
				allBlack = false
			}
			if absInt(r-g) >= graySpreadMax || absInt(g-b) >= graySpreadMax || absInt(r-b) >= graySpreadMax {
				allGray = false
			}
		}
	}
	if samples == 0 {
		return ""
	}

	switch {
	case allWhite:
		return types.ReasonPureWhite
	case allBlack:
		return types.ReasonPureBlack
	case allGray:
		return types.ReasonGrayscale
	default:
		return ""
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
