package detectors

import (
	"fmt"
	"image"

	"imagefliter/fingerprint"
	"imagefliter/logging"
	"imagefliter/textdetect"
	"imagefliter/types"

	"gocv.io/x/gocv"
)

// DefaultTextThreshold is the edge-coverage ratio above which an image is
// judged text-only.
const DefaultTextThreshold = 0.5

// TextDetector flags images that are mostly rendered text (credit pages,
// recruitment notices) using edge and contour analysis.
type TextDetector struct {
	threshold float64
	store     *textdetect.Store // ratio cache; may be nil
}

// NewTextDetector builds a detector. threshold <= 0 selects the default;
// store may be nil to disable result caching.
func NewTextDetector(threshold float64, store *textdetect.Store) *TextDetector {
	if threshold <= 0 {
		threshold = DefaultTextThreshold
	}
	return &TextDetector{threshold: threshold, store: store}
}

// Detect returns the verdict for one batch. Images OpenCV cannot decode
// are skipped, never marked.
func (d *TextDetector) Detect(refs []types.ImageRef) (types.RemovalVerdict, error) {
	verdict := types.NewRemovalVerdict()
	for _, ref := range refs {
		ratio, err := d.coverageRatio(ref)
		if err != nil {
			logging.LogWarning("text check skipped %s: %v", ref.URI, err)
			continue
		}
		if ratio >= d.threshold {
			verdict.Mark(ref, types.Reason{
				Kind:   types.ReasonTextImage,
				Detail: fmt.Sprintf("text coverage %.2f >= %.2f", ratio, d.threshold),
			})
			logging.DebugLog("text image %s: coverage %.2f", ref.URI, ratio)
		}
	}
	return verdict, nil
}

// coverageRatio measures how much of the image area is covered by
// dilated edge contours. Cached per URI.
func (d *TextDetector) coverageRatio(ref types.ImageRef) (float64, error) {
	if d.store != nil {
		if ratio, ok := d.store.GetRatio(ref.URI); ok {
			return ratio, nil
		}
	}

	data, err := fingerprint.ReadBytes(ref.Location, nil)
	if err != nil {
		return 0, err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return 0, err
	}
	defer mat.Close()
	if mat.Empty() {
		return 0, fmt.Errorf("cannot decode %s", ref.URI)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(mat, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var covered float64
	for i := 0; i < contours.Size(); i++ {
		rect := gocv.BoundingRect(contours.At(i))
		covered += float64(rect.Dx() * rect.Dy())
	}

	total := float64(mat.Cols() * mat.Rows())
	if total == 0 {
		return 0, fmt.Errorf("empty image %s", ref.URI)
	}
	ratio := covered / total
	if ratio > 1 {
		ratio = 1
	}

	if d.store != nil {
		d.store.PutRatio(ref.URI, ratio)
	}
	return ratio, nil
}
