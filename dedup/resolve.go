package dedup

import (
	"fmt"
	"strings"

	"imagefliter/fingerprint"
	"imagefliter/logging"
	"imagefliter/textdetect"
	"imagefliter/types"
)

// resolveQuality keeps the single largest-by-byte-size member of a group
// and marks all others. Ties keep the first member in group order.
func (d *Detector) resolveQuality(group types.SimilarGroup) types.RemovalVerdict {
	verdict := types.NewRemovalVerdict()

	sizes := make(map[string]int64, len(group))
	keeper := group[0]
	for _, ref := range group {
		size := fingerprint.FileSize(ref.Location)
		sizes[ref.URI] = size
		if size > sizes[keeper.URI] {
			keeper = ref
		}
	}

	for _, ref := range group {
		if ref.URI == keeper.URI {
			continue
		}
		diff := sizes[keeper.URI] - sizes[ref.URI]
		verdict.Mark(ref, types.Reason{
			Kind:     types.ReasonQuality,
			Detail:   fmt.Sprintf("%d bytes smaller than kept image", diff),
			SizeDiff: diff,
		})
		logging.DebugLog("quality: removing %s (%d bytes smaller)", ref.URI, diff)
	}
	return verdict
}

// watermarkResult is one member's evidence.
type watermarkResult struct {
	positive bool
	texts    []string
	matched  []string
}

// resolveWatermark removes watermark-positive members of a group, keeping
// the largest member that carries no watermark. When every member is
// watermark-positive there is no safe keeper and the group is left
// untouched.
func (d *Detector) resolveWatermark(group types.SimilarGroup, pre *fingerprint.Preloader) types.RemovalVerdict {
	verdict := types.NewRemovalVerdict()

	results := make(map[string]watermarkResult, len(group))
	var clean []types.ImageRef
	for _, ref := range group {
		res := d.inspectWatermark(ref, pre)
		results[ref.URI] = res
		if !res.positive {
			clean = append(clean, ref)
		}
	}
	if len(clean) == 0 {
		logging.DebugLog("watermark: no clean member in group of %d, keeping all", len(group))
		return verdict
	}

	keeper := clean[0]
	keepSize := fingerprint.FileSize(keeper.Location)
	for _, ref := range clean[1:] {
		if size := fingerprint.FileSize(ref.Location); size > keepSize {
			keeper, keepSize = ref, size
		}
	}

	for _, ref := range group {
		res := results[ref.URI]
		if ref.URI == keeper.URI || !res.positive {
			continue
		}
		verdict.Mark(ref, types.Reason{
			Kind:            types.ReasonWatermark,
			Detail:          fmt.Sprintf("matched keywords: %s", strings.Join(res.matched, ", ")),
			MatchedKeywords: res.matched,
			DetectedTexts:   res.texts,
		})
		logging.DebugLog("watermark: removing %s (%v)", ref.URI, res.matched)
	}
	return verdict
}

// inspectWatermark gathers OCR text and embedded credit metadata for one
// member and matches it against the keyword list. Any service failure
// reads as "no text detected".
func (d *Detector) inspectWatermark(ref types.ImageRef, pre *fingerprint.Preloader) watermarkResult {
	data, err := fingerprint.ReadBytes(ref.Location, pre)
	if err != nil {
		logging.LogWarning("watermark check skipped %s: %v", ref.URI, err)
		return watermarkResult{}
	}

	var texts []string
	if d.scanner != nil {
		detected, err := d.scanner.DetectText(ref, data)
		if err != nil {
			logging.LogWarning("ocr failed for %s, treating as no text: %v", ref.URI, err)
		} else {
			texts = detected
		}
	}
	texts = append(texts, textdetect.MetadataTexts(data)...)

	matched := matchKeywords(texts, d.opts.WatermarkKeywords)
	return watermarkResult{positive: len(matched) > 0, texts: texts, matched: matched}
}

// matchKeywords returns the keywords found (case-insensitive substring) in
// any of the detected texts, in keyword-list order.
func matchKeywords(texts, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		lowerKw := strings.ToLower(kw)
		for _, text := range texts {
			if strings.Contains(strings.ToLower(text), lowerKw) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}
