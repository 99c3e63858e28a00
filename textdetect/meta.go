package textdetect

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bep/imagemeta"
)

// creditTags maps (source, tag-name) → true for the embedded credit and
// rights fields that count as watermark evidence alongside OCR text:
// scanlation groups and aggregator sites routinely stamp these.
var creditTags = map[imagemeta.Source]map[string]bool{
	imagemeta.EXIF: {
		"Artist":    true,
		"Copyright": true,
	},
	imagemeta.IPTC: {
		"Credit":          true,
		"Byline":          true,
		"CopyrightNotice": true,
	},
	imagemeta.XMP: {
		"Rights":  true,
		"Creator": true,
	},
}

// MetadataTexts extracts embedded credit/rights strings from raw image
// bytes. Graceful degradation: unparsable metadata yields nil, never an
// error.
func MetadataTexts(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	var texts []string
	err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if tags, ok := creditTags[ti.Source]; ok {
				return tags[ti.Tag]
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if s := strings.TrimSpace(fmt.Sprint(ti.Value)); s != "" {
				texts = append(texts, s)
			}
			return nil
		},
	})
	if err != nil {
		return nil
	}
	return texts
}
