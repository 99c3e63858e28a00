package types

import "fmt"

// ImageLocation identifies where an image's bytes live: a plain file on
// disk, or a member of an archive.
type ImageLocation struct {
	Path         string // file path, or the archive path for archive members
	InternalPath string // path inside the archive; empty for plain files
}

// PlainFile builds the location of a regular image file.
func PlainFile(path string) ImageLocation {
	return ImageLocation{Path: path}
}

// ArchiveMember builds the location of an image stored inside an archive.
func ArchiveMember(archivePath, internalPath string) ImageLocation {
	return ImageLocation{Path: archivePath, InternalPath: internalPath}
}

// IsArchiveMember reports whether the location points inside an archive.
func (l ImageLocation) IsArchiveMember() bool {
	return l.InternalPath != ""
}

func (l ImageLocation) String() string {
	if l.IsArchiveMember() {
		return fmt.Sprintf("%s!%s", l.Path, l.InternalPath)
	}
	return l.Path
}

// ImageRef identifies one image: a canonical URI plus its source locator.
// Immutable once created.
type ImageRef struct {
	URI      string
	Location ImageLocation
}

// Fingerprint is the perceptual hash of one image.
type Fingerprint struct {
	Hash      string // fixed-length lowercase hex string
	Size      int    // bits-per-dimension parameter of the hash
	Source    ImageRef
	FromCache bool
}

// SimilarityEdge records that two images are within the active Hamming
// threshold of each other. Symmetric: Distance(a,b) == Distance(b,a).
type SimilarityEdge struct {
	A, B     ImageRef
	Distance int
}

// SimilarGroup is a set of images transitively connected by similarity
// edges under the active threshold. Always has at least two members.
type SimilarGroup []ImageRef

// ReasonKind names the filter decision that marked an image for removal.
type ReasonKind string

const (
	ReasonSmallImage    ReasonKind = "small_image"
	ReasonGrayscale     ReasonKind = "grayscale"
	ReasonPureWhite     ReasonKind = "pure_white"
	ReasonPureBlack     ReasonKind = "pure_black"
	ReasonQuality       ReasonKind = "quality"
	ReasonWatermark     ReasonKind = "watermark"
	ReasonHashDuplicate ReasonKind = "hash_duplicate"
	ReasonTextImage     ReasonKind = "text_image"
)

// Reason explains why one image was marked for removal.
type Reason struct {
	Kind            ReasonKind
	Detail          string
	Dimensions      string   // small_image: "WxH"
	SizeDiff        int64    // quality: bytes smaller than the kept image
	MatchedKeywords []string // watermark
	DetectedTexts   []string // watermark
	RefURI          string   // hash_duplicate: matched reference entry
	Distance        int      // hash_duplicate: Hamming distance to RefURI
}

// RemovalVerdict is the unit of output of every filter stage and of the
// pipeline as a whole: the set of images to remove, keyed by URI, and the
// reason each one was marked.
type RemovalVerdict struct {
	ToRemove map[string]ImageRef
	Reasons  map[string]Reason
}

// NewRemovalVerdict returns an empty verdict.
func NewRemovalVerdict() RemovalVerdict {
	return RemovalVerdict{
		ToRemove: make(map[string]ImageRef),
		Reasons:  make(map[string]Reason),
	}
}

// Mark adds ref to the removal set. The first reason recorded for a URI
// wins; later marks for the same image are ignored.
func (v RemovalVerdict) Mark(ref ImageRef, reason Reason) {
	if _, ok := v.ToRemove[ref.URI]; ok {
		return
	}
	v.ToRemove[ref.URI] = ref
	v.Reasons[ref.URI] = reason
}

// Merge folds another verdict into this one, preserving existing reasons.
func (v RemovalVerdict) Merge(other RemovalVerdict) {
	for uri, ref := range other.ToRemove {
		v.Mark(ref, other.Reasons[uri])
	}
}

// Contains reports whether the image with the given URI is marked.
func (v RemovalVerdict) Contains(uri string) bool {
	_, ok := v.ToRemove[uri]
	return ok
}

// Len returns the number of marked images.
func (v RemovalVerdict) Len() int {
	return len(v.ToRemove)
}
