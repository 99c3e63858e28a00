// Package fingerprint turns raw image bytes into fixed-width perceptual
// hash strings, consulting and updating the shared hash cache so each URI
// is hashed at most once per cache generation.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"imagefliter/hashcache"
	"imagefliter/logging"
	"imagefliter/types"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeError reports image bytes that could not be parsed. Per-image and
// skippable: a batch caller drops the image and continues.
type DecodeError struct {
	URI string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URI, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Computer computes perceptual hashes against an injected cache.
type Computer struct {
	cache    *hashcache.Cache
	hashSize int
}

// NewComputer builds a Computer. hashSize <= 0 selects the cache's
// configured hash size.
func NewComputer(cache *hashcache.Cache, hashSize int) *Computer {
	if hashSize <= 0 {
		hashSize = cache.Params().HashSize
	}
	return &Computer{cache: cache, hashSize: hashSize}
}

// HashSize returns the bits-per-dimension parameter in use.
func (c *Computer) HashSize() int { return c.hashSize }

// Compute returns the fingerprint for ref. A cache hit returns immediately
// without touching the image bytes; a miss decodes, hashes, and stores the
// result. Hashing the same byte content twice yields the identical hash
// string.
func (c *Computer) Compute(data []byte, ref types.ImageRef) (types.Fingerprint, error) {
	if h, ok := c.cache.Get(ref.URI); ok {
		return types.Fingerprint{Hash: h, Size: c.hashSize, Source: ref, FromCache: true}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return types.Fingerprint{}, &DecodeError{URI: ref.URI, Err: err}
	}

	hash, err := goimagehash.ExtPerceptionHash(img, c.hashSize, c.hashSize)
	if err != nil {
		return types.Fingerprint{}, &DecodeError{URI: ref.URI, Err: err}
	}
	hexStr := hexFromHash(hash)

	c.cache.Put(ref.URI, hexStr)
	logging.LogImageProcessed(ref.URI, true, "")

	return types.Fingerprint{Hash: hexStr, Size: c.hashSize, Source: ref, FromCache: false}, nil
}

// ComputeFile reads ref's bytes (preferring the preloader when supplied)
// and computes its fingerprint. The cache is still consulted first, so a
// hit never reads the file at all.
func (c *Computer) ComputeFile(ref types.ImageRef, pre *Preloader) (types.Fingerprint, error) {
	if h, ok := c.cache.Get(ref.URI); ok {
		return types.Fingerprint{Hash: h, Size: c.hashSize, Source: ref, FromCache: true}, nil
	}

	data, err := ReadBytes(ref.Location, pre)
	if err != nil {
		return types.Fingerprint{}, &DecodeError{URI: ref.URI, Err: err}
	}
	return c.Compute(data, ref)
}

// hexFromHash renders an extended hash as lowercase hex, stripping the
// kind prefix from goimagehash's "p:<hex>" form.
func hexFromHash(h *goimagehash.ExtImageHash) string {
	s := h.ToString()
	if _, hex, ok := strings.Cut(s, ":"); ok {
		return strings.ToLower(hex)
	}
	return strings.ToLower(s)
}
