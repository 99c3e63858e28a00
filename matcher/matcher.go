// Package matcher is the vectorized Hamming-distance engine. Hex hash
// strings are decoded once into packed bit vectors; distances are popcounts
// of XORed words, so a batch query against a large reference set touches
// each reference hash exactly once per target.
package matcher

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Incomparable is the distance reported for hashes that cannot be compared
// (different bit lengths or undecodable hex). It exceeds every threshold.
const Incomparable = math.MaxInt

// Match is one reference hash found within the threshold of a target.
type Match struct {
	Hash     string
	URI      string
	Distance int
}

// BitVector is a hex hash decoded into packed 64-bit words.
type BitVector struct {
	words []uint64
	bits  int
}

// ParseHex decodes a hex hash string (case-insensitive) into a bit vector.
func ParseHex(h string) (BitVector, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return BitVector{}, fmt.Errorf("matcher: empty hash")
	}
	bitLen := len(h) * 4
	words := make([]uint64, (bitLen+63)/64)
	// Consume 16 hex chars (one word) at a time, left to right; a short
	// final chunk occupies the low bits of its word.
	for i := 0; i < len(h); i += 16 {
		end := i + 16
		if end > len(h) {
			end = len(h)
		}
		w, err := strconv.ParseUint(h[i:end], 16, 64)
		if err != nil {
			return BitVector{}, fmt.Errorf("matcher: invalid hex hash %q: %w", h, err)
		}
		words[i/16] = w
	}
	return BitVector{words: words, bits: bitLen}, nil
}

// BitLen returns the number of bits in the vector.
func (v BitVector) BitLen() int { return v.bits }

// Distance returns the Hamming distance between two vectors, or ok=false
// when their bit lengths differ.
func Distance(a, b BitVector) (int, bool) {
	if a.bits != b.bits || a.bits == 0 {
		return Incomparable, false
	}
	d := 0
	for i := range a.words {
		d += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return d, true
}

// Hamming returns the Hamming distance between two hex hash strings.
// Undecodable or length-mismatched hashes yield Incomparable, never an
// error: such pairs are simply not similar.
func Hamming(h1, h2 string) int {
	a, err := ParseHex(h1)
	if err != nil {
		return Incomparable
	}
	b, err := ParseHex(h2)
	if err != nil {
		return Incomparable
	}
	d, ok := Distance(a, b)
	if !ok {
		return Incomparable
	}
	return d
}

// Matrix holds a reference hash set decoded once for repeated queries.
type Matrix struct {
	hashes  []string
	vectors []BitVector
	valid   []bool
}

// NewMatrix decodes every reference hash into the bit matrix. Undecodable
// entries stay in place but never match.
func NewMatrix(hashes []string) *Matrix {
	m := &Matrix{
		hashes:  hashes,
		vectors: make([]BitVector, len(hashes)),
		valid:   make([]bool, len(hashes)),
	}
	for i, h := range hashes {
		v, err := ParseHex(h)
		if err != nil {
			continue
		}
		m.vectors[i] = v
		m.valid[i] = true
	}
	return m
}

// Query returns every reference entry within threshold of the target hash.
// uriOf maps reference hashes to their URIs; entries without a URI are
// dropped, matching the reference-store contract.
func (m *Matrix) Query(target string, uriOf map[string]string, threshold int) []Match {
	tv, err := ParseHex(target)
	if err != nil {
		return nil
	}
	var out []Match
	for i, rv := range m.vectors {
		if !m.valid[i] {
			continue
		}
		d, ok := Distance(tv, rv)
		if !ok || d > threshold {
			continue
		}
		uri, ok := uriOf[m.hashes[i]]
		if !ok {
			continue
		}
		out = append(out, Match{Hash: m.hashes[i], URI: uri, Distance: d})
	}
	return out
}

// FindSimilar is the single-target convenience form: all reference hashes
// within threshold of target, in reference order.
func FindSimilar(target string, refs []string, uriOf map[string]string, threshold int) []Match {
	return NewMatrix(refs).Query(target, uriOf, threshold)
}

// BatchFindSimilar compares every target against the full reference set,
// building the reference bit matrix once. The result maps each target hash
// to its matches under the threshold.
func BatchFindSimilar(targets, refs []string, uriOf map[string]string, threshold int) map[string][]Match {
	m := NewMatrix(refs)
	out := make(map[string][]Match, len(targets))
	for _, t := range targets {
		if _, done := out[t]; done {
			continue
		}
		if matches := m.Query(t, uriOf, threshold); len(matches) > 0 {
			out[t] = matches
		}
	}
	return out
}
