package fingerprint

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"imagefliter/logging"
	"imagefliter/types"
)

// Preloader holds image bytes read up front so hashing workers never hit
// the disk. Purely a performance optimization; always Close it, including
// on error paths, before the owning operation returns.
type Preloader struct {
	data map[string][]byte
}

// Preload reads every plain-file ref into memory. Archive members are
// skipped (read on demand), as are missing and empty files.
func Preload(refs []types.ImageRef) *Preloader {
	p := &Preloader{data: make(map[string][]byte, len(refs))}
	for _, ref := range refs {
		if ref.Location.IsArchiveMember() {
			continue
		}
		path := ref.Location.Path
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			logging.LogWarning("preload skipped %s", path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logging.LogError("preload failed %s: %v", path, err)
			continue
		}
		p.data[path] = data
	}
	return p
}

// Bytes returns the preloaded content of a path, if present.
func (p *Preloader) Bytes(path string) ([]byte, bool) {
	if p == nil {
		return nil, false
	}
	data, ok := p.data[path]
	return data, ok
}

// Close drops every held buffer. Safe on nil.
func (p *Preloader) Close() {
	if p != nil {
		p.data = nil
	}
}

// zipExts are the archive formats whose members can be read directly.
var zipExts = []string{".zip", ".cbz"}

// ReadBytes returns the raw bytes of a locator, using the preloader when it
// has them. Archive members are read from zip-compatible archives; other
// archive formats must be extracted by the caller first.
func ReadBytes(loc types.ImageLocation, pre *Preloader) ([]byte, error) {
	if !loc.IsArchiveMember() {
		if data, ok := pre.Bytes(loc.Path); ok {
			return data, nil
		}
		return os.ReadFile(loc.Path)
	}

	if !zipReadable(loc.Path) {
		return nil, fmt.Errorf("unsupported archive format: %s", loc.Path)
	}
	zr, err := zip.OpenReader(loc.Path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	want := strings.ReplaceAll(loc.InternalPath, "\\", "/")
	for _, f := range zr.File {
		if f.Name != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive member not found: %s!%s", loc.Path, loc.InternalPath)
}

// FileSize returns the byte size of a locator: plain file size on disk, or
// the uncompressed size of a zip member. Unknown sizes return 0.
func FileSize(loc types.ImageLocation) int64 {
	if !loc.IsArchiveMember() {
		info, err := os.Stat(loc.Path)
		if err != nil {
			return 0
		}
		return info.Size()
	}

	if !zipReadable(loc.Path) {
		return 0
	}
	zr, err := zip.OpenReader(loc.Path)
	if err != nil {
		return 0
	}
	defer zr.Close()

	want := strings.ReplaceAll(loc.InternalPath, "\\", "/")
	for _, f := range zr.File {
		if f.Name == want {
			return int64(f.UncompressedSize64)
		}
	}
	return 0
}

func zipReadable(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range zipExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
