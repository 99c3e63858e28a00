// Package uri generates canonical resource identifiers for images.
// Plain files become file:///<resolved-path>, archive members become
// archive:///<resolved-archive-path>!<internal-path>. Generation is a total
// deterministic function of the locator: the same locator always yields the
// same URI regardless of platform path separators.
package uri

import (
	"fmt"
	"path/filepath"
	"strings"

	"imagefliter/types"
)

const (
	filePrefix    = "file:///"
	archivePrefix = "archive:///"
)

// archiveExts are the archive extensions recognized when splitting a
// combined "<archive>!<internal>" path.
var archiveExts = []string{".zip!", ".cbz!", ".cbr!", ".rar!", ".7z!", ".tar!"}

// Generate returns the canonical URI for a locator.
func Generate(loc types.ImageLocation) string {
	if loc.IsArchiveMember() {
		internal := strings.ReplaceAll(loc.InternalPath, "\\", "/")
		return fmt.Sprintf("%s%s!%s", archivePrefix, resolve(loc.Path), internal)
	}
	return filePrefix + resolve(loc.Path)
}

// resolve normalizes a path to an absolute, forward-slash form without its
// leading slash, so that prefixing file:/// yields exactly three slashes.
// Drive-letter paths keep their form unchanged. No percent escaping is
// applied: the URI is an identifier, not a fetchable URL.
func resolve(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return strings.TrimPrefix(strings.ReplaceAll(abs, "\\", "/"), "/")
}

// FromPath builds a locator from a raw path string, splitting combined
// archive paths of the form "<archive>.zip!<internal>" on the last
// recognized archive extension.
func FromPath(path string) types.ImageLocation {
	splitPos := -1
	for _, ext := range archiveExts {
		if pos := strings.LastIndex(path, ext); pos >= 0 {
			if end := pos + len(ext) - 1; end > splitPos {
				splitPos = end
			}
		}
	}
	if splitPos < 0 {
		return types.PlainFile(path)
	}
	return types.ArchiveMember(path[:splitPos], path[splitPos+1:])
}

// NewRef builds an ImageRef from a raw path string.
func NewRef(path string) types.ImageRef {
	loc := FromPath(path)
	return types.ImageRef{URI: Generate(loc), Location: loc}
}

// Parse converts a canonical URI back into its locator. It is the inverse
// of Generate up to path resolution.
func Parse(u string) (types.ImageLocation, error) {
	switch {
	case strings.HasPrefix(u, archivePrefix):
		rest := strings.TrimPrefix(u, archivePrefix)
		archive, internal, ok := strings.Cut(rest, "!")
		if !ok || internal == "" {
			return types.ImageLocation{}, fmt.Errorf("uri: malformed archive uri %q", u)
		}
		return types.ArchiveMember(unresolve(archive), internal), nil
	case strings.HasPrefix(u, filePrefix):
		return types.PlainFile(unresolve(strings.TrimPrefix(u, filePrefix))), nil
	default:
		return types.ImageLocation{}, fmt.Errorf("uri: unknown scheme in %q", u)
	}
}

// unresolve restores the leading slash stripped by resolve. Drive-letter
// paths (C:/...) are already rooted and pass through untouched.
func unresolve(p string) string {
	if len(p) >= 2 && p[1] == ':' {
		return p
	}
	return "/" + p
}
