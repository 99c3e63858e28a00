package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// commands recognized on the command line.
var commands = map[string]bool{"filter": true, "hash": true}

// imageExts are the file extensions collected when walking an input
// directory.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
	".avif": true, ".jxl": true,
}

// ParseArguments converts command-line arguments into a map of flags and
// values, with the command (filter/hash) under the "command" key.
func ParseArguments() map[string]string {
	args := make(map[string]string)

	command := ""
	commandIndex := -1
	for i := 1; i < len(os.Args); i++ {
		if commands[os.Args[i]] {
			command = os.Args[i]
			commandIndex = i
			break
		}
	}

	if command != "" {
		args["command"] = command
	}

	for i := 1; i < len(os.Args); i++ {
		if i == commandIndex {
			continue
		}

		arg := os.Args[i]

		// Handle flags with equals sign (--key=value)
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			flagName := strings.TrimPrefix(parts[0], "--")
			args[flagName] = parts[1]
			continue
		}

		// Handle flags without equals sign (--key value)
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			if i+1 >= len(os.Args) || strings.HasPrefix(os.Args[i+1], "--") {
				args[flagName] = "true"
			} else {
				args[flagName] = os.Args[i+1]
				i++
			}
		}
	}

	return args
}

// ParseIntFlag parses an integer flag value, returning fallback when the
// flag is absent and an error when it is malformed.
func ParseIntFlag(args map[string]string, name string, fallback int) (int, error) {
	raw, ok := args[name]
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid --%s value %q", name, raw)
	}
	return n, nil
}

// ParseFloatFlag parses a float flag value, returning fallback when the
// flag is absent and an error when it is malformed.
func ParseFloatFlag(args map[string]string, name string, fallback float64) (float64, error) {
	raw, ok := args[name]
	if !ok || raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid --%s value %q", name, raw)
	}
	return f, nil
}

// SplitKeywords splits a comma-separated keyword list, dropping empties.
func SplitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// CollectImagePaths walks a directory and returns every image file path,
// sorted by the walk order (lexical within each directory).
func CollectImagePaths(dir string) ([]string, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil // skip unreadable entries
		}
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// DefaultStorePath returns the default hash store location next to the
// executable.
func DefaultStorePath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "image_hashes.json"
	}
	return filepath.Join(filepath.Dir(exePath), "image_hashes.json")
}

// DefaultTextCachePath returns the default sqlite text cache location next
// to the executable.
func DefaultTextCachePath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "text_cache.db"
	}
	return filepath.Join(filepath.Dir(exePath), "text_cache.db")
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage() {
	fmt.Println(`Usage:
  imagefliter filter --input=DIR [options]
  imagefliter hash --input=DIR --output=FILE [options]

Filter options:
  --small                 enable small-image stage
  --grayscale             enable grayscale/pure-color stage
  --duplicate             enable duplicate stage
  --text                  enable text-only stage
  --mode=MODE             duplicate policy: quality|watermark|hash (default quality)
  --threshold=N           Hamming threshold for similar groups (default 12)
  --ref-threshold=N       Hamming threshold against the reference store (default: --threshold)
  --hash-file=PATH        reference hash store (required for --mode=hash)
  --keywords=a,b,c        watermark keywords (default: built-in list)
  --min-size=N            minimum width/height in px (default 631)
  --text-threshold=F      text coverage threshold (default 0.5)
  --workers=N             worker pool size (default: proportional to CPUs)
  --ocr-url=URL           OCR service endpoint (default http://127.0.0.1:1224/api/ocr)
  --ocr-lang=LANG         OCR language hint (default zh)
  --store=PATH            hash cache backing store (repeatable via comma list)
  --text-cache=PATH       sqlite text cache (default: next to executable)

Hash options:
  --output=FILE           hash store to write (.json or .json.gz)
  --hash-size=N           bits per hash dimension (default 10)
  --workers=N             worker pool size

Common options:
  --debug                 enable debug logging
  --logfile=PATH          debug log file (default imagefliter.log)`)
}
