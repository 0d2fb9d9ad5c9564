package condense

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultPattern selects chapter files inside an input directory.
const DefaultPattern = "*.txt"

// DefaultOutputDirName is created next to the chapters when no output
// directory is configured.
const DefaultOutputDirName = "condensed"

// Discover lists chapter files. input may be a file, a directory (searched
// with pattern) or a glob. Results are sorted and never include files from
// the default output directory.
func Discover(input, pattern string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("input path is required")
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}

	var matches []string
	info, err := os.Stat(input)
	switch {
	case err == nil && !info.IsDir():
		return []string{input}, nil
	case err == nil:
		found, err := doublestar.Glob(os.DirFS(input), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("match %q in %s: %w", pattern, input, err)
		}
		for _, rel := range found {
			matches = append(matches, filepath.Join(input, filepath.FromSlash(rel)))
		}
	case errors.Is(err, fs.ErrNotExist) && doublestar.ValidatePathPattern(input) && strings.ContainsAny(input, "*?[{"):
		found, err := doublestar.FilepathGlob(input, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", input, err)
		}
		matches = found
	default:
		return nil, fmt.Errorf("read input %s: %w", input, err)
	}

	filtered := matches[:0]
	for _, path := range matches {
		if filepath.Base(filepath.Dir(path)) == DefaultOutputDirName {
			continue
		}
		filtered = append(filtered, path)
	}
	sort.Strings(filtered)
	return filtered, nil
}

// ReadChapter reads a chapter file as text. UTF-8 (with or without BOM),
// UTF-16 with BOM and GB18030 (a superset of GBK and GB2312) are accepted.
func ReadChapter(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- Chapter path is user-provided
	if err != nil {
		return "", fmt.Errorf("read chapter %s: %w", path, err)
	}
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		data = data[3:]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return "", fmt.Errorf("decode utf-16: %w", err)
		}
		return string(out), nil
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decode gb18030: %w", err)
	}
	return string(out), nil
}

// WriteChapter writes condensed text, creating the directory when needed.
func WriteChapter(path, text string) error {
	// #nosec G301 -- output directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	// #nosec G306 -- condensed chapters are meant to be shared
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

var chapterMarker = regexp.MustCompile(`第.{1,6}[章回节]|序章|序幕|引子|尾声|(?i)^(chapter|prologue|epilogue)\b`)

// IsTableOfContents reports whether content looks like a chapter index
// rather than prose: at least five lines, every line short, and more than a
// fifth of the non-empty lines carrying a chapter marker.
func IsTableOfContents(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) < 5 {
		return false
	}

	var markers, nonEmpty int
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > 50 {
			return false
		}
		nonEmpty++
		if chapterMarker.MatchString(line) {
			markers++
		}
	}
	return nonEmpty > 0 && float64(markers)/float64(nonEmpty) > 0.2
}
