// Package genfiles extracts workspace files from generated model output.
//
// The model is instructed to emit complete files as blocks:
//
//	<file name="relative/path.py">
//	...content...
//	</file>
//
// Extraction is strict: malformed output is reported as a typed error
// instead of silently committing nothing.
//
// Part of the Functional Core - no I/O.
package genfiles

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoFileBlocks means the output contained no file blocks at all.
	ErrNoFileBlocks = errors.New("no file blocks in generated output")

	// ErrUnterminatedBlock means a block was opened but never closed.
	ErrUnterminatedBlock = errors.New("unterminated file block")

	// ErrDuplicatePath means two blocks named the same file.
	ErrDuplicatePath = errors.New("duplicate file path")

	// ErrUnsafePath means a block named a path outside the workspace
	// (absolute, parent-escaping, or under .git).
	ErrUnsafePath = errors.New("unsafe file path")
)

// =============================================================================
// Extraction
// =============================================================================

// File is one extracted workspace file. Path is slash-separated and
// relative; Content is newline-terminated unless empty.
type File struct {
	Path    string
	Content string
}

var (
	openTagRe  = regexp.MustCompile(`^\s*<file name="([^"]+)">\s*$`)
	closeTagRe = regexp.MustCompile(`^\s*</file>\s*$`)
)

// Extract parses all file blocks out of raw model output, in order of first
// appearance. Prose outside blocks is ignored. Tags must sit alone on their
// own lines.
func Extract(raw string) ([]File, error) {
	lines := strings.Split(raw, "\n")

	var files []File
	seen := make(map[string]bool)

	for i := 0; i < len(lines); i++ {
		m := openTagRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		rel, err := cleanPath(m[1])
		if err != nil {
			return nil, err
		}
		if seen[rel] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, rel)
		}

		var body []string
		terminated := false
		j := i + 1
		for ; j < len(lines); j++ {
			if closeTagRe.MatchString(lines[j]) {
				terminated = true
				break
			}
			body = append(body, lines[j])
		}
		if !terminated {
			return nil, fmt.Errorf("%w: %s", ErrUnterminatedBlock, rel)
		}

		content := strings.Join(body, "\n")
		if content != "" {
			content += "\n"
		}

		seen[rel] = true
		files = append(files, File{Path: rel, Content: content})
		i = j
	}

	if len(files) == 0 {
		return nil, ErrNoFileBlocks
	}
	return files, nil
}

// cleanPath validates and normalizes a block path. The workspace is the
// trust boundary: nothing may be written outside it or into its .git.
func cleanPath(p string) (string, error) {
	unsafe := fmt.Errorf("%w: %q", ErrUnsafePath, p)

	if p == "" || strings.Contains(p, "\\") || path.IsAbs(p) {
		return "", unsafe
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", unsafe
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".git" {
			return "", unsafe
		}
	}
	return clean, nil
}
