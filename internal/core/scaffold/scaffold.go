// Package scaffold is the application template catalog. Each template is
// an embedded file tree (app code + Dockerfile) plus a code-generation
// system prompt. Template files are copied into a fresh workspace verbatim;
// the app name reaches the container through build args and environment,
// not through file rewriting.
//
// Part of the Functional Core - callers do the copying.
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed templates prompts
var catalogFS embed.FS

// ErrUnknownTemplate is returned for template kinds not in the catalog.
var ErrUnknownTemplate = errors.New("unknown template")

// =============================================================================
// Catalog
// =============================================================================

// Template describes one catalog entry.
type Template struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// catalog order is the order templates are presented to users.
var catalog = []Template{
	{Kind: "static-site", Description: "Static HTML/CSS site served by nginx"},
	{Kind: "simple-api", Description: "FastAPI HTTP service with a health endpoint"},
	{Kind: "webhook", Description: "FastAPI webhook receiver with HMAC signature verification"},
	{Kind: "scheduled-job", Description: "Periodic worker that re-runs a Python job on an interval"},
}

// List returns all templates in presentation order.
func List() []Template {
	out := make([]Template, len(catalog))
	copy(out, catalog)
	return out
}

// Valid reports whether kind names a catalog template.
func Valid(kind string) bool {
	for _, t := range catalog {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// Describe returns the catalog entry for kind.
func Describe(kind string) (Template, error) {
	for _, t := range catalog {
		if t.Kind == kind {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
}

// =============================================================================
// Template contents
// =============================================================================

// Files returns the template's file tree as relative path to content.
func Files(kind string) (map[string]string, error) {
	if !Valid(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}

	root := "templates/" + kind
	files := make(map[string]string)

	err := fs.WalkDir(catalogFS, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := catalogFS.ReadFile(path)
		if err != nil {
			return err
		}
		files[strings.TrimPrefix(path, root+"/")] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", kind, err)
	}
	return files, nil
}

// SystemPrompt returns the code-generation system prompt for kind with the
// app name substituted in.
func SystemPrompt(kind, appName string) (string, error) {
	if !Valid(kind) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}
	data, err := catalogFS.ReadFile("prompts/" + kind + ".md")
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", kind, err)
	}
	return strings.ReplaceAll(string(data), "{{APP_NAME}}", appName), nil
}
