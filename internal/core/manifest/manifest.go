// Package manifest renders the cluster manifests shipyard applies: the
// per-app namespace bundle (namespace, quota, network policy, role binding)
// and the per-environment workload bundle (deployment, service, ingress).
//
// Templates are embedded and use ${VAR} placeholders. Every rendered
// document is parse-validated before it is handed to the cluster, and a
// placeholder left unresolved is an error rather than a malformed apply.
//
// Part of the Functional Core - rendering only, no cluster access.
package manifest

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/shipyard/internal/core/domain"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// ErrUnresolvedVariable means a template referenced a variable the caller
// did not supply.
var ErrUnresolvedVariable = errors.New("unresolved template variable")

// varPlaceholderRegex matches ${VAR} placeholders.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// =============================================================================
// Image references
// =============================================================================

// ImageRef returns the full image reference for an app version, e.g.
// "localhost:5050/blog:20260101.000000".
func ImageRef(registryHost, appName, version string) string {
	return fmt.Sprintf("%s/%s:%s", registryHost, appName, version)
}

// =============================================================================
// Renderers
// =============================================================================

// Namespace renders the app-<name> namespace document.
func Namespace(appName string) (string, error) {
	return render("namespace.yaml", map[string]string{"APP_NAME": appName})
}

// Quota renders the per-app ResourceQuota.
func Quota(appName string) (string, error) {
	return render("quota.yaml", map[string]string{"APP_NAME": appName})
}

// NetworkPolicy renders the per-app isolation policy.
func NetworkPolicy(appName string) (string, error) {
	return render("networkpolicy.yaml", map[string]string{"APP_NAME": appName})
}

// RoleBinding renders the binding that lets the controller manage the app
// namespace.
func RoleBinding(appName string) (string, error) {
	return render("rolebinding.yaml", map[string]string{"APP_NAME": appName})
}

// NamespaceBundle renders the full namespace bootstrap set in apply order.
func NamespaceBundle(appName string) ([]string, error) {
	var docs []string
	for _, f := range []func(string) (string, error){Namespace, Quota, NetworkPolicy, RoleBinding} {
		doc, err := f(appName)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Deployment renders the Deployment+Service+Ingress bundle for one
// environment as a single multi-document manifest.
func Deployment(appName string, env domain.Environment, image, host string) (string, error) {
	return render("deployment.yaml", map[string]string{
		"APP_NAME": appName,
		"ENV":      string(env),
		"IMAGE":    image,
		"HOST":     host,
	})
}

// =============================================================================
// Rendering internals
// =============================================================================

func render(name string, vars map[string]string) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}

	rendered := substitute(string(raw), vars)

	if m := varPlaceholderRegex.FindStringSubmatch(rendered); m != nil {
		return "", fmt.Errorf("%w: %s in %s", ErrUnresolvedVariable, m[1], name)
	}
	if err := validateYAML(rendered); err != nil {
		return "", fmt.Errorf("template %s: %w", name, err)
	}
	return rendered, nil
}

// substitute replaces ${VAR} placeholders with values from vars. Unknown
// variables are left as-is and caught by the unresolved check.
func substitute(text string, vars map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := varPlaceholderRegex.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// validateYAML parses every document in the manifest and requires each to
// be a mapping with a kind.
func validateYAML(manifest string) error {
	dec := yaml.NewDecoder(strings.NewReader(manifest))
	count := 0
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid yaml: %w", err)
		}
		if doc == nil {
			continue
		}
		if kind, _ := doc["kind"].(string); kind == "" {
			return fmt.Errorf("invalid yaml: document %d has no kind", count)
		}
		count++
	}
	if count == 0 {
		return errors.New("invalid yaml: no documents")
	}
	return nil
}
