package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/domain"
)

func TestImageRef(t *testing.T) {
	ref := ImageRef("localhost:5050", "blog", "20260101.000000")
	assert.Equal(t, "localhost:5050/blog:20260101.000000", ref)
}

func TestNamespaceRendering(t *testing.T) {
	doc, err := Namespace("blog")
	require.NoError(t, err)
	assert.Contains(t, doc, "name: app-blog")
	assert.Contains(t, doc, "kind: Namespace")
	assert.NotContains(t, doc, "${")
}

func TestNamespaceBundleOrder(t *testing.T) {
	docs, err := NamespaceBundle("blog")
	require.NoError(t, err)
	require.Len(t, docs, 4)

	// Namespace must come first so the namespaced resources can land.
	assert.Contains(t, docs[0], "kind: Namespace")
	assert.Contains(t, docs[1], "kind: ResourceQuota")
	assert.Contains(t, docs[2], "kind: NetworkPolicy")
	assert.Contains(t, docs[3], "kind: RoleBinding")

	for _, doc := range docs {
		assert.Contains(t, doc, "app-blog")
	}
}

func TestDeploymentRendering(t *testing.T) {
	image := ImageRef("localhost:5050", "blog", "20260101.000000")
	host := domain.AppHost("blog", domain.EnvPreview, "203.0.113.7")

	doc, err := Deployment("blog", domain.EnvPreview, image, host)
	require.NoError(t, err)

	assert.Contains(t, doc, "name: blog-preview")
	assert.Contains(t, doc, "namespace: app-blog")
	assert.Contains(t, doc, "image: localhost:5050/blog:20260101.000000")
	assert.Contains(t, doc, "host: blog-preview.203.0.113.7.nip.io")

	// Pod labels must match the selectors used for status and log queries.
	assert.Contains(t, doc, "app: blog")
	assert.Contains(t, doc, "env: preview")

	// The container is named "app" so image updates can target it.
	assert.Contains(t, doc, "name: app")

	// Three documents: Deployment, Service, Ingress.
	assert.Equal(t, 2, strings.Count(doc, "---"))
	assert.Contains(t, doc, "kind: Deployment")
	assert.Contains(t, doc, "kind: Service")
	assert.Contains(t, doc, "kind: Ingress")
}

func TestDeploymentProdHost(t *testing.T) {
	image := ImageRef("localhost:5050", "blog", "20260101.000000")
	host := domain.AppHost("blog", domain.EnvProd, "203.0.113.7")

	doc, err := Deployment("blog", domain.EnvProd, image, host)
	require.NoError(t, err)
	assert.Contains(t, doc, "host: blog.203.0.113.7.nip.io")
	assert.NotContains(t, doc, "blog-preview")
}

func TestRenderedManifestsParse(t *testing.T) {
	docs, err := NamespaceBundle("parse-check")
	require.NoError(t, err)
	for _, doc := range docs {
		assert.NoError(t, validateYAML(doc))
	}
}

func TestValidateYAMLRejectsGarbage(t *testing.T) {
	assert.Error(t, validateYAML("kind: [unclosed"))
	assert.Error(t, validateYAML("just a string"))
	assert.Error(t, validateYAML(""))
}

func TestSubstituteLeavesUnknownVars(t *testing.T) {
	out := substitute("host: ${HOST} name: ${APP_NAME}", map[string]string{"APP_NAME": "x"})
	assert.Equal(t, "host: ${HOST} name: x", out)
}
