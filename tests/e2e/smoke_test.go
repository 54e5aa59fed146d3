package e2e

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/shell/api"
)

// =============================================================================
// Smoke Tests
// =============================================================================

// TestE2E_HealthCheck verifies the server is running and responding.
func TestE2E_HealthCheck(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/health", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_ReadyCheck verifies the server is ready (Docker and DB connected).
func TestE2E_ReadyCheck(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/ready", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_OpenAPISpec verifies the generated spec is served.
func TestE2E_OpenAPISpec(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/openapi.json", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Shipyard API")
}

// TestE2E_ListTemplates verifies the template catalog.
func TestE2E_ListTemplates(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/api/v1/templates", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := parseResponse[api.ListTemplatesResponse](t, resp)

	kinds := make([]string, 0, len(result.Templates))
	for _, tmpl := range result.Templates {
		kinds = append(kinds, tmpl.Kind)
		assert.NotEmpty(t, tmpl.Description)
	}
	assert.ElementsMatch(t, []string{"static-site", "simple-api", "webhook", "scheduled-job"}, kinds)
}

// TestE2E_AppLifecycle tests creating, inspecting, and deleting an application.
func TestE2E_AppLifecycle(t *testing.T) {
	app := CreateApp(t, "smoke-lifecycle", "static-site")
	require.NotEmpty(t, app.ID)
	assert.Equal(t, "smoke-lifecycle", app.Name)
	assert.Equal(t, "static-site", app.Template)
	assert.Equal(t, "created", app.Status)
	assert.Nil(t, app.PreviewVersion)

	// Verify we can get it back
	fetched := GetApp(t, "smoke-lifecycle")
	assert.Equal(t, app.ID, fetched.ID)
	assert.Equal(t, app.Name, fetched.Name)

	// Verify it appears in the listing
	apps := ListApps(t)
	var found bool
	for _, a := range apps {
		if a.ID == app.ID {
			found = true
		}
	}
	assert.True(t, found, "Expected to find application in list")

	// The scaffolded workspace is readable through the API
	files := GetFiles(t, "smoke-lifecycle")
	assert.Contains(t, files, "Dockerfile")
	assert.Contains(t, files, "index.html")

	// Delete and verify it's gone
	DeleteApp(t, "smoke-lifecycle")

	resp := doJSON(t, http.MethodGet, "/api/v1/apps/smoke-lifecycle", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	t.Log("PASS: Application lifecycle completed successfully")
}

// TestE2E_DuplicateName verifies that a taken name is rejected with a conflict.
func TestE2E_DuplicateName(t *testing.T) {
	CreateApp(t, "smoke-duplicate", "static-site")
	defer DeleteApp(t, "smoke-duplicate")

	resp := doJSON(t, http.MethodPost, "/api/v1/apps", map[string]string{
		"name":     "smoke-duplicate",
		"template": "static-site",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	t.Log("PASS: Duplicate name rejection verified")
}
