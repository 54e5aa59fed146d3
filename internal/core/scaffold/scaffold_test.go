package scaffold

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrder(t *testing.T) {
	list := List()
	require.Len(t, list, 4)
	assert.Equal(t, "static-site", list[0].Kind)
	assert.Equal(t, "simple-api", list[1].Kind)
	assert.Equal(t, "webhook", list[2].Kind)
	assert.Equal(t, "scheduled-job", list[3].Kind)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("simple-api"))
	assert.False(t, Valid("rails-app"))
	assert.False(t, Valid(""))
}

func TestDescribeUnknown(t *testing.T) {
	_, err := Describe("no-such-template")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestEveryTemplateHasDockerfileAndPrompt(t *testing.T) {
	for _, tmpl := range List() {
		t.Run(tmpl.Kind, func(t *testing.T) {
			files, err := Files(tmpl.Kind)
			require.NoError(t, err)
			require.NotEmpty(t, files)
			assert.Contains(t, files, "Dockerfile")

			prompt, err := SystemPrompt(tmpl.Kind, "demo")
			require.NoError(t, err)
			assert.Contains(t, prompt, `"demo"`)
			assert.NotContains(t, prompt, "{{APP_NAME}}")
			assert.Contains(t, prompt, "<file name=")
		})
	}
}

func TestFilesSimpleAPI(t *testing.T) {
	files, err := Files("simple-api")
	require.NoError(t, err)

	require.Contains(t, files, "app.py")
	require.Contains(t, files, "requirements.txt")
	assert.Contains(t, files["app.py"], "/health")
	assert.Contains(t, files["requirements.txt"], "fastapi")
	assert.Contains(t, files["Dockerfile"], "ARG APP_NAME")
	assert.Contains(t, files["Dockerfile"], "8000")
}

func TestFilesWebhookKeepsSignatureCheck(t *testing.T) {
	files, err := Files("webhook")
	require.NoError(t, err)
	assert.Contains(t, files["app.py"], "X-Hub-Signature-256")
	assert.Contains(t, files["app.py"], "WEBHOOK_SECRET")
}

func TestFilesStaticSiteListensOnAppPort(t *testing.T) {
	files, err := Files("static-site")
	require.NoError(t, err)
	require.Contains(t, files, "nginx.conf")
	assert.Contains(t, files["nginx.conf"], "listen 8000;")
	require.Contains(t, files, "index.html")
}

func TestFilesUnknown(t *testing.T) {
	_, err := Files("express-app")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestFilesPathsAreRelative(t *testing.T) {
	for _, tmpl := range List() {
		files, err := Files(tmpl.Kind)
		require.NoError(t, err)
		for path := range files {
			assert.False(t, strings.HasPrefix(path, "/"), "path %q must be relative", path)
			assert.False(t, strings.HasPrefix(path, "templates/"), "path %q must be tree-relative", path)
		}
	}
}
