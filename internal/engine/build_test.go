package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/stream"
	"github.com/artpar/shipyard/internal/shell/kube"
	"github.com/artpar/shipyard/internal/shell/store"
)

func TestBuildPreview_FullPipeline(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")
	deps.docker.buildLines = []string{"Step 1/4 : FROM python:3.12-slim"}
	deps.docker.pushLines = []string{"a1b2c3: Pushed"}

	st, build, err := e.BuildPreview(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "20260101.000000", build.Version)

	lines, term := collect(t, st)
	require.Equal(t, stream.KindDone, term.Kind, "pipeline failed: %v", term.Err)

	image := "localhost:5050/demo:20260101.000000"
	assert.Equal(t, []string{
		"=== Building " + image + " ===",
		"Step 1/4 : FROM python:3.12-slim",
		"=== Pushing " + image + " ===",
		"a1b2c3: Pushed",
		"=== Build complete: " + image + " ===",
		"=== Deploying to preview ===",
	}, lines)

	assert.Equal(t, "20260101.000000", term.Fields["version"])
	assert.Equal(t, "http://demo-preview.127.0.0.1.nip.io/", term.Fields["preview_url"])

	// The image was built from the synced workspace with the app name
	// baked in, then pushed and deployed to preview.
	b := deps.docker.lastBuild()
	assert.Equal(t, "/var/git/apps/demo-workspace", b.contextDir)
	assert.Equal(t, image, b.ref)
	assert.Equal(t, map[string]string{"APP_NAME": "demo"}, b.args)
	assert.Equal(t, []string{image}, deps.docker.pushedRefs())
	assert.Equal(t, []string{"demo/preview 20260101.000000"}, deps.kube.deployCalls())
	assert.Equal(t, 1, deps.git.callCount("Sync", "demo"))

	// Build history reached succeeded.
	builds, err := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageSucceeded, builds[0].Stage)
	assert.Empty(t, builds[0].Error)
	require.NotNil(t, builds[0].FinishedAt)

	// The registry advanced after the pipeline finished.
	app, err := e.GetApplication(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, app.PreviewVersion)
	assert.Equal(t, "20260101.000000", *app.PreviewVersion)
	assert.Equal(t, domain.StatusBuiltPreview, app.Status)
}

func TestBuildPreview_BuildFailure(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")
	deps.docker.buildErr = errors.New("docker build failed (exit 1)")

	st, _, err := e.BuildPreview(context.Background(), "demo")
	require.NoError(t, err)

	lines, term := collect(t, st)
	require.Equal(t, stream.KindError, term.Kind)
	assert.ErrorContains(t, term.Err, "docker build failed")

	var perr *PipelineError
	require.ErrorAs(t, term.Err, &perr)
	assert.Equal(t, domain.StageBuilding, perr.Stage)
	assert.Equal(t, "demo", perr.App)

	image := "localhost:5050/demo:20260101.000000"
	assert.Equal(t, []string{"=== Building " + image + " ==="}, lines)

	// The pipeline stopped at the failing stage.
	assert.Empty(t, deps.docker.pushedRefs())
	assert.Empty(t, deps.kube.deployCalls())

	builds, err := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageFailed, builds[0].Stage)
	assert.Contains(t, builds[0].Error, "docker build failed")
	require.NotNil(t, builds[0].FinishedAt)

	// The registry entry is exactly as it was before the build.
	app, err := e.GetApplication(context.Background(), "demo")
	require.NoError(t, err)
	assert.Nil(t, app.PreviewVersion)
	assert.Equal(t, domain.StatusCreated, app.Status)
}

func TestBuildPreview_PushFailure(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")
	deps.docker.pushErr = errors.New("docker push failed (exit 1)")

	st, _, err := e.BuildPreview(context.Background(), "demo")
	require.NoError(t, err)

	lines, term := collect(t, st)
	require.Equal(t, stream.KindError, term.Kind)

	var perr *PipelineError
	require.ErrorAs(t, term.Err, &perr)
	assert.Equal(t, domain.StagePushing, perr.Stage)

	image := "localhost:5050/demo:20260101.000000"
	assert.Equal(t, []string{
		"=== Building " + image + " ===",
		"=== Pushing " + image + " ===",
	}, lines)
	assert.Empty(t, deps.kube.deployCalls())

	builds, _ := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageFailed, builds[0].Stage)
}

func TestBuildPreview_RolloutFailure(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")
	deps.kube.rolloutErr["demo/preview"] = kube.ErrRolloutTimeout

	st, _, err := e.BuildPreview(context.Background(), "demo")
	require.NoError(t, err)

	_, term := collect(t, st)
	require.Equal(t, stream.KindError, term.Kind)
	assert.ErrorIs(t, term.Err, kube.ErrRolloutTimeout)

	var perr *PipelineError
	require.ErrorAs(t, term.Err, &perr)
	assert.Equal(t, domain.StageDeploying, perr.Stage)

	builds, _ := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageFailed, builds[0].Stage)

	app, _ := e.GetApplication(context.Background(), "demo")
	assert.Nil(t, app.PreviewVersion)
	assert.Equal(t, domain.StatusCreated, app.Status)
}

func TestBuildPreview_SyncFailure(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")
	deps.git.fail["Sync"] = errors.New("fetch failed")

	st, _, err := e.BuildPreview(context.Background(), "demo")
	require.NoError(t, err)

	lines, term := collect(t, st)
	require.Equal(t, stream.KindError, term.Kind)
	assert.ErrorContains(t, term.Err, "fetch failed")
	assert.Empty(t, lines)
	assert.Equal(t, 0, deps.docker.startedBuilds())

	var perr *PipelineError
	require.ErrorAs(t, term.Err, &perr)
	assert.Equal(t, domain.StageSyncing, perr.Stage)

	builds, _ := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageFailed, builds[0].Stage)
}

func TestBuildPreview_Busy(t *testing.T) {
	e, _ := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")

	require.NoError(t, e.acquire("demo"))
	defer e.release("demo")

	_, _, err := e.BuildPreview(context.Background(), "demo")
	require.ErrorIs(t, err, ErrOperationInProgress)
}

func TestBuildPreview_NotFound(t *testing.T) {
	e, _ := setupTestEngine(t, Config{})
	_, _, err := e.BuildPreview(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildPreview_SerializedBeyondLimit(t *testing.T) {
	e, deps := setupTestEngine(t, Config{MaxConcurrentBuilds: 1})
	createTestApp(t, e, "app-a")
	createTestApp(t, e, "app-b")

	gate := make(chan struct{})
	deps.docker.setGate(gate)

	stA, _, err := e.BuildPreview(context.Background(), "app-a")
	require.NoError(t, err)
	stB, _, err := e.BuildPreview(context.Background(), "app-b")
	require.NoError(t, err)

	// The first pipeline reaches docker and parks on the gate; the second
	// must queue on the semaphore instead of building concurrently.
	require.Eventually(t, func() bool { return deps.docker.concurrent() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, deps.docker.startedBuilds())

	close(gate)

	_, termA := collect(t, stA)
	_, termB := collect(t, stB)
	require.Equal(t, stream.KindDone, termA.Kind)
	require.Equal(t, stream.KindDone, termB.Kind)
	assert.Equal(t, 2, deps.docker.startedBuilds())
	assert.Equal(t, 1, deps.docker.peakConcurrent())
}

func TestBuildPreview_ParallelWithinLimit(t *testing.T) {
	e, deps := setupTestEngine(t, Config{MaxConcurrentBuilds: 2})
	createTestApp(t, e, "app-a")
	createTestApp(t, e, "app-b")

	gate := make(chan struct{})
	deps.docker.setGate(gate)

	stA, _, err := e.BuildPreview(context.Background(), "app-a")
	require.NoError(t, err)
	stB, _, err := e.BuildPreview(context.Background(), "app-b")
	require.NoError(t, err)

	// Both pipelines sit inside docker at once.
	require.Eventually(t, func() bool { return deps.docker.concurrent() == 2 }, 2*time.Second, time.Millisecond)
	close(gate)

	_, termA := collect(t, stA)
	_, termB := collect(t, stB)
	require.Equal(t, stream.KindDone, termA.Kind)
	require.Equal(t, stream.KindDone, termB.Kind)
	assert.Equal(t, 2, deps.docker.peakConcurrent())
}

func TestListBuilds_NewestFirst(t *testing.T) {
	e, deps := setupTestEngine(t, Config{})
	createTestApp(t, e, "demo")

	v1 := buildTestApp(t, e, "demo")
	deps.clock.Set(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))
	v2 := buildTestApp(t, e, "demo")
	require.NotEqual(t, v1, v2)

	builds, err := e.ListBuilds(context.Background(), "demo", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, v2, builds[0].Version)
	assert.Equal(t, v1, builds[1].Version)
}

func TestListBuilds_NotFound(t *testing.T) {
	e, _ := setupTestEngine(t, Config{})
	_, err := e.ListBuilds(context.Background(), "ghost", store.ListOptions{})
	require.ErrorIs(t, err, store.ErrNotFound)
}
