package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/manifest"
	"github.com/artpar/shipyard/internal/core/stream"
	"github.com/artpar/shipyard/internal/shell/store"
)

// bookkeepTimeout bounds terminal history and registry writes that run on
// a detached context after the producer's own context is gone.
const bookkeepTimeout = 5 * time.Second

// =============================================================================
// Build Pipeline
// =============================================================================

// BuildPreview runs the full pipeline for an application: sync the
// workspace to origin/main, build and push the image, deploy it to
// preview, and wait for the rollout. The version is stamped here, at
// request time, so the build record and every banner name the same image
// even when the pipeline queues behind the concurrency limit. Progress
// arrives on the stream; the registry advances only after the whole
// pipeline succeeds.
func (e *Engine) BuildPreview(ctx context.Context, name string) (*stream.Stream, *domain.Build, error) {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if err := e.acquire(name); err != nil {
		return nil, nil, err
	}

	build := domain.NewBuild(name, e.stampVersion())
	if err := e.store.CreateBuild(ctx, build); err != nil {
		e.release(name)
		return nil, nil, err
	}

	st := stream.New(e.ctx)
	e.spawn(st, "build", name, func(ctx context.Context) {
		defer e.release(name)
		e.runBuild(ctx, st, app, build)
	})
	return st, build, nil
}

func (e *Engine) runBuild(ctx context.Context, st *stream.Stream, app *domain.Application, build *domain.Build) {
	select {
	case e.buildSem <- struct{}{}:
		defer func() { <-e.buildSem }()
	case <-ctx.Done():
		e.failBuild(st, build, fmt.Errorf("build cancelled while queued: %w", ctx.Err()))
		return
	}

	logger := e.logger.With("app", app.Name, "build", build.ID, "version", build.Version)
	logger.Info("build started")

	image := manifest.ImageRef(e.config.RegistryHost, app.Name, build.Version)

	// Stage: syncing.
	if err := e.git.Sync(ctx, app.Name); err != nil {
		e.failBuild(st, build, err)
		return
	}

	// Stage: building.
	if err := e.advanceBuild(ctx, build, domain.StageBuilding); err != nil {
		e.failBuild(st, build, err)
		return
	}
	_ = st.Logf("=== Building %s ===", image)
	buildArgs := map[string]string{"APP_NAME": app.Name}
	err := e.docker.BuildImage(ctx, e.git.WorkspacePath(app.Name), image, buildArgs, func(line string) {
		_ = st.Log(line)
	})
	if err != nil {
		e.failBuild(st, build, err)
		return
	}

	// Stage: pushing.
	if err := e.advanceBuild(ctx, build, domain.StagePushing); err != nil {
		e.failBuild(st, build, err)
		return
	}
	_ = st.Logf("=== Pushing %s ===", image)
	if err := e.docker.PushImage(ctx, image, func(line string) { _ = st.Log(line) }); err != nil {
		e.failBuild(st, build, err)
		return
	}
	_ = st.Logf("=== Build complete: %s ===", image)

	// Stage: deploying.
	if err := e.advanceBuild(ctx, build, domain.StageDeploying); err != nil {
		e.failBuild(st, build, err)
		return
	}
	_ = st.Log("=== Deploying to preview ===")
	if err := e.kube.Deploy(ctx, app.Name, domain.EnvPreview, build.Version); err != nil {
		e.failBuild(st, build, err)
		return
	}
	if err := e.kube.RolloutStatus(ctx, app.Name, domain.EnvPreview, e.config.RolloutTimeout); err != nil {
		e.failBuild(st, build, err)
		return
	}

	if err := e.advanceBuild(ctx, build, domain.StageSucceeded); err != nil {
		e.failBuild(st, build, err)
		return
	}
	if err := e.recordPreviewSuccess(app.Name, build.Version); err != nil {
		// The image is live on preview but the registry write failed;
		// surface that rather than pretending the build finished cleanly.
		_ = st.Fail(err)
		return
	}

	logger.Info("build succeeded")
	_ = st.Done(map[string]any{
		"version":     build.Version,
		"preview_url": domain.AppURL(app.Name, domain.EnvPreview, e.config.ServerIP),
	})
}

// advanceBuild moves the build record to its next stage and persists it.
func (e *Engine) advanceBuild(ctx context.Context, build *domain.Build, to domain.BuildStage) error {
	if err := build.Advance(to); err != nil {
		return err
	}
	return e.store.UpdateBuild(ctx, build)
}

// failBuild lands the failure in build history and emits the error
// terminal event. The build's current stage is the failing phase; Fail
// overwrites it, so the typed error captures it first. The history write
// runs on a detached context so a consumer hangup or engine shutdown
// cannot lose the record.
func (e *Engine) failBuild(st *stream.Stream, build *domain.Build, cause error) {
	perr := &PipelineError{Stage: build.Stage, App: build.AppName, Version: build.Version, Err: cause}
	build.Fail(perr.Error())

	ctx, cancel := context.WithTimeout(context.Background(), bookkeepTimeout)
	defer cancel()
	if err := e.store.UpdateBuild(ctx, build); err != nil {
		e.logger.Error("failed to record build failure",
			"app", build.AppName, "build", build.ID, "error", err)
	}

	_ = st.Fail(perr)
}

// recordPreviewSuccess re-reads the registry entry under the app lock and
// advances it. The pipeline's snapshot from request time is stale by now;
// fields the build does not own must survive. The rollout is already live,
// so the write runs on a detached context and cannot die with an abandoned
// consumer.
func (e *Engine) recordPreviewSuccess(name, version string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepTimeout)
	defer cancel()

	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return err
	}
	app.RecordPreviewBuild(version, e.now())
	return e.store.UpdateApplication(ctx, app)
}

// =============================================================================
// Build History
// =============================================================================

// ListBuilds returns the pipeline history for an application, newest
// first.
func (e *Engine) ListBuilds(ctx context.Context, name string, opts store.ListOptions) ([]domain.Build, error) {
	if _, err := e.store.GetApplicationByName(ctx, name); err != nil {
		return nil, err
	}
	return e.store.ListBuildsByApp(ctx, name, opts)
}
