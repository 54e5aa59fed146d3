package engine

import (
	"context"
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Publish
// =============================================================================

// Publish promotes the current preview build to production and waits for
// the rollout. On rollout failure the deployment is reverted once to the
// image that was live before the attempt; the registry is untouched until
// the rollout succeeds.
func (e *Engine) Publish(ctx context.Context, name string) (*domain.Application, error) {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if app.PreviewVersion == nil {
		return nil, domain.ErrNothingToPromote
	}

	if err := e.acquire(name); err != nil {
		return nil, err
	}
	defer e.release(name)

	version := *app.PreviewVersion
	logger := e.logger.With("app", name, "version", version)

	// The revert target is whatever production is actually running, which
	// beats the registry's view after a manual undo; the registry's prod
	// version is the fallback when the live image cannot be read.
	revert := ""
	if ref, err := e.kube.DeploymentImage(ctx, name, domain.EnvProd); err == nil {
		revert = versionFromRef(ref)
	}
	if revert == "" && app.ProdVersion != nil {
		revert = *app.ProdVersion
	}

	logger.Info("publishing to production")
	if err := e.kube.Deploy(ctx, name, domain.EnvProd, version); err != nil {
		return nil, &PromotionError{App: name, Version: version, Err: err}
	}
	if err := e.kube.RolloutStatus(ctx, name, domain.EnvProd, e.config.RolloutTimeout); err != nil {
		perr := &PromotionError{App: name, Version: version, Err: err}
		if revert != "" {
			if rerr := e.kube.SetImage(ctx, name, domain.EnvProd, revert); rerr != nil {
				logger.Error("revert after failed rollout failed", "error", rerr)
			} else {
				perr.Reverted = true
				logger.Warn("production reverted after failed rollout", "reverted_to", revert)
			}
		}
		return nil, perr
	}

	if err := app.RecordPromotion(e.now()); err != nil {
		return nil, err
	}
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}

	logger.Info("published")
	return app, nil
}

// versionFromRef extracts the tag from an image ref. Registry hosts carry
// a port, so only the last colon can delimit the tag.
func versionFromRef(ref string) string {
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i+1:], "/") {
		return ""
	}
	return ref[i+1:]
}

// =============================================================================
// Rollback
// =============================================================================

// RollbackResult reports what a rollback did. RestoredVersion is set only
// on the explicit-token path; the implicit undo lets the orchestrator's
// own history pick the target.
type RollbackResult struct {
	OK              bool   `json:"ok"`
	RestoredVersion string `json:"restored_version,omitempty"`
}

// Rollback restores the previous production image. With a rollback token
// recorded by the last promotion, production is set to that exact version
// and, once the rollout is healthy, the registry swap clears the token
// (single use). Without a token it falls back to the orchestrator's
// native one-step undo with no registry bookkeeping.
func (e *Engine) Rollback(ctx context.Context, name string) (*RollbackResult, error) {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := e.acquire(name); err != nil {
		return nil, err
	}
	defer e.release(name)

	logger := e.logger.With("app", name)

	if app.RollbackVersion == nil {
		logger.Info("no rollback token, using rollout undo")
		if err := e.kube.RolloutUndo(ctx, name, domain.EnvProd); err != nil {
			return nil, err
		}
		ok := e.kube.RolloutStatus(ctx, name, domain.EnvProd, e.config.RolloutTimeout) == nil
		return &RollbackResult{OK: ok}, nil
	}

	version := *app.RollbackVersion
	logger.Info("rolling back production", "version", version)
	if err := e.kube.SetImage(ctx, name, domain.EnvProd, version); err != nil {
		return nil, err
	}
	if err := e.kube.RolloutStatus(ctx, name, domain.EnvProd, e.config.RolloutTimeout); err != nil {
		logger.Warn("rollback rollout not ready", "error", err)
		return &RollbackResult{OK: false, RestoredVersion: version}, nil
	}

	app.ConsumeRollback(e.now())
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}

	logger.Info("rolled back", "version", version)
	return &RollbackResult{OK: true, RestoredVersion: version}, nil
}
