package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/scaffold"
	"github.com/artpar/shipyard/internal/shell/store"
)

// =============================================================================
// Create
// =============================================================================

// CreateRequest is the input for CreateApplication. Name is normalized
// before validation, so "My Blog" and "my-blog" are the same application.
type CreateRequest struct {
	Name        string `json:"name"`
	Template    string `json:"template"`
	Description string `json:"description"`
}

// CreateApplication provisions everything a new application needs: the
// cluster namespace with quota and network policy, the bare repository,
// the scaffolded workspace at revision 1, and the registry entry in status
// created.
func (e *Engine) CreateApplication(ctx context.Context, req CreateRequest) (*domain.Application, error) {
	name := domain.NormalizeName(req.Name)
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	files, err := scaffold.Files(req.Template)
	if err != nil {
		return nil, err
	}

	if err := e.acquire(name); err != nil {
		return nil, err
	}
	defer e.release(name)

	// Check the name before any side effect so a duplicate is a clean
	// conflict instead of a half-provisioned app.
	if _, err := e.store.GetApplicationByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateName, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	app, err := domain.NewApplication(name, req.Template, req.Description)
	if err != nil {
		return nil, err
	}
	app.RepoPath = e.git.RepoPath(name)
	app.PreviewURL = domain.AppURL(name, domain.EnvPreview, e.config.ServerIP)
	app.ProdURL = domain.AppURL(name, domain.EnvProd, e.config.ServerIP)

	if err := e.kube.CreateAppNamespace(ctx, name); err != nil {
		return nil, err
	}
	if err := e.git.Init(ctx, name); err != nil {
		return nil, err
	}
	if err := e.git.Scaffold(ctx, name, req.Template, files); err != nil {
		return nil, err
	}
	if err := e.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}

	e.logger.Info("application created", "app", name, "template", req.Template)
	return app, nil
}

// =============================================================================
// Delete
// =============================================================================

// DeleteApplication tears down the namespace, the repositories, and the
// registry entry for an application.
func (e *Engine) DeleteApplication(ctx context.Context, name string) error {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return err
	}

	if err := e.acquire(name); err != nil {
		return err
	}
	defer e.release(name)

	if err := e.kube.DeleteAppNamespace(ctx, name); err != nil {
		return err
	}
	if err := e.git.Destroy(ctx, name); err != nil {
		return err
	}
	if err := e.store.DeleteApplication(ctx, app.ID); err != nil {
		return err
	}

	e.logger.Info("application deleted", "app", name)
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// GetApplication returns the registry entry for one application.
func (e *Engine) GetApplication(ctx context.Context, name string) (*domain.Application, error) {
	return e.store.GetApplicationByName(ctx, name)
}

// ListApplications returns registry entries ordered by name.
func (e *Engine) ListApplications(ctx context.Context, opts store.ListOptions) ([]domain.Application, error) {
	return e.store.ListApplications(ctx, opts)
}

// Files returns the application's workspace tree as it sits on disk. A
// missing workspace is an empty tree, not an error.
func (e *Engine) Files(ctx context.Context, name string) (map[string]string, error) {
	if _, err := e.store.GetApplicationByName(ctx, name); err != nil {
		return nil, err
	}
	return e.git.Snapshot(ctx, name)
}

// =============================================================================
// Workspace
// =============================================================================

// WorkspaceInfo points a caller at an application's synced checkout.
type WorkspaceInfo struct {
	Workspace string `json:"workspace"`
	Repo      string `json:"repo"`
}

// PrepareWorkspace brings the checkout to the latest published revision
// and returns where to find it.
func (e *Engine) PrepareWorkspace(ctx context.Context, name string) (*WorkspaceInfo, error) {
	if _, err := e.store.GetApplicationByName(ctx, name); err != nil {
		return nil, err
	}
	if err := e.git.Sync(ctx, name); err != nil {
		return nil, err
	}
	return &WorkspaceInfo{
		Workspace: e.git.WorkspacePath(name),
		Repo:      e.git.RepoPath(name),
	}, nil
}
