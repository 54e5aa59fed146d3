package store

import (
	"context"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the application registry and
// build history.
type Store interface {
	// Application operations
	CreateApplication(ctx context.Context, app *domain.Application) error
	GetApplication(ctx context.Context, id string) (*domain.Application, error)
	GetApplicationByName(ctx context.Context, name string) (*domain.Application, error)
	UpdateApplication(ctx context.Context, app *domain.Application) error
	DeleteApplication(ctx context.Context, id string) error
	ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error)

	// Build history operations
	CreateBuild(ctx context.Context, build *domain.Build) error
	GetBuild(ctx context.Context, id string) (*domain.Build, error)
	UpdateBuild(ctx context.Context, build *domain.Build) error
	ListBuildsByApp(ctx context.Context, appName string, opts ListOptions) ([]domain.Build, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
