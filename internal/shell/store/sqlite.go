package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/shipyard/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Application Operations
// =============================================================================

// applicationRow represents an application row in the database.
type applicationRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Template        string  `db:"template"`
	Description     string  `db:"description"`
	RepoPath        string  `db:"repo_path"`
	Status          string  `db:"status"`
	PreviewVersion  *string `db:"preview_version"`
	ProdVersion     *string `db:"prod_version"`
	RollbackVersion *string `db:"rollback_version"`
	PreviewURL      string  `db:"preview_url"`
	ProdURL         string  `db:"prod_url"`
	RowVersion      int64   `db:"row_version"`
	CreatedAt       string  `db:"created_at"`
	UpdatedAt       string  `db:"updated_at"`
}

func (s *SQLiteStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	return createApplication(ctx, s.db, app)
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	return getApplication(ctx, s.db, id)
}

func (s *SQLiteStore) GetApplicationByName(ctx context.Context, name string) (*domain.Application, error) {
	return getApplicationByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateApplication(ctx context.Context, app *domain.Application) error {
	return updateApplication(ctx, s.db, app)
}

func (s *SQLiteStore) DeleteApplication(ctx context.Context, id string) error {
	return deleteApplication(ctx, s.db, id)
}

func (s *SQLiteStore) ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error) {
	return listApplications(ctx, s.db, opts)
}

// =============================================================================
// Build Operations
// =============================================================================

// buildRow represents a build row in the database.
type buildRow struct {
	ID           string  `db:"id"`
	AppName      string  `db:"app_name"`
	Version      string  `db:"version"`
	Stage        string  `db:"stage"`
	ErrorMessage string  `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateBuild(ctx context.Context, build *domain.Build) error {
	return createBuild(ctx, s.db, build)
}

func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*domain.Build, error) {
	return getBuild(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateBuild(ctx context.Context, build *domain.Build) error {
	return updateBuild(ctx, s.db, build)
}

func (s *SQLiteStore) ListBuildsByApp(ctx context.Context, appName string, opts ListOptions) ([]domain.Build, error) {
	return listBuildsByApp(ctx, s.db, appName, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	return createApplication(ctx, s.tx, app)
}

func (s *txSQLiteStore) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	return getApplication(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetApplicationByName(ctx context.Context, name string) (*domain.Application, error) {
	return getApplicationByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateApplication(ctx context.Context, app *domain.Application) error {
	return updateApplication(ctx, s.tx, app)
}

func (s *txSQLiteStore) DeleteApplication(ctx context.Context, id string) error {
	return deleteApplication(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error) {
	return listApplications(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateBuild(ctx context.Context, build *domain.Build) error {
	return createBuild(ctx, s.tx, build)
}

func (s *txSQLiteStore) GetBuild(ctx context.Context, id string) (*domain.Build, error) {
	return getBuild(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateBuild(ctx context.Context, build *domain.Build) error {
	return updateBuild(ctx, s.tx, build)
}

func (s *txSQLiteStore) ListBuildsByApp(ctx context.Context, appName string, opts ListOptions) ([]domain.Build, error) {
	return listBuildsByApp(ctx, s.tx, appName, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createApplication(ctx context.Context, exec executor, app *domain.Application) error {
	query := `
		INSERT INTO applications (
			id, name, template, description, repo_path, status,
			preview_version, prod_version, rollback_version,
			preview_url, prod_url, row_version, created_at, updated_at
		) VALUES (
			:id, :name, :template, :description, :repo_path, :status,
			:preview_version, :prod_version, :rollback_version,
			:preview_url, :prod_url, :row_version, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":               app.ID,
		"name":             app.Name,
		"template":         app.Template,
		"description":      app.Description,
		"repo_path":        app.RepoPath,
		"status":           string(app.Status),
		"preview_version":  app.PreviewVersion,
		"prod_version":     app.ProdVersion,
		"rollback_version": app.RollbackVersion,
		"preview_url":      app.PreviewURL,
		"prod_url":         app.ProdURL,
		"row_version":      app.RowVersion,
		"created_at":       app.CreatedAt.Format(time.RFC3339),
		"updated_at":       app.UpdatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: applications.id") {
			return NewStoreError("CreateApplication", "application", app.ID, "application with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: applications.name") {
			return NewStoreError("CreateApplication", "application", app.Name, "application with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateApplication", "application", app.ID, err.Error(), err)
	}

	return nil
}

func getApplication(ctx context.Context, exec executor, id string) (*domain.Application, error) {
	query := `SELECT * FROM applications WHERE id = ?`

	var row applicationRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetApplication", "application", id, "application not found", ErrNotFound)
		}
		return nil, NewStoreError("GetApplication", "application", id, err.Error(), err)
	}

	return rowToApplication(&row)
}

func getApplicationByName(ctx context.Context, exec executor, name string) (*domain.Application, error) {
	query := `SELECT * FROM applications WHERE name = ?`

	var row applicationRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetApplicationByName", "application", name, "application not found", ErrNotFound)
		}
		return nil, NewStoreError("GetApplicationByName", "application", name, err.Error(), err)
	}

	return rowToApplication(&row)
}

// updateApplication persists the mutable fields and bumps row_version. The
// WHERE clause compares the version the caller read; losing that compare
// means another writer got there first and the caller sees ErrConflict.
func updateApplication(ctx context.Context, exec executor, app *domain.Application) error {
	query := `
		UPDATE applications SET
			description = :description,
			status = :status,
			preview_version = :preview_version,
			prod_version = :prod_version,
			rollback_version = :rollback_version,
			preview_url = :preview_url,
			prod_url = :prod_url,
			row_version = row_version + 1,
			updated_at = :updated_at
		WHERE id = :id AND row_version = :row_version`

	row := map[string]any{
		"id":               app.ID,
		"description":      app.Description,
		"status":           string(app.Status),
		"preview_version":  app.PreviewVersion,
		"prod_version":     app.ProdVersion,
		"rollback_version": app.RollbackVersion,
		"preview_url":      app.PreviewURL,
		"prod_url":         app.ProdURL,
		"row_version":      app.RowVersion,
		"updated_at":       app.UpdatedAt.Format(time.RFC3339),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateApplication", "application", app.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		// Distinguish a vanished row from a lost race.
		var exists int
		if err := exec.GetContext(ctx, &exists, `SELECT COUNT(*) FROM applications WHERE id = ?`, app.ID); err == nil && exists > 0 {
			return NewStoreError("UpdateApplication", "application", app.ID, "concurrent update detected", ErrConflict)
		}
		return NewStoreError("UpdateApplication", "application", app.ID, "application not found", ErrNotFound)
	}

	app.RowVersion++
	return nil
}

func deleteApplication(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM applications WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteApplication", "application", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteApplication", "application", id, "application not found", ErrNotFound)
	}

	return nil
}

func listApplications(ctx context.Context, exec executor, opts ListOptions) ([]domain.Application, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM applications ORDER BY name ASC LIMIT ? OFFSET ?`

	var rows []applicationRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListApplications", "application", "", err.Error(), err)
	}

	apps := make([]domain.Application, 0, len(rows))
	for _, row := range rows {
		app, err := rowToApplication(&row)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}

	return apps, nil
}

func createBuild(ctx context.Context, exec executor, build *domain.Build) error {
	var finishedAt *string
	if build.FinishedAt != nil {
		s := build.FinishedAt.Format(time.RFC3339)
		finishedAt = &s
	}

	query := `
		INSERT INTO builds (
			id, app_name, version, stage, error_message, started_at, finished_at
		) VALUES (
			:id, :app_name, :version, :stage, :error_message, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            build.ID,
		"app_name":      build.AppName,
		"version":       build.Version,
		"stage":         string(build.Stage),
		"error_message": build.Error,
		"started_at":    build.StartedAt.Format(time.RFC3339),
		"finished_at":   finishedAt,
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: builds.id") {
			return NewStoreError("CreateBuild", "build", build.ID, "build with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateBuild", "build", build.ID, "application does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateBuild", "build", build.ID, err.Error(), err)
	}

	return nil
}

func getBuild(ctx context.Context, exec executor, id string) (*domain.Build, error) {
	query := `SELECT * FROM builds WHERE id = ?`

	var row buildRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetBuild", "build", id, "build not found", ErrNotFound)
		}
		return nil, NewStoreError("GetBuild", "build", id, err.Error(), err)
	}

	return rowToBuild(&row)
}

func updateBuild(ctx context.Context, exec executor, build *domain.Build) error {
	var finishedAt *string
	if build.FinishedAt != nil {
		s := build.FinishedAt.Format(time.RFC3339)
		finishedAt = &s
	}

	query := `
		UPDATE builds SET
			stage = :stage,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            build.ID,
		"stage":         string(build.Stage),
		"error_message": build.Error,
		"finished_at":   finishedAt,
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateBuild", "build", build.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateBuild", "build", build.ID, "build not found", ErrNotFound)
	}

	return nil
}

func listBuildsByApp(ctx context.Context, exec executor, appName string, opts ListOptions) ([]domain.Build, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM builds WHERE app_name = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	var rows []buildRow
	err := exec.SelectContext(ctx, &rows, query, appName, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListBuildsByApp", "build", appName, err.Error(), err)
	}

	builds := make([]domain.Build, 0, len(rows))
	for _, row := range rows {
		build, err := rowToBuild(&row)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}

	return builds, nil
}

// =============================================================================
// Row Converters
// =============================================================================

func rowToApplication(row *applicationRow) (*domain.Application, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToApplication", "application", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToApplication", "application", row.ID, "invalid updated_at", ErrInvalidData)
	}

	return &domain.Application{
		ID:              row.ID,
		Name:            row.Name,
		Template:        row.Template,
		Description:     row.Description,
		RepoPath:        row.RepoPath,
		Status:          domain.Status(row.Status),
		PreviewVersion:  row.PreviewVersion,
		ProdVersion:     row.ProdVersion,
		RollbackVersion: row.RollbackVersion,
		PreviewURL:      row.PreviewURL,
		ProdURL:         row.ProdURL,
		RowVersion:      row.RowVersion,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func rowToBuild(row *buildRow) (*domain.Build, error) {
	startedAt, err := time.Parse(time.RFC3339, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToBuild", "build", row.ID, "invalid started_at", ErrInvalidData)
	}

	var finishedAt *time.Time
	if row.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToBuild", "build", row.ID, "invalid finished_at", ErrInvalidData)
		}
		finishedAt = &t
	}

	return &domain.Build{
		ID:         row.ID,
		AppName:    row.AppName,
		Version:    row.Version,
		Stage:      domain.BuildStage(row.Stage),
		Error:      row.ErrorMessage,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}
