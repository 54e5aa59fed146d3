// Package domain holds the core entities of the platform: applications,
// their lifecycle status, build identifiers, and build pipeline records.
// This is part of the Functional Core - no I/O happens here.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Application Errors
// =============================================================================

var (
	ErrInvalidName       = errors.New("invalid application name")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNothingToPromote  = errors.New("no preview build to promote")
)

// =============================================================================
// Application Status
// =============================================================================

// Status is the lifecycle position of an application:
// created -> built-preview -> published.
type Status string

const (
	StatusCreated      Status = "created"
	StatusBuiltPreview Status = "built-preview"
	StatusPublished    Status = "published"
)

// validTransitions defines the allowed status transitions. built-preview and
// published re-enter themselves on rebuild and re-promotion respectively; a
// published application keeps its status when a new preview is built because
// production is still serving the promoted image.
var validTransitions = map[Status][]Status{
	StatusCreated:      {StatusBuiltPreview},
	StatusBuiltPreview: {StatusBuiltPreview, StatusPublished},
	StatusPublished:    {StatusPublished},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Environments
// =============================================================================

// Environment is one of the two deployable targets for an application.
type Environment string

const (
	EnvPreview Environment = "preview"
	EnvProd    Environment = "prod"
)

// ValidEnvironment reports whether s names a known environment.
func ValidEnvironment(s string) bool {
	return Environment(s) == EnvPreview || Environment(s) == EnvProd
}

// Namespace returns the cluster namespace owning all of an app's resources.
func Namespace(appName string) string {
	return "app-" + appName
}

// DeploymentName returns the name of the workload object for one environment.
func DeploymentName(appName string, env Environment) string {
	return fmt.Sprintf("%s-%s", appName, env)
}

// AppHost computes the ingress hostname for an environment using nip.io
// wildcard DNS against the cluster's ingress IP. Preview hosts carry a
// "-preview" suffix; production uses the bare app name.
func AppHost(appName string, env Environment, serverIP string) string {
	suffix := ""
	if env == EnvPreview {
		suffix = "-preview"
	}
	return fmt.Sprintf("%s%s.%s.nip.io", appName, suffix, serverIP)
}

// AppURL is the public URL for an environment.
func AppURL(appName string, env Environment, serverIP string) string {
	return fmt.Sprintf("http://%s/", AppHost(appName, env, serverIP))
}

// =============================================================================
// Application
// =============================================================================

// Application is the registry record for one application. Name is the unique,
// immutable identifier; the version fields track the images currently built
// and promoted. RollbackVersion is a single-use token: it is set only by a
// successful promotion and cleared when consumed by a rollback or superseded
// by the next promotion.
type Application struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Template        string    `json:"template"`
	Description     string    `json:"description"`
	RepoPath        string    `json:"repo_path"`
	Status          Status    `json:"status"`
	PreviewVersion  *string   `json:"preview_version"`
	ProdVersion     *string   `json:"prod_version"`
	RollbackVersion *string   `json:"rollback_version"`
	PreviewURL      string    `json:"preview_url"`
	ProdURL         string    `json:"prod_url"`
	RowVersion      int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewApplication creates a new application record in the created status.
// The caller fills in RepoPath and the computed URLs.
func NewApplication(name, template, description string) (*Application, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Application{
		ID:          "app_" + uuid.New().String()[:8],
		Name:        name,
		Template:    template,
		Description: description,
		Status:      StatusCreated,
		RowVersion:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition attempts to transition the application to a new status.
func (a *Application) Transition(to Status) error {
	if err := ValidateTransition(a.Status, to); err != nil {
		return err
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordPreviewBuild records a successful preview pipeline run. The status
// moves to built-preview unless the application is already published, in
// which case production is still live and the status stays put while the
// preview version advances.
func (a *Application) RecordPreviewBuild(version string, at time.Time) {
	a.PreviewVersion = &version
	if a.Status != StatusPublished {
		a.Status = StatusBuiltPreview
	}
	a.UpdatedAt = at.UTC()
}

// RecordPromotion promotes the current preview version to production.
// The production version live immediately before this promotion becomes the
// rollback target; an older target is never retained.
func (a *Application) RecordPromotion(at time.Time) error {
	if a.PreviewVersion == nil {
		return ErrNothingToPromote
	}
	a.RollbackVersion = a.ProdVersion
	v := *a.PreviewVersion
	a.ProdVersion = &v
	a.Status = StatusPublished
	a.UpdatedAt = at.UTC()
	return nil
}

// ConsumeRollback consumes the single-use rollback token. It returns the
// version to restore and false when no token is set, in which case the
// caller falls back to the orchestrator's native one-step undo.
func (a *Application) ConsumeRollback(at time.Time) (string, bool) {
	if a.RollbackVersion == nil {
		return "", false
	}
	v := *a.RollbackVersion
	a.ProdVersion = &v
	a.RollbackVersion = nil
	a.UpdatedAt = at.UTC()
	return v, true
}

// =============================================================================
// Name Validation
// =============================================================================

// namePattern keeps names usable as DNS labels, namespace suffixes, and
// image repository components: lowercase alphanumerics and hyphens, starting
// with a letter, 2-31 characters.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,29}[a-z0-9]$`)

// NormalizeName lowercases a requested name and converts spaces to hyphens.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// ValidateName checks that a normalized name is acceptable.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
