package api

import (
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateApplicationRequest is the request body for creating an application.
type CreateApplicationRequest struct {
	Name        string `json:"name"`
	Template    string `json:"template"`
	Description string `json:"description,omitempty"`
}

// GenerateRequest is the request body for a code-generation run.
type GenerateRequest struct {
	Instruction string `json:"instruction"`
}

// =============================================================================
// Response Types
// =============================================================================

// ApplicationResponse is the response for application operations.
type ApplicationResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Template        string    `json:"template"`
	Description     string    `json:"description"`
	RepoPath        string    `json:"repo_path"`
	Status          string    `json:"status"`
	PreviewVersion  *string   `json:"preview_version"`
	ProdVersion     *string   `json:"prod_version"`
	RollbackVersion *string   `json:"rollback_version"`
	PreviewURL      string    `json:"preview_url"`
	ProdURL         string    `json:"prod_url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListApplicationsResponse is the response for listing applications.
type ListApplicationsResponse struct {
	Applications []ApplicationResponse `json:"applications"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// TemplateResponse is one catalog entry in the template listing.
type TemplateResponse struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// ListTemplatesResponse is the response for listing templates.
type ListTemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
}

// BuildResponse is one pipeline run in the build history.
type BuildResponse struct {
	ID         string     `json:"id"`
	AppName    string     `json:"app_name"`
	Version    string     `json:"version"`
	Stage      string     `json:"stage"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ListBuildsResponse is the response for listing builds.
type ListBuildsResponse struct {
	Builds []BuildResponse `json:"builds"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// FilesResponse is the response for reading a workspace tree.
type FilesResponse struct {
	Files map[string]string `json:"files"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// =============================================================================
// Conversions
// =============================================================================

func appToResponse(a *domain.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:              a.ID,
		Name:            a.Name,
		Template:        a.Template,
		Description:     a.Description,
		RepoPath:        a.RepoPath,
		Status:          string(a.Status),
		PreviewVersion:  a.PreviewVersion,
		ProdVersion:     a.ProdVersion,
		RollbackVersion: a.RollbackVersion,
		PreviewURL:      a.PreviewURL,
		ProdURL:         a.ProdURL,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func buildToResponse(b *domain.Build) BuildResponse {
	return BuildResponse{
		ID:         b.ID,
		AppName:    b.AppName,
		Version:    b.Version,
		Stage:      string(b.Stage),
		Error:      b.Error,
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
	}
}
