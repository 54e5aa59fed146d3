package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/shipyard/internal/core/scaffold"
	"github.com/artpar/shipyard/internal/engine"
)

// =============================================================================
// Template Handlers
// =============================================================================

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	catalog := scaffold.List()
	resp := ListTemplatesResponse{
		Templates: make([]TemplateResponse, 0, len(catalog)),
	}
	for _, t := range catalog {
		resp.Templates = append(resp.Templates, TemplateResponse{
			Kind:        t.Kind,
			Description: t.Description,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Application Handlers
// =============================================================================

func (h *Handler) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}
	if req.Template == "" {
		h.writeError(w, http.StatusBadRequest, "template is required", "validation_error")
		return
	}

	app, err := h.engine.CreateApplication(r.Context(), engine.CreateRequest{
		Name:        req.Name,
		Template:    req.Template,
		Description: req.Description,
	})
	if err != nil {
		h.writeEngineError(w, "create application", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, appToResponse(app))
}

func (h *Handler) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	app, err := h.engine.GetApplication(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "get application", err)
		return
	}

	h.writeJSON(w, http.StatusOK, appToResponse(app))
}

func (h *Handler) handleListApplications(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	apps, err := h.engine.ListApplications(r.Context(), opts)
	if err != nil {
		h.writeEngineError(w, "list applications", err)
		return
	}

	resp := ListApplicationsResponse{
		Applications: make([]ApplicationResponse, 0, len(apps)),
		Total:        len(apps),
		Limit:        opts.Limit,
		Offset:       opts.Offset,
	}
	for i := range apps {
		resp.Applications = append(resp.Applications, appToResponse(&apps[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.engine.DeleteApplication(r.Context(), name); err != nil {
		h.writeEngineError(w, "delete application", err)
		return
	}

	h.logger.Info("application deleted via api", "app", name)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Workspace Handlers
// =============================================================================

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	files, err := h.engine.Files(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "read files", err)
		return
	}
	if files == nil {
		files = map[string]string{}
	}

	h.writeJSON(w, http.StatusOK, FilesResponse{Files: files})
}

func (h *Handler) handlePrepareWorkspace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, err := h.engine.PrepareWorkspace(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "prepare workspace", err)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// =============================================================================
// Build History Handlers
// =============================================================================

func (h *Handler) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	opts := listOptions(r)

	builds, err := h.engine.ListBuilds(r.Context(), name, opts)
	if err != nil {
		h.writeEngineError(w, "list builds", err)
		return
	}

	resp := ListBuildsResponse{
		Builds: make([]BuildResponse, 0, len(builds)),
		Total:  len(builds),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range builds {
		resp.Builds = append(resp.Builds, buildToResponse(&builds[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Promotion Handlers
// =============================================================================

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	app, err := h.engine.Publish(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "publish", err)
		return
	}

	h.writeJSON(w, http.StatusOK, appToResponse(app))
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	res, err := h.engine.Rollback(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "rollback", err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// Status Handlers
// =============================================================================

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	report, err := h.engine.Status(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "read status", err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.AllStatuses(r.Context())
	if err != nil {
		h.writeEngineError(w, "read cluster status", err)
		return
	}

	h.writeJSON(w, http.StatusOK, rows)
}
