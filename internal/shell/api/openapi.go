package api

import (
	"net/http"

	"github.com/artpar/shipyard/internal/engine"
	"github.com/artpar/shipyard/internal/shell/api/openapi"
)

// buildOpenAPI registers the route surface served at /openapi.json. Schemas
// are reflected from the same structs the handlers encode, so the published
// spec tracks the wire format.
func buildOpenAPI() *openapi.Generator {
	g := openapi.NewGenerator(
		openapi.WithTitle("Shipyard API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Build, preview, publish, and roll back applications on the local cluster."),
	)

	g.RegisterResource(openapi.ResourceInfo{
		Name:      "templates",
		Model:     TemplateResponse{},
		ListModel: ListTemplatesResponse{},
	})

	g.RegisterResource(openapi.ResourceInfo{
		Name:           "apps",
		IDParam:        "name",
		Model:          ApplicationResponse{},
		CreateModel:    CreateApplicationRequest{},
		ListModel:      ListApplicationsResponse{},
		Paged:          true,
		SupportsGet:    true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{Name: "generate", Method: http.MethodPost, Streaming: true, RequestModel: GenerateRequest{}},
			{Name: "builds", Method: http.MethodPost, Streaming: true},
			{Name: "builds", Method: http.MethodGet, ResponseModel: ListBuildsResponse{}},
			{Name: "publish", Method: http.MethodPost, ResponseModel: ApplicationResponse{}},
			{Name: "rollback", Method: http.MethodPost, ResponseModel: engine.RollbackResult{}},
			{Name: "status", Method: http.MethodGet, ResponseModel: engine.StatusReport{}},
			{Name: "logs", Method: http.MethodGet, Streaming: true},
			{Name: "files", Method: http.MethodGet, ResponseModel: FilesResponse{}},
			{Name: "workspace", Method: http.MethodPost, ResponseModel: engine.WorkspaceInfo{}},
		},
	})

	g.RegisterResource(openapi.ResourceInfo{
		Name:      "status",
		Model:     engine.ClusterApp{},
		ListModel: []engine.ClusterApp{},
	})

	return g
}
