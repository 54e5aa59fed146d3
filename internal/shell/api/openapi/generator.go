// Package openapi provides reflective OpenAPI 3.0 specification generation.
// Resource schemas are extracted from the response structs the handlers
// actually encode, so the published spec cannot drift from the wire format.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces OpenAPI 3.0 specifications by reflecting on registered resources.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	resources   []ResourceInfo
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// ResourceInfo holds information about a registered resource for OpenAPI generation.
type ResourceInfo struct {
	Name           string       // Collection path segment under /api/v1 (e.g. "apps")
	IDParam        string       // Item path parameter name (e.g. "name")
	Model          interface{}  // The item response struct for schema extraction
	CreateModel    interface{}  // POST /{type} request body; nil disables create
	ListModel      interface{}  // GET /{type} response envelope
	Paged          bool         // List accepts limit and offset query parameters
	SupportsGet    bool         // GET /{type}/{id}
	SupportsDelete bool         // DELETE /{type}/{id}
	Actions        []ActionInfo // Item sub-paths (publish, logs, ...)
}

// ActionInfo describes one verb on an item path, such as POST publish or a
// GET logs event stream.
type ActionInfo struct {
	Name          string      // Path segment under the item (e.g. "publish")
	Method        string      // HTTP method
	Streaming     bool        // Response is text/event-stream, not JSON
	RequestModel  interface{} // Request body struct; nil for no body
	ResponseModel interface{} // Response struct; ignored when Streaming
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Shipyard API",
		version:     "1.0.0",
		description: "Application deployment pipeline API",
		servers:     []string{"http://localhost:8080"},
		resources:   make([]ResourceInfo, 0),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// RegisterResource adds a resource to the generator for spec generation.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cachedSpec = nil // Invalidate cache
}

// Generate produces the complete OpenAPI 3.0 specification.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	// Add servers
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	// Every endpoint reports failures in the same envelope.
	g.addErrorSchema(spec)

	// Process each registered resource
	for _, res := range g.resources {
		g.addResourceToSpec(spec, res)
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the OpenAPI specification.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

// addErrorSchema adds the shared error envelope to the spec.
func (g *Generator) addErrorSchema(spec *openapi3.T) {
	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
				"code": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
			},
			Required: []string{"error", "code"},
		},
	}
}

// addResourceToSpec adds paths and schemas for a resource.
func (g *Generator) addResourceToSpec(spec *openapi3.T, res ResourceInfo) {
	basePath := "/api/v1/" + res.Name
	schemaName := capitalize(singularize(res.Name))

	spec.Components.Schemas[schemaName] = g.extractSchema(res.Model)

	// Collection path
	collectionPath := &openapi3.PathItem{}

	if res.ListModel != nil {
		listSchemaName := schemaName + "List"
		spec.Components.Schemas[listSchemaName] = g.extractSchema(res.ListModel)
		collectionPath.Get = &openapi3.Operation{
			OperationID: "list" + capitalize(res.Name),
			Summary:     "List " + res.Name,
			Tags:        []string{capitalize(res.Name)},
			Responses:   jsonResponses("200", listSchemaName),
		}
		if res.Paged {
			collectionPath.Get.Parameters = listParameters()
		}
	}
	if res.CreateModel != nil {
		createSchemaName := "Create" + schemaName + "Request"
		spec.Components.Schemas[createSchemaName] = g.extractSchema(res.CreateModel)
		collectionPath.Post = &openapi3.Operation{
			OperationID: "create" + schemaName,
			Summary:     "Create a " + singularize(res.Name),
			Tags:        []string{capitalize(res.Name)},
			RequestBody: jsonRequestBody(createSchemaName),
			Responses:   jsonResponses("201", schemaName),
		}
	}

	spec.Paths.Set(basePath, collectionPath)

	// Item path
	itemPath := &openapi3.PathItem{
		Parameters: idParameters(res.IDParam),
	}

	if res.SupportsGet {
		itemPath.Get = &openapi3.Operation{
			OperationID: "get" + schemaName,
			Summary:     "Get a " + singularize(res.Name),
			Tags:        []string{capitalize(res.Name)},
			Responses:   jsonResponses("200", schemaName),
		}
	}
	if res.SupportsDelete {
		itemPath.Delete = &openapi3.Operation{
			OperationID: "delete" + schemaName,
			Summary:     "Delete a " + singularize(res.Name),
			Tags:        []string{capitalize(res.Name)},
			Responses:   emptyResponses("204"),
		}
	}

	if res.SupportsGet || res.SupportsDelete {
		spec.Paths.Set(basePath+"/{"+res.IDParam+"}", itemPath)
	}

	// Action paths, grouped so GET and POST on the same segment share one
	// path item.
	actionPaths := make(map[string]*openapi3.PathItem)
	for _, action := range res.Actions {
		path := basePath + "/{" + res.IDParam + "}/" + action.Name
		item, ok := actionPaths[path]
		if !ok {
			item = &openapi3.PathItem{Parameters: idParameters(res.IDParam)}
			actionPaths[path] = item
		}
		item.SetOperation(action.Method, g.actionOperation(spec, res, schemaName, action))
	}
	for path, item := range actionPaths {
		spec.Paths.Set(path, item)
	}
}

// actionOperation builds the operation for one item action, registering
// any request or response schemas it needs.
func (g *Generator) actionOperation(spec *openapi3.T, res ResourceInfo, schemaName string, action ActionInfo) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: strings.ToLower(action.Method) + schemaName + capitalize(action.Name),
		Summary:     capitalize(action.Name) + " a " + singularize(res.Name),
		Tags:        []string{capitalize(res.Name)},
	}

	if action.RequestModel != nil {
		reqSchemaName := schemaName + capitalize(action.Name) + "Request"
		spec.Components.Schemas[reqSchemaName] = g.extractSchema(action.RequestModel)
		op.RequestBody = jsonRequestBody(reqSchemaName)
	}

	switch {
	case action.Streaming:
		op.Responses = sseResponses()
	case action.ResponseModel != nil:
		// Actions returning the resource itself reuse its schema.
		respSchemaName := schemaName
		if reflect.TypeOf(action.ResponseModel) != reflect.TypeOf(res.Model) {
			respSchemaName = schemaName + capitalize(action.Name) + "Response"
			spec.Components.Schemas[respSchemaName] = g.extractSchema(action.ResponseModel)
		}
		op.Responses = jsonResponses("200", respSchemaName)
	default:
		op.Responses = emptyResponses("200")
	}
	return op
}

// extractSchema extracts an OpenAPI schema from a Go struct. Non-struct
// models (e.g. a bare slice) fall through to plain type conversion.
func (g *Generator) extractSchema(model interface{}) *openapi3.SchemaRef {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return g.goTypeToSchema(t)
	}

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}

		// Embedded structs flatten into the parent, matching how
		// encoding/json serializes them.
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			embedded := g.extractSchema(reflect.New(field.Type).Interface())
			for name, prop := range embedded.Value.Properties {
				schema.Properties[name] = prop
			}
			continue
		}

		// Get JSON tag
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		// Parse JSON tag for name
		name := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
		}

		// Convert Go type to OpenAPI type
		propSchema := g.goTypeToSchema(field.Type)
		if propSchema != nil {
			schema.Properties[name] = propSchema
		}
	}

	return &openapi3.SchemaRef{Value: schema}
}

// goTypeToSchema converts a Go type to an OpenAPI schema.
func (g *Generator) goTypeToSchema(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		elemSchema := g.goTypeToSchema(t.Elem())
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: elemSchema,
			},
		}

	case reflect.Map:
		valueSchema := g.goTypeToSchema(t.Elem())
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: valueSchema},
			},
		}

	case reflect.Ptr:
		schema := g.goTypeToSchema(t.Elem())
		if schema != nil && schema.Value != nil {
			schema.Value.Nullable = true
		}
		return schema

	case reflect.Struct:
		// Handle time.Time specially
		if t == reflect.TypeOf(time.Time{}) {
			return &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
			}
		}
		// For other structs, extract recursively
		return g.extractSchema(reflect.New(t).Interface())

	default:
		// Unknown type, return generic object
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

// =============================================================================
// Operation Building Blocks
// =============================================================================

func idParameters(name string) openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     name,
				In:       "path",
				Required: true,
				Schema: &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
			},
		},
	}
}

func listParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name: "limit",
				In:   "query",
				Schema: &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 50},
				},
			},
		},
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name: "offset",
				In:   "query",
				Schema: &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 0},
				},
			},
		},
	}
}

func jsonRequestBody(schemaName string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{
						Ref: "#/components/schemas/" + schemaName,
					},
				},
			},
		},
	}
}

func jsonResponses(status, schemaName string) *openapi3.Responses {
	desc := "Success"
	responses := &openapi3.Responses{}
	responses.Set(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{
						Ref: "#/components/schemas/" + schemaName,
					},
				},
			},
		},
	})
	return responses
}

// sseResponses describes a Server-Sent Events stream of log, done, and
// error events.
func sseResponses() *openapi3.Responses {
	desc := "Server-Sent Events stream (event: log | done | error, data: JSON)"
	responses := &openapi3.Responses{}
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content: openapi3.Content{
				"text/event-stream": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
					},
				},
			},
		},
	})
	return responses
}

func emptyResponses(status string) *openapi3.Responses {
	desc := "Success"
	responses := &openapi3.Responses{}
	responses.Set(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &desc},
	})
	return responses
}

// =============================================================================
// Helpers
// =============================================================================

// capitalize returns the string with the first letter capitalized.
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize performs basic singularization (removes trailing 's').
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "us") {
		// Already singular (status).
		return s
	}
	// Only sibilant stems take a bare "es" plural; "templates" loses just
	// the "s".
	for _, suffix := range []string{"ses", "xes", "zes", "ches", "shes"} {
		if strings.HasSuffix(s, suffix) {
			return s[:len(s)-2]
		}
	}
	if strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}
