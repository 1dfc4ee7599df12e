package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"blueprint/internal/engine"
	"blueprint/internal/logging"
	"blueprint/internal/metrics"
	"blueprint/internal/repo"
	"blueprint/internal/schema"
)

const Version = "0.3.0"

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Events serves the generation log; nil answers 503.
	Events     *repo.Repo
	BasePath   string
	Auth       AuthConfig
	CORSOrigin string
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status  int
	Message string         `json:"error" example:"graph is invalid"`
	Code    string         `json:"code" example:"validation_failed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the Blueprint API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	if basePath == "" {
		return nil, errors.New("base path must not be the root")
	}
	logger := logging.OrDiscard(cfg.Logger)

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema violations are plain bad requests
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLog(logger, cfg.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(cors(cfg.CORSOrigin))
	public := append([]string{}, cfg.Auth.Public...)
	public = append(public, path.Join(basePath, "health"), path.Join(basePath, "openapi.json"))
	authCfg := cfg.Auth
	authCfg.Public = public
	router.Use(newAuthMiddleware(basePath, authCfg, logger))

	hcfg := huma.DefaultConfig("Blueprint API", Version)
	hcfg.Info.Description = "Generate and refine architecture graphs, plans, scaffolds and documents with a language model."
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	// no "$schema" links in response bodies
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	registerHealth(group)
	registerGraphs(group, cfg.Engine)
	registerStack(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerEvents(group, cfg.Events)
	registerOpenAPI(router, api, basePath, cfg.Auth.Enabled())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Message: message, Code: code, Details: details}
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	items := make([]schema.FieldError, 0, len(errs))
	for _, err := range errs {
		var detail *huma.ErrorDetail
		if errors.As(err, &detail) {
			items = append(items, schema.FieldError{Location: detail.Location, Message: detail.Message, Value: detail.Value})
			continue
		}
		items = append(items, schema.FieldError{Message: err.Error()})
	}
	return map[string]any{"errors": items}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	// Malformed output may wrap validation errors, so it is matched first.
	var merr *engine.MalformedOutputError
	if errors.As(err, &merr) {
		details := map[string]any{"task": string(merr.Task)}
		var verrs *schema.ValidationErrors
		if errors.As(merr.Err, &verrs) {
			details["errors"] = verrs.Errors
		} else {
			details["reason"] = merr.Err.Error()
		}
		return newAPIError(http.StatusBadGateway, "malformed_output", "model output did not match the expected shape", details)
	}
	var verrs *schema.ValidationErrors
	if errors.As(err, &verrs) {
		return newAPIError(http.StatusBadRequest, "validation_failed", verrs.Error(), map[string]any{"errors": verrs.Errors})
	}
	var gerr *engine.GenerationError
	if errors.As(err, &gerr) {
		return newAPIError(http.StatusInternalServerError, "generation_failed", "generation failed", map[string]any{
			"task":  string(gerr.Task),
			"cause": gerr.Err.Error(),
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "malformed_output"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if secured {
				applyAuthSecurity(oas, basePath)
			}
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	errSchema := &huma.Schema{Type: huma.TypeObject}
	if oas.Components != nil && oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Blueprint API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
