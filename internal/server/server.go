package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"masterplan/internal/engine"
	"masterplan/internal/repo"
	"masterplan/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"event not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"id\":\"100-PRINT-1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planning and sync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		router.Handle("/metrics", promhttp.Handler())
	}
	hcfg := huma.DefaultConfig("Masterplan API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerSync(group, cfg.Engine)
	registerPlan(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, scheduler.ErrUnresolvedDependency):
		return newAPIError(http.StatusUnprocessableEntity, "unresolved_dependency", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
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
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyAuthSecurity marks write operations as requiring a bearer token.
func applyAuthSecurity(oas *huma.OpenAPI) {
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
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil || op.OperationID == "dev-login" {
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
    <title>Masterplan API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Writes require Authorization: Bearer &lt;token&gt; when the server has a JWT secret.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		resp := HealthResponse{Status: "ok", Database: "connected"}
		if err := e.Health(ctx); err != nil {
			resp = HealthResponse{Status: "degraded", Database: "disconnected"}
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List the stored event collection",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		items, err := e.ListEvents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-events",
		Method:      http.MethodPost,
		Path:        "/events",
		Summary:     "Overwrite the event collection",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ReplaceEventsRequest `json:"body"`
	}) (*struct {
		Body ReplaceEventsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		events := make([]domainEvent, 0, len(input.Body.Events))
		for _, ev := range input.Body.Events {
			events = append(events, ev.toDomain())
		}
		stored, fixes, err := e.ReplaceEvents(ctx, events, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReplaceEventsResponse `json:"body"`
		}{Body: ReplaceEventsResponse{Events: stored, Corrections: fixes}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get one event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domainEvent `json:"body"`
	}, error) {
		ev, err := e.Repo.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(fmt.Errorf("event %s: %w", input.ID, err))
		}
		return &struct {
			Body domainEvent `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-event",
		Method:      http.MethodPut,
		Path:        "/events/{id}",
		Summary:     "Create or replace one event",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body EventRequest `json:"body"`
	}) (*struct {
		Body domainEvent `json:"body"`
	}, error) {
		ev := input.Body.toDomain()
		if ev.ID != "" && ev.ID != input.ID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body id does not match path", map[string]any{"id": ev.ID, "path": input.ID})
		}
		ev.ID = input.ID
		stored, err := e.UpsertEvent(ctx, ev, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domainEvent `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-event",
		Method:      http.MethodDelete,
		Path:        "/events/{id}",
		Summary:     "Delete one event",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteEvent(ctx, input.ID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(fmt.Errorf("event %s: %w", input.ID, err))
		}
		return &struct{}{}, nil
	})
}

func registerSync(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-events",
		Method:      http.MethodGet,
		Path:        "/events/sync",
		Summary:     "Delta fetch: the full collection when anything changed after since",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since" doc:"RFC3339 timestamp of the last successful sync"`
	}) (*struct {
		Body syncResult `json:"body"`
	}, error) {
		since, err := parseSince(input.Since)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid since", map[string]any{"since": input.Since})
		}
		res, err := e.Sync(ctx, since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body syncResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/changes",
		Summary:     "Change journal entries after since",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since"`
		Limit int    `query:"limit" default:"100"`
	}) (*struct {
		Body ChangesResponse `json:"body"`
	}, error) {
		since, err := parseSince(input.Since)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid since", map[string]any{"since": input.Since})
		}
		items, err := e.Changes(ctx, since, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domainChange{}
		}
		return &struct {
			Body ChangesResponse `json:"body"`
		}{Body: ChangesResponse{Items: items}}, nil
	})
}

func registerPlan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "plan",
		Method:      http.MethodPost,
		Path:        "/plan",
		Summary:     "Schedule spreadsheet rows and optionally store the events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body PlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		opts := engine.PlanOptions{Save: input.Body.Save, Keep: input.Body.Keep, ActorID: actorIDFromContext(ctx)}
		if input.Body.Epoch != nil {
			opts.Epoch = *input.Body.Epoch
		}
		res, err := e.Plan(ctx, input.Body.rows(), opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: PlanResponse{
			Report:      res.Report,
			Events:      res.Events,
			Unresolved:  res.Unresolved,
			Corrections: res.Corrections,
			LineCursor:  res.LineCursor,
			Saved:       res.Saved,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, 24*time.Hour, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 100
	}
	if in > 1000 {
		return 1000
	}
	return in
}
