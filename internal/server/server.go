package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"campusworks/internal/domain"
	"campusworks/internal/engine"
	"campusworks/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_released"`
	Message string         `json:"message" example:"milestone tranche already released"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"conflict\"}"`
}

// apiError models the error envelope every failure is returned in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// New returns an HTTP handler exposing the project lifecycle API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are bad requests, not failed preconditions.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Campusworks API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, e)
	registerApplications(group, e)
	registerGate(group, e)
	registerPayouts(group, e)
	registerEvents(group, e)
	registerTeams(group, e)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)
	if e.Metrics != nil {
		router.Handle("/metrics", e.Metrics.Handler())
	}
	return router, nil
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
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

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindPreconditionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return newAPIError(statusForKind(de.Kind), de.Code, de.Message, map[string]any{"kind": string(de.Kind)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
		return "precondition_failed"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	schema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: schema},
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
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Campusworks API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; (see <code>cw token issue</code>).
    </p>
  </body>
</html>`, specURL)
}

type stateOutput struct {
	Body ProjectStateResponse `json:"body"`
}

func stateResult(s domain.ProjectState, err error) (*stateOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &stateOutput{Body: stateResponse(s)}, nil
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

// registerTransition exposes a bodiless lifecycle command on a project.
func registerTransition(api huma.API, op huma.Operation, run func(ctx context.Context, projectID, actorID string) (domain.ProjectState, error)) {
	op.Method = http.MethodPost
	op.Errors = transitionErrors
	huma.Register(api, op, func(ctx context.Context, input *projectPath) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return stateResult(run(ctx, input.ProjectID, actorID))
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Post a project as a draft",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		budget, err := decimal.NewFromString(strings.TrimSpace(input.Body.Budget))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "budget must be a decimal string", map[string]any{"budget": input.Body.Budget})
		}
		opts := engine.CreateProjectOptions{
			ID:               input.Body.ID,
			BusinessID:       input.Body.BusinessID,
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			Budget:           budget,
			TimelineEstimate: input.Body.TimelineEstimate,
			RequiredSkills:   input.Body.RequiredSkills,
			Schedule:         input.Body.Schedule,
			ActorID:          actorID,
		}
		if input.Body.TeamSize != nil {
			opts.TeamSize = domain.TeamSize(*input.Body.TeamSize)
		}
		for _, d := range input.Body.Plan {
			opts.Plan = append(opts.Plan, domain.MilestoneDefinition(d))
		}
		return stateResult(e.CreateProject(ctx, opts))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		BusinessID string `query:"business_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Status:     input.Status,
			BusinessID: input.BusinessID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Project state snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Rank      string `query:"rank" doc:"rating, past_projects, reliability or submitted_at"`
	}) (*stateOutput, error) {
		return stateResult(e.GetProjectState(ctx, input.ProjectID, input.Rank))
	})

	registerTransition(api, huma.Operation{
		OperationID: "submit-project",
		Path:        "/projects/{project_id}/submit",
		Summary:     "Submit a draft for review",
	}, e.SubmitForReview)

	registerTransition(api, huma.Operation{
		OperationID: "approve-project",
		Path:        "/projects/{project_id}/approve",
		Summary:     "Approve a project and open it to applications",
	}, e.Approve)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel a project",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      CancelRequest `json:"body" required:"false"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return stateResult(e.Cancel(ctx, input.ProjectID, input.Body.Reason, actorID))
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-application",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/applications",
		Summary:     "Apply to a live project",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      ApplyRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return stateResult(e.SubmitApplication(ctx, input.ProjectID, input.Body.TeamID, input.Body.Pitch, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/applications",
		Summary:     "Ranked applications",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Rank      string `query:"rank"`
	}) (*struct {
		Body []ApplicationResponse `json:"body"`
	}, error) {
		items, err := e.ListApplications(ctx, input.ProjectID, input.Rank)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ApplicationResponse `json:"body"`
		}{Body: applicationResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-team",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/select",
		Summary:     "Select a team and start the first milestone",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      SelectTeamRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return stateResult(e.SelectTeam(ctx, input.ProjectID, input.Body.TeamID, actorID))
	})
}

func registerGate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-gate-item",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gate/items",
		Summary:     "Check or uncheck an item on the active review gate",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      CheckItemRequest `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		checked := true
		if input.Body.Checked != nil {
			checked = *input.Body.Checked
		}
		return stateResult(e.CheckGateItem(ctx, input.ProjectID, input.Body.ItemID, checked, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "gate-consent",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gate/consent",
		Summary:     "Record reviewer consent on the active gate",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ConsentRequest `json:"body" required:"false"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		consent := true
		if input.Body.Consent != nil {
			consent = *input.Body.Consent
		}
		return stateResult(e.GiveConsent(ctx, input.ProjectID, consent, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "gate-request-changes",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gate/changes",
		Summary:     "Request changes within the revision window",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      ChangeRequestBody `json:"body"`
	}) (*stateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return stateResult(e.RequestChanges(ctx, input.ProjectID, input.Body.Note, actorID))
	})

	registerTransition(api, huma.Operation{
		OperationID: "gate-pass",
		Path:        "/projects/{project_id}/gate/pass",
		Summary:     "Pass the active review gate",
	}, e.PassGate)
}

func registerPayouts(api huma.API, e engine.Engine) {
	registerTransition(api, huma.Operation{
		OperationID: "approve-milestone",
		Path:        "/projects/{project_id}/milestones/approve",
		Summary:     "Approve the current milestone and release its tranche",
	}, e.ApproveMilestone)

	registerTransition(api, huma.Operation{
		OperationID: "approve-final",
		Path:        "/projects/{project_id}/final/approve",
		Summary:     "Approve final delivery and complete the project",
	}, e.ApproveFinal)
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			Limit:      limit + 1,
			Cursor:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "put-team",
		Method:      http.MethodPut,
		Path:        "/teams/{team_id}",
		Summary:     "Register or update a team",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TeamID string      `path:"team_id"`
		Body   TeamRequest `json:"body"`
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RegisterTeam(ctx, domain.Team{
			ID:           input.TeamID,
			Name:         input.Body.Name,
			Rating:       input.Body.Rating,
			PastProjects: input.Body.PastProjects,
			Reliability:  input.Body.Reliability,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List registered teams",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TeamResponse `json:"body"`
	}, error) {
		items, err := e.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TeamResponse, 0, len(items))
		for _, t := range items {
			out = append(out, teamResponse(t))
		}
		return &struct {
			Body []TeamResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Roles: nonNilSlice(p.Roles), Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := IssueToken(authCfg.JWTSecret, actor, input.Body.Roles, 0, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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
