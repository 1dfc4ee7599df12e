package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"blueprint/internal/engine"
	"blueprint/internal/repo"
)

var generationErrors = []int{
	http.StatusBadRequest,
	http.StatusBadGateway,
	http.StatusInternalServerError,
}

type rawBody struct {
	Body any `json:"body"`
}

func rawOutput(raw json.RawMessage) *rawBody {
	return &rawBody{Body: raw}
}

func registerGraphs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "graph-from-text",
		Method:      http.MethodPost,
		Path:        "/graph/from-text",
		Summary:     "Generate a graph from a description",
		Tags:        []string{"graphs"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body GraphFromTextRequest `json:"body"`
	}) (*rawBody, error) {
		out, err := e.GraphFromText(ctx, input.Body.Text, input.Body.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return rawOutput(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "graph-suggest",
		Method:      http.MethodPost,
		Path:        "/graph/suggest",
		Summary:     "Suggest a revised graph toward a goal",
		Tags:        []string{"graphs"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body GraphSuggestRequest `json:"body"`
	}) (*rawBody, error) {
		out, err := e.SuggestGraph(ctx, input.Body.Graph, input.Body.Goal)
		if err != nil {
			return nil, handleError(err)
		}
		return rawOutput(out), nil
	})
}

func registerStack(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stack-recommend",
		Method:      http.MethodPost,
		Path:        "/stack/recommend",
		Summary:     "Recommend a technology stack",
		Tags:        []string{"planning"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body StackRecommendRequest `json:"body"`
	}) (*rawBody, error) {
		out, err := e.RecommendStack(ctx, input.Body.Requirements)
		if err != nil {
			return nil, handleError(err)
		}
		return rawOutput(out), nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-plan",
		Method:      http.MethodPost,
		Path:        "/plan",
		Summary:     "Draft a project plan",
		Tags:        []string{"planning"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body PlanRequest `json:"body"`
	}) (*rawBody, error) {
		out, err := e.ProjectPlan(ctx, input.Body.Idea, input.Body.Stack)
		if err != nil {
			return nil, handleError(err)
		}
		return rawOutput(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scaffold",
		Method:      http.MethodPost,
		Path:        "/scaffold",
		Summary:     "Generate starter files for a plan",
		Tags:        []string{"planning"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body ScaffoldRequest `json:"body"`
	}) (*rawBody, error) {
		plan, err := marshalAny(input.Body.Plan)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "plan is not valid JSON", nil)
		}
		out, err := e.Scaffold(ctx, plan, input.Body.Stack)
		if err != nil {
			return nil, handleError(err)
		}
		return rawOutput(out), nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "docs",
		Method:      http.MethodPost,
		Path:        "/docs",
		Summary:     "Write documentation",
		Description: "With plan, returns {markdown}. With prompt, returns a structured document.",
		Tags:        []string{"docs"},
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body DocsRequest `json:"body"`
	}) (*rawBody, error) {
		switch {
		case input.Body.Plan != nil:
			plan, err := marshalAny(input.Body.Plan)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "plan is not valid JSON", nil)
			}
			md, err := e.DocsFromPlan(ctx, plan)
			if err != nil {
				return nil, handleError(err)
			}
			return &rawBody{Body: MarkdownResponse{Markdown: md}}, nil
		case strings.TrimSpace(input.Body.Prompt) != "":
			docContext, err := contextText(input.Body.Context)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "context is not valid JSON", nil)
			}
			out, err := e.DocsFromPrompt(ctx, input.Body.Prompt, docContext)
			if err != nil {
				return nil, handleError(err)
			}
			return rawOutput(out), nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "plan or prompt is required", nil)
		}
	})
}

func registerEvents(api huma.API, r *repo.Repo) {
	disabled := func() error {
		return newAPIError(http.StatusServiceUnavailable, "event_log_disabled", "event log is disabled", nil)
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent generation events",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Task   string `query:"task"`
		Status string `query:"status" enum:"ok,empty,malformed,error"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor" doc:"Event id; returns events older than it"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeEventsRead); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, disabled()
		}
		limit := normalizeLimit(input.Limit)
		items, err := r.LatestEvents(ctx, repo.EventFilters{Task: input.Task, Status: input.Status, Limit: limit + 1, Before: input.Cursor})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: items}
		if len(items) > limit {
			resp.Items = items[:limit]
			resp.NextCursor = items[limit-1].ID
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-summary",
		Method:      http.MethodGet,
		Path:        "/events/summary",
		Summary:     "Count generation events by status",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Task string `query:"task"`
	}) (*struct {
		Body EventSummary `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeEventsRead); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, disabled()
		}
		counts, err := r.CountByStatus(ctx, input.Task)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventSummary `json:"body"`
		}{Body: EventSummary{Task: input.Task, Counts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get one generation event",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body any `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeEventsRead); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, disabled()
		}
		evt, err := r.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: evt}, nil
	})
}

func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// contextText flattens the optional docs context to prompt text.
func contextText(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	default:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
