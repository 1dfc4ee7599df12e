package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"blueprint/internal/domain"
	"blueprint/internal/llm"
)

// Task names one generation pipeline.
type Task string

const (
	TaskGraphFromText  Task = "graph-from-text"
	TaskGraphSuggest   Task = "graph-suggest"
	TaskStackRecommend Task = "stack-recommend"
	TaskProjectPlan    Task = "project-plan"
	TaskScaffold       Task = "scaffold"
	TaskDocs           Task = "docs"
	TaskDocsMarkdown   Task = "docs-markdown"
)

// Tasks lists every task in a stable order.
var Tasks = []Task{TaskGraphFromText, TaskGraphSuggest, TaskStackRecommend, TaskProjectPlan, TaskScaffold, TaskDocs, TaskDocsMarkdown}

// PromptInput carries caller input. Each task reads only its own fields.
type PromptInput struct {
	Text         string
	Variant      domain.GraphVariant
	Graph        *domain.Graph
	Goal         string
	Requirements string
	Idea         string
	Stack        *domain.StackConfig
	Plan         json.RawMessage
	Prompt       string
	Context      string
}

const jsonOnly = "Respond with one JSON object and nothing else: no prose, no Markdown fences."

const graphShape = `{
  "nodes": [{"id": string, "label": string, "kind": %s, "group": string (optional)}],
  "edges": [{"id": string, "source": node id, "target": node id, "label": string (optional)}]
}`

// BuildPrompt returns the system instruction and user message of a task.
func BuildPrompt(task Task, in PromptInput) (llm.Request, error) {
	switch task {
	case TaskGraphFromText:
		variant := in.Variant
		if variant == "" {
			variant = domain.VariantSystem
		}
		return llm.Request{
			System: graphSystem(variant.Kinds(), "You turn a description of a software system into an architecture graph."),
			User:   fmt.Sprintf("Graph type: %s\n\nDescription:\n%s", variant, in.Text),
			JSON:   true,
		}, nil
	case TaskGraphSuggest:
		if in.Graph == nil {
			return llm.Request{}, fmt.Errorf("build %s prompt: graph is required", task)
		}
		current, err := json.MarshalIndent(in.Graph.Normalized(), "", "  ")
		if err != nil {
			return llm.Request{}, fmt.Errorf("build %s prompt: %w", task, err)
		}
		return llm.Request{
			System: graphSystem(domain.NodeKinds, "You improve an existing architecture graph toward a stated goal. "+
				"Return the complete revised graph, not a diff. Keep the ids of nodes you retain."),
			User: fmt.Sprintf("Goal:\n%s\n\nCurrent graph:\n%s", in.Goal, current),
			JSON: true,
		}, nil
	case TaskStackRecommend:
		return llm.Request{
			System: strings.Join([]string{
				"You recommend a technology stack for a software project.",
				jsonOnly,
				`Shape: {"frontend": {"choice": string, "reasons": [string]}, "backend": {...}, "auth": {...}, "deployment": {...}, "additional": [{"choice": string, "reasons": [string]}]}`,
			}, "\n"),
			User: "Requirements:\n" + in.Requirements,
			JSON: true,
		}, nil
	case TaskProjectPlan:
		user := "Project idea:\n" + in.Idea
		if in.Stack != nil {
			stack, err := json.Marshal(in.Stack)
			if err != nil {
				return llm.Request{}, fmt.Errorf("build %s prompt: %w", task, err)
			}
			user += "\n\nUse this stack:\n" + string(stack)
		}
		return llm.Request{
			System: strings.Join([]string{
				"You write project plans for software products.",
				jsonOnly,
				`Shape: {"title": string, "description": string, "stack": {"type": string, "framework": string, "features": [string]},` +
					` "architecture": {"nodes": [...], "edges": [...]},` +
					` "userStories": [{"id": string, "title": string, "description": string, "acceptanceCriteria": [string],` +
					` "priority": "High"|"Medium"|"Low", "estimate": "S"|"M"|"C", "assignees": [string]}],` +
					` "fileStructure": [{"name": string, "type": "file"|"directory", "content": string (files), "children": [...] (directories)}]}`,
			}, "\n"),
			User: user,
			JSON: true,
		}, nil
	case TaskScaffold:
		stack, err := json.Marshal(in.Stack)
		if err != nil {
			return llm.Request{}, fmt.Errorf("build %s prompt: %w", task, err)
		}
		return llm.Request{
			System: strings.Join([]string{
				"You generate the starter code of a project from its plan and stack.",
				jsonOnly,
				`Shape: {"files": [{"path": string, "content": string}], "commands": [string], "environment": {"KEY": "value"}}`,
			}, "\n"),
			User: fmt.Sprintf("Stack:\n%s\n\nPlan:\n%s", stack, in.Plan),
			JSON: true,
		}, nil
	case TaskDocs:
		user := "Request:\n" + in.Prompt
		if strings.TrimSpace(in.Context) != "" {
			user += "\n\nContext:\n" + in.Context
		}
		return llm.Request{
			System: strings.Join([]string{
				"You write product and engineering documents.",
				jsonOnly,
				`Shape: {"title": string, "sections": [{"heading": string, "body": string}], "backlog": [string], "risks": [string], "open_questions": [string]}`,
			}, "\n"),
			User: user,
			JSON: true,
		}, nil
	case TaskDocsMarkdown:
		return llm.Request{
			System: "You write the project documentation of a plan as a single Markdown document " +
				"with an overview, architecture, user stories and setup sections. Respond with Markdown only.",
			User: "Plan:\n" + string(in.Plan),
		}, nil
	default:
		return llm.Request{}, fmt.Errorf("unknown task %q", task)
	}
}

func graphSystem(kinds []domain.NodeKind, intro string) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = `"` + string(k) + `"`
	}
	return strings.Join([]string{
		intro,
		jsonOnly,
		"Shape:",
		fmt.Sprintf(graphShape, strings.Join(names, "|")),
		"Every id is unique. Every edge references existing node ids.",
	}, "\n")
}
