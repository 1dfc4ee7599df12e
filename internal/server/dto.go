package server

import (
	"blueprint/internal/domain"
)

// Request payloads

type GraphFromTextRequest struct {
	Text string              `json:"text" minLength:"1" doc:"Prose description of the system or flow"`
	Type domain.GraphVariant `json:"type,omitempty" enum:"system,user-flow" default:"system"`
}

type GraphSuggestRequest struct {
	Graph any    `json:"graph" doc:"Current graph, {nodes, edges}"`
	Goal  string `json:"goal" doc:"What the revised graph should achieve"`
}

type StackRecommendRequest struct {
	Requirements string `json:"requirements" minLength:"1"`
}

type PlanRequest struct {
	Idea  string              `json:"idea" minLength:"1"`
	Stack *domain.StackConfig `json:"stack,omitempty"`
}

type ScaffoldRequest struct {
	Plan  any                `json:"plan" doc:"Project plan object"`
	Stack domain.StackConfig `json:"stack"`
}

// DocsRequest selects the Markdown path with plan, or the structured
// document path with prompt.
type DocsRequest struct {
	Plan    any    `json:"plan,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Context any    `json:"context,omitempty" doc:"Free text or any JSON value giving background"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type MarkdownResponse struct {
	Markdown string `json:"markdown"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type EventSummary struct {
	Task   string         `json:"task,omitempty"`
	Counts map[string]int `json:"counts"`
}
