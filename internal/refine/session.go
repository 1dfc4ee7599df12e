// Package refine holds the render state of one editing session and replaces
// it wholesale with every model response.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"blueprint/internal/domain"
	"blueprint/internal/layout"
	"blueprint/internal/logging"
	"blueprint/internal/metrics"
	"blueprint/internal/schema"
)

var (
	// ErrEmptyResult is returned when the model produced a graph with neither
	// nodes nor edges. The state is left as it was.
	ErrEmptyResult = errors.New("model returned an empty graph")
	ErrUnknownNode = errors.New("unknown node")
	ErrDuplicateID = errors.New("duplicate id")
)

// Generator produces graphs. It is satisfied by engine.Engine and by the SDK
// client.
type Generator interface {
	GraphFromText(ctx context.Context, text string, variant domain.GraphVariant) (json.RawMessage, error)
	SuggestGraph(ctx context.Context, graph any, goal string) (json.RawMessage, error)
}

// Node is a graph node as rendered, with its live position.
type Node struct {
	domain.GraphNode
	Position layout.Point `json:"position"`
}

// State is what a renderer draws.
type State struct {
	Nodes []Node `json:"nodes"`
	Edges []domain.GraphEdge `json:"edges"`
}

type Session struct {
	gen     Generator
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

func NewSession(gen Generator, opts ...Option) *Session {
	s := &Session{gen: gen, state: State{Nodes: []Node{}, Edges: []domain.GraphEdge{}}}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Generate builds a graph from text and replaces the state with it.
func (s *Session) Generate(ctx context.Context, text string, variant domain.GraphVariant) error {
	raw, err := s.gen.GraphFromText(ctx, text, variant)
	if err != nil {
		return err
	}
	return s.replace(ctx, raw)
}

// Suggest sends the current graph and goal to the model and replaces the
// state with the answer. Edits made since the last response are kept only
// if the model returns them.
func (s *Session) Suggest(ctx context.Context, goal string) error {
	raw, err := s.gen.SuggestGraph(ctx, s.Snapshot(), goal)
	if err != nil {
		return err
	}
	return s.replace(ctx, raw)
}

// Load lays out g and makes it the state.
func (s *Session) Load(ctx context.Context, g domain.Graph) error {
	raw, err := json.Marshal(g.Normalized())
	if err != nil {
		return err
	}
	return s.replace(ctx, raw)
}

func (s *Session) replace(ctx context.Context, raw json.RawMessage) error {
	var probe domain.Graph
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.Nodes) == 0 && len(probe.Edges) == 0 {
		return ErrEmptyResult
	}
	g, err := schema.ValidateGraph(raw)
	if err != nil {
		return err
	}
	pos, lerr := layout.Apply(ctx, g, s.logger)
	if lerr != nil {
		stage := "unknown"
		var le *layout.Error
		if errors.As(lerr, &le) {
			stage = le.Stage
		}
		s.metrics.LayoutFailure(stage)
	}
	next := State{Nodes: make([]Node, 0, len(g.Nodes)), Edges: make([]domain.GraphEdge, 0, len(g.Edges))}
	for _, n := range g.Nodes {
		next.Nodes = append(next.Nodes, Node{GraphNode: n, Position: pos[n.ID]})
	}
	next.Edges = append(next.Edges, g.Edges...)
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current graph without renderer-only fields.
func (s *Session) Snapshot() domain.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := domain.Graph{
		Nodes: make([]domain.GraphNode, len(s.state.Nodes)),
		Edges: append([]domain.GraphEdge{}, s.state.Edges...),
	}
	for i, n := range s.state.Nodes {
		g.Nodes[i] = n.GraphNode
	}
	return g
}

// State returns a copy of the render state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Nodes: append([]Node{}, s.state.Nodes...),
		Edges: append([]domain.GraphEdge{}, s.state.Edges...),
	}
}

func (s *Session) MoveNode(id string, to layout.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.nodeIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	s.state.Nodes[i].Position = to
	return nil
}

func (s *Session) AddNode(n domain.GraphNode, at layout.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodeIndex(n.ID) >= 0 {
		return fmt.Errorf("%w: node %s", ErrDuplicateID, n.ID)
	}
	s.state.Nodes = append(s.state.Nodes, Node{GraphNode: n, Position: at})
	return nil
}

func (s *Session) AddEdge(e domain.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.Edges {
		if existing.ID == e.ID {
			return fmt.Errorf("%w: edge %s", ErrDuplicateID, e.ID)
		}
	}
	for _, end := range []string{e.Source, e.Target} {
		if s.nodeIndex(end) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownNode, end)
		}
	}
	s.state.Edges = append(s.state.Edges, e)
	return nil
}

// RemoveNode drops a node and every edge touching it.
func (s *Session) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.nodeIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	s.state.Nodes = append(s.state.Nodes[:i:i], s.state.Nodes[i+1:]...)
	edges := make([]domain.GraphEdge, 0, len(s.state.Edges))
	for _, e := range s.state.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	s.state.Edges = edges
	return nil
}

func (s *Session) nodeIndex(id string) int {
	for i, n := range s.state.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
