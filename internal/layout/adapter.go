package layout

import (
	"context"
	"log/slog"

	"blueprint/internal/domain"
)

// FromGraph extracts the layout input of a graph. Node order and edge order
// are kept as given.
func FromGraph(g domain.Graph) Input {
	in := Input{
		NodeIDs: make([]string, 0, len(g.Nodes)),
		Edges:   make([][2]string, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		in.NodeIDs = append(in.NodeIDs, n.ID)
	}
	for _, e := range g.Edges {
		in.Edges = append(in.Edges, [2]string{e.Source, e.Target})
	}
	return in
}

// Graph lays out a domain graph.
func Graph(ctx context.Context, g domain.Graph) (Positions, error) {
	return Compute(ctx, FromGraph(g))
}

// Apply lays out g and falls back to all-zero positions when the algorithm
// fails. The error is returned alongside the fallback so callers can report it.
func Apply(ctx context.Context, g domain.Graph, logger *slog.Logger) (Positions, error) {
	in := FromGraph(g)
	pos, err := Compute(ctx, in)
	if err == nil {
		return pos, nil
	}
	if logger != nil {
		logger.Warn("layout failed, using origin for every node", "nodes", len(in.NodeIDs), "error", err)
	}
	return Fallback(in), err
}
