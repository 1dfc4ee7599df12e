// Package layout turns a graph into screen coordinates using a layered
// left-to-right placement.
//
// The placement is a pure function of the graph: nodes and edges are only
// ever visited in input order, so two identical graphs always produce the
// same positions.
package layout

import (
	"context"
	"errors"
	"fmt"
)

const (
	NodeWidth  = 200.0
	NodeHeight = 80.0
	// NodeSpacing separates nodes within one layer.
	NodeSpacing = 50.0
	// LayerSpacing separates consecutive layers.
	LayerSpacing = 100.0

	maxSweeps = 24
)

// ErrTimeout marks a layout abandoned because its context expired.
var ErrTimeout = errors.New("layout timed out")

// Point is the top-left corner of a node's footprint.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Positions maps node id to its placement.
type Positions map[string]Point

// Error is the typed failure of a layout run.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("layout %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Input is the subset of a graph the layout algorithm reads.
type Input struct {
	NodeIDs []string
	Edges   [][2]string
}

// Compute places every distinct node id of in. Edges whose endpoints are not
// node ids and self-loops are ignored.
func Compute(ctx context.Context, in Input) (pos Positions, err error) {
	stage := "prepare"
	defer func() {
		if r := recover(); r != nil {
			pos = nil
			err = &Error{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	g := newLayered(in)
	if len(g.ids) == 0 {
		return Positions{}, nil
	}
	stage = "acyclic"
	g.breakCycles()
	stage = "layering"
	g.assignLayers()
	g.insertVirtual()
	stage = "ordering"
	if err := g.order(ctx); err != nil {
		return nil, &Error{Stage: stage, Err: err}
	}
	stage = "placement"
	pos = g.place()
	for _, id := range g.ids {
		if _, ok := pos[id]; !ok {
			pos[id] = Point{}
		}
	}
	return pos, nil
}

// Fallback places every node at the origin.
func Fallback(in Input) Positions {
	pos := make(Positions, len(in.NodeIDs))
	for _, id := range in.NodeIDs {
		pos[id] = Point{}
	}
	return pos
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	return nil
}
