package layout

import (
	"context"
	"sort"
)

// layered holds the working state of one layout run. Node indices below
// len(ids) are real nodes; the rest are virtual nodes splitting long edges.
type layered struct {
	ids    []string
	index  map[string]int
	edges  [][2]int
	layer  []int
	succ   [][]int
	pred   [][]int
	layers [][]int
	pos    []int
}

func newLayered(in Input) *layered {
	g := &layered{index: make(map[string]int, len(in.NodeIDs))}
	for _, id := range in.NodeIDs {
		if _, dup := g.index[id]; dup {
			continue
		}
		g.index[id] = len(g.ids)
		g.ids = append(g.ids, id)
	}
	seen := make(map[[2]int]bool, len(in.Edges))
	for _, e := range in.Edges {
		u, okU := g.index[e[0]]
		v, okV := g.index[e[1]]
		if !okU || !okV || u == v {
			continue
		}
		key := [2]int{u, v}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.edges = append(g.edges, key)
	}
	return g
}

// breakCycles reverses every edge that closes a cycle during a depth-first
// walk in input order.
func (g *layered) breakCycles() {
	n := len(g.ids)
	out := make([][]int, n)
	for i, e := range g.edges {
		out[e[0]] = append(out[e[0]], i)
	}
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, n)
	reversed := make([]bool, len(g.edges))
	var visit func(u int)
	visit = func(u int) {
		state[u] = active
		for _, ei := range out[u] {
			v := g.edges[ei][1]
			switch state[v] {
			case unvisited:
				visit(v)
			case active:
				reversed[ei] = true
			}
		}
		state[u] = done
	}
	for u := 0; u < n; u++ {
		if state[u] == unvisited {
			visit(u)
		}
	}
	seen := make(map[[2]int]bool, len(g.edges))
	dag := make([][2]int, 0, len(g.edges))
	for i, e := range g.edges {
		if reversed[i] {
			e = [2]int{e[1], e[0]}
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		dag = append(dag, e)
	}
	g.edges = dag
}

// assignLayers puts every node one layer right of its furthest predecessor.
func (g *layered) assignLayers() {
	n := len(g.ids)
	out := make([][]int, n)
	indeg := make([]int, n)
	for _, e := range g.edges {
		out[e[0]] = append(out[e[0]], e[1])
		indeg[e[1]]++
	}
	g.layer = make([]int, n)
	queue := make([]int, 0, n)
	for u := 0; u < n; u++ {
		if indeg[u] == 0 {
			queue = append(queue, u)
		}
	}
	for head := 0; head < len(queue); head++ {
		u := queue[head]
		for _, v := range out[u] {
			if g.layer[u]+1 > g.layer[v] {
				g.layer[v] = g.layer[u] + 1
			}
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
}

// insertVirtual splits edges spanning several layers into unit-length hops
// and builds the initial per-layer ordering.
func (g *layered) insertVirtual() {
	n := len(g.ids)
	g.succ = make([][]int, n)
	g.pred = make([][]int, n)
	link := func(u, v int) {
		g.succ[u] = append(g.succ[u], v)
		g.pred[v] = append(g.pred[v], u)
	}
	for _, e := range g.edges {
		u, v := e[0], e[1]
		prev := u
		for l := g.layer[u] + 1; l < g.layer[v]; l++ {
			w := len(g.layer)
			g.layer = append(g.layer, l)
			g.succ = append(g.succ, nil)
			g.pred = append(g.pred, nil)
			link(prev, w)
			prev = w
		}
		link(prev, v)
	}
	depth := 0
	for _, l := range g.layer {
		if l+1 > depth {
			depth = l + 1
		}
	}
	g.layers = make([][]int, depth)
	g.pos = make([]int, len(g.layer))
	for v, l := range g.layer {
		g.pos[v] = len(g.layers[l])
		g.layers[l] = append(g.layers[l], v)
	}
}

// order runs alternating barycenter sweeps and keeps the ordering with the
// fewest crossings seen.
func (g *layered) order(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	best := cloneLayers(g.layers)
	bestCrossings := g.crossings()
	for sweep := 0; sweep < maxSweeps && bestCrossings > 0; sweep++ {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if sweep%2 == 0 {
			for l := 1; l < len(g.layers); l++ {
				g.reorder(l, g.pred)
			}
		} else {
			for l := len(g.layers) - 2; l >= 0; l-- {
				g.reorder(l, g.succ)
			}
		}
		if c := g.crossings(); c < bestCrossings {
			bestCrossings = c
			best = cloneLayers(g.layers)
		}
	}
	g.layers = best
	for _, nodes := range g.layers {
		for i, v := range nodes {
			g.pos[v] = i
		}
	}
	return nil
}

func (g *layered) reorder(l int, neighbors [][]int) {
	nodes := g.layers[l]
	keys := make(map[int]float64, len(nodes))
	for _, v := range nodes {
		adj := neighbors[v]
		if len(adj) == 0 {
			keys[v] = float64(g.pos[v])
			continue
		}
		sum := 0
		for _, u := range adj {
			sum += g.pos[u]
		}
		keys[v] = float64(sum) / float64(len(adj))
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return keys[nodes[i]] < keys[nodes[j]]
	})
	for i, v := range nodes {
		g.pos[v] = i
	}
}

func (g *layered) crossings() int {
	total := 0
	for l := 0; l+1 < len(g.layers); l++ {
		var segs [][2]int
		for _, u := range g.layers[l] {
			for _, v := range g.succ[u] {
				segs = append(segs, [2]int{g.pos[u], g.pos[v]})
			}
		}
		for i := 0; i < len(segs); i++ {
			for j := i + 1; j < len(segs); j++ {
				a, b := segs[i], segs[j]
				if (a[0] < b[0] && a[1] > b[1]) || (a[0] > b[0] && a[1] < b[1]) {
					total++
				}
			}
		}
	}
	return total
}

// place assigns coordinates: layers advance along x, nodes within a layer
// stack along y, and every layer is centred on the tallest one.
func (g *layered) place() Positions {
	tallest := 0
	for _, nodes := range g.layers {
		if len(nodes) > tallest {
			tallest = len(nodes)
		}
	}
	step := NodeHeight + NodeSpacing
	pos := make(Positions, len(g.ids))
	for l, nodes := range g.layers {
		x := float64(l) * (NodeWidth + LayerSpacing)
		offset := float64(tallest-len(nodes)) * step / 2
		for i, v := range nodes {
			if v >= len(g.ids) {
				continue
			}
			pos[g.ids[v]] = Point{X: x, Y: offset + float64(i)*step}
		}
	}
	return pos
}

func cloneLayers(in [][]int) [][]int {
	out := make([][]int, len(in))
	for i, nodes := range in {
		out[i] = append([]int(nil), nodes...)
	}
	return out
}
