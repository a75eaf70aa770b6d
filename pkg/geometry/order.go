package geometry

import (
	"errors"
	"math"
	"sort"
)

// ErrDegenerateQuad is returned when four points do not describe a polygon
// whose edges can be recovered (coincident points, or an edge graph that is
// not a single 4-cycle).
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// tieEpsilon is the tolerance used when comparing lengths and coordinates
// for tie-breaking, in pixels.
const tieEpsilon = 1e-6

// OrderQuadPoints orders four corners into a portrait CardQuad regardless of
// the order they are given in.
//
// # Algorithm
//
//  1. Compute all six pairwise distances. The two largest are the diagonals;
//     the remaining four are polygon edges.
//  2. Build the adjacency graph of those four edges and walk it to recover the
//     polygon cycle.
//  3. Compare the average lengths of the two opposite-edge pairs. The shorter
//     pair is the card width (top and bottom); exact ties pick the pair that
//     runs more horizontally.
//  4. The short edge with the smaller average y is the top edge. Its endpoints
//     are split into TopLeft/TopRight by x-coordinate, and the bottom corners
//     follow from the cycle adjacency.
//  5. When the top edge is close enough to vertical that the x split would
//     produce a mirrored (counter-clockwise) traversal, left and right are
//     swapped so the quad always winds clockwise on screen.
//
// The result depends only on the point set, so any cyclic or reflected
// relabeling of the input produces the same output.
func OrderQuadPoints(pts [4]Point) (CardQuad, error) {
	for _, p := range pts {
		if !p.IsFinite() {
			return CardQuad{}, ErrDegenerateQuad
		}
	}

	cycle, err := polygonCycle(pts)
	if err != nil {
		return CardQuad{}, err
	}

	// edges[i] joins cycle[i] and cycle[(i+1)%4]; edges 0/2 and 1/3 are opposite.
	var lengths [4]float64
	for i := 0; i < 4; i++ {
		lengths[i] = cycle[i].Distance(cycle[(i+1)%4])
	}
	pairA := (lengths[0] + lengths[2]) / 2
	pairB := (lengths[1] + lengths[3]) / 2

	short := 0
	switch {
	case pairB < pairA-tieEpsilon:
		short = 1
	case math.Abs(pairA-pairB) <= tieEpsilon:
		if horizontality(cycle, 1) > horizontality(cycle, 0)+tieEpsilon {
			short = 1
		}
	}

	// Candidate top edges: edge `short` and its opposite `short+2`.
	e1, e2 := short, short+2
	top := e1
	my1 := (cycle[e1].Y + cycle[(e1+1)%4].Y) / 2
	my2 := (cycle[e2].Y + cycle[(e2+1)%4].Y) / 2
	switch {
	case my2 < my1-tieEpsilon:
		top = e2
	case math.Abs(my1-my2) <= tieEpsilon:
		mx1 := (cycle[e1].X + cycle[(e1+1)%4].X) / 2
		mx2 := (cycle[e2].X + cycle[(e2+1)%4].X) / 2
		if mx2 < mx1 {
			top = e2
		}
	}

	a, b := top, (top+1)%4
	tl, tr := a, b
	if lessByX(cycle[b], cycle[a]) {
		tl, tr = b, a
	}

	// Bottom corners are the cycle neighbours of TL and TR off the top edge.
	var bl, br int
	if tl == a {
		// cycle runs tl -> tr -> br -> bl
		br, bl = (tr+1)%4, (tr+2)%4
	} else {
		// cycle runs tr -> tl -> bl -> br
		bl, br = (tl+1)%4, (tl+2)%4
	}

	q := CardQuad{
		TopLeft:     cycle[tl],
		TopRight:    cycle[tr],
		BottomRight: cycle[br],
		BottomLeft:  cycle[bl],
	}
	corners := q.Points()
	if SignedArea(corners[:]) < 0 {
		q = CardQuad{
			TopLeft:     q.TopRight,
			TopRight:    q.TopLeft,
			BottomRight: q.BottomLeft,
			BottomLeft:  q.BottomRight,
		}
	}
	return q, nil
}

// polygonCycle recovers the polygon traversal order of four points using the
// diagonal/edge split described on OrderQuadPoints. The cycle starts at the
// point that sorts first by (x, y) so the output is label independent.
func polygonCycle(pts [4]Point) ([4]Point, error) {
	type pair struct {
		i, j int
		d    float64
	}
	pairs := make([]pair, 0, 6)
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			d := pts[i].Distance(pts[j])
			if d <= tieEpsilon {
				return [4]Point{}, ErrDegenerateQuad
			}
			pairs = append(pairs, pair{i, j, d})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if math.Abs(pairs[a].d-pairs[b].d) > tieEpsilon {
			return pairs[a].d > pairs[b].d
		}
		// Deterministic tie order independent of labels.
		ka := edgeKey(pts[pairs[a].i], pts[pairs[a].j])
		kb := edgeKey(pts[pairs[b].i], pts[pairs[b].j])
		return ka < kb
	})

	var adj [4][]int
	for _, e := range pairs[2:] {
		adj[e.i] = append(adj[e.i], e.j)
		adj[e.j] = append(adj[e.j], e.i)
	}
	for i := range adj {
		if len(adj[i]) != 2 {
			return [4]Point{}, ErrDegenerateQuad
		}
	}

	start := 0
	for i := 1; i < 4; i++ {
		if lessByX(pts[i], pts[start]) {
			start = i
		}
	}

	order := [4]int{start}
	prev, cur := -1, start
	for k := 1; k < 4; k++ {
		next := adj[cur][0]
		if next == prev {
			next = adj[cur][1]
		}
		prev, cur = cur, next
		order[k] = cur
	}
	if adj[cur][0] != start && adj[cur][1] != start {
		return [4]Point{}, ErrDegenerateQuad
	}

	var cycle [4]Point
	for k, idx := range order {
		cycle[k] = pts[idx]
	}
	return cycle, nil
}

// horizontality is the mean |dx| of an edge pair, used to break exact
// width/height ties on square quads.
func horizontality(cycle [4]Point, first int) float64 {
	d1 := math.Abs(cycle[first].X - cycle[(first+1)%4].X)
	d2 := math.Abs(cycle[first+2].X - cycle[(first+3)%4].X)
	return (d1 + d2) / 2
}

func lessByX(a, b Point) bool {
	if math.Abs(a.X-b.X) > tieEpsilon {
		return a.X < b.X
	}
	return a.Y < b.Y
}

// edgeKey is a label-independent sort key for an unordered point pair.
func edgeKey(a, b Point) float64 {
	if lessByX(b, a) {
		a, b = b, a
	}
	return a.X*1e6 + a.Y*1e3 + b.X + b.Y*1e-3
}
