package geometry

import (
	"math"
	"sort"
)

// SignedArea returns the shoelace area of a closed polygon. With image
// coordinates (y down) a clockwise-on-screen traversal is positive.
func SignedArea(pts []Point) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return sum / 2
}

// PolygonArea returns the absolute area of a closed polygon.
func PolygonArea(pts []Point) float64 {
	return math.Abs(SignedArea(pts))
}

// ArcLength returns the perimeter of a polyline, including the closing
// segment when closed is true.
func ArcLength(pts []Point, closed bool) float64 {
	if len(pts) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(pts); i++ {
		total += pts[i-1].Distance(pts[i])
	}
	if closed {
		total += pts[len(pts)-1].Distance(pts[0])
	}
	return total
}

// ApproxPolyDP simplifies a closed contour with the Douglas-Peucker algorithm.
//
// epsilon is the maximum distance, in pixels, between the original contour
// and its approximation. The returned vertices are a subset of the input in
// the same order, without a repeated closing point.
func ApproxPolyDP(pts []Point, epsilon float64) []Point {
	n := len(pts)
	if n < 3 {
		return append([]Point(nil), pts...)
	}

	// Split the closed curve at the point farthest from pts[0] and simplify
	// both halves as open polylines.
	far := 0
	var farDist float64
	for i := 1; i < n; i++ {
		if d := pts[0].Distance(pts[i]); d > farDist {
			far, farDist = i, d
		}
	}
	if farDist == 0 {
		return []Point{pts[0]}
	}

	keep := make([]bool, n)
	keep[0], keep[far] = true, true
	dpMark(pts, 0, far, epsilon, keep)

	// Second half wraps from far back to 0.
	wrapped := make([]Point, 0, n-far+1)
	wrapped = append(wrapped, pts[far:]...)
	wrapped = append(wrapped, pts[0])
	keepWrapped := make([]bool, len(wrapped))
	dpMark(wrapped, 0, len(wrapped)-1, epsilon, keepWrapped)
	for i := 1; i < len(wrapped)-1; i++ {
		if keepWrapped[i] {
			keep[far+i] = true
		}
	}

	out := make([]Point, 0, 8)
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

// dpMark is the recursive Douglas-Peucker step on pts[first..last].
func dpMark(pts []Point, first, last int, epsilon float64, keep []bool) {
	if last <= first+1 {
		return
	}
	idx := -1
	var maxDist float64
	for i := first + 1; i < last; i++ {
		if d := segmentDistance(pts[i], pts[first], pts[last]); d > maxDist {
			idx, maxDist = i, d
		}
	}
	if idx < 0 || maxDist <= epsilon {
		return
	}
	keep[idx] = true
	dpMark(pts, first, idx, epsilon, keep)
	dpMark(pts, idx, last, epsilon, keep)
}

// segmentDistance is the distance from p to the segment ab.
func segmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.Distance(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	t = math.Max(0, math.Min(1, t))
	return p.Distance(Point{X: a.X + t*ab.X, Y: a.Y + t*ab.Y})
}

// PointPolygonTest reports where p lies relative to a closed polygon:
// +1 inside, 0 on an edge, -1 outside.
func PointPolygonTest(poly []Point, p Point) float64 {
	n := len(poly)
	if n == 0 {
		return -1
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if segmentDistance(p, a, b) < 1e-9 {
			return 0
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	if inside {
		return 1
	}
	return -1
}

// ConvexHull returns the convex hull of pts using Andrew's monotone chain.
// Collinear points are dropped.
func ConvexHull(pts []Point) []Point {
	if len(pts) < 3 {
		return append([]Point(nil), pts...)
	}
	sorted := append([]Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	hull := make([]Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinAreaRect returns the corners of the minimum-area rotated rectangle
// enclosing pts, found by testing every convex hull edge direction.
// The second return value is false when fewer than three distinct hull
// points exist.
func MinAreaRect(pts []Point) ([4]Point, bool) {
	hull := ConvexHull(pts)
	if len(hull) < 3 {
		return [4]Point{}, false
	}

	bestArea := math.Inf(1)
	var best [4]Point
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		edge := b.Sub(a)
		l := math.Hypot(edge.X, edge.Y)
		if l == 0 {
			continue
		}
		ux, uy := edge.X/l, edge.Y/l // along edge
		vx, vy := -uy, ux            // normal

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			d := p.Sub(a)
			u := d.X*ux + d.Y*uy
			v := d.X*vx + d.Y*vy
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		area := (maxU - minU) * (maxV - minV)
		if area < bestArea {
			bestArea = area
			at := func(u, v float64) Point {
				return Point{X: a.X + u*ux + v*vx, Y: a.Y + u*uy + v*vy}
			}
			best = [4]Point{at(minU, minV), at(maxU, minV), at(maxU, maxV), at(minU, maxV)}
		}
	}
	return best, !math.IsInf(bestArea, 1)
}
