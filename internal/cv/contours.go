package cv

import (
	"image"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// moore lists the 8-neighbourhood clockwise (screen coordinates) starting
// from west.
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// findExternalContours returns the outer boundary of every 8-connected
// foreground component that touches the background reachable from the image
// border. Components that sit entirely inside a hole of another component
// (card artwork inside a card outline) are skipped.
//
// # Algorithm
//
//  1. Label 8-connected foreground components with an iterative flood fill
//  2. Flood the background from the image border (4-connected) to find the
//     "outside" region
//  3. A component is external when it touches the image border or any of
//     its pixels is 4-adjacent to an outside pixel
//  4. Trace each external component's outer boundary with Moore-neighbour
//     tracing from its top-left pixel
//
// Components smaller than 2 pixels are ignored.
func findExternalContours(binary *image.Gray) []Contour {
	binary = rebase(binary)
	width, height := binary.Rect.Dx(), binary.Rect.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	fg := func(x, y int) bool {
		return binary.Pix[y*binary.Stride+x] != 0
	}

	labels := make([]int32, width*height)
	var starts []image.Point
	var sizes []int
	stack := make([]image.Point, 0, 256)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !fg(x, y) || labels[y*width+x] != 0 {
				continue
			}
			label := int32(len(starts) + 1)
			starts = append(starts, image.Point{X: x, Y: y})
			size := 0
			stack = append(stack[:0], image.Point{X: x, Y: y})
			labels[y*width+x] = label
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				for _, d := range moore {
					nx, ny := p.X+d.X, p.Y+d.Y
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					if fg(nx, ny) && labels[ny*width+nx] == 0 {
						labels[ny*width+nx] = label
						stack = append(stack, image.Point{X: nx, Y: ny})
					}
				}
			}
			sizes = append(sizes, size)
		}
	}
	if len(starts) == 0 {
		return nil
	}

	// Outside background, flooded 4-connected from the border.
	outside := make([]bool, width*height)
	stack = stack[:0]
	push := func(x, y int) {
		i := y*width + x
		if !outside[i] && !fg(x, y) {
			outside[i] = true
			stack = append(stack, image.Point{X: x, Y: y})
		}
	}
	for x := 0; x < width; x++ {
		push(x, 0)
		push(x, height-1)
	}
	for y := 0; y < height; y++ {
		push(0, y)
		push(width-1, y)
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx >= 0 && ny >= 0 && nx < width && ny < height {
				push(nx, ny)
			}
		}
	}

	external := make([]bool, len(starts)+1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			l := labels[y*width+x]
			if l == 0 || external[l] {
				continue
			}
			if x == 0 || y == 0 || x == width-1 || y == height-1 {
				external[l] = true
				continue
			}
			if outside[y*width+x-1] || outside[y*width+x+1] ||
				outside[(y-1)*width+x] || outside[(y+1)*width+x] {
				external[l] = true
			}
		}
	}

	contours := make([]Contour, 0, len(starts))
	for i, start := range starts {
		label := int32(i + 1)
		if !external[label] || sizes[i] < 2 {
			continue
		}
		inside := func(x, y int) bool {
			return x >= 0 && y >= 0 && x < width && y < height && labels[y*width+x] == label
		}
		contours = append(contours, traceBoundary(start, inside, sizes[i]))
	}
	return contours
}

// traceBoundary walks the outer boundary of a component clockwise using
// Moore-neighbour tracing. start must be the component's first pixel in
// raster order, so its west neighbour is background.
func traceBoundary(start image.Point, inside func(x, y int) bool, size int) Contour {
	contour := Contour{geometry.FromImagePoint(start)}

	// Direction index (into moore) of the background pixel we entered from.
	back := 0
	cur := start
	var second image.Point
	haveSecond := false
	limit := 4*size + 16

	for step := 0; step < limit; step++ {
		found := false
		var next image.Point
		var nextBack int
		for k := 1; k <= 8; k++ {
			dir := (back + k) % 8
			cand := cur.Add(moore[dir])
			if inside(cand.X, cand.Y) {
				next = cand
				// The previously examined neighbour is background; express it
				// relative to the new pixel.
				prev := cur.Add(moore[(back+k-1)%8])
				nextBack = directionOf(prev.Sub(next))
				found = true
				break
			}
		}
		if !found {
			// Isolated pixel.
			return contour
		}

		if cur == start && haveSecond && next == second {
			break
		}
		if !haveSecond {
			second = next
			haveSecond = true
		}
		if next == start && step > 0 {
			// Closing back on the start; the loop check above ends the walk
			// once the first step is about to repeat.
			cur, back = next, nextBack
			continue
		}
		contour = append(contour, geometry.FromImagePoint(next))
		cur, back = next, nextBack
	}
	return contour
}

// directionOf returns the moore index for a unit offset.
func directionOf(d image.Point) int {
	for i, m := range moore {
		if m == d {
			return i
		}
	}
	return 0
}
