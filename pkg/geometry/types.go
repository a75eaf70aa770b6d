// Package geometry provides the value types and pure numeric routines used to
// describe a detected card: points, normalized bounding boxes, ordered
// quadrilaterals and 3x3 homographies.
//
// # Coordinate System
//
// Pixel coordinates follow the standard image convention:
//   - Origin (0, 0) at the top-left corner
//   - X increases rightward
//   - Y increases downward
//
// BoundingBox values are normalized to [0,1] relative to the frame width and
// height; everything else is in pixels of the frame it was measured in.
//
// Nothing in this package touches image data. Operations that need pixels
// (contour extraction, warping) live in the cv and rectify packages and call
// into this package for the math.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Point is a pixel coordinate in a frame's coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// FromImagePoint converts an integer pixel position.
func FromImagePoint(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Add returns p + other.
func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns p - other.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Scale returns the point scaled by a factor.
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Round returns the nearest integer pixel position.
func (p Point) Round() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f,%.1f)", p.X, p.Y)
}

// BoundingBox is an axis-aligned box in normalized [0,1] frame coordinates.
//
// A valid box satisfies XMin < XMax and YMin < YMax.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// NewBoundingBox builds a normalized box from pixel extents in a frame of
// the given size. The result is clamped to [0,1].
func NewBoundingBox(x1, y1, x2, y2 float64, frameW, frameH int) BoundingBox {
	w, h := float64(frameW), float64(frameH)
	return BoundingBox{
		XMin: clamp01(math.Min(x1, x2) / w),
		YMin: clamp01(math.Min(y1, y2) / h),
		XMax: clamp01(math.Max(x1, x2) / w),
		YMax: clamp01(math.Max(y1, y2) / h),
	}
}

// Valid reports whether the box is non-empty and inside the unit square.
func (b BoundingBox) Valid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax &&
		b.XMin >= 0 && b.YMin >= 0 && b.XMax <= 1 && b.YMax <= 1
}

// Width returns the normalized width.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the normalized height.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Area returns the box area as a fraction of the frame area.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the box center in pixel coordinates of a frameW x frameH frame.
func (b BoundingBox) Center(frameW, frameH int) Point {
	return Point{
		X: (b.XMin + b.XMax) / 2 * float64(frameW),
		Y: (b.YMin + b.YMax) / 2 * float64(frameH),
	}
}

// Contains reports whether the pixel point p lies inside or on the box when
// the box is projected onto a frameW x frameH frame.
func (b BoundingBox) Contains(p Point, frameW, frameH int) bool {
	r := b.PixelRect(frameW, frameH)
	return p.X >= r.XMin && p.X <= r.XMax && p.Y >= r.YMin && p.Y <= r.YMax
}

// PixelRect returns the box scaled to pixel coordinates.
func (b BoundingBox) PixelRect(frameW, frameH int) BoundingBox {
	w, h := float64(frameW), float64(frameH)
	return BoundingBox{XMin: b.XMin * w, YMin: b.YMin * h, XMax: b.XMax * w, YMax: b.YMax * h}
}

// ImageRect returns the box as an integer rectangle in a frameW x frameH
// frame, expanded outward to whole pixels and clipped to the frame.
func (b BoundingBox) ImageRect(frameW, frameH int) image.Rectangle {
	r := b.PixelRect(frameW, frameH)
	rect := image.Rect(
		int(math.Floor(r.XMin)), int(math.Floor(r.YMin)),
		int(math.Ceil(r.XMax)), int(math.Ceil(r.YMax)),
	)
	return rect.Intersect(image.Rect(0, 0, frameW, frameH))
}

// CardQuad is a card outline with its four corners in traversal order
// TopLeft -> TopRight -> BottomRight -> BottomLeft.
//
// Quads produced by OrderQuadPoints are portrait oriented: the TopLeft-TopRight
// and BottomLeft-BottomRight edges are the shorter pair.
type CardQuad struct {
	TopLeft     Point `json:"top_left"`
	TopRight    Point `json:"top_right"`
	BottomRight Point `json:"bottom_right"`
	BottomLeft  Point `json:"bottom_left"`
}

// Points returns the corners in traversal order.
func (q CardQuad) Points() [4]Point {
	return [4]Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// Translate returns the quad shifted by d.
func (q CardQuad) Translate(d Point) CardQuad {
	return CardQuad{
		TopLeft:     q.TopLeft.Add(d),
		TopRight:    q.TopRight.Add(d),
		BottomRight: q.BottomRight.Add(d),
		BottomLeft:  q.BottomLeft.Add(d),
	}
}

// ScaleXY returns the quad with x and y coordinates scaled independently.
func (q CardQuad) ScaleXY(sx, sy float64) CardQuad {
	s := func(p Point) Point { return Point{X: p.X * sx, Y: p.Y * sy} }
	return CardQuad{
		TopLeft:     s(q.TopLeft),
		TopRight:    s(q.TopRight),
		BottomRight: s(q.BottomRight),
		BottomLeft:  s(q.BottomLeft),
	}
}

// Bounds returns the normalized bounding box of the quad in a frame of the
// given size.
func (q CardQuad) Bounds(frameW, frameH int) BoundingBox {
	pts := q.Points()
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return NewBoundingBox(minX, minY, maxX, maxY, frameW, frameH)
}

// EdgeLengths returns the average lengths of the short (width) and long
// (height) edge pairs.
func (q CardQuad) EdgeLengths() (width, height float64) {
	width = (q.TopLeft.Distance(q.TopRight) + q.BottomLeft.Distance(q.BottomRight)) / 2
	height = (q.TopLeft.Distance(q.BottomLeft) + q.TopRight.Distance(q.BottomRight)) / 2
	return width, height
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
