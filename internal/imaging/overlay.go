package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// OverlayShape is one candidate outline to draw.
type OverlayShape struct {
	// Quad is the ordered outline. When nil, Box is drawn instead.
	Quad *geometry.CardQuad

	// Box is the axis-aligned outline in pixel coordinates.
	Box image.Rectangle

	// Label is printed at the outline's top-left corner. Digits, '.', ','
	// and '%' are rendered; other characters leave a gap.
	Label string
}

// OverlayOptions controls candidate rendering.
type OverlayOptions struct {
	// Highlight is the index of a shape drawn in HighlightColor with a
	// thicker stroke. -1 highlights nothing.
	Highlight int

	// HighlightColor is a hex colour ("#RRGGBB" or "#RRGGBBAA").
	// Invalid or empty values fall back to opaque white.
	HighlightColor string

	// Thickness of the outline stroke in pixels. Values below 1 use 2.
	Thickness int
}

// Overlay draws candidate outlines over a copy of img, one Palette hue per
// shape.
func Overlay(img image.Image, shapes []OverlayShape, opts OverlayOptions) *image.RGBA {
	bounds := img.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	thickness := opts.Thickness
	if thickness < 1 {
		thickness = 2
	}
	highlight, err := parseHexColor(opts.HighlightColor)
	if err != nil {
		highlight = color.RGBA{255, 255, 255, 255}
	}
	palette := Palette(len(shapes))
	labelBg := color.RGBA{0, 0, 0, 180}

	for i, s := range shapes {
		c, stroke := palette[i], thickness
		if i == opts.Highlight {
			c, stroke = highlight, thickness+2
		}

		var corners [4]geometry.Point
		if s.Quad != nil {
			corners = s.Quad.Points()
		} else {
			r := s.Box
			corners = [4]geometry.Point{
				{X: float64(r.Min.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X - 1), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X - 1), Y: float64(r.Max.Y - 1)},
				{X: float64(r.Min.X), Y: float64(r.Max.Y - 1)},
			}
		}
		for k := 0; k < 4; k++ {
			drawLine(result, corners[k], corners[(k+1)%4], stroke, c)
		}

		if s.Label != "" {
			at := corners[0].Round()
			drawLabel(result, at.X+stroke+1, at.Y+stroke+1, s.Label, c, labelBg)
		}
	}
	return result
}

// Palette returns n distinct opaque colours with hues spaced by the golden
// angle.
func Palette(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	const goldenAngle = 137.50776405
	for i := range out {
		h := math.Mod(20+float64(i)*goldenAngle, 360)
		r, g, b := colorful.Hsv(h, 0.85, 0.95).Clamped().RGB255()
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

// drawLine draws a segment with a square brush of the given width.
func drawLine(img *image.RGBA, a, b geometry.Point, width int, c color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y))))
	if steps == 0 {
		steps = 1
	}
	half := width / 2
	bounds := img.Bounds()
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a.X + (b.X-a.X)*t))
		y := int(math.Round(a.Y + (b.Y-a.Y)*t))
		for dy := -half; dy < width-half; dy++ {
			for dx := -half; dx < width-half; dx++ {
				if (image.Point{X: x + dx, Y: y + dy}).In(bounds) {
					img.SetRGBA(x+dx, y+dy, c)
				}
			}
		}
	}
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080"
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	val, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, err
	}
	if len(hex) == 6 {
		return color.RGBA{R: uint8(val >> 16), G: uint8(val >> 8), B: uint8(val), A: 255}, nil
	}
	return color.RGBA{R: uint8(val >> 24), G: uint8(val >> 16), B: uint8(val >> 8), A: uint8(val)}, nil
}

// labelGlyphs is a 3x5 pixel font for candidate numbers and scores.
var labelGlyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	',': {"000", "000", "000", "010", "010"},
	'.': {"000", "000", "000", "000", "010"},
	'%': {"101", "001", "010", "100", "101"},
}

// drawLabel draws text on a dark box at (x, y). Pixels outside img are
// skipped.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	bounds := img.Bounds()
	const charWidth, labelHeight = 4, 7
	labelWidth := len(text) * charWidth

	set := func(px, py int, c color.RGBA) {
		if (image.Point{X: px, Y: py}).In(bounds) {
			img.SetRGBA(px, py, c)
		}
	}

	for dy := -1; dy < labelHeight-1; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			set(x+dx, y+dy, bg)
		}
	}

	cx := x
	for _, ch := range text {
		for row, line := range labelGlyphs[ch] {
			for col, pixel := range line {
				if pixel == '1' {
					set(cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
