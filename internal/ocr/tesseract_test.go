//go:build cgo

package ocr

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// drawText draws text on an image using basicfont
func drawText(img draw.Image, x, y int, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// cardWithTitle renders a white 336x469 card whose title band holds text
// drawn at twice the basicfont size.
func cardWithTitle(text string) *image.NRGBA {
	small := image.NewRGBA(image.Rect(0, 0, 168, 235))
	draw.Draw(small, small.Bounds(), image.White, image.Point{}, draw.Src)
	drawText(small, 12, 20, text, color.Black)
	return imaging.Resize(small, 336, 469, imaging.NearestNeighbor)
}

func skipIfNoTesseract(t *testing.T, err error) {
	t.Helper()
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "tess") || strings.Contains(msg, "library") || strings.Contains(msg, "language") {
		t.Skipf("Tesseract not available: %v", err)
	}
}

func TestReadTitle(t *testing.T) {
	r := &Reader{Catalog: []string{"Serra Angel", "Shivan Dragon"}}
	title, err := r.ReadTitle(context.Background(), cardWithTitle("SERRA ANGEL"))
	if err != nil {
		skipIfNoTesseract(t, err)
		t.Fatalf("ReadTitle failed: %v", err)
	}

	want := Bounds{X1: 20, Y1: 16, X2: 262, Y2: 49}
	if title.Band != want {
		t.Errorf("band: got %+v, want %+v", title.Band, want)
	}
	for _, w := range title.Words {
		if w.Bounds.X1 < want.X1-1 || w.Bounds.X2 > want.X2+1 || w.Bounds.Y1 < want.Y1-1 || w.Bounds.Y2 > want.Y2+1 {
			t.Errorf("word %q outside the band: %+v", w.Text, w.Bounds)
		}
	}

	t.Logf("Output: %q (confidence %.2f)", title.Text, title.Confidence)
	if title.Match != nil {
		t.Logf("Matched %q at similarity %.2f", title.Match.Name, title.Match.Similarity)
		if title.Match.Name != "Serra Angel" {
			t.Errorf("matched the wrong card: %+v", title.Match)
		}
	}
}

func TestReadTitle_BlankCard(t *testing.T) {
	var r Reader
	blank := image.NewRGBA(image.Rect(0, 0, 336, 469))
	draw.Draw(blank, blank.Bounds(), image.White, image.Point{}, draw.Src)

	title, err := r.ReadTitle(context.Background(), blank)
	if err != nil {
		skipIfNoTesseract(t, err)
		t.Fatalf("ReadTitle failed: %v", err)
	}
	if title.Match != nil {
		t.Errorf("blank card matched %+v", title.Match)
	}
}

func TestVersion(t *testing.T) {
	v, err := Version()
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("Tesseract %s", v)
}
