package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestBandRect(t *testing.T) {
	tests := []struct {
		name   string
		bounds image.Rectangle
		want   image.Rectangle
	}{
		{"canonical card", image.Rect(0, 0, 336, 469), image.Rect(20, 16, 262, 49)},
		{"offset origin", image.Rect(10, 10, 346, 479), image.Rect(30, 26, 272, 59)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultTitleBand.Rect(tt.bounds); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTitleBand(t *testing.T) {
	card := image.NewRGBA(image.Rect(0, 0, 336, 469))
	strip, r, err := TitleBand(card, DefaultTitleBand)
	if err != nil {
		t.Fatal(err)
	}
	if strip.Bounds().Min != (image.Point{}) {
		t.Errorf("strip origin: got %v", strip.Bounds().Min)
	}
	if strip.Bounds().Dx() != r.Dx() || strip.Bounds().Dy() != r.Dy() {
		t.Errorf("strip size %v does not match band %v", strip.Bounds(), r)
	}

	if _, _, err := TitleBand(image.NewRGBA(image.Rect(0, 0, 1, 1)), DefaultTitleBand); !errors.Is(err, ErrEmptyBand) {
		t.Errorf("tiny card: got %v, want ErrEmptyBand", err)
	}
}

func TestPreprocess(t *testing.T) {
	strip := image.NewRGBA(image.Rect(0, 0, 100, 10))
	for x := 0; x < 100; x++ {
		for y := 0; y < 10; y++ {
			strip.Set(x, y, color.RGBA{200, 40, 40, 255})
		}
	}
	out := Preprocess(strip)
	if b := out.Bounds(); b.Dy() != PreprocessHeight || b.Dx() != 960 {
		t.Errorf("size: got %v, want 960x%d", b, PreprocessHeight)
	}
	c := out.NRGBAAt(480, 48)
	if c.R != c.G || c.G != c.B {
		t.Errorf("not grayscale: %v", c)
	}

	tall := image.NewRGBA(image.Rect(0, 0, 50, 200))
	if b := Preprocess(tall).Bounds(); b.Dy() != 200 {
		t.Errorf("tall strip resized to %v", b)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Serra Angel ", "serra angel"},
		{"Serra's Angel!", "serra's angel"},
		{"LIGHTNING_BOLT", "lightning bolt"},
		{"-Llanowar Elves-", "llanowar elves"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchCatalog(t *testing.T) {
	catalog := []string{"Serra Angel", "Shivan Dragon", "Llanowar Elves"}

	tests := []struct {
		name     string
		text     string
		catalog  []string
		wantOK   bool
		wantName string
		wantDist int
	}{
		{"exact", "Serra Angel", catalog, true, "Serra Angel", 0},
		{"case and punctuation", "SERRA ANGEL.", catalog, true, "Serra Angel", 0},
		{"ocr noise", "5erra Ange1", catalog, true, "Serra Angel", 2},
		{"one typo", "Shivan Dragen", catalog, true, "Shivan Dragon", 1},
		{"unrelated", "Goblin King", catalog, false, "", 0},
		{"empty text", "  ", catalog, false, "", 0},
		{"empty catalog", "Serra Angel", nil, false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MatchCatalog(tt.text, tt.catalog, DefaultMinSimilarity)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v (match %+v)", ok, tt.wantOK, m)
			}
			if !ok {
				return
			}
			if m.Name != tt.wantName || m.Distance != tt.wantDist {
				t.Errorf("got %+v, want %s at distance %d", m, tt.wantName, tt.wantDist)
			}
			if m.Similarity <= 0 || m.Similarity > 1 {
				t.Errorf("similarity out of range: %v", m.Similarity)
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.txt")
	data := "# core set\nSerra Angel\n\n  Shivan Dragon  \n#Llanowar Elves\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	names, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "Serra Angel" || names[1] != "Shivan Dragon" {
		t.Errorf("got %q", names)
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing catalog should fail")
	}
}

func TestReadTitle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var r Reader
	if _, err := r.ReadTitle(ctx, image.NewRGBA(image.Rect(0, 0, 336, 469))); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := meanConfidence(nil); got != 0 {
		t.Errorf("no words: got %v", got)
	}
	words := []Word{{Confidence: 0.5}, {Confidence: 0.9}}
	if got := meanConfidence(words); got < 0.699 || got > 0.701 {
		t.Errorf("got %v, want 0.7", got)
	}
}
