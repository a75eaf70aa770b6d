package ocr

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/disintegration/imaging"
)

// ErrUnavailable is returned when Tesseract cannot be used in this build.
var ErrUnavailable = errors.New("ocr: tesseract is not available in this build")

// ErrEmptyBand is returned when the title band has no pixels.
var ErrEmptyBand = errors.New("ocr: title band is empty")

// Band is a rectangle in fractions of the card width and height.
type Band struct {
	X0, Y0, X1, Y1 float64
}

// DefaultTitleBand covers the name line of a standard trading card and
// leaves out the cost symbols at the right end.
var DefaultTitleBand = Band{X0: 0.06, Y0: 0.035, X1: 0.78, Y1: 0.105}

// Rect converts the band to pixels inside bounds.
func (b Band) Rect(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(b.X0*w+0.5),
		bounds.Min.Y+int(b.Y0*h+0.5),
		bounds.Min.X+int(b.X1*w+0.5),
		bounds.Min.Y+int(b.Y1*h+0.5),
	)
	return r.Intersect(bounds)
}

// Bounds is a bounding box in pixel coordinates of the card image.
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Word is one recognized word of the title.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bounds     Bounds  `json:"bounds"`
}

// Title is the result of reading a card's name line.
type Title struct {
	// Text is the raw recognized line with surrounding space trimmed.
	Text string `json:"text"`

	// Confidence is the mean word confidence in [0,1], 0 when no words
	// were found.
	Confidence float64 `json:"confidence"`

	Words []Word `json:"words"`

	// Band is where the title was read, in card image pixels.
	Band Bounds `json:"band"`

	// Match is set when a catalog was given and an entry was close enough.
	Match *Match `json:"match,omitempty"`
}

// TitleBand crops the band from a card image. The result has its origin at 0.
func TitleBand(card image.Image, band Band) (*image.NRGBA, image.Rectangle, error) {
	r := band.Rect(card.Bounds())
	if r.Empty() {
		return nil, r, ErrEmptyBand
	}
	return imaging.Crop(card, r), r, nil
}

// PreprocessHeight is the strip height handed to Tesseract. Glyphs of a
// 469px card title are around 15px tall, which is below what Tesseract
// reads reliably.
const PreprocessHeight = 96

// Preprocess converts a title strip to an upscaled high-contrast
// grayscale image.
func Preprocess(strip image.Image) *image.NRGBA {
	out := imaging.Grayscale(strip)
	if h := out.Bounds().Dy(); h > 0 && h < PreprocessHeight {
		out = imaging.Resize(out, 0, PreprocessHeight, imaging.Lanczos)
	}
	out = imaging.AdjustContrast(out, 40)
	return imaging.Sharpen(out, 1.0)
}

// Normalize lowercases text, drops punctuation and collapses whitespace.
// Apostrophes and hyphens inside words are kept.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'-")
	}
	return strings.Join(strings.Fields(strings.Join(fields, " ")), " ")
}

// Match is the closest catalog entry to a recognized title.
type Match struct {
	Name       string  `json:"name"`
	Distance   int     `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// DefaultMinSimilarity rejects matches that differ in more than about a
// third of their characters.
const DefaultMinSimilarity = 0.65

// MatchCatalog returns the catalog entry closest to text. Similarity is
// 1 - distance/max(len) over normalized strings. Ties keep the earlier
// entry. The second result is false when the catalog is empty, text
// normalizes to nothing, or the best similarity is below minSimilarity.
func MatchCatalog(text string, catalog []string, minSimilarity float64) (Match, bool) {
	needle := Normalize(text)
	if needle == "" || len(catalog) == 0 {
		return Match{}, false
	}

	best := Match{Similarity: -1}
	for _, name := range catalog {
		cand := Normalize(name)
		if cand == "" {
			continue
		}
		d := levenshtein.Distance(needle, cand)
		longest := utf8.RuneCountInString(needle)
		if n := utf8.RuneCountInString(cand); n > longest {
			longest = n
		}
		sim := 1 - float64(d)/float64(longest)
		if sim > best.Similarity {
			best = Match{Name: name, Distance: d, Similarity: sim}
		}
	}
	if best.Similarity < minSimilarity {
		return best, false
	}
	return best, true
}

// LoadCatalog reads card names from a text file, one per line. Blank lines
// and lines starting with '#' are skipped.
func LoadCatalog(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return names, nil
}

func meanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
