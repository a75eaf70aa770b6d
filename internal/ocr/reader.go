package ocr

import (
	"context"
	"image"
)

// Reader reads card titles. The zero value reads English with the system
// tessdata and no catalog.
type Reader struct {
	// Language is a Tesseract language code, "eng" when empty.
	Language string

	// TessdataPrefix overrides the tessdata directory when set.
	TessdataPrefix string

	// Band is the title region, DefaultTitleBand when zero.
	Band Band

	// Catalog enables fuzzy matching of the recognized title.
	Catalog []string

	// MinSimilarity is the catalog acceptance threshold,
	// DefaultMinSimilarity when zero.
	MinSimilarity float64
}

func (r *Reader) language() string {
	if r.Language == "" {
		return "eng"
	}
	return r.Language
}

func (r *Reader) band() Band {
	if r.Band == (Band{}) {
		return DefaultTitleBand
	}
	return r.Band
}

// ReadTitle reads the name line of a rectified card image.
func (r *Reader) ReadTitle(ctx context.Context, card image.Image) (*Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	strip, rect, err := TitleBand(card, r.band())
	if err != nil {
		return nil, err
	}
	prep := Preprocess(strip)

	title, err := r.recognize(prep)
	if err != nil {
		return nil, err
	}

	// Word boxes come back in preprocessed strip pixels.
	scale := float64(rect.Dy()) / float64(prep.Bounds().Dy())
	for i := range title.Words {
		b := &title.Words[i].Bounds
		b.X1 = rect.Min.X + int(float64(b.X1)*scale)
		b.Y1 = rect.Min.Y + int(float64(b.Y1)*scale)
		b.X2 = rect.Min.X + int(float64(b.X2)*scale+0.5)
		b.Y2 = rect.Min.Y + int(float64(b.Y2)*scale+0.5)
	}
	title.Band = Bounds{X1: rect.Min.X, Y1: rect.Min.Y, X2: rect.Max.X, Y2: rect.Max.Y}
	title.Confidence = meanConfidence(title.Words)

	if len(r.Catalog) > 0 {
		minSim := r.MinSimilarity
		if minSim == 0 {
			minSim = DefaultMinSimilarity
		}
		if m, ok := MatchCatalog(title.Text, r.Catalog, minSim); ok {
			title.Match = &m
		}
	}
	return title, nil
}
