// Package ocr reads the title of a rectified card image using Tesseract.
//
// The title occupies a narrow band near the top edge of the canonical
// 63x88 card. TitleBand crops that band, Preprocess turns it into a
// high-contrast grayscale strip, and Reader.ReadTitle runs Tesseract in
// single-line mode over the result.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// The Tesseract binding needs cgo. Builds with CGO_ENABLED=0 get a Reader
// whose ReadTitle always fails with ErrUnavailable.
//
// # Catalog Matching
//
// OCR output on a small, glossy title is noisy. When a catalog of known
// card names is available, MatchCatalog picks the closest entry by
// Levenshtein distance over normalized text and reports a similarity in
// [0,1]. LoadCatalog reads a catalog from a text file with one name per
// line.
package ocr
