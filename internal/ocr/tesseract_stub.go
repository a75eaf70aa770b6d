//go:build !cgo

package ocr

import "image"

func (r *Reader) recognize(img image.Image) (*Title, error) {
	return nil, ErrUnavailable
}

// Version fails without cgo.
func Version() (string, error) {
	return "", ErrUnavailable
}
