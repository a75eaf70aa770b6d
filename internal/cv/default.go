//go:build !gocv

package cv

// Default returns the pure-Go primitives. Build with -tags gocv to use OpenCV.
func Default() Primitives {
	return Native{}
}

// Backend names the compiled-in default implementation.
const Backend = "native"
