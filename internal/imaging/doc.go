// Package imaging provides the raster helpers around card detection: frame
// loading and caching, the outline edge map, sharpness scoring, cropping,
// letterboxing, and candidate overlays.
//
// All operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward. Functions that return new images always return them
// with bounds starting at (0,0), whatever the input's origin.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. The other functions are stateless
// and never modify their input, so they can run concurrently on shared
// frames.
//
// # Libraries
//
// Resampling and cropping use github.com/disintegration/imaging, grayscale
// conversion uses github.com/anthonynsimon/bild, the letterbox scaler uses
// golang.org/x/image/draw, and overlay colours come from
// github.com/lucasb-eyer/go-colorful.
package imaging
