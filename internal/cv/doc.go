// Package cv defines the computer-vision primitive surface the card
// detectors are written against, and provides implementations of it.
//
// # Primitive Surface
//
// Primitives mirrors the handful of OpenCV operations the detection pipeline
// needs: grayscale conversion, Gaussian blur, Canny edges, dilate/erode,
// external contour extraction, contour area and length, Douglas-Peucker
// approximation, minimum-area rectangles, perspective transforms and
// point-in-polygon tests. Any implementation exposing this surface can be
// swapped in without touching the detectors.
//
// # Implementations
//
//   - Native: pure Go. Blur and morphology use bild, resampling uses
//     disintegration/imaging, and the geometric operations delegate to
//     pkg/geometry. Always available.
//   - GoCV: OpenCV through gocv. Only compiled with the "gocv" build tag,
//     which requires OpenCV 4 headers and libraries on the build machine.
//
// Default returns GoCV when built with the tag and Native otherwise.
//
// # Image Conventions
//
// Gray images returned by this package always have their bounds origin at
// (0,0). Binary images use 255 for foreground and 0 for background.
package cv
