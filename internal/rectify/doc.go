// Package rectify turns detected outlines into canonical card images:
// contour to quad reduction by an epsilon sweep, and the perspective warp to
// the 63x88 card rectangle on a letterboxed square canvas.
package rectify
