package detection

import (
	"context"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/rectify"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// ContourDetector finds cards as four-sided outlines in a Canny edge map.
//
// With a prompt point it runs the adaptive ROI search: square regions
// centred on the point, growing by ROIGrowth per pass, until a pass yields
// a candidate at or above QualityThreshold. Without a prompt it runs a
// single pass over the whole frame.
//
// The backend needs no model, so Initialize only validates the
// configuration.
type ContourDetector struct {
	lifecycle

	cfg      ContourConfig
	cv       cv.Primitives
	log      logrus.FieldLogger
	progress ProgressFunc

	promptMu sync.Mutex
	prompt   *geometry.Point
}

var (
	_ Detector     = (*ContourDetector)(nil)
	_ PromptSetter = (*ContourDetector)(nil)
)

// NewContourDetector creates an uninitialized contour backend.
func NewContourDetector(cfg ContourConfig, opts Options) *ContourDetector {
	d := &ContourDetector{
		cfg:      cfg,
		cv:       opts.primitives(),
		log:      opts.logger().WithField("detector", TagContour),
		progress: opts.Progress,
	}
	d.lifecycle.name = TagContour
	return d
}

func (d *ContourDetector) Name() string { return TagContour }

// Config returns the detector's configuration.
func (d *ContourDetector) Config() ContourConfig { return d.cfg }

func (d *ContourDetector) Initialize(ctx context.Context) error {
	return d.initialize(ctx, func(ctx context.Context) error {
		report(d.progress, Progress{Backend: TagContour, Stage: "configure", Fraction: 0})
		if err := d.cfg.validate(); err != nil {
			return err
		}
		report(d.progress, Progress{Backend: TagContour, Stage: "ready", Fraction: 1})
		return nil
	})
}

func (d *ContourDetector) Dispose() {
	d.dispose(func() {
		d.promptMu.Lock()
		d.prompt = nil
		d.promptMu.Unlock()
	})
}

// SetPromptPoint sets the click point for the next Detect call.
func (d *ContourDetector) SetPromptPoint(p geometry.Point) {
	d.promptMu.Lock()
	d.prompt = &p
	d.promptMu.Unlock()
}

func (d *ContourDetector) takePrompt() *geometry.Point {
	d.promptMu.Lock()
	defer d.promptMu.Unlock()
	p := d.prompt
	d.prompt = nil
	return p
}

// Detect runs the ROI search. Only a pass whose top outline reaches
// QualityThreshold produces candidates; otherwise the list is empty.
func (d *ContourDetector) Detect(ctx context.Context, frame image.Image, frameWidth, frameHeight int) (*Result, error) {
	prompt := d.takePrompt()
	if err := d.ready(); err != nil {
		return nil, err
	}
	start := time.Now()

	bounds := frame.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	if frameWidth <= 0 || frameHeight <= 0 {
		frameWidth, frameHeight = imgW, imgH
	}
	sx := float64(frameWidth) / float64(imgW)
	sy := float64(frameHeight) / float64(imgH)

	var rois []image.Rectangle
	var click *geometry.Point
	if prompt != nil {
		c := geometry.Point{X: prompt.X/sx + float64(bounds.Min.X), Y: prompt.Y/sy + float64(bounds.Min.Y)}
		click = &c
		rois = roiSchedule(c, bounds, d.cfg)
	} else {
		rois = []image.Rectangle{bounds}
	}

	res := &Result{}
	var best []scoredQuad
	for i, roi := range rois {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, raw := d.searchROI(frame, roi, click)
		res.RawCount += raw
		res.SearchPasses = i + 1

		d.log.WithFields(logrus.Fields{
			"pass":       i + 1,
			"roi":        roi.String(),
			"contours":   raw,
			"candidates": len(found),
		}).Debug("roi pass")

		if len(found) > 0 && found[0].score >= d.cfg.QualityThreshold {
			best = found
			break
		}
	}
	if best == nil {
		d.log.WithFields(logrus.Fields{"passes": res.SearchPasses}).Debug("no pass reached quality threshold")
	}

	for _, s := range best {
		if d.cfg.MaxCandidates > 0 && len(res.Candidates) >= d.cfg.MaxCandidates {
			break
		}
		q := s.quad.Translate(geometry.Point{X: -float64(bounds.Min.X), Y: -float64(bounds.Min.Y)}).ScaleXY(sx, sy)
		res.Candidates = append(res.Candidates, Candidate{
			Box:     q.Bounds(frameWidth, frameHeight),
			Score:   s.score,
			Polygon: &q,
		})
	}
	res.InferenceTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return res, nil
}

// roiSchedule returns the square ROIs for each pass: S0 * g^i, capped at
// the frame's largest dimension. Passes stop once the cap is reached.
func roiSchedule(click geometry.Point, bounds image.Rectangle, cfg ContourConfig) []image.Rectangle {
	maxSide := bounds.Dx()
	if bounds.Dy() > maxSide {
		maxSide = bounds.Dy()
	}
	var out []image.Rectangle
	size := float64(cfg.InitialROISize)
	for i := 0; i < cfg.MaxROIPasses; i++ {
		side := int(math.Round(size))
		capped := side >= maxSide
		if capped {
			side = maxSide
		}
		out = append(out, imaging.SquareAround(click.X, click.Y, side, bounds))
		if capped {
			break
		}
		size *= cfg.ROIGrowth
	}
	return out
}

type scoredQuad struct {
	quad  geometry.CardQuad // in frame image coordinates
	score float64
}

// searchROI returns the accepted outlines in roi, best first, and the
// number of contours examined.
func (d *ContourDetector) searchROI(frame image.Image, roi image.Rectangle, click *geometry.Point) ([]scoredQuad, int) {
	crop, err := imaging.Crop(frame, roi)
	if err != nil {
		return nil, 0
	}
	closed, raw := imaging.EdgeMap(d.cv, crop, d.cfg.Edge)
	contours := d.cv.FindContours(closed)

	offset := geometry.FromImagePoint(roi.Min)
	var local *geometry.Point
	if click != nil {
		l := click.Sub(offset)
		local = &l
	}
	roiArea := float64(roi.Dx() * roi.Dy())

	var out []scoredQuad
	for _, c := range contours {
		q, score, ok := scoreContour(d.cv, c, raw, local, roiArea, d.cfg)
		if !ok {
			continue
		}
		out = append(out, scoredQuad{quad: q.Translate(offset), score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, len(contours)
}

// scoreContour applies the acceptance filters to one contour and returns
// its ordered quad and score.
//
// A contour is accepted when its area is at least MinArea, it contains the
// click (when given), it reduces to a quad, the quad's long/short ratio is
// within AspectTolerance of the card ratio, and edge support reaches
// MinEdgeSupport. The score is
//
//	AreaWeight*area + AspectWeight*aspect + EdgeWeight*support
//
// where area is the contour area relative to half the ROI (capped at 1)
// and aspect is 1 at the exact card ratio falling to 0 at the tolerance.
func scoreContour(p cv.Primitives, c cv.Contour, edges *image.Gray, click *geometry.Point, roiArea float64, cfg ContourConfig) (geometry.CardQuad, float64, bool) {
	area := p.ContourArea(c)
	if area < cfg.MinArea {
		return geometry.CardQuad{}, 0, false
	}
	if click != nil && p.PointPolygonTest(c, *click) < 0 {
		return geometry.CardQuad{}, 0, false
	}

	q, _, err := rectify.ExtractQuad(p, c, cfg.Epsilons, cfg.AllowMinAreaRect)
	if err != nil {
		return geometry.CardQuad{}, 0, false
	}

	aspect, ok := aspectCloseness(q, cfg.AspectTolerance)
	if !ok {
		return geometry.CardQuad{}, 0, false
	}

	support := EdgeSupport(edges, q, cfg.EdgeSamplesPerSide)
	if support < cfg.MinEdgeSupport {
		return geometry.CardQuad{}, 0, false
	}

	areaScore := math.Min(1, area/(roiArea*0.5))
	score := cfg.AreaWeight*areaScore + cfg.AspectWeight*aspect + cfg.EdgeWeight*support
	return q, math.Min(1, score), true
}

// aspectCloseness returns 1 at the card's aspect ratio, falling linearly to
// 0 at the relative tolerance. ok is false beyond the tolerance.
func aspectCloseness(q geometry.CardQuad, tolerance float64) (float64, bool) {
	w, h := q.EdgeLengths()
	short, long := math.Min(w, h), math.Max(w, h)
	if short <= 0 {
		return 0, false
	}
	dev := math.Abs(long/short-rectify.CardAspect) / rectify.CardAspect
	if dev > tolerance {
		return 0, false
	}
	if tolerance <= 0 {
		return 1, true
	}
	return 1 - dev/tolerance, true
}

// EdgeSupport returns the fraction of points sampled along q's sides that
// land on (or next to) an edge pixel. Samples outside edges' bounds are not
// counted.
func EdgeSupport(edges *image.Gray, q geometry.CardQuad, perSide int) float64 {
	if perSide <= 0 {
		perSide = 1
	}
	b := edges.Bounds()
	corners := q.Points()
	hit, total := 0, 0
	for k := 0; k < 4; k++ {
		a, z := corners[k], corners[(k+1)%4]
		for i := 0; i < perSide; i++ {
			t := (float64(i) + 0.5) / float64(perSide)
			pt := image.Point{
				X: b.Min.X + int(math.Round(a.X+(z.X-a.X)*t)),
				Y: b.Min.Y + int(math.Round(a.Y+(z.Y-a.Y)*t)),
			}
			if !pt.In(b) {
				continue
			}
			total++
			if edgeNear(edges, pt) {
				hit++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// edgeNear reports whether pt or one of its 8 neighbours is an edge pixel.
func edgeNear(edges *image.Gray, pt image.Point) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			n := image.Point{X: pt.X + dx, Y: pt.Y + dy}
			if n.In(edges.Rect) && edges.GrayAt(n.X, n.Y).Y != 0 {
				return true
			}
		}
	}
	return false
}

// RefineQuad looks for a card outline inside region of frame (frame image
// coordinates) and returns it in the same coordinates. It is used to give
// box-model candidates an ordered polygon. region is expanded by 10% on
// each side so the card's border edges are inside the search window.
func RefineQuad(p cv.Primitives, frame image.Image, region image.Rectangle, cfg ContourConfig) (geometry.CardQuad, bool) {
	mx, my := region.Dx()/10, region.Dy()/10
	search := image.Rect(region.Min.X-mx, region.Min.Y-my, region.Max.X+mx, region.Max.Y+my).Intersect(frame.Bounds())
	crop, err := imaging.Crop(frame, search)
	if err != nil {
		return geometry.CardQuad{}, false
	}

	closed, raw := imaging.EdgeMap(p, crop, cfg.Edge)
	roiArea := float64(search.Dx() * search.Dy())

	var best geometry.CardQuad
	bestScore := -1.0
	for _, c := range p.FindContours(closed) {
		q, score, ok := scoreContour(p, c, raw, nil, roiArea, cfg)
		if ok && score > bestScore {
			best, bestScore = q, score
		}
	}
	if bestScore < 0 {
		return geometry.CardQuad{}, false
	}
	return best.Translate(geometry.FromImagePoint(search.Min)), true
}

func (c ContourConfig) validate() error {
	switch {
	case c.InitialROISize <= 0:
		return configError("initial_roi_size must be positive")
	case c.ROIGrowth <= 1:
		return configError("roi_growth must be greater than 1")
	case c.MaxROIPasses <= 0:
		return configError("max_roi_passes must be positive")
	case len(c.Epsilons) == 0:
		return configError("epsilons must not be empty")
	}
	return nil
}
