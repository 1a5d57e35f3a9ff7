package mesh

import (
	"image"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RANSACConfig holds configuration for the stripe line estimator.
// Distances are in pixels.
type RANSACConfig struct {
	Iterations      int        `yaml:"iterations" json:"iterations"`           // hypotheses to draw
	InlierTolerance float64    `yaml:"inlierTolerance" json:"inlierTolerance"` // perpendicular distance (px)
	MinInliers      int        `yaml:"minInliers" json:"minInliers"`           // consensus needed to accept a line
	MaxPoints       int        `yaml:"maxPoints" json:"maxPoints"`             // cap on returned inlier pixels
	Seed            int64      `yaml:"seed,omitempty" json:"seed,omitempty"`   // 0 = time seeded
	RNG             *rand.Rand `yaml:"-" json:"-"`                             // overrides Seed when set
}

// DefaultRANSACConfig returns the tuning that works for a 1280x720 camera
// looking at a 1-3 px wide line laser.
func DefaultRANSACConfig() RANSACConfig {
	return RANSACConfig{
		Iterations:      250,
		InlierTolerance: 1.5,
		MinInliers:      30,
		MaxPoints:       200,
	}
}

func (c RANSACConfig) rng() *rand.Rand {
	if c.RNG != nil {
		return c.RNG
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// LineFit is the raw estimator output: y = Slope*x + Intercept plus the
// indices of the consensus set in the input slice.
type LineFit struct {
	Slope       float64
	Intercept   float64
	Inliers     []int
	InlierCount int
	Refined     bool // least-squares refinement was applied
}

// FitLineRANSAC fits a single straight line through pts. Near-vertical
// two-point hypotheses are skipped. The best hypothesis must gather at least
// max(MinInliers, 2) inliers; it is then refined by ordinary least squares over
// its consensus set.
func FitLineRANSAC(pts []PixelPoint, cfg RANSACConfig, rng *rand.Rand) (LineFit, bool) {
	n := len(pts)
	if n < 2 {
		return LineFit{}, false
	}
	if rng == nil {
		rng = cfg.rng()
	}

	var best LineFit
	for it := 0; it < cfg.Iterations; it++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}
		p1, p2 := pts[i], pts[j]
		dx := float64(p2.X - p1.X)
		if math.Abs(dx) < 1e-6 {
			continue
		}
		a := float64(p2.Y-p1.Y) / dx
		b := float64(p1.Y) - a*float64(p1.X)

		count := countInliers(pts, a, b, cfg.InlierTolerance)
		if count > best.InlierCount {
			best = LineFit{Slope: a, Intercept: b, InlierCount: count}
		}
	}

	if best.InlierCount < max(cfg.MinInliers, 2) {
		return LineFit{}, false
	}

	best.Inliers = collectInliers(pts, best.Slope, best.Intercept, cfg.InlierTolerance, best.InlierCount)

	xs := make([]float64, len(best.Inliers))
	ys := make([]float64, len(best.Inliers))
	for k, idx := range best.Inliers {
		xs[k] = float64(pts[idx].X)
		ys[k] = float64(pts[idx].Y)
	}
	if stat.Variance(xs, nil) > 1e-12 {
		intercept, slope := stat.LinearRegression(xs, ys, nil, false)
		if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
			best.Slope, best.Intercept = slope, intercept
			best.Refined = true
		}
	}
	return best, true
}

func perpendicularDistance(p PixelPoint, a, b float64) float64 {
	return math.Abs(float64(p.Y)-(a*float64(p.X)+b)) / math.Sqrt(a*a+1)
}

func countInliers(pts []PixelPoint, a, b, tol float64) int {
	count := 0
	for _, p := range pts {
		if perpendicularDistance(p, a, b) < tol {
			count++
		}
	}
	return count
}

func collectInliers(pts []PixelPoint, a, b, tol float64, hint int) []int {
	idx := make([]int, 0, hint)
	for k, p := range pts {
		if perpendicularDistance(p, a, b) < tol {
			idx = append(idx, k)
		}
	}
	return idx
}

// strideSample takes at most limit evenly spaced elements from the index list
func strideSample(pts []PixelPoint, indices []int, limit int) []PixelPoint {
	if limit <= 0 || len(indices) <= limit {
		out := make([]PixelPoint, len(indices))
		for k, idx := range indices {
			out[k] = pts[idx]
		}
		return out
	}
	step := (len(indices) + limit - 1) / limit
	out := make([]PixelPoint, 0, limit)
	for k := 0; k < len(indices); k += step {
		out = append(out, pts[indices[k]])
	}
	return out
}

// StripeExtractor localizes laser lines on frames. It holds no per-frame state
// other than its random source, so a given seed yields repeatable fits.
type StripeExtractor struct {
	Config RANSACConfig
	rng    *rand.Rand
}

// NewStripeExtractor creates an extractor using cfg
func NewStripeExtractor(cfg RANSACConfig) *StripeExtractor {
	return &StripeExtractor{Config: cfg, rng: cfg.rng()}
}

// Extract fits one channel on one frame
func (e *StripeExtractor) Extract(img image.Image, ch ChannelMask) StripeFit {
	return e.extractHSV(ToHSV(img), ch)
}

// ExtractFrame converts the frame once and fits every channel against it.
// The result slice is parallel to channels.
func (e *StripeExtractor) ExtractFrame(img image.Image, channels []ChannelMask) []StripeFit {
	hsv := ToHSV(img)
	fits := make([]StripeFit, len(channels))
	for i, ch := range channels {
		fits[i] = e.extractHSV(hsv, ch)
	}
	return fits
}

func (e *StripeExtractor) extractHSV(hsv *HSVImage, ch ChannelMask) StripeFit {
	mask := hsv.Mask(ch).Open().Dilate()
	return e.FitPoints(mask.Points())
}

// FitPoints runs the estimator on pre-collected candidate pixels
func (e *StripeExtractor) FitPoints(candidates []PixelPoint) StripeFit {
	if len(candidates) < 2 {
		return StripeFit{}
	}
	fit, ok := FitLineRANSAC(candidates, e.Config, e.rng)
	if !ok {
		return StripeFit{}
	}
	return StripeFit{
		Success:   true,
		Slope:     fit.Slope,
		Intercept: fit.Intercept,
		Inliers:   strideSample(candidates, fit.Inliers, e.Config.MaxPoints),
	}
}
