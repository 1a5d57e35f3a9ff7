package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// MeshConfig holds the tuning for cross-section stitching. Tolerances are
// per-rig configuration, not algorithmic constants.
type MeshConfig struct {
	LayerPrecision  float64 `yaml:"layerPrecision" json:"layerPrecision"`   // mm; height rounding for layer keys
	AngleTolerance  float64 `yaml:"angleTolerance" json:"angleTolerance"`   // degrees; max gap for a match
	MaxEdgeLength   float64 `yaml:"maxEdgeLength" json:"maxEdgeLength"`     // mm; longer triangle edges are dropped
	VertexPrecision float64 `yaml:"vertexPrecision" json:"vertexPrecision"` // mm; weld rounding step
	CloseSeam       bool    `yaml:"closeSeam" json:"closeSeam"`             // stitch last point back to first
}

// DefaultMeshConfig returns the tuning used for a turntable scan.
// CloseSeam is on, so a 3x36 cylinder gives 216 triangles; the 212-triangle
// figure for that cylinder holds with CloseSeam false.
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		LayerPrecision:  0.1,
		AngleTolerance:  15,
		MaxEdgeLength:   50,
		VertexPrecision: 0.001,
		CloseSeam:       true,
	}
}

// Layer is one cross-section: points sharing a rounded height, sorted by angle
type Layer struct {
	Height float64
	Points []SurfacePoint
}

// Angles returns the layer's azimuths in ascending order
func (l Layer) Angles() []float64 {
	out := make([]float64, len(l.Points))
	for i, p := range l.Points {
		out[i] = p.Angle
	}
	return out
}

// Centroid returns the mean position of the layer's points
func (l Layer) Centroid() Point3D {
	var sum r3.Vec
	for _, p := range l.Points {
		sum = r3.Add(sum, p.Point.Vec())
	}
	return FromVec(r3.Scale(1/float64(len(l.Points)), sum))
}

// MeshStats describes what the builder kept and dropped
type MeshStats struct {
	Layers          int `json:"layers"`
	Matches         int `json:"matches"`          // lower points with an accepted upper match
	UnmatchedPoints int `json:"unmatchedPoints"`  // lower points beyond the angle tolerance
	RejectedEdges   int `json:"rejectedEdges"`    // triangles dropped by the edge bound
	DegenerateTris  int `json:"degenerateTris"`   // triangles with a repeated vertex
	EmptySeams      int `json:"emptySeams"`       // adjacent layer pairs with no triangles
	CappedLayers    int `json:"cappedLayers"`     // 0, 1 or 2
	CapTriangles    int `json:"capTriangles"`
	SideTriangles   int `json:"sideTriangles"`
}

// angularDistance returns the shortest circular distance between two angles in degrees
func angularDistance(a, b float64) float64 {
	d := math.Abs(normalizeDegrees(a) - normalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

func roundTo(v, step float64) int64 {
	return int64(math.Round(v / step))
}

// GroupLayers buckets points by rounded height. Layers come back sorted by
// height and each layer's points sorted by angle.
func GroupLayers(points []SurfacePoint, precision float64) []Layer {
	if precision <= 0 {
		precision = DefaultMeshConfig().LayerPrecision
	}
	groups := make(map[int64][]SurfacePoint)
	for _, p := range points {
		k := roundTo(p.Height, precision)
		groups[k] = append(groups[k], p)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	layers := make([]Layer, len(keys))
	for i, k := range keys {
		pts := groups[k]
		sort.SliceStable(pts, func(a, b int) bool { return pts[a].Angle < pts[b].Angle })
		layers[i] = Layer{Height: float64(k) * precision, Points: pts}
	}
	return layers
}

// nearestAngle finds the index in a sorted angle list closest to a on the circle.
// Ties resolve to the lower index.
func nearestAngle(sorted []float64, a float64) (int, float64) {
	m := len(sorted)
	if m == 0 {
		return -1, math.Inf(1)
	}
	a = normalizeDegrees(a)
	idx := sort.SearchFloat64s(sorted, a)
	best, bestDiff := -1, math.Inf(1)
	for _, c := range []int{(idx - 1 + m) % m, idx % m, 0, m - 1} {
		d := angularDistance(sorted[c], a)
		if d < bestDiff || (d == bestDiff && c < best) {
			best, bestDiff = c, d
		}
	}
	return best, bestDiff
}

// vertexWelder assigns one index per rounded coordinate
type vertexWelder struct {
	step     float64
	index    map[[3]int64]int
	vertices []Point3D
}

func newVertexWelder(step float64) *vertexWelder {
	if step <= 0 {
		step = DefaultMeshConfig().VertexPrecision
	}
	return &vertexWelder{step: step, index: make(map[[3]int64]int)}
}

func (w *vertexWelder) key(p Point3D) [3]int64 {
	return [3]int64{roundTo(p.X, w.step), roundTo(p.Y, w.step), roundTo(p.Z, w.step)}
}

func (w *vertexWelder) add(p Point3D) int {
	key := w.key(p)
	if i, ok := w.index[key]; ok {
		return i
	}
	i := len(w.vertices)
	w.index[key] = i
	w.vertices = append(w.vertices, p)
	return i
}

// meshBuilder carries the welder and output between stitching steps
type meshBuilder struct {
	cfg   MeshConfig
	weld  *vertexWelder
	tris  []Triangle
	stats MeshStats
}

// matchedPair links a lower-layer point to its nearest upper-layer point
type matchedPair struct {
	lower, upper SurfacePoint
}

func (b *meshBuilder) edgesWithin(pts ...Point3D) bool {
	if b.cfg.MaxEdgeLength <= 0 {
		return true
	}
	for i := range pts {
		if pts[i].Distance(pts[(i+1)%len(pts)]) > b.cfg.MaxEdgeLength {
			return false
		}
	}
	return true
}

func (b *meshBuilder) emit(pts ...Point3D) bool {
	if !b.edgesWithin(pts...) {
		b.stats.RejectedEdges++
		return false
	}
	// only triangles that survive get their vertices welded in
	k0, k1, k2 := b.weld.key(pts[0]), b.weld.key(pts[1]), b.weld.key(pts[2])
	if k0 == k1 || k1 == k2 || k0 == k2 {
		b.stats.DegenerateTris++
		return false
	}
	b.tris = append(b.tris, Triangle{b.weld.add(pts[0]), b.weld.add(pts[1]), b.weld.add(pts[2])})
	return true
}

// match pairs a lower point with its angularly nearest upper point, if within tolerance
func (b *meshBuilder) match(p SurfacePoint, upper Layer, upperAngles []float64) (matchedPair, bool) {
	j, diff := nearestAngle(upperAngles, p.Angle)
	if j < 0 || diff >= b.cfg.AngleTolerance {
		return matchedPair{}, false
	}
	return matchedPair{lower: p, upper: upper.Points[j]}, true
}

// stitch joins two adjacent layers with quads split into two triangles
func (b *meshBuilder) stitch(lower, upper Layer) {
	n := len(lower.Points)
	upperAngles := upper.Angles()
	before := len(b.tris)

	for i := 0; i < n; i++ {
		next := i + 1
		if next == n {
			if !b.cfg.CloseSeam {
				break
			}
			next = 0
		}
		if next == i {
			break
		}

		m1, ok := b.match(lower.Points[i], upper, upperAngles)
		if !ok {
			b.stats.UnmatchedPoints++
			continue
		}
		b.stats.Matches++
		m2, ok := b.match(lower.Points[next], upper, upperAngles)
		if !ok {
			continue
		}

		v1, v2 := m1.lower.Point, m1.upper.Point
		v3, v4 := m2.lower.Point, m2.upper.Point
		b.emit(v1, v2, v3)
		b.emit(v2, v4, v3)
	}

	if len(b.tris) == before {
		b.stats.EmptySeams++
	}
	b.stats.SideTriangles += len(b.tris) - before
}

// capLayer fans a layer from its centroid. Bottom caps wind (c, p[i], p[i+1]),
// top caps the reverse, so both face outward.
func (b *meshBuilder) capLayer(l Layer, top bool) {
	n := len(l.Points)
	if n < 3 {
		return
	}
	c := l.Centroid()
	before := len(b.tris)
	for i := 0; i < n; i++ {
		p1 := l.Points[i].Point
		p2 := l.Points[(i+1)%n].Point
		if top {
			b.emit(c, p2, p1)
		} else {
			b.emit(c, p1, p2)
		}
	}
	b.stats.CappedLayers++
	b.stats.CapTriangles += len(b.tris) - before
}

// BuildLayeredMesh stitches annotated points into a welded triangle mesh.
// Fewer than 3 points is ErrInsufficientData; sparse or gappy data otherwise
// yields a mesh with few or no triangles rather than an error.
func BuildLayeredMesh(points []SurfacePoint, cfg MeshConfig) (*Mesh, MeshStats, error) {
	if len(points) < 3 {
		return nil, MeshStats{}, fmt.Errorf("building mesh from %d points: %w", len(points), ErrInsufficientData)
	}

	layers := GroupLayers(points, cfg.LayerPrecision)
	b := &meshBuilder{cfg: cfg, weld: newVertexWelder(cfg.VertexPrecision)}
	b.stats.Layers = len(layers)

	for i := 0; i+1 < len(layers); i++ {
		b.stitch(layers[i], layers[i+1])
	}

	if len(layers) > 0 {
		b.capLayer(layers[0], false)
		if len(layers) > 1 {
			b.capLayer(layers[len(layers)-1], true)
		}
	}

	m := &Mesh{Vertices: b.weld.vertices, Triangles: b.tris}
	if m.Vertices == nil {
		m.Vertices = make([]Point3D, 0)
	}
	if m.Triangles == nil {
		m.Triangles = make([]Triangle, 0)
	}
	return m, b.stats, nil
}

// BuildMeshFromRecords annotates accumulated records and builds the mesh
func BuildMeshFromRecords(records []ScanRecord, cfg MeshConfig) (*Mesh, MeshStats, error) {
	return BuildLayeredMesh(SurfacePointsFromRecords(records), cfg)
}
