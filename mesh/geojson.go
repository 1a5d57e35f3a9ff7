package mesh

import (
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// LayerOutline returns a layer as a closed ring in the X/Z plane, in angle order
func LayerOutline(l Layer) orb.Ring {
	ring := make(orb.Ring, 0, len(l.Points)+1)
	for _, p := range l.Points {
		ring = append(ring, orb.Point{p.Point.X, p.Point.Z})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// LayerBound returns the X/Z bounding box of every layer
func LayerBound(layers []Layer) orb.Bound {
	var b orb.Bound
	first := true
	for _, l := range layers {
		for _, p := range l.Points {
			pt := orb.Point{p.Point.X, p.Point.Z}
			if first {
				b = pt.Bound()
				first = false
				continue
			}
			b = b.Extend(pt)
		}
	}
	return b
}

// SimplifyOutline applies Douglas-Peucker to a cross-section outline.
// A non-positive tolerance returns the outline unchanged.
func SimplifyOutline(ring orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 || len(ring) < 4 {
		return ring
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ring.Clone()).(orb.Ring)
	if !ok {
		return ring
	}
	return simplified
}

// LayersToFeatureCollection converts cross-sections to GeoJSON. Each layer
// becomes one LineString feature with height, points, area and centroid
// properties. Coordinates are X/Z in mm.
func LayersToFeatureCollection(layers []Layer, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, l := range layers {
		if len(l.Points) < 2 {
			continue
		}
		ring := SimplifyOutline(LayerOutline(l), tolerance)

		f := geojson.NewFeature(orb.LineString(ring))
		f.ID = i
		f.Properties["height"] = l.Height
		f.Properties["points"] = len(l.Points)
		if len(ring) >= 4 {
			centroid, area := planar.CentroidArea(orb.Polygon{ring})
			f.Properties["area"] = math.Abs(area)
			f.Properties["centroid"] = []float64{centroid[0], centroid[1]}
		} else {
			f.Properties["area"] = 0.0
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON encodes the cross-sections of points to w
func WriteGeoJSON(w io.Writer, points []SurfacePoint, cfg MeshConfig, tolerance float64) error {
	fc := LayersToFeatureCollection(GroupLayers(points, cfg.LayerPrecision), tolerance)
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal cross-sections: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ExportGeoJSON writes the cross-sections of points to path
func ExportGeoJSON(path string, points []SurfacePoint, cfg MeshConfig, tolerance float64) error {
	if err := checkPrecondition("points", len(points)); err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error { return WriteGeoJSON(w, points, cfg, tolerance) })
}
