package mesh

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerOutline_Closed(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0}, 36), 0.1)
	require.Len(t, layers, 1)

	ring := LayerOutline(layers[0])
	assert.Len(t, ring, 37)
	assert.True(t, ring.Closed())
	assert.InDelta(t, 40, ring[0][0], 1e-9)
}

func TestLayerBound(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0, 10}, 36), 0.1)
	b := LayerBound(layers)
	assert.InDelta(t, -40, b.Min[0], 1e-9)
	assert.InDelta(t, 40, b.Max[0], 1e-9)
	assert.InDelta(t, -40, b.Min[1], 1e-9)
	assert.InDelta(t, 40, b.Max[1], 1e-9)

	assert.Equal(t, orb.Bound{}, LayerBound(nil))
}

func TestSimplifyOutline(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0}, 36), 0.1)
	ring := LayerOutline(layers[0])

	assert.Len(t, SimplifyOutline(ring, 0), len(ring), "zero tolerance keeps every point")

	simplified := SimplifyOutline(ring, 5)
	assert.Less(t, len(simplified), len(ring))
	assert.GreaterOrEqual(t, len(simplified), 3)
	assert.Len(t, ring, 37, "input ring is not modified")
}

func TestLayersToFeatureCollection(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0, 10, 20}, 36), 0.1)
	fc := LayersToFeatureCollection(layers, 0)
	require.Len(t, fc.Features, 3)

	f := fc.Features[1]
	assert.InDelta(t, 10, f.Properties.MustFloat64("height"), 1e-9)
	assert.Equal(t, 36, f.Properties.MustInt("points"))

	// regular 36-gon inscribed in r = 40
	wantArea := 0.5 * 36 * 40 * 40 * math.Sin(10*math.Pi/180)
	assert.InDelta(t, wantArea, f.Properties.MustFloat64("area"), 1e-6)
	centroid, ok := f.Properties["centroid"].([]float64)
	require.True(t, ok)
	assert.InDelta(t, 0, centroid[0], 1e-9)
	assert.InDelta(t, 0, centroid[1], 1e-9)
}

func TestWriteGeoJSON_Decodes(t *testing.T) {
	var buf bytes.Buffer
	pts := cylinderPoints(40, []float64{0, 10}, 12)
	require.NoError(t, WriteGeoJSON(&buf, pts, DefaultMeshConfig(), 0))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	ls, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, ls, 13)
}

func TestExportGeoJSON_Precondition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.geojson")
	err := ExportGeoJSON(path, []SurfacePoint{{}}, DefaultMeshConfig(), 0)
	assert.ErrorIs(t, err, ErrInsufficientData)

	require.NoError(t, ExportGeoJSON(path, cylinderPoints(40, []float64{0}, 12), DefaultMeshConfig(), 0))
}
