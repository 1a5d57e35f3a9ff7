package mesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tetrahedron() *Mesh {
	return &Mesh{
		Vertices: []Point3D{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Triangles: []Triangle{
			{0, 2, 1},
			{0, 1, 3},
			{0, 3, 2},
			{1, 2, 3},
		},
	}
}

// ---------------------------------------------------------------------------
// Formats
// ---------------------------------------------------------------------------

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ExportFormat
	}{
		{"xyz", FormatXYZ},
		{".XYZ", FormatXYZ},
		{"asc", FormatXYZ},
		{"csv", FormatCSV},
		{"ply", FormatPLY},
		{".obj", FormatOBJ},
		{"STL", FormatSTL},
		{"k", FormatKeyword},
		{"key", FormatKeyword},
		{"raw", FormatRawCSV},
		{"geojson", FormatGeoJSON},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("step")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("out/scan.stl")
	require.NoError(t, err)
	assert.Equal(t, FormatSTL, f)

	_, err = FormatFromPath("out/scan")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Precondition
// ---------------------------------------------------------------------------

func TestExport_PreconditionWritesNothing(t *testing.T) {
	dir := t.TempDir()
	two := []Point3D{{0, 0, 0}, {1, 1, 1}}

	for _, f := range []ExportFormat{FormatXYZ, FormatCSV, FormatPLY, FormatOBJ} {
		path := filepath.Join(dir, "points."+string(f))
		err := ExportPoints(path, f, two)
		assert.ErrorIs(t, err, ErrInsufficientData, string(f))
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "%s must not be created", path)
	}

	path := filepath.Join(dir, "mesh.stl")
	assert.ErrorIs(t, ExportMesh(path, FormatSTL, &Mesh{Vertices: two}), ErrInsufficientData)
	assert.ErrorIs(t, ExportMesh(path, FormatSTL, nil), ErrInsufficientData)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	rawPath := filepath.Join(dir, "raw.csv")
	assert.ErrorIs(t, ExportRecords(rawPath, nil), ErrInsufficientData)
	_, statErr = os.Stat(rawPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportPoints_RejectsMeshOnlyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.stl")
	err := ExportPoints(path, FormatSTL, tetrahedron().Vertices)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

func TestWriteXYZ(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXYZ(&buf, []Point3D{{1, 2, 3}, {-0.5, 0, 10.25}}, true))

	want := "# 2 points, mm\n1.000000 2.000000 3.000000\n-0.500000 0.000000 10.250000\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Point3D{{1, 2, 3}}))
	assert.Equal(t, "x,y,z\n1.000000,2.000000,3.000000\n", buf.String())
}

func TestWritePLY(t *testing.T) {
	t.Run("points only", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePLY(&buf, tetrahedron().Vertices, nil))
		out := buf.String()
		assert.Contains(t, out, "element vertex 4\n")
		assert.NotContains(t, out, "element face")
	})

	t.Run("mesh", func(t *testing.T) {
		var buf bytes.Buffer
		m := tetrahedron()
		require.NoError(t, WritePLY(&buf, m.Vertices, m.Triangles))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Equal(t, "ply", lines[0])
		assert.Contains(t, lines, "element face 4")
		assert.Contains(t, lines, "property list uchar int vertex_indices")
		assert.Equal(t, "3 1 2 3", lines[len(lines)-1])
	})
}

func TestWriteOBJ_OneBasedFaces(t *testing.T) {
	var buf bytes.Buffer
	m := tetrahedron()
	require.NoError(t, WriteOBJ(&buf, m.Vertices, m.Triangles))

	var faces []string
	vertices := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "v "):
			vertices++
		case strings.HasPrefix(line, "f "):
			faces = append(faces, line)
		}
	}
	assert.Equal(t, 4, vertices)
	assert.Equal(t, []string{"f 1 3 2", "f 1 2 4", "f 1 4 3", "f 2 3 4"}, faces)
}

func TestWriteSTL_Layout(t *testing.T) {
	var buf bytes.Buffer
	m := tetrahedron()
	require.NoError(t, WriteSTL(&buf, m))

	data := buf.Bytes()
	require.Len(t, data, 80+4+50*len(m.Triangles))
	assert.True(t, bytes.HasPrefix(data, []byte(stlHeader)))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(data[80:84]))

	// first triangle (0, 2, 1) lies in z = 0 and winds clockwise seen from +Z
	rec := data[84 : 84+50]
	f := func(k int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(rec[k*4:])) }
	assert.InDelta(t, 0, f(0), 1e-6)
	assert.InDelta(t, 0, f(1), 1e-6)
	assert.InDelta(t, -1, f(2), 1e-6)
	assert.Equal(t, float32(0), f(6), "second vertex is (0,1,0)")
	assert.Equal(t, float32(1), f(7))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(rec[48:]))
}

func TestWriteSTL_BadIndex(t *testing.T) {
	m := &Mesh{Vertices: []Point3D{{0, 0, 0}}, Triangles: []Triangle{{0, 1, 2}}}
	assert.Error(t, WriteSTL(&bytes.Buffer{}, m))
}

func TestTriangleNormal_Degenerate(t *testing.T) {
	n := TriangleNormal(Point3D{1, 1, 1}, Point3D{1, 1, 1}, Point3D{2, 2, 2})
	assert.Equal(t, 1.0, n.Z)
}

func TestWriteKeyword(t *testing.T) {
	var buf bytes.Buffer
	created := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, WriteKeyword(&buf, tetrahedron(), created))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "$$ stripemesh keyword deck created 14:30:00 03-01-2024\n"))
	for _, kw := range []string{"*KEYWORD", "*NODE", "*MAT_ELASTIC", "*SECTION_SHELL", "*PART", "*ELEMENT_SHELL"} {
		assert.Contains(t, out, kw+"\n")
	}
	assert.True(t, strings.HasSuffix(out, "*END\n"))
	assert.Contains(t, out, fmt.Sprintf("%8d%16.6f%16.6f%16.6f\n", 2, 1.0, 0.0, 0.0))
	assert.Contains(t, out, "       4       1       2       3       4       4\n", "last node repeated")
}

func TestWriteRawCSV(t *testing.T) {
	ts := time.Unix(1700000000, 500000000)
	records := []ScanRecord{
		{FrameIndex: 3, Pose: RotaryPose(45, ts), Stripes: []ChannelStripe{
			{Channel: "red", Pixels: []PixelPoint{{10, 20}}},
			{Channel: "green", Pixels: []PixelPoint{{30, 40}}},
		}},
		{FrameIndex: 4, Pose: LinearPose(12.5, ts), Stripes: []ChannelStripe{
			{Channel: "red", Pixels: []PixelPoint{{11, 21}}},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRawCSV(&buf, records))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "frame_idx,x_pos_mm,ts,angle_deg,laser_id,x_pix,y_pix", lines[0])
	assert.Equal(t, "3,0.00000,1700000000.500000,45.00000,1,10,20", lines[1])
	assert.Equal(t, "3,0.00000,1700000000.500000,45.00000,2,30,40", lines[2])
	assert.Equal(t, "4,12.50000,1700000000.500000,,1,11,21", lines[3])
}

func TestExportMesh_Files(t *testing.T) {
	dir := t.TempDir()
	m := tetrahedron()

	for _, f := range []ExportFormat{FormatXYZ, FormatCSV, FormatPLY, FormatOBJ, FormatSTL, FormatKeyword} {
		path := filepath.Join(dir, "nested", "mesh."+string(f))
		require.NoError(t, ExportMesh(path, f, m), string(f))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
