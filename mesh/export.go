package mesh

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ExportFormat names an output file format
type ExportFormat string

const (
	FormatXYZ     ExportFormat = "xyz"     // point cloud, space separated
	FormatCSV     ExportFormat = "csv"     // point cloud, x,y,z with header
	FormatPLY     ExportFormat = "ply"     // ASCII PLY, points or mesh
	FormatOBJ     ExportFormat = "obj"     // Wavefront OBJ, 1-based faces
	FormatSTL     ExportFormat = "stl"     // binary STL triangle soup
	FormatKeyword ExportFormat = "k"       // LS-DYNA keyword deck
	FormatRawCSV  ExportFormat = "raw"     // per-pixel scan log
	FormatGeoJSON ExportFormat = "geojson" // layer cross-sections
	FormatPNG     ExportFormat = "png"     // top-view preview image
)

// stlHeader fills the 80-byte binary STL header
const stlHeader = "stripemesh binary STL"

// MeshFormats are the formats that need triangles
var MeshFormats = []ExportFormat{FormatPLY, FormatOBJ, FormatSTL, FormatKeyword}

// ParseFormat resolves a format name, accepting a leading dot and common aliases
func ParseFormat(name string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "xyz", "txt", "asc":
		return FormatXYZ, nil
	case "csv":
		return FormatCSV, nil
	case "ply":
		return FormatPLY, nil
	case "obj":
		return FormatOBJ, nil
	case "stl":
		return FormatSTL, nil
	case "k", "key", "dyn":
		return FormatKeyword, nil
	case "raw", "rawcsv":
		return FormatRawCSV, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unknown export format %q", name)
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (ExportFormat, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("no extension on %q", path)
	}
	return ParseFormat(ext)
}

// checkPrecondition refuses exports with fewer than 3 points or vertices
func checkPrecondition(what string, n int) error {
	if n < 3 {
		return fmt.Errorf("export needs at least 3 %s, have %d: %w", what, n, ErrInsufficientData)
	}
	return nil
}

// writeFile creates path and streams into it through a buffered writer.
// Preconditions must be checked by the caller before this is reached.
func writeFile(path string, fn func(w io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

// ExportPoints writes a point cloud. Mesh-only formats (OBJ, STL, keyword)
// are written as vertex-only files where the format allows it.
func ExportPoints(path string, format ExportFormat, points []Point3D) error {
	if err := checkPrecondition("points", len(points)); err != nil {
		return err
	}
	switch format {
	case FormatXYZ:
		return writeFile(path, func(w io.Writer) error { return WriteXYZ(w, points, true) })
	case FormatCSV:
		return writeFile(path, func(w io.Writer) error { return WriteCSV(w, points) })
	case FormatPLY:
		return writeFile(path, func(w io.Writer) error { return WritePLY(w, points, nil) })
	case FormatOBJ:
		return writeFile(path, func(w io.Writer) error { return WriteOBJ(w, points, nil) })
	default:
		return fmt.Errorf("format %q cannot hold a bare point cloud", format)
	}
}

// ExportMesh writes a welded mesh. Point formats receive the vertex list.
func ExportMesh(path string, format ExportFormat, m *Mesh) error {
	if m == nil {
		return checkPrecondition("vertices", 0)
	}
	if err := checkPrecondition("vertices", len(m.Vertices)); err != nil {
		return err
	}
	switch format {
	case FormatXYZ, FormatCSV:
		return ExportPoints(path, format, m.Vertices)
	case FormatPLY:
		return writeFile(path, func(w io.Writer) error { return WritePLY(w, m.Vertices, m.Triangles) })
	case FormatOBJ:
		return writeFile(path, func(w io.Writer) error { return WriteOBJ(w, m.Vertices, m.Triangles) })
	case FormatSTL:
		return writeFile(path, func(w io.Writer) error { return WriteSTL(w, m) })
	case FormatKeyword:
		return writeFile(path, func(w io.Writer) error { return WriteKeyword(w, m, time.Now()) })
	default:
		return fmt.Errorf("format %q cannot hold a mesh", format)
	}
}

// ExportRecords writes the raw per-pixel scan log
func ExportRecords(path string, records []ScanRecord) error {
	n := 0
	for _, rec := range records {
		for _, s := range rec.Stripes {
			n += len(s.Pixels)
		}
	}
	if err := checkPrecondition("pixels", n); err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error { return WriteRawCSV(w, records) })
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteXYZ writes one "x y z" line per point, optionally preceded by a # header
func WriteXYZ(w io.Writer, points []Point3D, header bool) error {
	if header {
		if _, err := fmt.Fprintf(w, "# %d points, mm\n", len(points)); err != nil {
			return err
		}
	}
	for _, p := range points {
		if _, err := fmt.Fprintf(w, "%s %s %s\n", formatCoord(p.X), formatCoord(p.Y), formatCoord(p.Z)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes an x,y,z point cloud with a header row
func WriteCSV(w io.Writer, points []Point3D) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"x", "y", "z"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{formatCoord(p.X), formatCoord(p.Y), formatCoord(p.Z)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePLY writes an ASCII PLY. With no triangles only the vertex element is emitted.
func WritePLY(w io.Writer, vertices []Point3D, tris []Triangle) error {
	var sb strings.Builder
	sb.WriteString("ply\nformat ascii 1.0\n")
	fmt.Fprintf(&sb, "element vertex %d\n", len(vertices))
	sb.WriteString("property float x\nproperty float y\nproperty float z\n")
	if len(tris) > 0 {
		fmt.Fprintf(&sb, "element face %d\n", len(tris))
		sb.WriteString("property list uchar int vertex_indices\n")
	}
	sb.WriteString("end_header\n")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}
	if err := WriteXYZ(w, vertices, false); err != nil {
		return err
	}
	for _, t := range tris {
		if _, err := fmt.Fprintf(w, "3 %d %d %d\n", t[0], t[1], t[2]); err != nil {
			return err
		}
	}
	return nil
}

// WriteOBJ writes vertices and 1-based face lines
func WriteOBJ(w io.Writer, vertices []Point3D, tris []Triangle) error {
	if _, err := fmt.Fprintf(w, "# stripemesh OBJ\n# %d vertices, %d faces\n\n", len(vertices), len(tris)); err != nil {
		return err
	}
	for _, v := range vertices {
		if _, err := fmt.Fprintf(w, "v %s %s %s\n", formatCoord(v.X), formatCoord(v.Y), formatCoord(v.Z)); err != nil {
			return err
		}
	}
	if len(tris) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, t := range tris {
		if _, err := fmt.Fprintf(w, "f %d %d %d\n", t[0]+1, t[1]+1, t[2]+1); err != nil {
			return err
		}
	}
	return nil
}

// TriangleNormal returns the unit normal of (a, b, c) by the right-hand rule.
// Degenerate triangles get +Z.
func TriangleNormal(a, b, c Point3D) r3.Vec {
	n := r3.Cross(r3.Sub(b.Vec(), a.Vec()), r3.Sub(c.Vec(), a.Vec()))
	if r3.Norm(n) < 1e-12 {
		return r3.Vec{Z: 1}
	}
	return r3.Unit(n)
}

// WriteSTL writes a little-endian binary STL: 80-byte header, uint32 count,
// then per triangle a normal, three vertices and a zero uint16 attribute.
func WriteSTL(w io.Writer, m *Mesh) error {
	var header [80]byte
	copy(header[:], stlHeader)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(m.Triangles)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}

	var rec [50]byte
	for i, t := range m.Triangles {
		for _, idx := range t {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("triangle %d references vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		n := TriangleNormal(a, b, c)
		vals := [12]float64{n.X, n.Y, n.Z, a.X, a.Y, a.Z, b.X, b.Y, b.Z, c.X, c.Y, c.Z}
		for k, v := range vals {
			binary.LittleEndian.PutUint32(rec[k*4:], math.Float32bits(float32(v)))
		}
		binary.LittleEndian.PutUint16(rec[48:], 0)
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteKeyword writes an LS-DYNA keyword deck: one shell part whose elements
// are the triangles, written as quads with the last node repeated.
func WriteKeyword(w io.Writer, m *Mesh, created time.Time) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$$ stripemesh keyword deck created %s\n", created.Format("15:04:05 01-02-2006"))
	sb.WriteString("*KEYWORD\n")
	sb.WriteString("*NODE\n")
	for i, v := range m.Vertices {
		fmt.Fprintf(&sb, "%8d%16.6f%16.6f%16.6f\n", i+1, v.X, v.Y, v.Z)
	}
	sb.WriteString("*MAT_ELASTIC\n")
	sb.WriteString("         1      7.85E-09    210000      0.30\n")
	sb.WriteString("*SECTION_SHELL\n")
	sb.WriteString("         1         2\n")
	sb.WriteString("       1.0       1.0       1.0       1.0\n")
	sb.WriteString("*PART\n")
	sb.WriteString("scanned_object\n")
	sb.WriteString("         1         1         1\n")
	sb.WriteString("*ELEMENT_SHELL\n")
	for i, t := range m.Triangles {
		n1, n2, n3 := t[0]+1, t[1]+1, t[2]+1
		fmt.Fprintf(&sb, "%8d%8d%8d%8d%8d%8d\n", i+1, 1, n1, n2, n3, n3)
	}
	sb.WriteString("*END\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteRawCSV writes one row per stripe pixel:
// frame_idx,x_pos_mm,ts,angle_deg,laser_id,x_pix,y_pix
// laser_id is the 1-based position of the channel within the record.
func WriteRawCSV(w io.Writer, records []ScanRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"frame_idx", "x_pos_mm", "ts", "angle_deg", "laser_id", "x_pix", "y_pix"}); err != nil {
		return err
	}
	for _, rec := range records {
		offset, _ := rec.Pose.Offset()
		angle := ""
		if a, ok := rec.Pose.Angle(); ok {
			angle = strconv.FormatFloat(a, 'f', 5, 64)
		}
		ts := float64(rec.Pose.Timestamp.UnixNano()) / 1e9
		for lid, s := range rec.Stripes {
			for _, px := range s.Pixels {
				row := []string{
					strconv.Itoa(rec.FrameIndex),
					strconv.FormatFloat(offset, 'f', 5, 64),
					strconv.FormatFloat(ts, 'f', 6, 64),
					angle,
					strconv.Itoa(lid + 1),
					strconv.Itoa(px.X),
					strconv.Itoa(px.Y),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
