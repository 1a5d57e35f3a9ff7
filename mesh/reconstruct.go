package mesh

import (
	"fmt"
	"math"
)

// Reconstructor projects stripe pixels into the scanner frame.
// Projection is a pure function of the pose, the calibration and the pixel.
type Reconstructor struct {
	Config      ReconstructionConfig
	Calibration Calibration
}

// NewReconstructor creates a reconstructor whose calibration is not yet established
func NewReconstructor(cfg ReconstructionConfig) *Reconstructor {
	return &Reconstructor{Config: cfg}
}

// Establish fixes the calibration from the first frame's dimensions
func (r *Reconstructor) Establish(width, height int) {
	r.Calibration.Establish(r.Config, width, height)
}

// Revalidate drops a preset calibration that does not fit the session's
// first frame or the configured geometry, then establishes a fresh one.
// It reports whether the preset was replaced.
func (r *Reconstructor) Revalidate(width, height int) bool {
	if !r.Calibration.Established || r.Calibration.Fits(r.Config, width, height) {
		return false
	}
	r.Calibration = Calibration{}
	r.Establish(width, height)
	return true
}

// Ready reports whether the calibration has been established
func (r *Reconstructor) Ready() bool {
	return r.Calibration.Established
}

// Reconstruct maps every pixel to a point. Pixels outside the radius envelope
// are dropped and counted in rejected. Without an established calibration the
// whole frame is refused with ErrCalibrationMissing.
func (r *Reconstructor) Reconstruct(pose Pose, pixels []PixelPoint) (points []Point3D, rejected int, err error) {
	if !r.Calibration.Established {
		return nil, 0, ErrCalibrationMissing
	}
	if !pose.Valid() {
		return nil, 0, ErrNoPose
	}

	points = make([]Point3D, 0, len(pixels))
	for _, px := range pixels {
		p, ok := ProjectPixel(pose, r.Calibration, r.Config, px)
		if !ok {
			rejected++
			continue
		}
		points = append(points, p)
	}
	return points, rejected, nil
}

// ProjectPixel maps one stripe pixel to a 3D point in mm.
//
// Rotary:  r = (x - cx) * sx;  X = r cos(a);  Z = r sin(a);  Y = (y0 - y) * sy
// Linear:  X = r;  Z = linear offset;  Y = (y0 - y) * sy
//
// ok is false when |r| exceeds the configured maximum radius.
func ProjectPixel(pose Pose, cal Calibration, cfg ReconstructionConfig, px PixelPoint) (Point3D, bool) {
	radius := (float64(px.X) - cal.CenterCol) * cfg.ScaleX
	if cfg.MaxRadius > 0 && math.Abs(radius) > cfg.MaxRadius {
		return Point3D{}, false
	}
	y := (cal.BaselineRow - float64(px.Y)) * cfg.ScaleY

	if angle, ok := pose.Angle(); ok {
		rad := angle * math.Pi / 180
		return Point3D{X: radius * math.Cos(rad), Y: y, Z: radius * math.Sin(rad)}, true
	}
	if offset, ok := pose.Offset(); ok {
		return Point3D{X: radius, Y: y, Z: offset}, true
	}
	return Point3D{}, false
}

// Reproject recomputes every record's points from its stored pixels using the
// reconstructor's current calibration. Records are copied, never modified.
func (r *Reconstructor) Reproject(records []ScanRecord) ([]ScanRecord, error) {
	if !r.Calibration.Established {
		return nil, ErrCalibrationMissing
	}
	out := make([]ScanRecord, len(records))
	for i, rec := range records {
		cp := ScanRecord{FrameIndex: rec.FrameIndex, Pose: rec.Pose, Stripes: make([]ChannelStripe, len(rec.Stripes))}
		for j, s := range rec.Stripes {
			pts, _, err := r.Reconstruct(rec.Pose, s.Pixels)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", rec.FrameIndex, err)
			}
			cp.Stripes[j] = ChannelStripe{Channel: s.Channel, Pixels: append([]PixelPoint(nil), s.Pixels...), Points: pts}
		}
		out[i] = cp
	}
	return out, nil
}

// SurfacePointsFromRecords annotates every reconstructed point with the azimuth
// and height used by the layered mesh builder. Rotary points take the pose
// angle (plus 180° when they lie on the far side of the rotation axis); linear
// points take their azimuth in the X/Z plane. Height is Y.
func SurfacePointsFromRecords(records []ScanRecord) []SurfacePoint {
	var out []SurfacePoint
	for _, rec := range records {
		angle, rotary := rec.Pose.Angle()
		rad := angle * math.Pi / 180
		for _, s := range rec.Stripes {
			for _, p := range s.Points {
				var az float64
				if rotary {
					az = angle
					if p.X*math.Cos(rad)+p.Z*math.Sin(rad) < 0 {
						az += 180
					}
				} else {
					az = math.Atan2(p.Z, p.X) * 180 / math.Pi
				}
				out = append(out, SurfacePoint{Point: p, Angle: normalizeDegrees(az), Height: p.Y})
			}
		}
	}
	return out
}

// PointsFromRecords flattens every reconstructed point in record order
func PointsFromRecords(records []ScanRecord) []Point3D {
	var out []Point3D
	for _, rec := range records {
		for _, s := range rec.Stripes {
			out = append(out, s.Points...)
		}
	}
	return out
}
