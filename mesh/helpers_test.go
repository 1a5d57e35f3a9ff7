package mesh

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
)

var (
	laserRed   = color.RGBA{255, 0, 0, 255}
	laserGreen = color.RGBA{0, 255, 0, 255}
)

// blankFrame returns a black frame
func blankFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)
	return img
}

// paintStripe draws y = slope*x + intercept with the given vertical thickness
func paintStripe(img *image.RGBA, slope, intercept float64, thickness int, c color.RGBA) {
	b := img.Bounds()
	half := float64(thickness) / 2
	for x := b.Min.X; x < b.Max.X; x++ {
		yc := slope*float64(x) + intercept
		for y := int(math.Floor(yc - half + 0.5)); y < int(math.Floor(yc+half+0.5)); y++ {
			if y >= b.Min.Y && y < b.Max.Y {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// stripeFrame is a black frame carrying one red stripe
func stripeFrame(w, h int, slope, intercept float64, thickness int) *image.RGBA {
	img := blankFrame(w, h)
	paintStripe(img, slope, intercept, thickness, laserRed)
	return img
}

func seededRANSAC(seed int64) RANSACConfig {
	cfg := DefaultRANSACConfig()
	cfg.RNG = rand.New(rand.NewSource(seed))
	return cfg
}

// cylinderPoints samples a vertical cylinder of radius r around the Y axis:
// one layer per height, n points per layer starting at 0°
func cylinderPoints(r float64, heights []float64, n int) []SurfacePoint {
	var out []SurfacePoint
	for _, h := range heights {
		for k := 0; k < n; k++ {
			a := float64(k) * 360 / float64(n)
			rad := a * math.Pi / 180
			out = append(out, SurfacePoint{
				Point:  Point3D{X: r * math.Cos(rad), Y: h, Z: r * math.Sin(rad)},
				Angle:  a,
				Height: h,
			})
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }
