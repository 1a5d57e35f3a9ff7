package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultChannelColors returns one plot colour per laser channel, in channel order
func DefaultChannelColors() []color.RGBA {
	return []color.RGBA{
		{220, 20, 60, 255},  // Crimson
		{34, 139, 34, 255},  // Forest green
		{30, 144, 255, 255}, // Dodger blue
		{255, 215, 0, 255},  // Gold
	}
}

var (
	backgroundColor = color.RGBA{240, 240, 240, 255}
	guideColor      = color.RGBA{180, 180, 180, 255}
	textColor       = color.RGBA{0, 0, 0, 255}
)

// TopViewRenderer draws the accumulated point cloud looked at from above
// (X to the right, Z up), with the turntable envelope as a circle.
type TopViewRenderer struct {
	Records   []ScanRecord
	MaxRadius float64 // mm; envelope circle and default extent
	Scale     float64 // pixels per mm
	Padding   int
	Colors    []color.RGBA
}

// NewTopViewRenderer creates a renderer with default settings
func NewTopViewRenderer(records []ScanRecord, maxRadius float64) *TopViewRenderer {
	if maxRadius <= 0 {
		maxRadius = DefaultReconstructionConfig().MaxRadius
	}
	return &TopViewRenderer{
		Records:   records,
		MaxRadius: maxRadius,
		Scale:     2.0,
		Padding:   30,
		Colors:    DefaultChannelColors(),
	}
}

func (r *TopViewRenderer) channelColor(i int) color.RGBA {
	if len(r.Colors) == 0 {
		return textColor
	}
	return r.Colors[i%len(r.Colors)]
}

// Render draws the view
func (r *TopViewRenderer) Render() *image.RGBA {
	extent := int(math.Ceil(r.MaxRadius * r.Scale))
	size := 2*extent + 2*r.Padding
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	cx, cy := size/2, size/2
	toImage := func(p Point3D) (int, int) {
		return cx + int(math.Round(p.X*r.Scale)), cy - int(math.Round(p.Z*r.Scale))
	}

	// Envelope and axes
	drawRing(img, cx, cy, extent, guideColor)
	for d := -extent; d <= extent; d++ {
		img.SetRGBA(cx+d, cy, guideColor)
		img.SetRGBA(cx, cy+d, guideColor)
	}

	names := make([]string, 0, 2)
	points := 0
	for _, rec := range r.Records {
		for c, s := range rec.Stripes {
			if c >= len(names) {
				names = append(names, s.Channel)
			}
			col := r.channelColor(c)
			for _, p := range s.Points {
				ix, iy := toImage(p)
				if image.Pt(ix, iy).In(img.Bounds()) {
					img.SetRGBA(ix, iy, col)
				}
				points++
			}
		}
	}

	// Legend
	y := 15
	for c, name := range names {
		drawSquare(img, 16, y-4, 10, r.channelColor(c))
		drawText(img, 28, y, name, textColor)
		y += 16
	}
	drawText(img, 10, size-10, fmt.Sprintf("%d frames, %d points", len(r.Records), points), textColor)
	return img
}

// EncodePNG renders the view as PNG to w
func (r *TopViewRenderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders the view to a file
func (r *TopViewRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.EncodePNG(f)
}

// RenderStrip draws the unwrapped stripe image: one column per record (frame
// order) and one row per camera row, each stripe pixel coloured by channel.
func RenderStrip(records []ScanRecord, frameHeight, columnWidth int, colors []color.RGBA) *image.RGBA {
	if columnWidth <= 0 {
		columnWidth = 1
	}
	if frameHeight <= 0 {
		for _, rec := range records {
			for _, s := range rec.Stripes {
				for _, px := range s.Pixels {
					frameHeight = max(frameHeight, px.Y+1)
				}
			}
		}
	}
	if len(colors) == 0 {
		colors = DefaultChannelColors()
	}
	width := max(len(records)*columnWidth, 1)
	height := max(frameHeight, 1)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)
	for i, rec := range records {
		for c, s := range rec.Stripes {
			col := colors[c%len(colors)]
			for _, px := range s.Pixels {
				if px.Y < 0 || px.Y >= height {
					continue
				}
				for dx := 0; dx < columnWidth; dx++ {
					img.SetRGBA(i*columnWidth+dx, px.Y, col)
				}
			}
		}
	}
	return img
}

// drawRing draws a one-pixel circle outline
func drawRing(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	steps := max(8*radius, 16)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(float64(radius)*math.Cos(a)))
		y := cy + int(math.Round(float64(radius)*math.Sin(a)))
		if image.Pt(x, y).In(img.Bounds()) {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
