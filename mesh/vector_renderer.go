package mesh

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws layer cross-sections seen from above as vector
// graphics. Units on the canvas are millimetres.
type VectorRenderer struct {
	Layers      []Layer
	MaxRadius   float64           // mm; envelope circle and minimum extent
	Padding     float64           // mm
	StrokeWidth float64           // mm
	GridSpacing float64           // mm; 0 disables the grid
	Resolution  canvas.Resolution // for PNG output
	Tolerance   float64           // outline simplification, mm; 0 keeps every point
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(layers []Layer, maxRadius float64) *VectorRenderer {
	if maxRadius <= 0 {
		maxRadius = DefaultReconstructionConfig().MaxRadius
	}
	return &VectorRenderer{
		Layers:      layers,
		MaxRadius:   maxRadius,
		Padding:     10,
		StrokeWidth: 0.5,
		GridSpacing: 50,
		Resolution:  canvas.DPI(100),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// extent returns the half-width of the drawing, at least MaxRadius
func (r *VectorRenderer) extent() float64 {
	ext := r.MaxRadius
	if len(r.Layers) > 0 {
		b := LayerBound(r.Layers)
		for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
			ext = math.Max(ext, math.Abs(v))
		}
	}
	return ext
}

// RenderToSVG writes the cross-sections as an SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	size := 2 * (r.extent() + r.Padding)
	svgRenderer := svg.New(w, size, size, nil)
	r.renderToCanvas(svgRenderer, size)
	return svgRenderer.Close()
}

// RenderToPNG writes the cross-sections as a PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	size := 2 * (r.extent() + r.Padding)
	rast := rasterizer.New(size, size, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, size)
	return png.Encode(w, rast)
}

// heightColor maps a layer position to a blue-to-red ramp
func heightColor(i, n int) color.RGBA {
	t := 0.0
	if n > 1 {
		t = float64(i) / float64(n-1)
	}
	return color.RGBA{R: uint8(40 + 200*t), G: 60, B: uint8(240 - 200*t), A: 255}
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, size float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(size, size), bgStyle, canvas.Identity)

	c := size / 2
	toCanvas := func(p orb.Point) (float64, float64) {
		return c + p[0], c + p[1]
	}

	guideStyle := canvas.DefaultStyle
	guideStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	guideStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	guideStyle.StrokeWidth = r.StrokeWidth

	if r.GridSpacing > 0 {
		gridStyle := guideStyle
		gridStyle.Stroke = canvas.Paint{Color: color.RGBA{211, 211, 211, 255}}
		gridStyle.Dashes = []float64{2.0, 2.0}
		half := size / 2
		for v := -math.Floor(half/r.GridSpacing) * r.GridSpacing; v <= half; v += r.GridSpacing {
			vertical := &canvas.Path{}
			vertical.MoveTo(c+v, 0)
			vertical.LineTo(c+v, size)
			renderer.RenderPath(vertical, gridStyle, canvas.Identity)

			horizontal := &canvas.Path{}
			horizontal.MoveTo(0, c+v)
			horizontal.LineTo(size, c+v)
			renderer.RenderPath(horizontal, gridStyle, canvas.Identity)
		}
	}

	envelope := canvas.Circle(r.MaxRadius).Translate(c, c)
	renderer.RenderPath(envelope, guideStyle, canvas.Identity)

	for i, l := range r.Layers {
		ring := SimplifyOutline(LayerOutline(l), r.Tolerance)
		if len(ring) < 2 {
			continue
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: heightColor(i, len(r.Layers))}
		style.StrokeWidth = r.StrokeWidth

		path := &canvas.Path{}
		for k, p := range ring {
			x, y := toCanvas(p)
			if k == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		renderer.RenderPath(path, style, canvas.Identity)
	}
}
