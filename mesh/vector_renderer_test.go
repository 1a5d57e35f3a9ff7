package mesh

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/tdewolff/canvas"
)

func TestVectorRenderer_RenderToSVG(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0, 10}, 12), 0.1)
	r := NewVectorRenderer(layers, 50)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG() error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Error("output does not contain <svg")
	}
	if !strings.Contains(out, "path") {
		t.Error("output does not contain any path")
	}
}

func TestVectorRenderer_RenderToPNG(t *testing.T) {
	layers := GroupLayers(cylinderPoints(40, []float64{0}, 12), 0.1)
	r := NewVectorRenderer(layers, 50)
	r.Resolution = canvas.DPI(25.4) // 1 px per mm

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG() error: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	// (50 mm envelope + 10 mm padding) * 2
	if dx := img.Bounds().Dx(); dx < 118 || dx > 122 {
		t.Errorf("PNG width = %d, want ~120", dx)
	}
}

func TestVectorRenderer_ExtentGrowsWithData(t *testing.T) {
	layers := GroupLayers(cylinderPoints(80, []float64{0}, 8), 0.1)
	r := NewVectorRenderer(layers, 50)
	if got := r.extent(); got < 80-1e-9 {
		t.Errorf("extent() = %g, want >= 80", got)
	}

	if got := NewVectorRenderer(nil, 0).extent(); got != DefaultReconstructionConfig().MaxRadius {
		t.Errorf("empty extent = %g, want default radius", got)
	}
}

func TestHeightColor(t *testing.T) {
	low, high := heightColor(0, 3), heightColor(2, 3)
	if low.B <= low.R {
		t.Errorf("lowest layer should be blue-ish, got %v", low)
	}
	if high.R <= high.B {
		t.Errorf("highest layer should be red-ish, got %v", high)
	}
	if heightColor(0, 1) != low {
		t.Error("single layer should use the low end of the ramp")
	}
}
