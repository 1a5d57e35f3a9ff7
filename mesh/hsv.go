package mesh

import (
	"image"
	"image/color"
)

// HSVImage is a frame converted to 8-bit hue/saturation/value planes using the
// common machine-vision convention: hue in [0,180), saturation and value in [0,255].
type HSVImage struct {
	Width, Height int
	H, S, V       []uint8
}

// ToHSV converts any image to HSV planes. RGBA and NRGBA frames take a fast path.
func ToHSV(img image.Image) *HSVImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &HSVImage{
		Width:  w,
		Height: h,
		H:      make([]uint8, w*h),
		S:      make([]uint8, w*h),
		V:      make([]uint8, w*h),
	}

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[(y)*src.Stride:]
			for x := 0; x < w; x++ {
				p := row[x*4 : x*4+3]
				out.set(y*w+x, p[0], p[1], p[2])
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[(y)*src.Stride:]
			for x := 0; x < w; x++ {
				p := row[x*4 : x*4+3]
				out.set(y*w+x, p[0], p[1], p[2])
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				out.set(y*w+x, c.R, c.G, c.B)
			}
		}
	}
	return out
}

func (m *HSVImage) set(i int, r, g, b uint8) {
	h, s, v := rgbToHSV(r, g, b)
	m.H[i], m.S[i], m.V[i] = h, s, v
}

// rgbToHSV converts one 8-bit RGB pixel; hue is halved so it fits a byte
func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	maxC := max(rf, gf, bf)
	minC := min(rf, gf, bf)
	diff := maxC - minC

	var s float64
	if maxC > 0 {
		s = 255 * diff / maxC
	}

	var hue float64
	if diff > 0 {
		switch maxC {
		case rf:
			hue = 60 * (gf - bf) / diff
		case gf:
			hue = 120 + 60*(bf-rf)/diff
		default:
			hue = 240 + 60*(rf-gf)/diff
		}
		if hue < 0 {
			hue += 360
		}
	}

	h8 := int(hue/2 + 0.5)
	if h8 >= 180 {
		h8 -= 180
	}
	return uint8(h8), uint8(s + 0.5), uint8(maxC)
}

// BinaryMask is a row-major on/off image
type BinaryMask struct {
	Width, Height int
	Bits          []bool
}

// Mask thresholds the frame against a channel's HSV box
func (m *HSVImage) Mask(ch ChannelMask) *BinaryMask {
	ch = ch.Clamp()
	out := &BinaryMask{Width: m.Width, Height: m.Height, Bits: make([]bool, len(m.H))}
	for i := range m.H {
		out.Bits[i] = ch.Contains(m.H[i], m.S[i], m.V[i])
	}
	return out
}

// Count returns the number of set pixels
func (bm *BinaryMask) Count() int {
	n := 0
	for _, on := range bm.Bits {
		if on {
			n++
		}
	}
	return n
}

// Erode keeps a pixel only if every in-bounds pixel of its 3x3 neighbourhood is set
func (bm *BinaryMask) Erode() *BinaryMask {
	return bm.morph(true)
}

// Dilate sets a pixel if any in-bounds pixel of its 3x3 neighbourhood is set
func (bm *BinaryMask) Dilate() *BinaryMask {
	return bm.morph(false)
}

// Open is an erosion followed by a dilation; it removes isolated speckle
func (bm *BinaryMask) Open() *BinaryMask {
	return bm.Erode().Dilate()
}

func (bm *BinaryMask) morph(erode bool) *BinaryMask {
	w, h := bm.Width, bm.Height
	out := &BinaryMask{Width: w, Height: h, Bits: make([]bool, len(bm.Bits))}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			result := erode
			for dy := -1; dy <= 1 && result == erode; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					on := bm.Bits[ny*w+nx]
					if erode && !on {
						result = false
						break
					}
					if !erode && on {
						result = true
						break
					}
				}
			}
			out.Bits[y*w+x] = result
		}
	}
	return out
}

// Points returns the coordinates of every set pixel in row-major order
func (bm *BinaryMask) Points() []PixelPoint {
	pts := make([]PixelPoint, 0, bm.Count())
	for i, on := range bm.Bits {
		if on {
			pts = append(pts, PixelPoint{X: i % bm.Width, Y: i / bm.Width})
		}
	}
	return pts
}
