package mesh

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		h, s, v uint8
	}{
		{"black", 0, 0, 0, 0, 0, 0},
		{"white", 255, 255, 255, 0, 0, 255},
		{"red", 255, 0, 0, 0, 255, 255},
		{"green", 0, 255, 0, 60, 255, 255},
		{"blue", 0, 0, 255, 120, 255, 255},
		{"dark red", 128, 0, 0, 0, 255, 128},
		{"magenta wraps high", 255, 0, 255, 150, 255, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := rgbToHSV(tt.r, tt.g, tt.b)
			assert.Equal(t, tt.h, h, "hue")
			assert.Equal(t, tt.s, s, "saturation")
			assert.Equal(t, tt.v, v, "value")
		})
	}
}

func TestToHSV_ImageTypesAgree(t *testing.T) {
	rgba := stripeFrame(20, 10, 0, 5, 2)
	nrgba := image.NewNRGBA(rgba.Bounds())
	deep := image.NewRGBA64(rgba.Bounds())
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			c := rgba.RGBAAt(x, y)
			nrgba.SetNRGBA(x, y, color.NRGBA{c.R, c.G, c.B, 255})
			deep.Set(x, y, c)
		}
	}

	a, b, c := ToHSV(rgba), ToHSV(nrgba), ToHSV(deep)
	assert.Equal(t, a.H, b.H)
	assert.Equal(t, a.V, b.V)
	assert.Equal(t, a.H, c.H)
	assert.Equal(t, a.S, c.S)
}

func TestMask_ChannelSelection(t *testing.T) {
	img := blankFrame(30, 20)
	paintStripe(img, 0, 5, 2, laserRed)
	paintStripe(img, 0, 15, 2, laserGreen)
	hsv := ToHSV(img)

	red := hsv.Mask(DefaultChannels()[0])
	green := hsv.Mask(DefaultChannels()[1])

	assert.Equal(t, 60, red.Count())
	assert.Equal(t, 60, green.Count())
	for _, p := range red.Points() {
		assert.Contains(t, []int{4, 5}, p.Y)
	}
	for _, p := range green.Points() {
		assert.Contains(t, []int{14, 15}, p.Y)
	}
}

func TestMask_ClampsOutOfRangeBounds(t *testing.T) {
	img := blankFrame(4, 4)
	img.SetRGBA(1, 1, laserRed)
	ch := ChannelMask{Name: "wide", HueLow: -20, HueHigh: 400, SatLow: -1, SatHigh: 999, ValLow: 200, ValHigh: 999}

	mask := ToHSV(img).Mask(ch)
	assert.Equal(t, 1, mask.Count())
}

func TestOpen_RemovesSpeckle(t *testing.T) {
	mask := &BinaryMask{Width: 10, Height: 10, Bits: make([]bool, 100)}
	// isolated pixel
	mask.Bits[2*10+2] = true
	// solid 4x4 block
	for y := 5; y < 9; y++ {
		for x := 5; x < 9; x++ {
			mask.Bits[y*10+x] = true
		}
	}

	opened := mask.Open()
	assert.False(t, opened.Bits[2*10+2], "speckle should be removed")
	assert.Equal(t, 16, opened.Count(), "block survives opening unchanged")
}

func TestErodeDilate_Borders(t *testing.T) {
	full := &BinaryMask{Width: 3, Height: 3, Bits: []bool{true, true, true, true, true, true, true, true, true}}
	assert.Equal(t, 9, full.Erode().Count(), "out-of-bounds neighbours are ignored")

	single := &BinaryMask{Width: 3, Height: 3, Bits: make([]bool, 9)}
	single.Bits[0] = true
	assert.Equal(t, 4, single.Dilate().Count())
}

func TestPoints_RowMajor(t *testing.T) {
	mask := &BinaryMask{Width: 3, Height: 2, Bits: []bool{false, true, false, true, false, true}}
	assert.Equal(t, []PixelPoint{{1, 0}, {0, 1}, {2, 1}}, mask.Points())
}
