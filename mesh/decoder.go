package mesh

import (
	"bytes"
	"fmt"
	"image"
)

// FrameFormat names a still-image container by its magic bytes
type FrameFormat string

const (
	FramePNG     FrameFormat = "png"
	FrameJPEG    FrameFormat = "jpeg"
	FrameBMP     FrameFormat = "bmp"
	FrameTIFF    FrameFormat = "tiff"
	FrameUnknown FrameFormat = ""
)

// SniffFrameFormat identifies the container of an encoded frame
func SniffFrameFormat(data []byte) FrameFormat {
	switch {
	case IsPNG(data):
		return FramePNG
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FrameJPEG
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return FrameBMP
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return FrameTIFF
	}
	return FrameUnknown
}

// IsPNG checks if data starts with PNG magic bytes
func IsPNG(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	// PNG magic bytes: 0x89 'P' 'N' 'G' '\r' '\n' 0x1a '\n'
	return data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}

// DecodeFrame decodes an encoded colour frame. Anything that is not a
// recognised still-image container is an acquisition gap.
func DecodeFrame(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrAcquisitionGap)
	}
	format := SniffFrameFormat(data)
	if format == FrameUnknown {
		return nil, fmt.Errorf("%w: unknown frame format", ErrAcquisitionGap)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrAcquisitionGap, format, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: %s frame has no pixels", ErrAcquisitionGap, format)
	}
	return img, nil
}
