package mesh

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
)

// FrameSource hands out decoded colour frames, one per call. io.EOF marks the
// end of input; an error wrapping ErrAcquisitionGap means this frame is
// unavailable but later ones may be.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Size() (width, height int)
}

var frameExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// DirectoryFrameSource replays image files from a directory in name order
type DirectoryFrameSource struct {
	mu     sync.Mutex
	files  []string
	next   int
	width  int
	height int
}

// NewDirectoryFrameSource lists the frames in dir. The first readable frame
// fixes the reported size.
func NewDirectoryFrameSource(dir string) (*DirectoryFrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	src := &DirectoryFrameSource{}
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		src.files = append(src.files, filepath.Join(dir, e.Name()))
	}
	if len(src.files) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(src.files)

	for _, f := range src.files {
		if w, h, err := decodeSize(f); err == nil {
			src.width, src.height = w, h
			break
		}
	}
	return src, nil
}

func decodeSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// Len returns the number of frames in the directory
func (s *DirectoryFrameSource) Len() int {
	return len(s.files)
}

// Size returns the frame size of the first readable frame
func (s *DirectoryFrameSource) Size() (int, int) {
	return s.width, s.height
}

// Next decodes the next file
func (s *DirectoryFrameSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return nil, io.EOF
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionGap, err)
	}
	img, err := DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// SliceFrameSource serves in-memory frames, mainly for tests and replays.
// A nil entry is reported as an acquisition gap.
type SliceFrameSource struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
}

// NewSliceFrameSource wraps frames
func NewSliceFrameSource(frames ...image.Image) *SliceFrameSource {
	return &SliceFrameSource{frames: frames}
}

// Size returns the bounds of the first non-nil frame
func (s *SliceFrameSource) Size() (int, int) {
	for _, f := range s.frames {
		if f != nil {
			return f.Bounds().Dx(), f.Bounds().Dy()
		}
	}
	return 0, 0
}

// Next returns the next frame
func (s *SliceFrameSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	img := s.frames[s.next]
	s.next++
	if img == nil {
		return nil, fmt.Errorf("%w: frame %d missing", ErrAcquisitionGap, s.next-1)
	}
	return img, nil
}
