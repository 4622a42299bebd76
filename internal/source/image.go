package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageExtensions are the still image formats a directory source picks up.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff"}

func isImage(name string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

// ImageSource serves still images as pages: one file, or every image of a
// directory in file name order.
type ImageSource struct {
	path  string
	files []string

	mu    sync.Mutex
	sizes map[int]image.Point
}

func NewImageSource(path string) (*ImageSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	s := &ImageSource{path: path, sizes: make(map[int]image.Point)}
	if !fi.IsDir() {
		if !isImage(path) {
			return nil, fmt.Errorf("%s: unsupported image format", path)
		}
		s.files = []string{path}
		return s, nil
	}

	// ReadDir returns the entries sorted by name.
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && isImage(e.Name()) {
			s.files = append(s.files, filepath.Join(path, e.Name()))
		}
	}
	return s, nil
}

func (s *ImageSource) Path() string { return s.path }

func (s *ImageSource) PageCount() int { return len(s.files) }

func (s *ImageSource) open(index int) (*os.File, error) {
	if index < 0 || index >= len(s.files) {
		return nil, fmt.Errorf("page %d of %s: out of range [1, %d]", index+1, s.path, len(s.files))
	}
	return os.Open(s.files[index])
}

// GetPageDimensions reads the image header only. Sizes are cached per page.
func (s *ImageSource) GetPageDimensions(index int) (float64, float64, error) {
	s.mu.Lock()
	size, ok := s.sizes[index]
	s.mu.Unlock()
	if !ok {
		f, err := s.open(index)
		if err != nil {
			return 0, 0, err
		}
		cfg, _, err := image.DecodeConfig(f)
		f.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("page %d of %s: %w", index+1, s.path, err)
		}
		size = image.Pt(cfg.Width, cfg.Height)
		s.mu.Lock()
		s.sizes[index] = size
		s.mu.Unlock()
	}
	return float64(size.X), float64(size.Y), nil
}

// RenderPage decodes the image at its own resolution; dpi is ignored.
func (s *ImageSource) RenderPage(index int, dpi int) (image.Image, error) {
	f, err := s.open(index)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("page %d of %s: %w", index+1, s.path, err)
	}
	return img, nil
}

func (s *ImageSource) Close() error { return nil }
