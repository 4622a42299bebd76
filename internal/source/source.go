// Package source opens the documents a slideshow is built from and turns
// their pages into clip assets.
package source

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/ivlev/nletimeline/internal/timeline"
)

type Source interface {
	Path() string
	PageCount() int
	GetPageDimensions(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

// Open picks the source for path: PDF documents go through MuPDF, image
// files and directories of images through ImageSource.
func Open(path string) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	return NewImageSource(path)
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) Path() string { return f.path }

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) GetPageDimensions(index int) (float64, float64, error) {
	rect, err := f.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

// RenderPage opens its own document so pages can render concurrently.
func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	workerDoc, err := fitz.New(f.path)
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()
	return workerDoc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}

// PageURI identifies one page of a document.
func PageURI(path string, index int) string {
	return fmt.Sprintf("%s#page=%d", path, index+1)
}

// PageAssets returns one image clip asset per page of src, each lasting
// pageDuration.
func PageAssets(src Source, pageDuration time.Duration) ([]*timeline.ClipAsset, error) {
	n := src.PageCount()
	if n == 0 {
		return nil, fmt.Errorf("%s has no pages", src.Path())
	}
	assets := make([]*timeline.ClipAsset, 0, n)
	for i := 0; i < n; i++ {
		w, h, err := src.GetPageDimensions(i)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", i+1, src.Path(), err)
		}
		assets = append(assets, &timeline.ClipAsset{
			URI:         PageURI(src.Path(), i),
			Variant:     timeline.VariantImage,
			Formats:     timeline.TrackVideo,
			Duration:    pageDuration,
			Description: fmt.Sprintf("%.0fx%.0f", w, h),
		})
	}
	return assets, nil
}

// Thumbnail renders page index of src scaled to fit in a box of maxW by
// maxH pixels.
func Thumbnail(src Source, index, maxW, maxH int) (image.Image, error) {
	page, err := src.RenderPage(index, 72)
	if err != nil {
		return nil, err
	}
	b := page.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("page %d of %s is empty", index+1, src.Path())
	}
	scale := min(float64(maxW)/float64(b.Dx()), float64(maxH)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), page, b, draw.Src, nil)
	return dst, nil
}
