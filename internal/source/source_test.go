package source

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestImageSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "02.png"), 40, 30)
	writePNG(t, filepath.Join(dir, "01.PNG"), 80, 60)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if src.PageCount() != 2 {
		t.Fatalf("expected 2 pages, got %d", src.PageCount())
	}
	w, h, err := src.GetPageDimensions(0)
	if err != nil {
		t.Fatalf("GetPageDimensions: %v", err)
	}
	if w != 80 || h != 60 {
		t.Errorf("first page should be 01.PNG (80x60), got %vx%v", w, h)
	}
	if _, _, err := src.GetPageDimensions(2); err == nil {
		t.Errorf("expected an error for a page out of range")
	}
}

func TestPageAssets(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 16, 9)
	writePNG(t, filepath.Join(dir, "b.png"), 16, 9)

	src, err := NewImageSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	assets, err := PageAssets(src, 3*time.Second)
	if err != nil {
		t.Fatalf("PageAssets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	a := assets[1]
	if a.URI != dir+"#page=2" {
		t.Errorf("URI: got %q", a.URI)
	}
	if a.Variant != timeline.VariantImage || a.Formats != timeline.TrackVideo {
		t.Errorf("unexpected asset kind: %+v", a)
	}
	if a.Duration != 3*time.Second || a.Description != "16x9" {
		t.Errorf("unexpected asset: %+v", a)
	}
}

func TestPageAssetsEmpty(t *testing.T) {
	src, err := NewImageSource(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := PageAssets(src, time.Second); err == nil {
		t.Fatal("expected an error for a source without pages")
	}
}

func TestThumbnail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.png")
	writePNG(t, path, 200, 100)
	src, err := NewImageSource(path)
	if err != nil {
		t.Fatal(err)
	}

	img, err := Thumbnail(src, 0, 50, 50)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("thumbnail should keep the aspect ratio, got %v", b)
	}
}

func TestImageSourceRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewImageSource(path); err == nil {
		t.Error("expected an error for a file that is not an image")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
