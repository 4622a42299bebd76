package renderer

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ivlev/nletimeline/internal/timeline"
	"github.com/ivlev/nletimeline/internal/tree"
)

const sec = time.Second

func newTimeline(t *testing.T) (*timeline.Timeline, *timeline.Layer) {
	t.Helper()
	ctx := timeline.NewContext(zaptest.NewLogger(t))
	tl := timeline.NewTimeline(ctx, tree.New(ctx.Logger()), timeline.Options{})
	if err := tl.AddTrack(timeline.NewTrack(ctx, timeline.TrackVideo, nil)); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	return tl, tl.AppendLayer()
}

func addClip(t *testing.T, l *timeline.Layer, asset *timeline.ClipAsset, start, duration time.Duration) *timeline.Clip {
	t.Helper()
	c, err := l.AddAsset(asset, start, 0, duration, 0)
	if err != nil {
		t.Fatalf("AddAsset: %v", err)
	}
	return c
}

func sameColor(a color.Color, b color.RGBA) bool {
	r, g, bl, al := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r == r2 && g == g2 && bl == b2 && al == a2
}

func TestRenderPlacesClips(t *testing.T) {
	tl, l := newTimeline(t)
	addClip(t, l, &timeline.ClipAsset{Variant: timeline.VariantTest, Formats: timeline.TrackVideo}, 0, 10*sec)
	addClip(t, l, &timeline.ClipAsset{Variant: timeline.VariantTitle, Formats: timeline.TrackVideo}, 15*sec, 5*sec)

	// 20s over 200px: 10px per second.
	img, err := Render(tl, Options{Width: 200, RowHeight: 20})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 200, 40) {
		t.Fatalf("bounds: got %v", img.Bounds())
	}

	tests := []struct {
		name string
		x, y int
		want color.RGBA
	}{
		{"first clip", 97, 36, variantColors[timeline.VariantTest]},
		{"gap", 125, 30, background},
		{"second clip", 197, 36, variantColors[timeline.VariantTitle]},
		{"end of first clip", 100, 30, background},
	}
	for _, tt := range tests {
		if got := img.At(tt.x, tt.y); !sameColor(got, tt.want) {
			t.Errorf("%s at (%d,%d): got %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRenderThumbnails(t *testing.T) {
	tl, l := newTimeline(t)
	uri := "file:///slides/a.png#page=1"
	addClip(t, l, &timeline.ClipAsset{URI: uri, Variant: timeline.VariantImage, Formats: timeline.TrackVideo}, 0, 4*sec)

	red := color.RGBA{R: 0xff, A: 0xff}
	thumb := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := range thumb.Pix {
		if i%4 == 0 || i%4 == 3 {
			thumb.Pix[i] = 0xff
		}
	}

	img, err := Render(tl, Options{Width: 100, RowHeight: 20, Thumbnails: map[string]image.Image{uri: thumb}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := img.At(5, 30); !sameColor(got, red) {
		t.Errorf("thumbnail pixel: got %v, want red", got)
	}
	if got := img.At(90, 36); !sameColor(got, variantColors[timeline.VariantImage]) {
		t.Errorf("clip pixel: got %v", got)
	}
}

func TestDrawRejectsWrongBounds(t *testing.T) {
	tl, _ := newTimeline(t)
	dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if err := Draw(dst, tl, Options{Width: 100, RowHeight: 20}); err == nil {
		t.Error("expected a bounds error")
	}
	if _, err := Render(tl, Options{}); err == nil {
		t.Error("expected a size error")
	}
}

func TestWritePNG(t *testing.T) {
	tl, l := newTimeline(t)
	addClip(t, l, &timeline.ClipAsset{Variant: timeline.VariantTest, Formats: timeline.TrackVideo}, 0, 90*sec)
	tl.AppendLayer()

	var buf bytes.Buffer
	if err := WritePNG(&buf, tl, Options{Width: 320, RowHeight: 24}); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 320, 72) {
		t.Errorf("bounds: got %v", img.Bounds())
	}
}

func TestTickStep(t *testing.T) {
	tests := []struct {
		total time.Duration
		want  time.Duration
	}{
		{5 * sec, sec},
		{10 * sec, sec},
		{40 * sec, 5 * sec},
		{3 * time.Minute, 30 * sec},
		{2 * time.Hour, 30 * time.Minute},
		{48 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := tickStep(tt.total); got != tt.want {
			t.Errorf("tickStep(%v): got %v, want %v", tt.total, got, tt.want)
		}
	}
}
