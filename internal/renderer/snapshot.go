// Package renderer draws a snapshot of a timeline: one row per layer, the
// clips of each layer as boxes and auto-transitions over the overlaps.
package renderer

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/nletimeline/internal/system"
	"github.com/ivlev/nletimeline/internal/timeline"
)

type Options struct {
	Width     int
	RowHeight int
	// Thumbnails are drawn inside the clips whose asset URI they are keyed by.
	Thumbnails map[string]image.Image
}

var (
	background = color.RGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}
	ruler      = color.RGBA{R: 0x44, G: 0x44, B: 0x50, A: 0xff}
	border     = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
	label      = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
	transition = color.RGBA{R: 0xf5, G: 0xa6, B: 0x23, A: 0xb0}

	variantColors = map[timeline.ClipVariant]color.RGBA{
		timeline.VariantURI:   {R: 0x3a, G: 0x7b, B: 0xd5, A: 0xff},
		timeline.VariantTest:  {R: 0x6a, G: 0x9f, B: 0x58, A: 0xff},
		timeline.VariantTitle: {R: 0xa0, G: 0x5c, B: 0xc8, A: 0xff},
		timeline.VariantImage: {R: 0x2f, G: 0xa3, B: 0x9b, A: 0xff},
	}
	defaultClipColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
)

const padding = 2

// Size returns the bounds of the snapshot of tl.
func Size(tl *timeline.Timeline, opts Options) image.Rectangle {
	rows := len(tl.Layers()) + 1
	return image.Rect(0, 0, opts.Width, rows*opts.RowHeight)
}

// Draw paints the snapshot of tl into dst, which must have the bounds
// returned by Size.
func Draw(dst *image.RGBA, tl *timeline.Timeline, opts Options) error {
	if opts.Width <= 0 || opts.RowHeight <= 0 {
		return fmt.Errorf("invalid snapshot size %dx%d", opts.Width, opts.RowHeight)
	}
	if dst.Bounds() != Size(tl, opts) {
		return fmt.Errorf("snapshot bounds %v, want %v", dst.Bounds(), Size(tl, opts))
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	s := scale{width: opts.Width, total: extent(tl)}
	drawRuler(dst, s, opts.RowHeight)

	for i, l := range tl.Layers() {
		y := (i + 1) * opts.RowHeight
		drawText(dst, 4, y+opts.RowHeight-4, fmt.Sprintf("L%d", l.Priority()))
		for _, c := range l.Clips() {
			if c.IsTransition() {
				continue
			}
			r := image.Rect(s.x(c.Start()), y+padding, s.x(c.End()), y+opts.RowHeight-padding)
			drawClip(dst, r, c, opts.Thumbnails)
		}
	}

	for _, at := range tl.AutoTransitions() {
		c := at.Clip()
		l, ok := c.Layer()
		if !ok {
			continue
		}
		row := layerRow(tl, l)
		if row < 0 {
			continue
		}
		y := (row + 1) * opts.RowHeight
		r := image.Rect(s.x(c.Start()), y+padding, s.x(c.End()), y+opts.RowHeight/2)
		draw.Draw(dst, r, image.NewUniform(transition), image.Point{}, draw.Over)
	}
	return nil
}

// Render allocates and draws the snapshot of tl.
func Render(tl *timeline.Timeline, opts Options) (*image.RGBA, error) {
	img := image.NewRGBA(Size(tl, opts))
	if err := Draw(img, tl, opts); err != nil {
		return nil, err
	}
	return img, nil
}

// WritePNG encodes the snapshot of tl to w.
func WritePNG(w io.Writer, tl *timeline.Timeline, opts Options) error {
	if opts.Width <= 0 || opts.RowHeight <= 0 {
		return fmt.Errorf("invalid snapshot size %dx%d", opts.Width, opts.RowHeight)
	}
	img := system.GetImage(Size(tl, opts))
	defer system.PutImage(img)
	if err := Draw(img, tl, opts); err != nil {
		return err
	}
	return png.Encode(w, img)
}

type scale struct {
	width int
	total time.Duration
}

func (s scale) x(t time.Duration) int {
	if t <= 0 {
		return 0
	}
	return int(int64(s.width) * int64(t) / int64(s.total))
}

// extent is the end of the last clip of tl, at least one second.
func extent(tl *timeline.Timeline) time.Duration {
	d := max(tl.Duration(), time.Second)
	for _, l := range tl.Layers() {
		for _, c := range l.Clips() {
			d = max(d, c.End())
		}
	}
	return d
}

func layerRow(tl *timeline.Timeline, l *timeline.Layer) int {
	for i, x := range tl.Layers() {
		if x == l {
			return i
		}
	}
	return -1
}

func drawRuler(dst *image.RGBA, s scale, rowHeight int) {
	step := tickStep(s.total)
	for t := time.Duration(0); t <= s.total; t += step {
		x := s.x(t)
		draw.Draw(dst, image.Rect(x, 0, x+1, rowHeight), image.NewUniform(ruler), image.Point{}, draw.Src)
		drawText(dst, x+2, rowHeight-4, timeline.FormatTime(t))
	}
}

// tickStep picks a ruler step giving at most ten ticks.
func tickStep(total time.Duration) time.Duration {
	for _, step := range []time.Duration{
		time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
		time.Minute, 5 * time.Minute, 10 * time.Minute, 30 * time.Minute,
	} {
		if total/step <= 10 {
			return step
		}
	}
	return time.Hour
}

func drawClip(dst *image.RGBA, r image.Rectangle, c *timeline.Clip, thumbs map[string]image.Image) {
	if r.Dx() <= 0 {
		return
	}
	col := defaultClipColor
	uri := ""
	if a := c.Asset(); a != nil {
		if v, ok := variantColors[a.Variant]; ok {
			col = v
		}
		uri = a.URI
	}
	draw.Draw(dst, r, image.NewUniform(border), image.Point{}, draw.Src)
	inner := r.Inset(1)
	if inner.Empty() {
		return
	}
	draw.Draw(dst, inner, image.NewUniform(col), image.Point{}, draw.Src)

	if thumb, ok := thumbs[uri]; ok && uri != "" {
		tr := thumbRect(inner, thumb.Bounds())
		draw.ApproxBiLinear.Scale(dst, tr, thumb, thumb.Bounds(), draw.Over, nil)
		inner.Min.X = tr.Max.X
	}
	if inner.Dx() > 20 {
		drawText(dst, inner.Min.X+3, inner.Max.Y-4, c.Name())
	}
}

// thumbRect fits an image of bounds src at the left of r, keeping its
// aspect ratio.
func thumbRect(r, src image.Rectangle) image.Rectangle {
	h := r.Dy()
	w := h
	if src.Dy() > 0 {
		w = h * src.Dx() / src.Dy()
	}
	w = min(w, r.Dx())
	return image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y)
}

func drawText(dst *image.RGBA, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(label),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
