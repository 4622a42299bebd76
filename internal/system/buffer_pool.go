package system

import (
	"image"
	"sync"
)

// imagePools holds one sync.Pool of *image.RGBA per buffer bounds, so
// repeated snapshots of the same size reuse their canvas.
var imagePools sync.Map // image.Rectangle -> *sync.Pool

// GetImage returns a cleared RGBA buffer of bounds rect.
func GetImage(rect image.Rectangle) *image.RGBA {
	v, ok := imagePools.Load(rect)
	if !ok {
		v, _ = imagePools.LoadOrStore(rect, &sync.Pool{
			New: func() any { return image.NewRGBA(rect) },
		})
	}
	img := v.(*sync.Pool).Get().(*image.RGBA)
	clear(img.Pix)
	return img
}

// PutImage hands img back for reuse. Buffers of bounds never requested
// through GetImage are dropped.
func PutImage(img *image.RGBA) {
	if img == nil {
		return
	}
	if v, ok := imagePools.Load(img.Rect); ok {
		v.(*sync.Pool).Put(img)
	}
}
