package timeline

import (
	"fmt"
	"time"
)

// Asset is a template that extracts timeline elements.
type Asset interface {
	ID() string
	Extract(ctx *Context) (Element, error)
}

// ClipVariant selects which track elements a clip asset creates.
type ClipVariant int

const (
	VariantURI ClipVariant = iota
	VariantTest
	VariantTitle
	VariantImage
	VariantTransition
)

func (v ClipVariant) String() string {
	switch v {
	case VariantURI:
		return "uri"
	case VariantTest:
		return "test"
	case VariantTitle:
		return "title"
	case VariantImage:
		return "image"
	case VariantTransition:
		return "transition"
	}
	return "unknown"
}

// ParseClipVariant maps a script name to a ClipVariant.
func ParseClipVariant(s string) (ClipVariant, error) {
	for _, v := range []ClipVariant{VariantURI, VariantTest, VariantTitle, VariantImage, VariantTransition} {
		if v.String() == s {
			return v, nil
		}
	}
	if s == "" {
		return VariantURI, nil
	}
	return VariantURI, fmt.Errorf("unknown clip variant %q", s)
}

// ClipAsset describes the content of a clip. URI clips have internal
// content bounded by MaxDuration; test, title and image clips generate
// their content; transition clips hold transitions.
type ClipAsset struct {
	URI         string
	Variant     ClipVariant
	Formats     TrackType
	MaxDuration time.Duration
	Duration    time.Duration
	Description string
}

// CrossfadeAsset is the transition asset used for auto-transitions by
// default.
func CrossfadeAsset() *ClipAsset {
	return &ClipAsset{
		Variant:     VariantTransition,
		Formats:     TrackAudio | TrackVideo,
		Description: "crossfade",
	}
}

func (a *ClipAsset) ID() string {
	if a.URI != "" {
		return a.URI
	}
	return a.Variant.String() + ":" + a.Description
}

// Extract creates an unplaced clip for the asset.
func (a *ClipAsset) Extract(ctx *Context) (Element, error) {
	return NewClip(ctx, a), nil
}

// CreateTrackElements creates one core element per track type bit of t
// that the asset supports.
func (a *ClipAsset) CreateTrackElements(ctx *Context, t TrackType) []*TrackElement {
	var out []*TrackElement
	for bit := TrackUnknown; bit <= TrackCustom; bit <<= 1 {
		if t&bit == 0 || a.Formats&bit == 0 {
			continue
		}
		switch a.Variant {
		case VariantURI:
			te := NewSource(ctx, bit, true)
			if a.MaxDuration > 0 {
				if err := te.SetMaxDuration(a.MaxDuration); err != nil {
					ctx.log.Warn("could not bound source by its asset")
				}
			}
			out = append(out, te)
		case VariantTest, VariantTitle, VariantImage:
			out = append(out, NewSource(ctx, bit, false))
		case VariantTransition:
			out = append(out, NewTransition(ctx, bit, a.Description))
		}
	}
	return out
}

// EffectAsset describes an effect added on top of a clip.
type EffectAsset struct {
	Description string
	TrackType   TrackType
}

func (a *EffectAsset) ID() string { return "effect:" + a.Description }

// Extract creates an unplaced effect.
func (a *EffectAsset) Extract(ctx *Context) (Element, error) {
	if a.TrackType == 0 {
		return nil, fmt.Errorf("%w: effect %q has no track type", ErrUnsupported, a.Description)
	}
	return NewEffect(ctx, a.TrackType, a.Description), nil
}
