package effects

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
)

func TestRegistryAsset(t *testing.T) {
	r := Default()

	tests := []struct {
		name      string
		params    Params
		trackType timeline.TrackType
		contains  string
	}{
		{"zoompan", Params{Duration: 4 * time.Second, Fade: time.Second}, timeline.TrackVideo, "zoompan=z="},
		{"blur", Params{Sigma: 5}, timeline.TrackVideo, "gblur=sigma=5.00"},
		{"volume", Params{Gain: 0.5}, timeline.TrackAudio, "volume=0.500"},
		{"fadein", Params{Duration: 4 * time.Second, Fade: time.Second}, timeline.TrackVideo, "fade=t=in:st=0:d=1.000"},
		{"afadeout", Params{Duration: 4 * time.Second, Fade: time.Second}, timeline.TrackAudio, "afade=t=out:st=3.000:d=1.000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := r.Asset(tt.name, tt.params)
			if err != nil {
				t.Fatalf("Asset(%s): %v", tt.name, err)
			}
			if asset.TrackType != tt.trackType {
				t.Errorf("track type: got %s, want %s", asset.TrackType, tt.trackType)
			}
			if !strings.Contains(asset.Description, tt.contains) {
				t.Errorf("description %q does not contain %q", asset.Description, tt.contains)
			}
		})
	}
}

func TestRegistryUnknownEffect(t *testing.T) {
	if _, err := Default().Asset("sepia", Params{}); !errors.Is(err, timeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register("volume", &Volume{})
	r.Register("blur", &Blur{})
	names := r.Names()
	if len(names) != 2 || names[0] != "blur" || names[1] != "volume" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestZoomPanIsReproducible(t *testing.T) {
	p := Params{Duration: 3 * time.Second, ZoomMode: "random", Index: 4}.withDefaults()
	z := &ZoomPan{}
	if a, b := z.GenerateFilter(p), z.GenerateFilter(p); a != b {
		t.Errorf("random zoom mode should depend on the clip index only:\n%s\n%s", a, b)
	}
	if !strings.HasSuffix(z.GenerateFilter(p), "scale=1280:720") {
		t.Errorf("filter should end with the output scale: %s", z.GenerateFilter(p))
	}
}

func TestKeyframedZoom(t *testing.T) {
	b := timeline.NewControlBinding("zoom", timeline.InterpolateLinear, []timeline.Keyframe{
		{Time: 2 * time.Second, Value: 1.5},
		{Time: 0, Value: 1},
		{Time: 4 * time.Second, Value: 1},
	})
	got := zoomExpression(b.Keyframes(), 10)
	want := "if(lte(on,20),1.000000+(on-0)/20*(1.500000-1.000000),if(lte(on,40),1.500000+(on-20)/20*(1.000000-1.500000),1.000000))"
	if got != want {
		t.Errorf("zoom expression:\ngot  %s\nwant %s", got, want)
	}

	filter := KeyframedZoom(b, Params{FPS: 10, Width: 640, Height: 360})
	if !strings.Contains(filter, "s=640x360:fps=10") {
		t.Errorf("unexpected filter: %s", filter)
	}

	empty := KeyframedZoom(timeline.NewControlBinding("zoom", timeline.InterpolateLinear, nil), Params{})
	if strings.Contains(empty, "zoompan") {
		t.Errorf("a binding without keyframes should not zoom: %s", empty)
	}
}
