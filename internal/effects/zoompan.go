package effects

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/ivlev/nletimeline/internal/timeline"
)

// ZoomPan slowly zooms into a still page and back out before the fade
// into the next clip.
type ZoomPan struct{}

func (*ZoomPan) TrackType() timeline.TrackType { return timeline.TrackVideo }

func (*ZoomPan) GenerateFilter(p Params) string {
	mode := strings.ToLower(p.ZoomMode)
	if mode == "random" || mode == "out-random" {
		modes := []string{"center", "top-left", "top-right", "bottom-left", "bottom-right"}
		r := rand.New(rand.NewSource(int64(p.Index*99 + 1)))
		mode = modes[r.Intn(len(modes))]
	}

	var zoomX, zoomY string
	switch mode {
	case "top-left":
		zoomX, zoomY = "0", "0"
	case "top-right":
		zoomX, zoomY = "iw-(iw/zoom)", "0"
	case "bottom-left":
		zoomX, zoomY = "0", "ih-(ih/zoom)"
	case "bottom-right":
		zoomX, zoomY = "iw-(iw/zoom)", "ih-(ih/zoom)"
	default:
		zoomX, zoomY = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	}

	fFPS := float64(p.FPS)
	fTotal := p.Duration.Seconds() * fFPS
	fFade := p.Fade.Seconds() * fFPS
	fOutro := p.Outro.Seconds() * fFPS
	fActive := fTotal - fFade
	if fActive <= 0 {
		fActive = fTotal
	}

	zSpeed := p.ZoomSpeed
	if zSpeed <= 0 {
		zSpeed = 0.001
	}

	// Frame at which the zoom stops growing.
	onPeak := 0.5 / zSpeed
	if fActive-fOutro > 0 && onPeak > (fActive-fOutro)/2 {
		onPeak = (fActive - fOutro) / 2
	}

	actualPeak := 1.0 + zSpeed*onPeak
	if actualPeak > 1.5 {
		actualPeak = 1.5
		onPeak = 0.5 / zSpeed
	}

	outroStart := fActive - fOutro
	if outroStart < onPeak {
		outroStart = onPeak
	}

	zFormula := fmt.Sprintf("if(lte(on,%f), 1.0+(%f*on), if(lte(on,%f), %f, if(lte(on,%f), %f-(%f-1.0)*(on-%f)/(%f-%f), 1.0)))",
		onPeak, zSpeed, outroStart, actualPeak, fActive, actualPeak, actualPeak, outroStart, fActive, outroStart)

	return fmt.Sprintf("%s,zoompan=z='%s':d=%d:s=%dx%d:x='%s':y='%s':fps=%d,scale=%d:%d",
		aspectFilter(p), zFormula, int(fTotal), p.Width, p.Height, zoomX, zoomY, p.FPS, p.Width, p.Height)
}

// aspectFilter letterboxes the input at twice the output size so the zoom
// keeps its sharpness.
func aspectFilter(p Params) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		p.Width*2, p.Height*2, p.Width*2, p.Height*2,
	)
}

// KeyframedZoom renders the "zoom" binding of an effect as a piecewise
// linear zoompan expression over the output frames.
func KeyframedZoom(b *timeline.ControlBinding, p Params) string {
	p = p.withDefaults()
	kfs := b.Keyframes()
	if len(kfs) == 0 {
		return aspectFilter(p) + fmt.Sprintf(",scale=%d:%d", p.Width, p.Height)
	}
	return fmt.Sprintf("%s,zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=%dx%d:fps=%d",
		aspectFilter(p), zoomExpression(kfs, p.FPS), p.Width, p.Height, p.FPS)
}

func zoomExpression(kfs []timeline.Keyframe, fps int) string {
	if len(kfs) == 1 {
		return fmt.Sprintf("%.6f", kfs[0].Value)
	}

	var sb strings.Builder
	open := 0
	for i := 0; i < len(kfs)-1; i++ {
		startFrame := int(kfs[i].Time.Seconds() * float64(fps))
		endFrame := int(kfs[i+1].Time.Seconds() * float64(fps))
		if endFrame <= startFrame {
			continue
		}
		fmt.Fprintf(&sb, "if(lte(on,%d),%.6f+(on-%d)/%d*(%.6f-%.6f),",
			endFrame, kfs[i].Value, startFrame, endFrame-startFrame, kfs[i+1].Value, kfs[i].Value)
		open++
	}
	fmt.Fprintf(&sb, "%.6f", kfs[len(kfs)-1].Value)
	sb.WriteString(strings.Repeat(")", open))
	return sb.String()
}
