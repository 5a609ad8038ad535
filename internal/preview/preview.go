// Package preview encodes a finished motion event into a size-bounded
// still or animated attachment for the alert client: a JPEG of the
// highest-change frame, a looping GIF, or a lossy animated WebP. A WebP
// that overflows the attachment budget is reported as ErrTooLarge so the
// caller can retry with GIF.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"math"
	"time"

	"github.com/deepteams/webp/animation"
	"github.com/disintegration/imaging"

	"camwatch/internal/motion"
	"camwatch/internal/overlay"
)

// Format selects which encoder BuildPreview uses.
type Format int

const (
	FormatNone Format = iota
	FormatJPEG
	FormatGIF
	FormatWebP
)

const (
	// MaxAttachment is half of 5 MiB, the hard cap on alert previews.
	MaxAttachment = 5 * 1024 * 1024 / 2
	// MaxWebPFrames bounds how many frames an animated webp samples.
	MaxWebPFrames = MaxAttachment / 8192
)

// ErrEmptyEvent is returned when the event carries no frames.
var ErrEmptyEvent = errors.New("preview: event has no frames")

// ErrTooLarge is returned when an encoder cannot fit within
// MaxAttachment; the caller is expected to retry with a cheaper format.
var ErrTooLarge = errors.New("preview: encoded output exceeds attachment budget")

// Options configures supplemented, opt-in preview behavior absent from
// the original source: downscaling and timestamp/camera burn-in.
type Options struct {
	// MaxPreviewDimension downscales frames wider or taller than this
	// before encoding. Zero disables downscaling.
	MaxPreviewDimension int
	// OverlayTimestamp burns the wall-clock time and camera name into
	// the corner of every frame before encoding.
	OverlayTimestamp bool
	CameraName       string
	// EventStart is the wall-clock time of the event's first frame,
	// used to derive each frame's overlay timestamp from fps.
	EventStart time.Time
}

// Result is the output of BuildPreview.
type Result struct {
	Bytes    []byte
	Mime     string
	Filename string
}

// BuildPreview encodes event at the given frame rate into format.
func BuildPreview(event motion.Event, fps int, format Format, opts Options) (Result, error) {
	if len(event.Frames) == 0 {
		return Result{}, ErrEmptyEvent
	}
	if fps <= 0 {
		fps = 1
	}

	switch format {
	case FormatNone:
		return Result{}, nil
	case FormatJPEG:
		return buildJPEG(event, opts)
	case FormatGIF:
		return buildGIF(event, fps, opts)
	case FormatWebP:
		return buildWebP(event, fps, opts)
	default:
		return Result{}, fmt.Errorf("preview: unknown format %d", format)
	}
}

func buildJPEG(event motion.Event, opts Options) (Result, error) {
	best := 0
	for i := 1; i < len(event.Frames); i++ {
		if event.Frames[i].Change > event.Frames[best].Change {
			best = i
		}
	}

	img := prepareFrame(event.Frames[best].Frame, opts, best)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return Result{}, fmt.Errorf("preview: encode jpeg: %w", err)
	}
	return Result{Bytes: buf.Bytes(), Mime: "image/jpeg", Filename: "preview.jpg"}, nil
}

func buildGIF(event motion.Event, fps int, opts Options) (Result, error) {
	delay := 100 / fps
	if delay < 1 {
		delay = 1
	}

	var g gif.GIF
	g.LoopCount = 0 // 0 means loop forever.

	var checkpoint sizeCheckpoint
	for i, sf := range event.Frames {
		img := prepareFrame(sf.Frame, opts, i)
		palette := imageToPaletted(img)

		g.Image = append(g.Image, palette)
		g.Delay = append(g.Delay, delay)

		var candidate bytes.Buffer
		if err := gif.EncodeAll(&candidate, &g); err != nil {
			return Result{}, fmt.Errorf("preview: encode gif: %w", err)
		}

		if !checkpoint.Consider(candidate.Bytes(), MaxAttachment) {
			g.Image = g.Image[:len(g.Image)-1]
			g.Delay = g.Delay[:len(g.Delay)-1]
			break
		}
	}

	out := checkpoint.Bytes()
	if len(out) == 0 {
		return Result{}, ErrTooLarge
	}
	return Result{Bytes: out, Mime: "image/gif", Filename: "preview.gif"}, nil
}

func buildWebP(event motion.Event, fps int, opts Options) (Result, error) {
	n := len(event.Frames)
	frameCount := MaxWebPFrames
	if n < frameCount {
		frameCount = n
	}

	indices := sampleIndices(n, frameCount)

	width := event.Frames[0].Frame.Width
	height := event.Frames[0].Frame.Height
	if opts.MaxPreviewDimension > 0 {
		w, h := downscaledSize(width, height, opts.MaxPreviewDimension)
		width, height = w, h
	}

	var buf bytes.Buffer
	enc := animation.NewEncoder(&buf, width, height, &animation.EncodeOptions{
		LoopCount: 0,
		Quality:   25,
		Lossless:  false,
	})

	durationMS := 1000 / fps
	var prevTimestamp time.Duration
	for k, idx := range indices {
		img := prepareFrame(event.Frames[idx].Frame, opts, idx)
		timestamp := time.Duration(k*durationMS) * time.Millisecond
		duration := timestamp - prevTimestamp
		if k == 0 {
			duration = time.Duration(durationMS) * time.Millisecond
		}
		if err := enc.AddFrame(img, duration); err != nil {
			return Result{}, fmt.Errorf("preview: encode webp frame %d: %w", k, err)
		}
		prevTimestamp = timestamp
	}

	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("preview: finalize webp: %w", err)
	}

	if buf.Len() > MaxAttachment {
		return Result{}, ErrTooLarge
	}
	return Result{Bytes: buf.Bytes(), Mime: "image/webp", Filename: "preview.webp"}, nil
}

// sampleIndices picks at most frameCount frame indices out of n, evenly
// distributed: the k-th emitted index is round(k*n/frameCount), bumped
// forward by one whenever it would repeat the previous emitted index.
// Callers normally keep frameCount <= n (buildWebP caps it that way);
// indices still stay in range when that isn't true.
func sampleIndices(n, frameCount int) []int {
	if frameCount <= 0 || n == 0 {
		return nil
	}
	indices := make([]int, 0, frameCount)
	prev := -1
	for k := 0; k < frameCount; k++ {
		idx := int(math.Round(float64(k) * float64(n) / float64(frameCount)))
		if idx == prev {
			idx++
		}
		if idx >= n {
			idx = n - 1
		}
		indices = append(indices, idx)
		prev = idx
	}
	return indices
}

func prepareFrame(f motion.Frame, opts Options, index int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		off := i * 3
		img.Pix[i*4] = f.Pix[off]
		img.Pix[i*4+1] = f.Pix[off+1]
		img.Pix[i*4+2] = f.Pix[off+2]
		img.Pix[i*4+3] = 0xff
	}

	var out image.Image = img
	if opts.MaxPreviewDimension > 0 {
		w, h := downscaledSize(f.Width, f.Height, opts.MaxPreviewDimension)
		if w != f.Width || h != f.Height {
			out = imaging.Resize(img, w, h, imaging.NearestNeighbor)
		}
	}

	final, ok := out.(*image.NRGBA)
	if !ok {
		final = imaging.Clone(out)
	}

	if opts.OverlayTimestamp {
		overlay.Caption(final, opts.CameraName, opts.EventStart.Add(time.Duration(index)*time.Second))
	}
	return final
}

func downscaledSize(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		scaled := h * max / w
		return max, scaled
	}
	scaled := w * max / h
	return scaled, max
}

func imageToPaletted(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	palette := palette256(img)
	paletted := image.NewPaletted(bounds, palette)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			paletted.Set(x, y, img.At(x, y))
		}
	}
	return paletted
}

// palette256 builds a web-safe-ish 216 color cube plus grayscale ramp,
// adequate for motion preview frames without per-image quantization.
func palette256(image.Image) color.Palette {
	var p color.Palette
	for r := 0; r < 6; r++ {
		for g := 0; g < 6; g++ {
			for b := 0; b < 6; b++ {
				p = append(p, color.NRGBA{
					R: uint8(r * 51),
					G: uint8(g * 51),
					B: uint8(b * 51),
					A: 0xff,
				})
			}
		}
	}
	for i := 0; i < 40; i++ {
		v := uint8(i * 255 / 39)
		p = append(p, color.NRGBA{R: v, G: v, B: v, A: 0xff})
	}
	return p
}
