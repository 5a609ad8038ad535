// Package camera drives one RTSP camera's decoder subprocess, feeds its
// frames to a motion.Detector, and dispatches the side jobs each
// transition calls for: metrics, a push alert, and an MP4 clip.
package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"camwatch/internal/alert"
	"camwatch/internal/config"
	"camwatch/internal/eventstore"
	"camwatch/internal/metrics"
	"camwatch/internal/motion"
	"camwatch/internal/muxer"
	"camwatch/internal/preview"
)

// respawnBackoff is how long the worker waits before respawning a
// decoder that exited or failed to start.
const respawnBackoff = time.Second

// Worker owns one motion.Detector and one decoder subprocess for a
// single camera, for the lifetime of a Run call.
type Worker struct {
	name     string
	cfg      config.Camera
	eventDir string

	alertClient *alert.Client
	store       *eventstore.Store

	detector *motion.Detector
}

// NewWorker builds a Worker for cfg. Only config.ModeMotion is
// implemented; any other mode is a configuration error rather than a
// crash at first frame.
func NewWorker(cfg config.Camera, eventDir string, alertClient *alert.Client, store *eventstore.Store) (*Worker, error) {
	if cfg.Mode != config.ModeMotion {
		return nil, fmt.Errorf("camera %q: mode %q is not implemented", cfg.Name, cfg.Mode)
	}

	mask, err := cfg.LoadMask()
	if err != nil {
		return nil, fmt.Errorf("camera %q: %w", cfg.Name, err)
	}

	det, err := motion.New(cfg.Width, cfg.Height, motion.Config{
		ChangeMinimum:      cfg.ChangeMinimum,
		ChangeMaximum:      cfg.ChangeMaximum,
		StdDevMinimum:      cfg.StdDevMinimum,
		MinimumFrameCount:  cfg.MinimumFrameCount,
		MinimumTotalChange: cfg.MinimumTotalChange,
		FollowupFrameCount: cfg.FollowupFrameCount,
		MaximumFrameWait:   cfg.MaximumFrameWait,
		Mask:               mask,
	})
	if err != nil {
		return nil, fmt.Errorf("camera %q: %w", cfg.Name, err)
	}

	return &Worker{
		name:        cfg.Name,
		cfg:         cfg,
		eventDir:    eventDir,
		alertClient: alertClient,
		store:       store,
		detector:    det,
	}, nil
}

// Run drives the camera's decoder and detector until ctx is canceled. A
// decoder that fails to start or exits mid-stream is respawned after a
// fixed backoff, indefinitely. A panic anywhere in the per-frame path is
// recovered here so it only takes down this camera's goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("camera[%s]: worker panicked, giving up: %v", w.name, r)
		}
	}()

	dec := &decoder{
		device: w.cfg.Device,
		width:  w.cfg.Width,
		height: w.cfg.Height,
		fps:    w.cfg.FPS,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := dec.start(); err != nil {
			log.Printf("camera[%s]: decoder start failed: %v", w.name, err)
			dec.stop()
			if !sleepOrDone(ctx, respawnBackoff) {
				return
			}
			continue
		}

		w.runSession(ctx, dec)
		dec.stop()

		if !sleepOrDone(ctx, respawnBackoff) {
			return
		}
	}
}

// runSession pumps frames from one decoder instance through the
// detector until the decoder fails or ctx is canceled.
func (w *Worker) runSession(ctx context.Context, dec *decoder) {
	frames := make(chan motion.Frame, 10)

	go func() {
		defer close(frames)
		buf := make([]byte, dec.frameSize())
		for {
			if err := dec.readFrame(buf); err != nil {
				log.Printf("camera[%s]: %v", w.name, err)
				return
			}
			pix := make([]byte, len(buf))
			copy(pix, buf)
			select {
			case frames <- motion.Frame{Width: w.cfg.Width, Height: w.cfg.Height, Pix: pix}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			w.processFrame(f)
		}
	}
}

// processFrame advances the detector with one frame, publishes its
// stats, and fully drains and dispatches the resulting transitions
// before returning — the next frame is not read until this returns.
func (w *Worker) processFrame(f motion.Frame) {
	stats := w.detector.Advance(f)

	metrics.FrameCounter.WithLabelValues(w.name).Inc()
	metrics.ChangeSum.WithLabelValues(w.name).Add(stats.Change)
	metrics.StdDevSum.WithLabelValues(w.name).Add(stats.StdDev)

	for _, t := range w.detector.DrainTransitions() {
		w.dispatch(t)
	}
}

func (w *Worker) dispatch(t motion.Transition) {
	metrics.CurrentState.WithLabelValues(w.name).Set(float64(t.State.Kind.Discriminant()))

	switch t.State.Kind {
	case motion.StateRejected:
		event := t.State.Event
		metrics.RejectCount.WithLabelValues(w.name).Inc()
		metrics.RejectScore.WithLabelValues(w.name).Observe(event.TotalScore)
		metrics.LastRejectFrame.WithLabelValues(w.name).Set(float64(event.EndStreamFrame))
		w.recordEvent(*event, eventstore.OutcomeRejected, "", "")

	case motion.StateConfirmedInProgress:
		metrics.ConfirmCount.WithLabelValues(w.name).Inc()
		event := *t.State.Event
		go w.dispatchAlert(event, t.WallClock, "Motion in progress")

	case motion.StateCompleted:
		event := *t.State.Event
		metrics.CompleteCount.WithLabelValues(w.name).Inc()
		metrics.CompleteScore.WithLabelValues(w.name).Observe(event.TotalScore)
		metrics.LastCompleteFrame.WithLabelValues(w.name).Set(float64(event.EndStreamFrame))

		title := "Motion detected"
		if t.State.WasConfirmedAlready {
			title = "Motion event finished"
		}
		go w.dispatchAlert(event, t.WallClock, title)
		go w.writeClip(event, t.WallClock)
	}
}

// dispatchAlert builds a preview for event and sends it through the
// alert client. It is meant to run as a detached goroutine: failures
// are logged and otherwise swallowed, matching the source's
// at-most-once, fire-and-forget alert semantics.
func (w *Worker) dispatchAlert(event motion.Event, wallClock time.Time, title string) {
	start := time.Now()
	defer func() {
		metrics.AlertCount.WithLabelValues(w.name).Inc()
		metrics.AlertLatencyMS.WithLabelValues(w.name).Add(float64(time.Since(start).Milliseconds()))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := alert.Alert{
		Title:     title,
		Message:   fmt.Sprintf("camera %s, score %.1f", w.name, event.TotalScore),
		Timestamp: wallClock,
		Priority:  alert.PriorityNormal,
	}

	attachment, err := w.buildAttachment(event, wallClock)
	if err != nil {
		log.Printf("camera[%s]: preview build failed: %v", w.name, err)
	} else if attachment != nil {
		a.Attachment = attachment
	}

	if err := w.alertClient.Send(ctx, w.name, a); err != nil {
		log.Printf("camera[%s]: alert send failed: %v", w.name, err)
	}
}

// buildAttachment encodes event's preview, falling back from webp to
// gif when the webp encoder reports the budget was exceeded, per
// spec.md's webp-over-budget retry contract.
func (w *Worker) buildAttachment(event motion.Event, wallClock time.Time) (*alert.Attachment, error) {
	format := previewFormat(w.cfg.PreviewFormat)
	if format == preview.FormatNone {
		return nil, nil
	}

	opts := preview.Options{
		MaxPreviewDimension: w.cfg.MaxPreviewDimension,
		OverlayTimestamp:    w.cfg.OverlayTimestamp,
		CameraName:          w.name,
		EventStart:          wallClock.Add(-time.Duration(len(event.Frames)) * time.Second / time.Duration(max(w.cfg.FPS, 1))),
	}

	result, err := preview.BuildPreview(event, w.cfg.FPS, format, opts)
	if errors.Is(err, preview.ErrTooLarge) && format == preview.FormatWebP {
		result, err = preview.BuildPreview(event, w.cfg.FPS, preview.FormatGIF, opts)
	}
	if err != nil {
		return nil, err
	}
	if len(result.Bytes) == 0 {
		return nil, nil
	}
	return &alert.Attachment{Bytes: result.Bytes, Mime: result.Mime, Filename: result.Filename}, nil
}

func previewFormat(f config.PreviewFormat) preview.Format {
	switch f {
	case config.PreviewJPEG:
		return preview.FormatJPEG
	case config.PreviewGIF:
		return preview.FormatGIF
	case config.PreviewWebP:
		return preview.FormatWebP
	default:
		return preview.FormatNone
	}
}

// writeClip encodes event to an MP4 under w.eventDir and records it in
// the event store. Meant to run detached, same fire-and-forget policy
// as dispatchAlert.
func (w *Worker) writeClip(event motion.Event, wallClock time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	clipPath := filepath.Join(w.eventDir, fmt.Sprintf("%s_%d.mp4", w.name, wallClock.Unix()))
	if err := muxer.WriteClip(ctx, w.name, event, w.cfg.FPS, clipPath); err != nil {
		log.Printf("camera[%s]: clip write failed: %v", w.name, err)
		w.recordEvent(event, eventstore.OutcomeCompleted, "", "")
		return
	}

	w.recordEvent(event, eventstore.OutcomeCompleted, clipPath, sidecarDigest(clipPath))
}

// sidecarDigest reads back the blake2b digest WriteClip computed into
// the clip's JSON sidecar, so the event store records the same digest
// without hashing the file a second time.
func sidecarDigest(clipPath string) string {
	sidecarPath := clipPath[:len(clipPath)-len(filepath.Ext(clipPath))] + ".json"
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return ""
	}
	var sidecar muxer.Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return ""
	}
	return sidecar.ShaBlake2b
}

func (w *Worker) recordEvent(event motion.Event, outcome eventstore.Outcome, clipPath, digest string) {
	if w.store == nil {
		return
	}
	record := eventstore.Record{
		ID:               uuid.NewString(),
		Camera:           w.name,
		When:             time.Now(),
		StartStreamFrame: event.StartStreamFrame,
		EndStreamFrame:   event.EndStreamFrame,
		TotalScore:       event.TotalScore,
		ClipPath:         clipPath,
		Digest:           digest,
		Outcome:          outcome,
	}
	if err := w.store.Insert(record); err != nil {
		log.Printf("camera[%s]: event store insert failed: %v", w.name, err)
	}
}

// sleepOrDone waits for d or ctx's cancellation, whichever comes first,
// reporting whether the sleep completed without cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
