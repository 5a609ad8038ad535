// Package muxer encodes a finished motion event's frames to an MP4 clip
// by piping raw RGB24 frames into an external ffmpeg process, the same
// exec.Cmd/StdinPipe/stderr-drain pattern the teacher uses for its
// decode-side subprocess management, run in reverse.
package muxer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"camwatch/internal/motion"
)

var (
	// ErrEmptyEvent is returned when the event carries no frames.
	ErrEmptyEvent = errors.New("muxer: event has no frames")
	// ErrEncoderFailed is returned when the ffmpeg subprocess exits non-zero.
	ErrEncoderFailed = errors.New("muxer: encoder exited non-zero")
)

// Sidecar is the JSON document written alongside every clip.
type Sidecar struct {
	Camera                 string  `json:"camera"`
	When                   string  `json:"when"`
	TotalScore             float64 `json:"total_score"`
	StartStreamFrameNumber uint64  `json:"start_stream_frame_number"`
	EndStreamFrameNumber   uint64  `json:"end_stream_frame_number"`
	ShaBlake2b             string  `json:"sha_blake2b"`
}

// WriteClip encodes event.Frames to an MP4 at destPath using ffmpeg at
// the given frame rate, H.264 with closed GOPs. destPath's sibling
// "<destPath without .mp4>.json" gets the event's sidecar. At most one
// frame is held in memory at a time beyond what the event itself
// already retains.
func WriteClip(ctx context.Context, camera string, event motion.Event, fps int, destPath string) error {
	if len(event.Frames) == 0 {
		return ErrEmptyEvent
	}

	width := event.Frames[0].Frame.Width
	height := event.Frames[0].Frame.Height

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("muxer: create clip directory: %w", err)
	}

	tmpPath := destPath + ".tmp-" + randomSuffix()
	if err := encode(ctx, event, width, height, fps, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("muxer: finalize clip: %w", err)
	}

	digest, err := digestFile(destPath)
	if err != nil {
		return fmt.Errorf("muxer: digest clip: %w", err)
	}

	sidecar := Sidecar{
		Camera:                 camera,
		When:                   time.Now().UTC().Format(time.RFC3339),
		TotalScore:             event.TotalScore,
		StartStreamFrameNumber: event.StartStreamFrame,
		EndStreamFrameNumber:   event.EndStreamFrame,
		ShaBlake2b:             digest,
	}
	return writeSidecar(destPath, sidecar)
}

func encode(ctx context.Context, event motion.Event, width, height, fps int, tmpPath string) error {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libx264",
		"-g", fmt.Sprintf("%d", fps), // one keyframe per second, closed GOP
		"-pix_fmt", "yuv420p",
		tmpPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("muxer: create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("muxer: create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("muxer: start encoder: %w", err)
	}

	var stderrBuf bytes.Buffer
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteByte('\n')
		}
	}()

	writeErr := writeFrames(stdin, event)
	stdin.Close()
	<-drained

	if err := cmd.Wait(); err != nil {
		log.Printf("[muxer] encoder failed: %v: %s", err, stderrBuf.String())
		return fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}
	return writeErr
}

func writeFrames(w io.Writer, event motion.Event) error {
	for i := range event.Frames {
		if _, err := w.Write(event.Frames[i].Frame.Pix); err != nil {
			return fmt.Errorf("muxer: write frame %d to encoder: %w", i, err)
		}
	}
	return nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeSidecar(clipPath string, s Sidecar) error {
	sidecarPath := clipPath[:len(clipPath)-len(filepath.Ext(clipPath))] + ".json"
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("muxer: marshal sidecar: %w", err)
	}
	return os.WriteFile(sidecarPath, data, 0o644)
}

func randomSuffix() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
