// Package motion implements the per-camera motion-detection state
// machine: it turns a sequence of raw RGB frames into a sequence of
// discrete motion events with pre-roll, post-roll and hysteresis
// semantics. The algorithm is grounded on the source this system was
// distilled from (a running per-frame state machine with no I/O and no
// suspension points) rather than on the teacher's own AI-gated motion
// package, which solves a different problem.
package motion

import (
	"fmt"
	"time"

	"camwatch/internal/diff"
)

// Detector advances one frame at a time and accumulates state
// transitions for the caller to drain after every frame. It is owned
// exclusively by a single goroutine; nothing here is safe for concurrent
// use.
type Detector struct {
	width, height int
	cfg           Config

	clock func() time.Time

	lastFrame *Frame
	n         uint64

	run       []ScoredFrame
	followup  []ScoredFrame
	start     *uint64
	score     float64
	confirmed bool

	pending []Transition
}

// New creates a Detector for frames of the given shape. cfg is copied;
// mutating the Config after New returns has no effect.
func New(width, height int, cfg Config) (*Detector, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("motion: invalid frame shape %dx%d", width, height)
	}
	if cfg.Mask != nil && len(cfg.Mask) != width*height {
		return nil, fmt.Errorf("motion: mask length %d does not match frame shape %dx%d", len(cfg.Mask), width, height)
	}
	return &Detector{
		width:  width,
		height: height,
		cfg:    cfg,
		clock:  time.Now,
	}, nil
}

// DrainTransitions returns and clears all transitions accumulated since
// the last call.
func (d *Detector) DrainTransitions() []Transition {
	out := d.pending
	d.pending = nil
	return out
}

// Advance consumes one frame and appends zero or more transitions to the
// detector's pending queue. A frame whose shape does not match the
// detector's is a producer bug and panics.
func (d *Detector) Advance(f Frame) FrameStats {
	if f.Width != d.width || f.Height != d.height {
		panic(fmt.Sprintf("motion: frame shape mismatch: detector is %dx%d, frame is %dx%d", d.width, d.height, f.Width, f.Height))
	}

	now := d.clock()

	if d.lastFrame == nil {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateIdle, FrameNumber: d.n}})
		lf := copyFrame(f)
		d.lastFrame = &lf
		d.n++
		return FrameStats{Change: 0, StdDev: 0, FrameNumber: d.n - 1}
	}

	n := d.n
	res := diff.Diff(asDiffFrame(*d.lastFrame), asDiffFrame(f), d.cfg.Mask)
	motionPositive := res.Average > d.cfg.ChangeMinimum &&
		res.Average < d.cfg.ChangeMaximum &&
		res.StdDevEstimate > d.cfg.StdDevMinimum

	switch {
	case motionPositive:
		d.advanceMotionPositive(f, res, n, now)
	case len(d.run) > 0:
		d.advanceMotionNegativeWithRun(f, n, now)
	default:
		// motion-negative with no active run: nothing to emit.
	}

	lf := copyFrame(f)
	d.lastFrame = &lf
	d.n++
	return FrameStats{Change: res.Average, StdDev: res.StdDevEstimate, FrameNumber: n}
}

func (d *Detector) advanceMotionPositive(f Frame, res diff.Result, n uint64, now time.Time) {
	if len(d.followup) > 0 {
		d.run = append(d.run, d.followup...)
		d.followup = nil
	} else if len(d.run) == 0 {
		d.run = append(d.run, ScoredFrame{Frame: copyFrame(*d.lastFrame), Change: 0, StdDev: 0})
	}
	if d.start == nil {
		s := n - 1
		d.start = &s
	}

	budget := uint64(d.cfg.MaximumFrameWait + d.cfg.FollowupFrameCount + d.cfg.MinimumFrameCount)
	elapsed := n - *d.start
	if d.score >= d.cfg.MinimumTotalChange && elapsed > budget && !d.confirmed {
		d.confirmed = true
		snap := d.snapshotRun(*d.start, n)
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateConfirmedInProgress, Event: &snap}})
	}

	d.run = append(d.run, ScoredFrame{Frame: copyFrame(f), Change: res.Average, StdDev: res.StdDevEstimate})
	d.score += res.Average

	if len(d.run) <= d.cfg.MinimumFrameCount || d.score < d.cfg.MinimumTotalChange {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateWaitAndSee, Start: *d.start, Current: n, Score: d.score}})
	} else {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateActive, Start: *d.start, Current: n, Score: d.score}})
	}
}

func (d *Detector) advanceMotionNegativeWithRun(f Frame, n uint64, now time.Time) {
	if len(d.followup) < d.cfg.FollowupFrameCount {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateFollowup, Start: *d.start, Current: n, Score: d.score}})
		d.followup = append(d.followup, ScoredFrame{Frame: copyFrame(f), Change: 0, StdDev: 0})
		return
	}

	reject := len(d.run) <= d.cfg.MinimumFrameCount || d.score < d.cfg.MinimumTotalChange
	frames := append(d.run, d.followup...)
	event := Event{
		StartStreamFrame: *d.start,
		EndStreamFrame:   n - 1,
		Frames:           frames,
		TotalScore:       d.score,
	}

	if reject {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateRejected, Event: &event}})
	} else {
		d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateCompleted, Event: &event, WasConfirmedAlready: d.confirmed}})
	}
	d.pending = append(d.pending, Transition{WallClock: now, State: State{Kind: StateIdle, FrameNumber: n}})

	d.run = nil
	d.followup = nil
	d.score = 0
	d.confirmed = false
	d.start = nil
}

// snapshotRun copies the in-progress run into an independently owned
// Event so later appends to d.run cannot be observed through it.
func (d *Detector) snapshotRun(start, end uint64) Event {
	frames := make([]ScoredFrame, len(d.run))
	copy(frames, d.run)
	return Event{StartStreamFrame: start, EndStreamFrame: end, Frames: frames, TotalScore: d.score}
}

func copyFrame(f Frame) Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

func asDiffFrame(f Frame) diff.Frame {
	return diff.Frame{Width: f.Width, Height: f.Height, Pix: f.Pix}
}
