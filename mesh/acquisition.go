package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"sync"
	"time"
)

// Frame outcomes reported to hooks
const (
	OutcomeRecorded           = "recorded"
	OutcomeAcquisitionGap     = "acquisition-gap"
	OutcomeNoPose             = "no-pose"
	OutcomeCalibrationMissing = "calibration-missing"
	OutcomeMoveTimeout        = "move-timeout"
)

// DefaultScannerConfig returns a 36-frame turntable scan at 10° per frame
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Mode:        ModeRotary,
		Frames:      36,
		Step:        0.1,
		Feed:        500,
		MoveTimeout: 5 * time.Second,
		MinChange:   0.5,
	}
}

// ScanStats counts what happened during a scan
type ScanStats struct {
	Iterations         int            `json:"iterations"`
	Records            int            `json:"records"`
	AcquisitionGaps    int            `json:"acquisitionGaps"`
	NoPose             int            `json:"noPose"`
	CalibrationMissing int            `json:"calibrationMissing"`
	MoveTimeouts       int            `json:"moveTimeouts"`
	FitFailures        map[string]int `json:"fitFailures"`
	PointsKept         int            `json:"pointsKept"`
	PointsRejected     int            `json:"pointsRejected"`
	StartedAt          time.Time      `json:"startedAt"`
	FinishedAt         time.Time      `json:"finishedAt,omitempty"`
	Running            bool           `json:"running"`
}

// FrameEvent describes one finished loop iteration
type FrameEvent struct {
	SessionID  string
	FrameIndex int
	Pose       Pose
	Outcome    string
	Records    int
	Points     int
	Record     *ScanRecord // set when a record was appended
	Err        error
}

// FrameHook is invoked on the acquisition goroutine after every iteration
type FrameHook func(FrameEvent)

// Scanner runs the acquisition loop: move, wait for the pose, grab a frame,
// extract stripes, reconstruct, append. The loop is the accumulator's only writer.
type Scanner struct {
	cfg           ScannerConfig
	channels      []ChannelMask
	tracker       *PositionTracker
	frames        FrameSource
	motion        MotionController
	extractor     *StripeExtractor
	reconstructor *Reconstructor
	acc           *Accumulator
	hook          FrameHook

	mu                sync.RWMutex
	stats             ScanStats
	calibrationLogged bool
	frameSeen         bool
}

// NewScanner wires a scanner from config. motion may be nil, in which case
// the loop never moves and uses whatever pose the tracker holds.
func NewScanner(cfg *Config, tracker *PositionTracker, frames FrameSource, motion MotionController) *Scanner {
	return &Scanner{
		cfg:           cfg.Scanner,
		channels:      cfg.Channels,
		tracker:       tracker,
		frames:        frames,
		motion:        motion,
		extractor:     NewStripeExtractor(cfg.RANSAC),
		reconstructor: NewReconstructor(cfg.Reconstruction),
		acc:           NewAccumulator(tracker.Config().Mode),
		stats:         ScanStats{FitFailures: make(map[string]int)},
	}
}

// SetHook registers the per-frame hook. Call before Run.
func (s *Scanner) SetHook(h FrameHook) {
	s.hook = h
}

// SetCalibration installs a previously established calibration. It is kept
// only if it fits the first frame read and the configured geometry.
func (s *Scanner) SetCalibration(cal Calibration) {
	s.reconstructor.Calibration = cal
}

// Accumulator returns the scan's accumulator
func (s *Scanner) Accumulator() *Accumulator {
	return s.acc
}

// Reconstructor returns the scan's reconstructor
func (s *Scanner) Reconstructor() *Reconstructor {
	return s.reconstructor
}

// Stats returns a copy of the current statistics
func (s *Scanner) Stats() ScanStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.FitFailures = maps.Clone(s.stats.FitFailures)
	return st
}

func (s *Scanner) update(fn func(st *ScanStats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

func (s *Scanner) moveAxis() int {
	tc := s.tracker.Config()
	if tc.Mode == ModeLinear {
		return tc.LinearAxis
	}
	return tc.AngleAxis
}

// Run executes the loop until the configured frame count is reached, the
// frame source is exhausted, or ctx is cancelled. Cancellation is checked once
// per iteration; an in-flight frame always completes. Per-frame failures are
// absorbed; only motion transport errors end the scan with an error.
func (s *Scanner) Run(ctx context.Context) error {
	if s.frames == nil {
		return fmt.Errorf("scanner has no frame source")
	}
	s.update(func(st *ScanStats) {
		st.StartedAt = time.Now()
		st.Running = true
	})
	defer s.update(func(st *ScanStats) {
		st.FinishedAt = time.Now()
		st.Running = false
	})

	log.Printf("Starting %s scan %s (%d frames, %d channels)", s.tracker.Config().Mode, s.acc.ID(), s.cfg.Frames, len(s.channels))

	for i := 0; s.cfg.Frames <= 0 || i < s.cfg.Frames; i++ {
		if ctx.Err() != nil {
			log.Printf("Scan stopped after %d iterations", i)
			return nil
		}

		ev, err := s.iterate(ctx, i)
		if errors.Is(err, io.EOF) {
			log.Printf("Frame source exhausted after %d iterations", i)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Scan stopped during iteration %d", i)
				return nil
			}
			return err
		}

		s.update(func(st *ScanStats) { st.Iterations++ })
		if s.hook != nil {
			ev.SessionID = s.acc.ID().String()
			ev.Records = s.acc.Len()
			ev.Points = s.acc.PointCount()
			s.hook(ev)
		}
	}

	st := s.Stats()
	log.Printf("Scan complete: %d records, %d points, %d skipped", st.Records, st.PointsKept,
		st.AcquisitionGaps+st.NoPose+st.CalibrationMissing+st.MoveTimeouts)
	return nil
}

// iterate runs one loop iteration. Returned errors end the scan; skip
// outcomes are reported through the event.
func (s *Scanner) iterate(ctx context.Context, idx int) (FrameEvent, error) {
	ev := FrameEvent{FrameIndex: idx}

	if s.motion != nil && idx > 0 {
		from, _ := s.tracker.Current()
		if err := s.motion.Move(ctx, s.moveAxis(), s.cfg.Step, s.cfg.Feed); err != nil {
			return ev, fmt.Errorf("moving for frame %d: %w", idx, err)
		}
		pose, err := s.tracker.WaitForChange(ctx, from, s.cfg.MinChange, s.cfg.MoveTimeout)
		if errors.Is(err, ErrMoveTimeout) {
			log.Printf("Warning: move for frame %d did not register within %v", idx, s.cfg.MoveTimeout)
			s.update(func(st *ScanStats) { st.MoveTimeouts++ })
			if _, err := s.frames.Next(ctx); errors.Is(err, io.EOF) {
				return ev, err
			}
			ev.Pose, ev.Outcome, ev.Err = pose, OutcomeMoveTimeout, ErrMoveTimeout
			return ev, nil
		}
		if err != nil {
			return ev, err
		}
		if s.cfg.SettleDelay > 0 {
			select {
			case <-time.After(s.cfg.SettleDelay):
			case <-ctx.Done():
			}
		}
	}

	img, err := s.frames.Next(ctx)
	if errors.Is(err, io.EOF) {
		return ev, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return ev, ctx.Err()
		}
		log.Printf("[DEBUG] frame %d: %v", idx, err)
		s.update(func(st *ScanStats) { st.AcquisitionGaps++ })
		ev.Outcome, ev.Err = OutcomeAcquisitionGap, err
		return ev, nil
	}

	pose, ok := s.tracker.Current()
	if !ok {
		log.Printf("[DEBUG] frame %d: %v", idx, ErrNoPose)
		s.update(func(st *ScanStats) { st.NoPose++ })
		ev.Outcome, ev.Err = OutcomeNoPose, ErrNoPose
		return ev, nil
	}
	ev.Pose = pose

	b := img.Bounds()
	if !s.frameSeen {
		s.frameSeen = true
		if s.reconstructor.Revalidate(b.Dx(), b.Dy()) {
			log.Printf("Warning: preset calibration does not fit %dx%d frames or the configured geometry, re-establishing", b.Dx(), b.Dy())
		}
	}
	if !s.reconstructor.Ready() {
		s.reconstructor.Establish(b.Dx(), b.Dy())
		if s.reconstructor.Ready() {
			cal := s.reconstructor.Calibration
			log.Printf("Calibration established: center column %.1f, baseline row %.1f", cal.CenterCol, cal.BaselineRow)
		}
	}
	if !s.reconstructor.Ready() {
		s.logCalibrationMissing()
		s.update(func(st *ScanStats) { st.CalibrationMissing++ })
		ev.Outcome, ev.Err = OutcomeCalibrationMissing, ErrCalibrationMissing
		return ev, nil
	}

	rec := ScanRecord{FrameIndex: idx, Pose: pose}
	fits := s.extractor.ExtractFrame(img, s.channels)
	kept, rejected := 0, 0
	for c, fit := range fits {
		name := s.channels[c].Name
		stripe := ChannelStripe{Channel: name}
		if !fit.Success {
			log.Printf("[DEBUG] frame %d channel %s: %v", idx, name, ErrFitFailure)
			s.update(func(st *ScanStats) { st.FitFailures[name]++ })
			rec.Stripes = append(rec.Stripes, stripe)
			continue
		}
		pts, rej, err := s.reconstructor.Reconstruct(pose, fit.Inliers)
		if errors.Is(err, ErrCalibrationMissing) {
			s.logCalibrationMissing()
			s.update(func(st *ScanStats) { st.CalibrationMissing++ })
			ev.Outcome, ev.Err = OutcomeCalibrationMissing, err
			return ev, nil
		}
		if err != nil {
			log.Printf("[DEBUG] frame %d channel %s: %v", idx, name, err)
		}
		stripe.Pixels = fit.Inliers
		stripe.Points = pts
		kept += len(pts)
		rejected += rej
		rec.Stripes = append(rec.Stripes, stripe)
	}

	if err := s.acc.Append(rec); err != nil {
		log.Printf("[DEBUG] frame %d: %v", idx, err)
		s.update(func(st *ScanStats) { st.NoPose++ })
		ev.Outcome, ev.Err = OutcomeNoPose, err
		return ev, nil
	}
	s.update(func(st *ScanStats) {
		st.Records++
		st.PointsKept += kept
		st.PointsRejected += rejected
	})
	log.Printf("[DEBUG] frame %d: %d points (%d rejected)", idx, kept, rejected)

	ev.Outcome = OutcomeRecorded
	ev.Record = &rec
	return ev, nil
}

func (s *Scanner) logCalibrationMissing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calibrationLogged {
		return
	}
	s.calibrationLogged = true
	log.Printf("Warning: %v, frames are skipped until it is", ErrCalibrationMissing)
}
