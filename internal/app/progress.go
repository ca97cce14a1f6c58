package app

import (
	"context"
	"math"
	"math/rand"
	"time"

	"xquiz-funnel-service/internal/domain"
)

// ProgressPhase enumerates the simulator's lifecycle.
type ProgressPhase int

const (
	PhaseRampToThreshold ProgressPhase = iota
	PhaseDwell
	PhaseRampToComplete
	PhaseDone
)

// Timing constants for the two-phase "analyzing answers" animation. The
// dwell at the pause threshold is a deliberate UX beat, not a technical wait.
const (
	DefaultPauseAt = 90

	rampTickInterval  = 150 * time.Millisecond
	finalTickInterval = 100 * time.Millisecond
	dwellPeriod       = 1500 * time.Millisecond

	rampStepMax  = 15.0
	finalStepMax = 5.0
)

// SimulatorTiming overrides the wall-clock knobs, mainly for tests.
type SimulatorTiming struct {
	RampTick  time.Duration
	FinalTick time.Duration
	Dwell     time.Duration
}

func defaultTiming() SimulatorTiming {
	return SimulatorTiming{RampTick: rampTickInterval, FinalTick: finalTickInterval, Dwell: dwellPeriod}
}

// Simulator drives the percentage animation: a ramp to the pause threshold,
// a fixed dwell, then a slower ramp to 100. The reported percentage is
// non-decreasing and clamped so neither ramp overshoots its ceiling.
// Not safe for concurrent use; the session serializes access to it.
type Simulator struct {
	pauseAt  float64
	timing   SimulatorTiming
	rampStep func() float64
	rnd      *rand.Rand

	phase      ProgressPhase
	percent    float64
	dwellUntil time.Time
}

// NewSimulator builds a simulator with random ramp increments, as used for
// the post-lead-form analyzing transition.
func NewSimulator(pauseAt int) *Simulator {
	return NewSimulatorWithTiming(pauseAt, defaultTiming(), rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSimulatorWithTiming is for deterministic tests: both the tick/dwell
// timing and the random source are injected.
func NewSimulatorWithTiming(pauseAt int, timing SimulatorTiming, rnd *rand.Rand) *Simulator {
	if pauseAt <= 0 || pauseAt > 100 {
		pauseAt = DefaultPauseAt
	}
	s := &Simulator{pauseAt: float64(pauseAt), timing: timing, rnd: rnd}
	s.rampStep = func() float64 { return rnd.Float64() * rampStepMax }
	return s
}

// NewSimulatorForElement configures the simulator from a fake-loading
// element. A configured duration makes the first ramp deterministic: it
// spends 70% of the nominal duration reaching the pause threshold.
func NewSimulatorForElement(el domain.Element) *Simulator {
	s := NewSimulator(el.PauseAt)
	if el.DurationMs > 0 {
		ticks := float64(el.DurationMs) * 0.7 / float64(s.timing.RampTick/time.Millisecond)
		if ticks < 1 {
			ticks = 1
		}
		step := s.pauseAt / ticks
		s.rampStep = func() float64 { return step }
	}
	return s
}

// Phase returns the current lifecycle phase.
func (s *Simulator) Phase() ProgressPhase { return s.phase }

// Percent returns the last reported percentage.
func (s *Simulator) Percent() int { return int(math.Round(s.percent)) }

// Interval returns how long the driver should wait before the next Step.
func (s *Simulator) Interval() time.Duration {
	if s.phase == PhaseRampToThreshold {
		return s.timing.RampTick
	}
	return s.timing.FinalTick
}

// Step advances the simulation by one tick at the given instant and returns
// the clamped percentage plus whether 100 was just reached. Once done, Step
// keeps reporting 100 without re-signaling completion.
func (s *Simulator) Step(now time.Time) (int, bool) {
	switch s.phase {
	case PhaseRampToThreshold:
		s.percent += s.rampStep()
		if s.percent >= s.pauseAt {
			s.percent = s.pauseAt
			s.phase = PhaseDwell
			s.dwellUntil = now.Add(s.timing.Dwell)
		}
	case PhaseDwell:
		if !now.Before(s.dwellUntil) {
			s.phase = PhaseRampToComplete
		}
	case PhaseRampToComplete:
		s.percent += s.rnd.Float64() * finalStepMax
		if s.percent >= 100 {
			s.percent = 100
			s.phase = PhaseDone
			return 100, true
		}
	case PhaseDone:
		return 100, false
	}
	return s.Percent(), false
}

// Run drives the simulator against the wall clock until completion or
// cancellation. onTick fires after every step; onDone fires exactly once at
// the moment 100 is reached and never after ctx is canceled.
func (s *Simulator) Run(ctx context.Context, now func() time.Time, onTick func(int), onDone func()) {
	for {
		timer := time.NewTimer(s.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		percent, done := s.Step(now())
		if ctx.Err() != nil {
			return
		}
		onTick(percent)
		if done {
			onDone()
			return
		}
	}
}
