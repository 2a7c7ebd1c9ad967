// Package srs implements the spaced-repetition scheduler: a pure SM-2
// style calculator mapping a review outcome plus the current scheduling
// state to the next one. It holds no clock and performs no I/O; callers
// inject "now" and persist the result.
package srs

import (
	"math"
	"time"
)

// Status is the learning stage derived from the scheduling state.
type Status string

const (
	// StatusNew marks an item that has never been answered correctly.
	StatusNew Status = "NEW"
	// StatusLearning marks an item in active rotation.
	StatusLearning Status = "LEARNING"
	// StatusMastered marks an item with a long stable interval.
	StatusMastered Status = "MASTERED"
)

// Ease factor bounds shared with entity validation.
const (
	MinEaseFactor     = 1.3
	MaxEaseFactor     = 2.5
	DefaultEaseFactor = 2.5
)

// State is the scheduling state stored per review item.
type State struct {
	// Interval is the current review interval in whole days.
	Interval int
	// EaseFactor is the SM-2 easiness factor, bounded [1.3, 2.5].
	EaseFactor float64
	// Repetitions counts consecutive correct answers.
	Repetitions int
}

// NewState is the scheduling state of a freshly created item: due
// immediately, default ease.
func NewState() State {
	return State{Interval: 0, EaseFactor: DefaultEaseFactor, Repetitions: 0}
}

// Review is one answer to one item.
type Review struct {
	Correct bool
	// Quality optionally carries an SM-2 quality grade in [0,5]. When set it
	// drives the ease-factor formula; when nil a fixed nudge is applied.
	Quality *int
	// ResponseTimeMs is how long the answer took; used by QualityFor.
	ResponseTimeMs int64
}

// Result is the next scheduling state plus the derived due time and status.
type Result struct {
	Interval     int
	EaseFactor   float64
	Repetitions  int
	NextReviewTs int64 // epoch milliseconds
	Status       Status
}

// Config tunes the scheduling curve. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// ResetInterval is the interval (days) after an incorrect answer.
	ResetInterval int
	// FirstInterval and SecondInterval are the fixed ladder for the first
	// two consecutive correct answers.
	FirstInterval  int
	SecondInterval int
	// MaxInterval caps multiplicative growth.
	MaxInterval int
	// EaseBonus is added to the ease factor on a correct answer without an
	// explicit quality grade; EasePenalty is subtracted on an incorrect one.
	EaseBonus   float64
	EasePenalty float64
	// MasteredRepetitions and MasteredInterval gate the MASTERED status.
	MasteredRepetitions int
	MasteredInterval    int
}

// DefaultConfig returns the standard SM-2 shaped curve: 1 day reset,
// 1 and 6 day opening ladder, growth by ease factor capped at one year.
func DefaultConfig() Config {
	return Config{
		ResetInterval:       1,
		FirstInterval:       1,
		SecondInterval:      6,
		MaxInterval:         365,
		EaseBonus:           0.05,
		EasePenalty:         0.2,
		MasteredRepetitions: 5,
		MasteredInterval:    30,
	}
}

// Calculator computes successive scheduling states for one configuration.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Next returns the scheduling state after one review. It is deterministic
// for identical inputs: "now" only anchors NextReviewTs.
func (c *Calculator) Next(state State, review Review, now time.Time) Result {
	state = c.sanitize(state)

	ease := c.nextEase(state.EaseFactor, review)

	var interval, repetitions int
	if review.Correct {
		repetitions = state.Repetitions + 1
		switch repetitions {
		case 1:
			interval = c.cfg.FirstInterval
		case 2:
			interval = c.cfg.SecondInterval
		default:
			interval = int(math.Round(float64(state.Interval) * ease))
			if interval <= state.Interval {
				// Guard against stalling when the stored interval is tiny.
				interval = state.Interval + 1
			}
		}
		if interval > c.cfg.MaxInterval {
			interval = c.cfg.MaxInterval
		}
	} else {
		repetitions = 0
		interval = c.cfg.ResetInterval
	}

	return Result{
		Interval:     interval,
		EaseFactor:   ease,
		Repetitions:  repetitions,
		NextReviewTs: now.AddDate(0, 0, interval).UnixMilli(),
		Status:       c.StatusFor(repetitions, interval),
	}
}

// nextEase applies either the explicit SM-2 quality formula or the fixed
// nudge, clamped to [MinEaseFactor, MaxEaseFactor].
func (c *Calculator) nextEase(ease float64, review Review) float64 {
	if review.Quality != nil {
		q := float64(clampQuality(*review.Quality))
		ease += 0.1 - (5-q)*(0.08+(5-q)*0.02)
	} else if review.Correct {
		ease += c.cfg.EaseBonus
	} else {
		ease -= c.cfg.EasePenalty
	}
	return clampEase(ease)
}

// StatusFor derives the learning stage from repetitions and interval.
func (c *Calculator) StatusFor(repetitions, interval int) Status {
	if repetitions == 0 {
		return StatusNew
	}
	if repetitions >= c.cfg.MasteredRepetitions && interval >= c.cfg.MasteredInterval {
		return StatusMastered
	}
	return StatusLearning
}

// QualityFor derives an SM-2 quality grade from outcome and response time.
// Fast correct answers grade highest; incorrect answers grade by whether
// the failure looked like a lapse or a blackout.
func QualityFor(correct bool, responseTimeMs int64) int {
	if !correct {
		if responseTimeMs > 0 && responseTimeMs < 8_000 {
			return 2 // answered quickly but wrong: the item felt familiar
		}
		return 1
	}
	switch {
	case responseTimeMs > 0 && responseTimeMs < 3_000:
		return 5
	case responseTimeMs > 0 && responseTimeMs < 8_000:
		return 4
	default:
		return 3
	}
}

func (c *Calculator) sanitize(state State) State {
	if state.Interval < 0 {
		state.Interval = 0
	}
	if state.Repetitions < 0 {
		state.Repetitions = 0
	}
	state.EaseFactor = clampEase(state.EaseFactor)
	return state
}

func clampEase(ease float64) float64 {
	if ease < MinEaseFactor {
		return MinEaseFactor
	}
	if ease > MaxEaseFactor {
		return MaxEaseFactor
	}
	return ease
}

func clampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 5 {
		return 5
	}
	return q
}
