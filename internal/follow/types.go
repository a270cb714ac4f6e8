package follow

import (
	"errors"
	"time"
)

// Slide is an immutable snapshot of one entry in the author-defined
// sequence. The editor owns the slides; the engine only reads them.
type Slide struct {
	ID    string
	Text  string
	Order int
}

// Reason records which rule accepted a match.
type Reason string

const (
	ReasonSequential Reason = "sequential"
	ReasonFallback   Reason = "fallback"
	ReasonEnd        Reason = "end"
)

// Match is an accepted slide-change decision.
type Match struct {
	SlideID string
	Score   float64
	Reason  Reason
}

// Settings tune the matcher. Values are immutable per Apply call.
type Settings struct {
	Enabled               bool
	MatchThreshold        float64
	EndTriggerThreshold   float64
	EndTriggerTailWords   int
	EnableEndAdvance      bool
	MinWords              int
	Cooldown              time.Duration
	MaxLookahead          int
	TranscriptWindowWords int
}

// Validate rejects out-of-range settings. Invalid values are a
// configuration error, caught before the engine ever runs.
func (s Settings) Validate() error {
	if s.MatchThreshold < 0 || s.MatchThreshold > 1 {
		return errors.New("match threshold must be within [0,1]")
	}
	if s.EndTriggerThreshold < 0 || s.EndTriggerThreshold > 1 {
		return errors.New("end trigger threshold must be within [0,1]")
	}
	if s.EndTriggerTailWords < 0 {
		return errors.New("end trigger tail words must be >= 0")
	}
	if s.MinWords < 0 {
		return errors.New("min words must be >= 0")
	}
	if s.Cooldown < 0 {
		return errors.New("cooldown must be >= 0")
	}
	if s.MaxLookahead < 0 {
		return errors.New("max lookahead must be >= 0")
	}
	if s.TranscriptWindowWords <= 0 {
		return errors.New("transcript window words must be positive")
	}
	return nil
}

// State is the matcher's memory between transcript chunks. Treated as a
// value: Apply returns a new State and never mutates its input. The
// caller owns the authoritative copy and stamps LastAdvanceAt when it
// accepts a match.
type State struct {
	CurrentSlideID string
	LastAdvanceAt  time.Time
	Window         []string
}

// WithAdvance returns a copy of the state pointed at the given slide
// with the cooldown clock reset.
func (st State) WithAdvance(slideID string, now time.Time) State {
	st.CurrentSlideID = slideID
	st.LastAdvanceAt = now
	return st
}
