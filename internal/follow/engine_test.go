package follow

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

func baseSettings() Settings {
	return Settings{
		Enabled:               true,
		MatchThreshold:        0.5,
		EndTriggerThreshold:   0.5,
		EndTriggerTailWords:   2,
		MinWords:              1,
		Cooldown:              0,
		MaxLookahead:          2,
		TranscriptWindowWords: 50,
	}
}

func genesisSlides() []Slide {
	return []Slide{
		{ID: "s1", Text: "In the beginning", Order: 0},
		{ID: "s2", Text: "God created the heavens", Order: 1},
	}
}

func TestSequentialAdvance(t *testing.T) {
	state := State{CurrentSlideID: "s1"}
	match, next := Apply("god created the heavens and the earth", genesisSlides(), state, baseSettings(), true, time.Now())
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.SlideID != "s2" || match.Reason != ReasonSequential {
		t.Fatalf("expected sequential match on s2, got %+v", match)
	}
	if match.Score < 0.5 {
		t.Fatalf("expected score >= 0.5, got %v", match.Score)
	}
	if len(next.Window) != 7 {
		t.Fatalf("expected 7 tokens in window, got %d", len(next.Window))
	}
}

func TestEndTriggerAdvance(t *testing.T) {
	slides := []Slide{
		{ID: "s1", Text: "God created the heavens and the earth", Order: 0},
		{ID: "s2", Text: "And the earth was without form", Order: 1},
	}
	settings := baseSettings()
	settings.EnableEndAdvance = true
	settings.MatchThreshold = 0.99 // keep sequential scoring out of the way
	state := State{CurrentSlideID: "s1"}

	match, _ := Apply("created the heavens and the earth", slides, state, settings, true, time.Now())
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.SlideID != "s2" || match.Reason != ReasonEnd {
		t.Fatalf("expected end advance to s2, got %+v", match)
	}
	if match.Score != 1 {
		t.Fatalf("expected end score 1, got %v", match.Score)
	}
}

func TestEndTriggerSkipsEmptySlides(t *testing.T) {
	slides := []Slide{
		{ID: "s1", Text: "and in conclusion thank you", Order: 0},
		{ID: "blank", Text: "   ", Order: 1},
		{ID: "s3", Text: "questions and answers", Order: 2},
	}
	settings := baseSettings()
	settings.EnableEndAdvance = true
	settings.MatchThreshold = 0.99
	state := State{CurrentSlideID: "s1"}

	match, _ := Apply("in conclusion thank you", slides, state, settings, true, time.Now())
	if match == nil || match.SlideID != "s3" {
		t.Fatalf("expected end advance to skip blank slide, got %+v", match)
	}
}

func TestFallbackJump(t *testing.T) {
	texts := []string{
		"welcome everyone", "our agenda today", "first quarter results",
		"customer growth", "the migration to the new platform is complete",
		"hiring plans", "open positions", "budget review", "next steps", "thank you",
	}
	slides := make([]Slide, 0, len(texts))
	for i, text := range texts {
		slides = append(slides, Slide{ID: fmt.Sprintf("s%d", i), Text: text, Order: i})
	}

	match, _ := Apply("the migration to the new platform is complete", slides, State{}, baseSettings(), true, time.Now())
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.Reason != ReasonFallback {
		t.Fatalf("expected fallback reason, got %q", match.Reason)
	}
	if match.SlideID != slides[4].ID {
		t.Fatalf("expected slide %q, got %q", slides[4].ID, match.SlideID)
	}
}

func TestCooldownSuppression(t *testing.T) {
	settings := baseSettings()
	settings.Cooldown = 2 * time.Second
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := State{CurrentSlideID: "s1"}
	match, next := Apply("god created the heavens", genesisSlides(), state, settings, true, now)
	if match == nil {
		t.Fatal("expected first call to match")
	}
	next = next.WithAdvance(match.SlideID, now)

	// 100ms later, content that would otherwise match again.
	match2, next2 := Apply("in the beginning", genesisSlides(), next, settings, true, now.Add(100*time.Millisecond))
	if match2 != nil {
		t.Fatalf("expected cooldown to suppress match, got %+v", match2)
	}
	if len(next2.Window) != len(next.Window)+3 {
		t.Fatal("expected window to keep growing during cooldown")
	}

	// Past the cooldown the same content matches.
	match3, _ := Apply("in the beginning", genesisSlides(), next, settings, true, now.Add(3*time.Second))
	if match3 == nil || match3.SlideID != "s1" {
		t.Fatalf("expected match after cooldown, got %+v", match3)
	}
}

func TestThresholdBoundary(t *testing.T) {
	// "alpha" against "alpha beta": overlap 1/2, ordered 1/2. Compute
	// the exact score the same way the engine does so the equality
	// comparison is bit-identical.
	exact := 0.65*0.5 + 0.35*0.5
	slides := []Slide{{ID: "a", Text: "alpha beta", Order: 0}}
	settings := baseSettings()
	settings.MatchThreshold = exact

	match, _ := Apply("alpha", slides, State{}, settings, true, time.Now())
	if match == nil {
		t.Fatal("expected score at threshold to be accepted")
	}
	if match.Score != exact {
		t.Fatalf("expected score %v, got %v", exact, match.Score)
	}

	settings.MatchThreshold = exact + 1e-9
	match, _ = Apply("alpha", slides, State{}, settings, true, time.Now())
	if match != nil {
		t.Fatalf("expected score below threshold to be rejected, got %+v", match)
	}
}

func TestWindowBound(t *testing.T) {
	settings := baseSettings()
	settings.TranscriptWindowWords = 5
	state := State{}
	for i := 0; i < 20; i++ {
		_, state = Apply("one two three", nil, state, settings, true, time.Now())
	}
	if len(state.Window) != 5 {
		t.Fatalf("expected window capped at 5, got %d", len(state.Window))
	}
	// Most recent tokens survive eviction.
	tail := state.Window[len(state.Window)-3:]
	if !reflect.DeepEqual(tail, []string{"one", "two", "three"}) {
		t.Fatalf("expected window to retain most recent tokens, got %v", state.Window)
	}
}

func TestEmptyChunkNoOp(t *testing.T) {
	state := State{CurrentSlideID: "s1", Window: []string{"hello"}}
	match, next := Apply("", genesisSlides(), state, baseSettings(), true, time.Now())
	if match != nil {
		t.Fatalf("expected no match on empty chunk, got %+v", match)
	}
	if !reflect.DeepEqual(next.Window, []string{"hello"}) {
		t.Fatalf("expected window unchanged, got %v", next.Window)
	}
}

func TestDisabledStillAppendsWindow(t *testing.T) {
	settings := baseSettings()
	settings.Enabled = false
	match, next := Apply("context words", genesisSlides(), State{}, settings, true, time.Now())
	if match != nil {
		t.Fatal("expected no match while disabled")
	}
	if !reflect.DeepEqual(next.Window, []string{"context", "words"}) {
		t.Fatalf("expected window appended while disabled, got %v", next.Window)
	}
}

func TestMatchingNotPermitted(t *testing.T) {
	match, next := Apply("god created the heavens", genesisSlides(), State{CurrentSlideID: "s1"}, baseSettings(), false, time.Now())
	if match != nil {
		t.Fatal("expected no match when matching is not permitted")
	}
	if len(next.Window) != 4 {
		t.Fatalf("expected window still updated, got %v", next.Window)
	}
}

func TestMinWordsGate(t *testing.T) {
	settings := baseSettings()
	settings.MinWords = 5
	match, _ := Apply("god created the heavens", genesisSlides(), State{CurrentSlideID: "s1"}, settings, true, time.Now())
	if match != nil {
		t.Fatalf("expected chunk below min_words to be ignored, got %+v", match)
	}
}

func TestDeterminism(t *testing.T) {
	state := State{CurrentSlideID: "s1", Window: []string{"in", "the", "beginning"}}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	chunk := "god created the heavens and the earth"

	m1, s1 := Apply(chunk, genesisSlides(), state, baseSettings(), true, now)
	m2, s2 := Apply(chunk, genesisSlides(), state, baseSettings(), true, now)
	if !reflect.DeepEqual(m1, m2) {
		t.Fatalf("expected identical matches, got %+v vs %+v", m1, m2)
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("expected identical states, got %+v vs %+v", s1, s2)
	}
}

func TestEmptySequence(t *testing.T) {
	match, next := Apply("anything at all", nil, State{}, baseSettings(), true, time.Now())
	if match != nil {
		t.Fatalf("expected no match on empty sequence, got %+v", match)
	}
	if len(next.Window) != 3 {
		t.Fatalf("expected window updated, got %v", next.Window)
	}
}

func TestTieBreaksAscending(t *testing.T) {
	slides := []Slide{
		{ID: "later", Text: "same words here", Order: 5},
		{ID: "earlier", Text: "same words here", Order: 1},
	}
	match, _ := Apply("same words here", slides, State{}, baseSettings(), true, time.Now())
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.SlideID != "earlier" {
		t.Fatalf("expected ascending-order tie break, got %q", match.SlideID)
	}
}

func TestTokenizeKeepsApostrophes(t *testing.T) {
	got := Tokenize("It's over, isn't it?  DONE.")
	want := []string{"it's", "over", "isn't", "it", "done"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected tokens: %v", got)
	}
}

func TestSettingsValidate(t *testing.T) {
	good := baseSettings()
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := good
	bad.MatchThreshold = 1.2
	if err := bad.Validate(); err == nil {
		t.Fatal("expected threshold outside [0,1] to fail validation")
	}
	bad = good
	bad.TranscriptWindowWords = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected zero window to fail validation")
	}
}
