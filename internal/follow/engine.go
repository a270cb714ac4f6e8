package follow

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// Apply decides from one finalized transcript chunk whether the live
// slide should change. It is a pure function: the returned State is a
// fresh value and the inputs are never mutated. A nil Match means no
// change. The rolling window is updated even when matching is gated off
// so context survives a disable/enable cycle.
func Apply(chunk string, slides []Slide, state State, settings Settings, allowMatch bool, now time.Time) (*Match, State) {
	tokens := Tokenize(chunk)
	next := state
	next.Window = appendWindow(state.Window, tokens, settings.TranscriptWindowWords)

	if !settings.Enabled || !allowMatch {
		return nil, next
	}
	if len(tokens) == 0 || len(tokens) < settings.MinWords {
		return nil, next
	}
	if !state.LastAdvanceAt.IsZero() && now.Sub(state.LastAdvanceAt) < settings.Cooldown {
		return nil, next
	}

	ordered := sortedByOrder(slides)
	currentIdx := -1
	if state.CurrentSlideID != "" {
		for i, s := range ordered {
			if s.ID == state.CurrentSlideID {
				currentIdx = i
				break
			}
		}
	}

	// End-of-slide trigger: the tail of the current slide spoken within
	// the recent window means the presenter is finishing it.
	if settings.EnableEndAdvance && currentIdx >= 0 && eligible(ordered[currentIdx]) {
		if m := endTrigger(ordered, currentIdx, next.Window, settings); m != nil {
			return m, next
		}
	}

	// Sequential lookahead from the current position.
	if currentIdx >= 0 {
		limit := currentIdx + settings.MaxLookahead
		if limit >= len(ordered) {
			limit = len(ordered) - 1
		}
		if m := bestCandidate(ordered[currentIdx:limit+1], tokens, state.CurrentSlideID, settings.MatchThreshold, ReasonSequential); m != nil {
			return m, next
		}
	}

	// Fallback: full scan recovers when the speaker jumps anywhere in
	// the sequence.
	if m := bestCandidate(ordered, tokens, state.CurrentSlideID, settings.MatchThreshold, ReasonFallback); m != nil {
		return m, next
	}

	return nil, next
}

// Tokenize lowercases the text, keeps letters, digits, and apostrophes,
// and splits on everything else.
func Tokenize(text string) []string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Fields(mapped)
}

func appendWindow(window, tokens []string, limit int) []string {
	merged := make([]string, 0, len(window)+len(tokens))
	merged = append(merged, window...)
	merged = append(merged, tokens...)
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func sortedByOrder(slides []Slide) []Slide {
	out := make([]Slide, len(slides))
	copy(out, slides)
	// Stable keeps original position as the tie-break.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func eligible(s Slide) bool {
	return strings.TrimSpace(s.Text) != ""
}

func endTrigger(ordered []Slide, currentIdx int, window []string, settings Settings) *Match {
	tail := Tokenize(ordered[currentIdx].Text)
	if settings.EndTriggerTailWords == 0 || len(tail) == 0 {
		return nil
	}
	if len(tail) > settings.EndTriggerTailWords {
		tail = tail[len(tail)-settings.EndTriggerTailWords:]
	}

	span := 4 * len(tail)
	if span < len(tail) {
		span = len(tail)
	}
	recent := window
	if len(recent) > span {
		recent = recent[len(recent)-span:]
	}

	if orderedMatchRatio(tail, recent) < settings.EndTriggerThreshold {
		return nil
	}
	for i := currentIdx + 1; i < len(ordered); i++ {
		if eligible(ordered[i]) {
			return &Match{SlideID: ordered[i].ID, Score: 1, Reason: ReasonEnd}
		}
	}
	return nil
}

func bestCandidate(candidates []Slide, chunkTokens []string, currentID string, threshold float64, reason Reason) *Match {
	var best *Match
	for _, s := range candidates {
		if !eligible(s) {
			continue
		}
		score := scoreSlide(s, chunkTokens)
		if best == nil || score > best.Score {
			best = &Match{SlideID: s.ID, Score: score, Reason: reason}
		}
	}
	if best == nil || best.Score < threshold || best.SlideID == currentID {
		return nil
	}
	return best
}

// scoreSlide blends token overlap with ordered subsequence coverage.
// Overlap dominates so shuffled recognition output still scores well;
// the ordered component rewards the slide actually being read through.
func scoreSlide(s Slide, chunkTokens []string) float64 {
	slideTokens := Tokenize(s.Text)
	if len(slideTokens) == 0 {
		return 0
	}

	chunkSet := make(map[string]struct{}, len(chunkTokens))
	for _, t := range chunkTokens {
		chunkSet[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(slideTokens))
	for _, t := range slideTokens {
		distinct[t] = struct{}{}
	}
	present := 0
	for t := range distinct {
		if _, ok := chunkSet[t]; ok {
			present++
		}
	}
	overlap := float64(present) / float64(len(distinct))

	return 0.65*overlap + 0.35*orderedMatchRatio(slideTokens, chunkTokens)
}

// orderedMatchRatio is the fraction of target tokens matched, in order,
// by a single greedy left-to-right scan of source.
func orderedMatchRatio(target, source []string) float64 {
	if len(target) == 0 {
		return 0
	}
	ti := 0
	for _, tok := range source {
		if ti < len(target) && tok == target[ti] {
			ti++
		}
	}
	return float64(ti) / float64(len(target))
}
