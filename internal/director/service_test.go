package director

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/followspot-labs/followspot-core/internal/follow"
	"github.com/followspot-labs/followspot-core/internal/slidestore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T) (*Service, *slidestore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.Enabled = false
	cfg.Recognition.Enabled = false
	cfg.Follow.MatchThreshold = 0.5
	cfg.Follow.MinWords = 1
	cfg.Follow.CooldownMS = 0
	cfg.SlideStore.Path = filepath.Join(t.TempDir(), "slides.db")

	store, err := slidestore.Open(context.Background(), cfg.SlideStore, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(context.Background(), cfg, nil, store, nil, newLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)

	if err := store.ReplaceSlides(context.Background(), []follow.Slide{
		{ID: "s1", Text: "In the beginning", Order: 0},
		{ID: "s2", Text: "God created the heavens", Order: 1},
	}); err != nil {
		t.Fatalf("seed slides: %v", err)
	}
	return svc, store
}

func TestHandleFinalAdvances(t *testing.T) {
	svc, store := newTestService(t)
	svc.SelectSlide("s1")

	svc.HandleFinal("god created the heavens and the earth")

	status := svc.Status()
	if status.CurrentSlideID != "s2" {
		t.Fatalf("expected live slide s2, got %q", status.CurrentSlideID)
	}

	advances, err := store.RecentAdvances(context.Background(), 10)
	if err != nil {
		t.Fatalf("list advances: %v", err)
	}
	if len(advances) != 2 {
		t.Fatalf("expected manual + sequential advances, got %d", len(advances))
	}
	if advances[0].Reason != "sequential" || advances[0].SlideID != "s2" {
		t.Fatalf("unexpected newest advance: %+v", advances[0])
	}
}

func TestHandleFinalKeepsStateOnNoise(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SelectSlide("s1")

	// Garbled recognition output is not an error; it just fails the
	// threshold and leaves the live slide alone.
	svc.HandleFinal("um the uh basically you know")

	status := svc.Status()
	if status.CurrentSlideID != "s1" {
		t.Fatalf("expected live slide unchanged, got %q", status.CurrentSlideID)
	}
	if status.WindowWords == 0 {
		t.Fatal("expected noise tokens retained in rolling window")
	}
}

func TestManualSelectFeedsEngineState(t *testing.T) {
	svc, _ := newTestService(t)

	svc.SelectSlide("s2")
	status := svc.Status()
	if status.CurrentSlideID != "s2" {
		t.Fatalf("expected manual selection applied, got %q", status.CurrentSlideID)
	}
	if status.LastAdvanceAt.IsZero() {
		t.Fatal("expected manual selection to stamp the advance clock")
	}
}

func TestCooldownAppliesAfterManualSelect(t *testing.T) {
	svc, _ := newTestService(t)
	svc.settings.Cooldown = time.Hour

	svc.SelectSlide("s1")
	svc.HandleFinal("god created the heavens and the earth")

	if got := svc.Status().CurrentSlideID; got != "s1" {
		t.Fatalf("expected cooldown to hold the slide, got %q", got)
	}
}

func TestResetDiscardsState(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SelectSlide("s1")
	svc.HandleFinal("some spoken words")

	svc.Reset()
	status := svc.Status()
	if status.CurrentSlideID != "" || status.WindowWords != 0 || !status.LastAdvanceAt.IsZero() {
		t.Fatalf("expected cleared state, got %+v", status)
	}
}

func TestStopListeningWithoutSession(t *testing.T) {
	svc, _ := newTestService(t)
	// No session attached; must be a no-op.
	svc.StopListening()
	if svc.Status().SessionState != "idle" {
		t.Fatal("expected idle session state")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	fc := config.FollowConfig{
		Enabled:               true,
		MatchThreshold:        0.7,
		EndTriggerThreshold:   0.6,
		EndTriggerTailWords:   3,
		EnableEndAdvance:      true,
		MinWords:              2,
		CooldownMS:            1500,
		MaxLookahead:          4,
		TranscriptWindowWords: 60,
	}
	settings := SettingsFromConfig(fc)
	if settings.Cooldown != 1500*time.Millisecond {
		t.Fatalf("expected cooldown conversion, got %v", settings.Cooldown)
	}
	if settings.MaxLookahead != 4 || settings.TranscriptWindowWords != 60 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
