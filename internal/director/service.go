package director

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/followspot-labs/followspot-core/internal/bus"
	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/followspot-labs/followspot-core/internal/follow"
	"github.com/followspot-labs/followspot-core/internal/protocol"
	"github.com/followspot-labs/followspot-core/internal/recognition"
	"github.com/followspot-labs/followspot-core/internal/slidestore"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SessionFactory builds a fresh recognition session. The director owns
// reconnection policy, so each (re)connect gets a new Session object.
type SessionFactory func() (*recognition.Session, error)

// Service is the orchestrator: it serializes all writes to the
// authoritative FollowState, feeds final transcripts to the engine,
// applies accepted matches, and broadcasts the live slide. The engine
// is pure, so a single mutex around the read-modify-write is the whole
// concurrency story.
type Service struct {
	cfg     config.Config
	bus     *bus.Client
	store   *slidestore.Store
	factory SessionFactory
	logger  *slog.Logger

	settings follow.Settings
	instance string

	mu      sync.Mutex
	state   follow.State
	session *recognition.Session

	subSelect *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopping  atomic.Bool
	clock     func() time.Time

	meter           metric.Meter
	transcriptCount metric.Int64Counter
	advanceCount    metric.Int64Counter
}

// Status is a read-only snapshot for the HTTP surface.
type Status struct {
	CurrentSlideID string    `json:"current_slide_id"`
	LastAdvanceAt  time.Time `json:"last_advance_at"`
	WindowWords    int       `json:"window_words"`
	SessionState   string    `json:"session_state"`
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *slidestore.Store, factory SessionFactory, logger *slog.Logger) (*Service, error) {
	settings := SettingsFromConfig(cfg.Follow)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("follow settings: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		store:    store,
		factory:  factory,
		logger:   logger.With(slog.String("component", "director")),
		settings: settings,
		instance: uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		clock:    time.Now,
		meter:    otel.Meter("github.com/followspot-labs/followspot-core/runtime"),
	}
	s.initMetrics()
	return s, nil
}

// SettingsFromConfig converts the config section into engine settings.
func SettingsFromConfig(fc config.FollowConfig) follow.Settings {
	return follow.Settings{
		Enabled:               fc.Enabled,
		MatchThreshold:        fc.MatchThreshold,
		EndTriggerThreshold:   fc.EndTriggerThreshold,
		EndTriggerTailWords:   fc.EndTriggerTailWords,
		EnableEndAdvance:      fc.EnableEndAdvance,
		MinWords:              fc.MinWords,
		Cooldown:              time.Duration(fc.CooldownMS) * time.Millisecond,
		MaxLookahead:          fc.MaxLookahead,
		TranscriptWindowWords: fc.TranscriptWindowWords,
	}
}

func (s *Service) initMetrics() {
	var err error
	s.transcriptCount, err = s.meter.Int64Counter("followspot.transcripts.final",
		metric.WithDescription("Final transcript chunks processed"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	s.advanceCount, err = s.meter.Int64Counter("followspot.slides.advanced",
		metric.WithDescription("Accepted slide changes by reason"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

// Start wires the bus subscriptions and, when recognition is enabled,
// opens the first session.
func (s *Service) Start() error {
	if s.cfg.Sync.Enabled && s.subscriberRole() {
		sub, err := s.bus.Conn().Subscribe(protocol.SubjectSlideSelect, s.handleRemoteSelect)
		if err != nil {
			return fmt.Errorf("subscribe slide select: %w", err)
		}
		s.subSelect = sub
	}

	if s.cfg.Recognition.Enabled && s.factory != nil {
		if err := s.StartListening(); err != nil {
			return err
		}
	}
	return nil
}

// StartListening opens a new recognition session and begins following.
func (s *Service) StartListening() error {
	s.mu.Lock()
	active := s.session != nil
	s.mu.Unlock()
	if active {
		return fmt.Errorf("recognition session already active")
	}

	sess, err := s.factory()
	if err != nil {
		return fmt.Errorf("build recognition session: %w", err)
	}
	if err := sess.Start(s.ctx); err != nil {
		return err
	}
	s.attach(sess)
	return nil
}

func (s *Service) attach(sess *recognition.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.wg.Add(1)
	go s.consume(sess)
}

// StopListening closes the active session without touching FollowState:
// a brief stop/start keeps the rolling window and cooldown intact.
func (s *Service) StopListening() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		_ = sess.Stop()
	}
}

// Close shuts the director down.
func (s *Service) Close() {
	s.stopping.Store(true)
	s.cancel()
	s.StopListening()
	if s.subSelect != nil {
		_ = s.subSelect.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return true
}

func (s *Service) subscriberRole() bool {
	return s.cfg.Sync.Role == "subscriber" || s.cfg.Sync.Role == "both"
}

func (s *Service) publisherRole() bool {
	return s.cfg.Sync.Role == "publisher" || s.cfg.Sync.Role == "both"
}

func (s *Service) consume(sess *recognition.Session) {
	defer s.wg.Done()
	finals := sess.Finals()
	interims := sess.Interims()
	errsC := sess.Errors()

	for finals != nil || interims != nil || errsC != nil {
		select {
		case <-s.ctx.Done():
			return
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.HandleFinal(tr.Text)
		case text, ok := <-interims:
			if !ok {
				interims = nil
				continue
			}
			s.publishInterim(text)
		case err, ok := <-errsC:
			if !ok {
				errsC = nil
				continue
			}
			s.logger.Warn("recognition session failed", slog.String("error", err.Error()))
		}
	}
	s.onSessionEnded(sess)
}

// onSessionEnded applies the reconnect policy. FollowState survives the
// gap, so a successful reconnect resumes from the same slide and
// rolling window.
func (s *Service) onSessionEnded(ended *recognition.Session) {
	s.mu.Lock()
	if s.session == ended {
		s.session = nil
	}
	s.mu.Unlock()

	if s.ctx.Err() != nil || s.stopping.Load() {
		return
	}
	policy := s.cfg.Recognition.Reconnect
	if !policy.Enabled {
		s.logger.Info("recognition session ended; reconnect disabled")
		return
	}

	wait := time.Duration(policy.InitialWaitMS) * time.Millisecond
	maxWait := time.Duration(policy.MaxWaitMS) * time.Millisecond
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}

		err := s.StartListening()
		if err == nil {
			s.logger.Info("recognition session reconnected", slog.Int("attempt", attempt))
			return
		}
		s.logger.Warn("recognition reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		wait *= 2
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}
	}
	s.logger.Error("recognition reconnect attempts exhausted")
}

// HandleFinal runs one finalized transcript chunk through the engine
// against a fresh slide snapshot and applies the outcome.
func (s *Service) HandleFinal(text string) {
	slides, err := s.store.Slides(s.ctx)
	if err != nil {
		s.logger.Warn("slide snapshot failed", slog.String("error", err.Error()))
	}

	now := s.clock()
	s.mu.Lock()
	match, next := follow.Apply(text, slides, s.state, s.settings, true, now)
	if match != nil {
		next = next.WithAdvance(match.SlideID, now)
	}
	s.state = next
	s.mu.Unlock()

	if s.transcriptCount != nil {
		s.transcriptCount.Add(s.ctx, 1)
	}
	if match == nil {
		return
	}

	s.logger.Info("slide advanced",
		slog.String("slide_id", match.SlideID),
		slog.String("reason", string(match.Reason)),
		slog.Float64("score", match.Score))
	s.applyAdvance(slides, match.SlideID, string(match.Reason), match.Score, excerpt(text), now)
}

// SelectSlide is the manual override. It writes into the same
// authoritative state the engine reads, so follow resumes from the
// operator's choice.
func (s *Service) SelectSlide(slideID string) {
	now := s.clock()
	s.mu.Lock()
	s.state = s.state.WithAdvance(slideID, now)
	s.mu.Unlock()

	slides, err := s.store.Slides(s.ctx)
	if err != nil {
		s.logger.Warn("slide snapshot failed", slog.String("error", err.Error()))
	}
	s.applyAdvance(slides, slideID, "manual", 0, "", now)
}

// Reset discards the rolling window and cooldown. Only an explicit
// caller request clears them; stop/start cycles never do.
func (s *Service) Reset() {
	s.mu.Lock()
	s.state = follow.State{}
	s.mu.Unlock()
}

func (s *Service) applyAdvance(slides []follow.Slide, slideID, reason string, score float64, excerptText string, now time.Time) {
	order := -1
	for _, slide := range slides {
		if slide.ID == slideID {
			order = slide.Order
			break
		}
	}

	if s.advanceCount != nil {
		s.advanceCount.Add(s.ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}

	if err := s.store.RecordAdvance(s.ctx, slidestore.Advance{
		SlideID: slideID,
		Reason:  reason,
		Score:   score,
		Excerpt: excerptText,
	}); err != nil {
		s.logger.Warn("failed to record advance", slog.String("error", err.Error()))
	}

	if s.cfg.Sync.Enabled && s.publisherRole() {
		msg := protocol.SlideChanged{
			SessionID: s.instance,
			SlideID:   slideID,
			Order:     order,
			Reason:    reason,
			Score:     score,
			Timestamp: now.UTC(),
		}
		if data, err := json.Marshal(msg); err == nil {
			if err := s.bus.Conn().Publish(protocol.SubjectSlideChanged, data); err != nil {
				s.logger.Warn("failed to publish slide change", slog.String("error", err.Error()))
			}
		}
	}

	runAdvanceHook(s.ctx, s.cfg.Hook, s.logger, slideID, order)
}

func (s *Service) publishInterim(text string) {
	if !s.cfg.Sync.Enabled || !s.publisherRole() {
		return
	}
	msg := protocol.InterimCaption{
		SessionID: s.instance,
		Text:      text,
		Timestamp: s.clock().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectInterimCaption, data); err != nil {
		s.logger.Warn("failed to publish interim caption", slog.String("error", err.Error()))
	}
}

// handleRemoteSelect applies a manual selection made on another
// instance. It writes the shared state but does not re-broadcast, so
// two "both" instances cannot ping-pong.
func (s *Service) handleRemoteSelect(msg *nats.Msg) {
	var sel protocol.SlideSelect
	if err := json.Unmarshal(msg.Data, &sel); err != nil {
		s.logger.Warn("failed to decode slide select", slog.String("error", err.Error()))
		return
	}
	if sel.SlideID == "" {
		return
	}

	now := s.clock()
	s.mu.Lock()
	s.state = s.state.WithAdvance(sel.SlideID, now)
	s.mu.Unlock()

	if err := s.store.RecordAdvance(s.ctx, slidestore.Advance{
		SlideID: sel.SlideID,
		Reason:  "remote",
	}); err != nil {
		s.logger.Warn("failed to record advance", slog.String("error", err.Error()))
	}
	s.logger.Info("applied remote slide selection", slog.String("slide_id", sel.SlideID))
}

// Status reports the live state for the HTTP surface.
func (s *Service) Status() Status {
	s.mu.Lock()
	state := s.state
	sess := s.session
	s.mu.Unlock()

	sessionState := "idle"
	if sess != nil {
		switch sess.State() {
		case recognition.StateConnecting:
			sessionState = "connecting"
		case recognition.StateStreaming:
			sessionState = "streaming"
		}
	}
	return Status{
		CurrentSlideID: state.CurrentSlideID,
		LastAdvanceAt:  state.LastAdvanceAt,
		WindowWords:    len(state.Window),
		SessionState:   sessionState,
	}
}

// excerpt keeps a short slice of the transcript for the history log.
func excerpt(text string) string {
	const max = 120
	if len(text) <= max {
		return text
	}
	return text[:max]
}
