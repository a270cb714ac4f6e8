package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionState tracks the connection lifecycle.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateStreaming
)

// Source supplies encoded PCM frames ready for transmission. The
// capture pipeline implements it; tests substitute their own.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Frames() <-chan []byte
}

// Transcript is one confirmed recognition segment.
type Transcript struct {
	SegmentID  uint64
	Text       string
	ReceivedAt time.Time
}

// Session owns one streaming connection to the recognition backend.
// Each Session is independent: no package-level caches, so several can
// run side by side. A Session does not reconnect; the director decides
// whether a replacement is built after a failure.
type Session struct {
	ID     string
	cfg    config.RecognitionConfig
	log    *slog.Logger
	source Source

	httpClient *http.Client
	dialer     *websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex

	interims chan string
	finals   chan Transcript
	errs     chan error

	state    atomic.Int32
	partials map[int]string
	segSeq   uint64
	clock    func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSession(cfg config.RecognitionConfig, source Source, log *slog.Logger) *Session {
	return &Session{
		ID:         uuid.NewString(),
		cfg:        cfg,
		log:        log.With(slog.String("component", "recognition")),
		source:     source,
		httpClient: &http.Client{Timeout: time.Duration(cfg.ConnectTimeout) * time.Millisecond},
		dialer:     websocket.DefaultDialer,
		interims:   make(chan string, 32),
		finals:     make(chan Transcript, 32),
		errs:       make(chan error, 8),
		partials:   make(map[int]string),
		clock:      time.Now,
		done:       make(chan struct{}),
	}
}

// Interims surfaces the coalesced provisional transcript after every
// partial event.
func (s *Session) Interims() <-chan string { return s.interims }

// Finals surfaces confirmed segments in arrival order.
func (s *Session) Finals() <-chan Transcript { return s.finals }

// Errors surfaces unrecoverable session failures.
func (s *Session) Errors() <-chan error { return s.errs }

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Start acquires the capture source, fetches a short-lived token, opens
// the streaming connection, and waits for the backend handshake before
// any audio is transmitted. On any failure the session lands back in
// Idle with the capture released.
func (s *Session) Start(ctx context.Context) error {
	select {
	case <-s.done:
		return fmt.Errorf("session already stopped")
	default:
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("session already started")
	}

	if err := s.source.Start(ctx); err != nil {
		s.state.Store(int32(StateIdle))
		return &PermissionError{Err: err}
	}

	token, err := fetchToken(ctx, s.httpClient, s.cfg.TokenURL, s.cfg.APIKey, s.cfg.TokenExpiresS)
	if err != nil {
		_ = s.source.Stop()
		s.state.Store(int32(StateIdle))
		return err
	}

	url := fmt.Sprintf("%s?sample_rate=%d&token=%s", s.cfg.StreamURL, s.cfg.SampleRate, token)
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ConnectTimeout)*time.Millisecond)
	defer cancel()
	conn, _, err := s.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		_ = s.source.Stop()
		s.state.Store(int32(StateIdle))
		return &ConnectionError{Err: fmt.Errorf("dial stream: %w", err)}
	}
	s.conn = conn

	if err := s.awaitHandshake(); err != nil {
		_ = s.source.Stop()
		conn.Close()
		s.state.Store(int32(StateIdle))
		return err
	}

	s.state.Store(int32(StateStreaming))
	s.log.Info("recognition session streaming", slog.String("session_id", s.ID))

	s.wg.Add(2)
	go s.pump()
	go s.readLoop()
	return nil
}

// awaitHandshake blocks until the backend confirms the session. Audio
// must not flow before this completes.
func (s *Session) awaitHandshake() error {
	deadline := time.Now().Add(time.Duration(s.cfg.ConnectTimeout) * time.Millisecond)
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		select {
		case <-s.done:
			return &ConnectionError{Err: fmt.Errorf("session stopped during handshake")}
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Err: fmt.Errorf("handshake read: %w", err)}
		}
		ev, perr := parseEvent(data)
		if perr != nil {
			s.log.Warn("ignoring malformed handshake event", slog.String("error", perr.Error()))
			continue
		}
		switch ev.Kind {
		case KindSessionBegins:
			return nil
		case KindServerError:
			return &AuthError{Err: fmt.Errorf("backend rejected session: %s", ev.Message)}
		default:
			// Backend spoke before confirming; keep waiting.
		}
	}
}

func (s *Session) pump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-s.source.Frames():
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
			s.writeMu.Unlock()
			if err != nil {
				s.surfaceError(&ConnectionError{Err: fmt.Errorf("send audio: %w", err)})
				go s.Stop()
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.surfaceError(&ConnectionError{Err: fmt.Errorf("read event: %w", err)})
				go s.Stop()
			}
			return
		}

		ev, perr := parseEvent(data)
		if perr != nil {
			// Malformed events are logged and skipped, never fatal.
			s.log.Warn("protocol error", slog.String("error", perr.Error()))
			continue
		}

		switch ev.Kind {
		case KindPartial:
			s.handlePartial(ev)
		case KindFinal:
			s.handleFinal(ev)
		case KindSessionTerminated:
			// Server-side close; release everything on our side too.
			go s.Stop()
			return
		case KindServerError:
			s.surfaceError(&ConnectionError{Err: fmt.Errorf("backend error: %s", ev.Message)})
			go s.Stop()
			return
		}
	}
}

// handlePartial coalesces revisable partials. The backend may re-emit
// an earlier utterance offset with corrected text, so entries are keyed
// by offset and the latest write wins before the combined string is
// surfaced.
func (s *Session) handlePartial(ev Event) {
	s.partials[ev.AudioStart] = ev.Text
	combined := s.combinedInterim()
	if combined == "" {
		return
	}
	select {
	case s.interims <- combined:
	default:
		// Interims are advisory; drop rather than stall the read loop.
	}
}

func (s *Session) handleFinal(ev Event) {
	// Final text supersedes every partial of the utterance.
	s.partials = make(map[int]string)
	if ev.Text == "" {
		return
	}
	s.segSeq++
	t := Transcript{
		SegmentID:  s.segSeq,
		Text:       ev.Text,
		ReceivedAt: s.clock(),
	}
	select {
	case <-s.done:
	case s.finals <- t:
	}
}

func (s *Session) combinedInterim() string {
	keys := make([]int, 0, len(s.partials))
	for k := range s.partials {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if text := s.partials[k]; text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Session) surfaceError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Stop tears the session down in a fixed order: halt the audio pump,
// release the capture device, ask the backend to terminate, close the
// connection. Safe to call more than once and from any goroutine.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.state.Store(int32(StateIdle))

		if err := s.source.Stop(); err != nil {
			s.log.Warn("capture stop failed", slog.String("error", err.Error()))
		}

		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.TextMessage, terminateMessage)
			s.writeMu.Unlock()
			_ = s.conn.Close()
		}

		s.wg.Wait()
		close(s.interims)
		close(s.finals)
		close(s.errs)
		s.log.Info("recognition session stopped", slog.String("session_id", s.ID))
	})
	return nil
}
