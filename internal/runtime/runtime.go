package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/followspot-labs/followspot-core/internal/audio"
	"github.com/followspot-labs/followspot-core/internal/bus"
	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/followspot-labs/followspot-core/internal/director"
	"github.com/followspot-labs/followspot-core/internal/follow"
	"github.com/followspot-labs/followspot-core/internal/natsserver"
	"github.com/followspot-labs/followspot-core/internal/recognition"
	"github.com/followspot-labs/followspot-core/internal/slidestore"
)

// Runtime owns process lifecycle: telemetry, the optional embedded
// broker, the bus client, the slide store, the director, and the HTTP
// surface. Start blocks until the context is cancelled and then tears
// everything down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	director    *director.Service
	store       *slidestore.Store
	busClient   *bus.Client
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Sync.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}

		r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
	}

	r.store, err = slidestore.Open(ctx, r.cfg.SlideStore, r.logger.With(slog.String("component", "slidestore")))
	if err != nil {
		r.busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open slide store: %w", err)
	}

	r.director, err = director.NewService(ctx, r.cfg, r.busClient, r.store, r.sessionFactory(), r.logger)
	if err != nil {
		return fmt.Errorf("failed to build director: %w", err)
	}
	if err := r.director.Start(); err != nil {
		return fmt.Errorf("failed to start director: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/slides", r.handleSlides)
	mux.HandleFunc("/slides/select", r.handleSelect)
	mux.HandleFunc("/follow/reset", r.handleReset)
	mux.HandleFunc("/listen/start", r.handleListenStart)
	mux.HandleFunc("/listen/stop", r.handleListenStop)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.director.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Error("slide store close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// sessionFactory builds one-shot recognition sessions backed by a fresh
// microphone capture. Each reconnect attempt gets a new pair.
func (r *Runtime) sessionFactory() director.SessionFactory {
	if !r.cfg.Recognition.Enabled {
		return nil
	}
	return func() (*recognition.Session, error) {
		capture := audio.NewCapture(r.cfg.Audio, r.cfg.Recognition.SampleRate, r.logger)
		return recognition.NewSession(r.cfg.Recognition, capture, r.logger), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.director.Status())
}

type slidePayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// handleSlides replaces or lists the slide deck. Order follows the
// position in the submitted array.
func (r *Runtime) handleSlides(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		slides, err := r.store.Slides(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, slides)
	case http.MethodPost, http.MethodPut:
		var payload []slidePayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slides := make([]follow.Slide, 0, len(payload))
		for i, p := range payload {
			if p.ID == "" {
				http.Error(w, fmt.Sprintf("slide %d missing id", i), http.StatusBadRequest)
				return
			}
			slides = append(slides, follow.Slide{ID: p.ID, Text: p.Text, Order: i})
		}
		if err := r.store.ReplaceSlides(req.Context(), slides); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		r.logger.Info("slide deck replaced", slog.Int("count", len(slides)))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Runtime) handleSelect(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		SlideID string `json:"slide_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.SlideID == "" {
		http.Error(w, "slide_id is required", http.StatusBadRequest)
		return
	}
	r.director.SelectSlide(payload.SlideID)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleReset(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.director.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleListenStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !r.cfg.Recognition.Enabled {
		http.Error(w, "recognition is disabled", http.StatusConflict)
		return
	}
	if err := r.director.StartListening(); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleListenStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.director.StopListening()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
