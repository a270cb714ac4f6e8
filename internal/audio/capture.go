package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/gen2brain/malgo"
)

// Capture owns a microphone device and emits encoded PCM frames on a
// bounded channel. The device data callback runs on the OS audio
// thread; it only copies bytes into a queue and never blocks. Encoding
// happens on a separate goroutine, and when the consumer falls behind
// the oldest unsent frame is dropped so memory stays bounded.
type Capture struct {
	cfg     config.AudioConfig
	outRate int
	log     *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	raw    chan []byte
	frames chan []byte
	dump   *DumpWriter

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewCapture prepares a capture pipeline targeting the given output
// sample rate. The device is not opened until Start.
func NewCapture(cfg config.AudioConfig, outRate int, log *slog.Logger) *Capture {
	return &Capture{
		cfg:     cfg,
		outRate: outRate,
		log:     log.With(slog.String("component", "audio-capture")),
		raw:     make(chan []byte, cfg.QueueFrames),
		frames:  make(chan []byte, cfg.QueueFrames),
	}
}

// Frames returns the encoded frame stream. The channel is closed after
// Stop once the encoder drains.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Start opens the microphone and begins producing frames. A device
// initialization failure is a permission problem as far as the caller
// is concerned: the OS refused us the microphone.
func (c *Capture) Start(parent context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(c.cfg.CaptureChannels)
	deviceConfig.SampleRate = uint32(c.cfg.CaptureSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(c.cfg.FrameDurationMS)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// Audio thread: copy and hand off, nothing else.
			buf := make([]byte, len(input))
			copy(buf, input)
			enqueueDropOldest(c.raw, buf)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	if c.cfg.DumpPath != "" {
		dump, err := NewDumpWriter(c.cfg.DumpPath, c.outRate)
		if err != nil {
			c.log.Warn("capture dump disabled", slog.String("error", err.Error()))
		} else {
			c.dump = dump
		}
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.ctx = mctx
	c.device = device
	c.started = true

	encoder := NewEncoder(c.cfg.CaptureChannels, c.cfg.CaptureSampleRate, c.outRate)
	c.wg.Add(1)
	go c.encodeLoop(ctx, encoder)

	c.log.Info("microphone capture started",
		slog.Int("sample_rate", c.cfg.CaptureSampleRate),
		slog.Int("channels", c.cfg.CaptureChannels),
		slog.Int("out_rate", c.outRate))
	return nil
}

func (c *Capture) encodeLoop(ctx context.Context, encoder *Encoder) {
	defer c.wg.Done()
	defer close(c.frames)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-c.raw:
			frame := encoder.Encode(raw)
			if len(frame) == 0 {
				continue
			}
			if c.dump != nil {
				if err := c.dump.Write(frame); err != nil {
					c.log.Warn("capture dump write failed", slog.String("error", err.Error()))
					c.dump = nil
				}
			}
			enqueueDropOldest(c.frames, frame)
		}
	}
}

// Stop releases the device. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx = nil
	}
	if c.dump != nil {
		if err := c.dump.Close(); err != nil {
			c.log.Warn("capture dump close failed", slog.String("error", err.Error()))
		}
		c.dump = nil
	}
	c.log.Info("microphone capture stopped")
	return nil
}

// enqueueDropOldest posts to a bounded channel, evicting the oldest
// entry instead of blocking when the consumer lags.
func enqueueDropOldest(ch chan []byte, buf []byte) {
	select {
	case ch <- buf:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- buf:
	default:
	}
}
