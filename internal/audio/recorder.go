// Package audio provides the recording fan-out and WAV framing for the
// speech pipeline. The actual capture device is an injected Source; the
// recorder treats it purely as a push stream of PCM frames.
package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hermodvoice/hermod/config"
)

// Source is a restartable stream of PCM audio frames.
type Source interface {
	// Start begins capture. The returned channel closes when ctx is
	// cancelled or the source fails.
	Start(ctx context.Context) (<-chan []byte, error)
}

// Recorder reads frames from the capture source, fans them out to
// collectors, and runs energy-threshold silence detection while enabled.
type Recorder struct {
	src config.RecordingConfig

	mu             sync.Mutex
	sinks          map[string]chan []byte
	silenceEnabled bool
	silentSince    time.Time
	silenceFired   bool
	onSilence      func()

	source Source
}

// NewRecorder creates a recorder over the given capture source.
func NewRecorder(source Source, cfg config.RecordingConfig) *Recorder {
	return &Recorder{
		src:    cfg,
		source: source,
		sinks:  make(map[string]chan []byte),
	}
}

// SetSilenceHandler registers the callback invoked once per detected
// silence window. Set before Run.
func (r *Recorder) SetSilenceHandler(fn func()) {
	r.mu.Lock()
	r.onSilence = fn
	r.mu.Unlock()
}

// Run consumes the capture source until ctx is cancelled. It returns the
// source error, if any.
func (r *Recorder) Run(ctx context.Context) error {
	frames, err := r.source.Start(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "recorder: capture started",
		slog.Int("sample_rate", r.src.SampleRate), slog.Int("channels", r.src.Channels))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			r.dispatch(frame)
		}
	}
}

// Subscribe attaches a collector. Frames that arrive while the collector's
// queue is full are dropped for that collector.
func (r *Recorder) Subscribe(id string) <-chan []byte {
	ch := make(chan []byte, 64)
	r.mu.Lock()
	r.sinks[id] = ch
	r.mu.Unlock()
	return ch
}

// Unsubscribe detaches a collector and closes its queue.
func (r *Recorder) Unsubscribe(id string) {
	r.mu.Lock()
	if ch, ok := r.sinks[id]; ok {
		close(ch)
		delete(r.sinks, id)
	}
	r.mu.Unlock()
}

// ToggleSilenceDetection arms or disarms silence detection. Arming resets
// the detection window.
func (r *Recorder) ToggleSilenceDetection(enabled bool) {
	r.mu.Lock()
	r.silenceEnabled = enabled && r.src.SilenceDetection
	r.silentSince = time.Time{}
	r.silenceFired = false
	r.mu.Unlock()
}

func (r *Recorder) dispatch(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.sinks {
		select {
		case ch <- frame:
		default:
		}
	}

	if !r.silenceEnabled || r.silenceFired {
		return
	}

	if rms(frame) >= r.src.SilenceThreshold {
		r.silentSince = time.Time{}
		return
	}
	now := time.Now()
	if r.silentSince.IsZero() {
		r.silentSince = now
		return
	}
	if now.Sub(r.silentSince) >= r.src.SilenceDuration {
		r.silenceFired = true
		if r.onSilence != nil {
			// Invoke outside the lock to avoid re-entrancy deadlocks.
			fn := r.onSilence
			go fn()
		}
	}
}

// rms computes the root mean square of 16-bit little-endian samples.
func rms(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
