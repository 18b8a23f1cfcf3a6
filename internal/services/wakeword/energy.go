package wakeword

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Frames is the audio stream the detector listens on.
type Frames interface {
	Subscribe(id string) <-chan []byte
	Unsubscribe(id string)
}

// EnergyDetector is a voice-activity wake trigger over the recorder
// stream: sustained energy above the threshold counts as a detection.
// It stands in when no keyword model is available on the device.
type EnergyDetector struct {
	frames    Frames
	threshold float64
	hold      time.Duration
	cooldown  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewEnergyDetector builds a detector that fires after energy stays above
// threshold for hold, then suppresses repeats for cooldown.
func NewEnergyDetector(frames Frames, threshold float64, hold, cooldown time.Duration) *EnergyDetector {
	if hold <= 0 {
		hold = 300 * time.Millisecond
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &EnergyDetector{frames: frames, threshold: threshold, hold: hold, cooldown: cooldown}
}

// Start blocks consuming frames until the context is cancelled or Stop is
// called, invoking onDetected for every trigger.
func (d *EnergyDetector) Start(ctx context.Context, onDetected func(wakewordID string)) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	const sinkID = "wakeword"
	ch := d.frames.Subscribe(sinkID)
	defer d.frames.Unsubscribe(sinkID)

	var (
		loudSince time.Time
		mutedTill time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			now := time.Now()
			if now.Before(mutedTill) {
				continue
			}
			if frameRMS(frame) < d.threshold {
				loudSince = time.Time{}
				continue
			}
			if loudSince.IsZero() {
				loudSince = now
				continue
			}
			if now.Sub(loudSince) >= d.hold {
				loudSince = time.Time{}
				mutedTill = now.Add(d.cooldown)
				onDetected("energy")
			}
		}
	}
}

// Stop cancels a running Start.
func (d *EnergyDetector) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
}

func frameRMS(frame []byte) float64 {
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
