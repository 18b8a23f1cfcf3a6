package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"

	"github.com/hermodvoice/hermod/config"
)

// MicSource captures PCM frames from the default input device through
// PortAudio. Frames are 20ms of signed 16-bit little-endian samples.
type MicSource struct {
	cfg config.RecordingConfig
	log *slog.Logger
}

// NewMicSource builds a microphone source for the configured format.
func NewMicSource(cfg config.RecordingConfig) *MicSource {
	return &MicSource{
		cfg: cfg,
		log: slog.Default().With("component", "mic"),
	}
}

// Start opens the input stream and emits frames until the context is
// cancelled. The returned channel closes when capture stops.
func (m *MicSource) Start(ctx context.Context) (<-chan []byte, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	frame := m.cfg.SampleRate / 50 // 20ms
	buf := make([]int16, frame*m.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(m.cfg.Channels, 0, float64(m.cfg.SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer portaudio.Terminate()
		defer stream.Close()
		defer stream.Stop()
		for {
			if ctx.Err() != nil {
				return
			}
			if err := stream.Read(); err != nil {
				m.log.Warn("input stream read failed", "error", err)
				return
			}
			b := make([]byte, len(buf)*2)
			for i, s := range buf {
				binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
