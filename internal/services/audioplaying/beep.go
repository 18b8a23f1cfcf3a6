package audioplaying

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	beepwav "github.com/faiface/beep/wav"
)

// BeepPlayer plays WAV audio on the local speaker. The speaker is
// initialized once for the first sample rate seen; later audio is
// resampled to match.
type BeepPlayer struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

// NewBeepPlayer creates an uninitialized local player. The audio device is
// opened lazily on first play.
func NewBeepPlayer() *BeepPlayer {
	return &BeepPlayer{}
}

// Play decodes and plays WAV data, blocking until playback finished.
func (p *BeepPlayer) Play(data []byte) error {
	streamer, format, err := beepwav.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	p.mu.Lock()
	if p.rate == 0 {
		p.rate = format.SampleRate
		if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
			p.rate = 0
			p.mu.Unlock()
			return fmt.Errorf("init speaker: %w", err)
		}
	}
	rate := p.rate
	p.mu.Unlock()

	var stream beep.Streamer = streamer
	if format.SampleRate != rate {
		stream = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(stream, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}
