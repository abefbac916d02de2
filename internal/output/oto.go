// ABOUTME: Oto-based playback device
// ABOUTME: A persistent oto player reads rendered mixer blocks as an io.Reader
package output

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

// Oto plays the mixer through oto. oto allows one context per process.
type Oto struct {
	otoCtx *oto.Context
	player *oto.Player
}

// NewOto creates a new Oto device
func NewOto() Device {
	return &Oto{}
}

// Start creates the oto context and a player fed by the mixer
func (d *Oto) Start(m *Mixer) error {
	if d.otoCtx != nil {
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   m.SampleRate(),
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   20 * time.Millisecond,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	d.otoCtx = ctx
	d.player = ctx.NewPlayer(mixerReader{m})
	d.player.Play()

	log.Info().Int("sample_rate", m.SampleRate()).Msg("audio output initialized (oto)")
	return nil
}

// Close stops the player and suspends the context
func (d *Oto) Close() error {
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			log.Warn().Err(err).Msg("oto player close error")
		}
		d.player = nil
	}
	if d.otoCtx != nil {
		if err := d.otoCtx.Suspend(); err != nil {
			log.Warn().Err(err).Msg("oto suspend error")
		}
	}
	return nil
}

// mixerReader adapts Mixer.Render to io.Reader. It never returns EOF so
// the player keeps running across silent stretches.
type mixerReader struct {
	m *Mixer
}

func (r mixerReader) Read(p []byte) (int, error) {
	n := len(p) &^ 1
	r.m.Render(p[:n])
	return n, nil
}
