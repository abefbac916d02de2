// ABOUTME: Malgo-based playback device
// ABOUTME: miniaudio pulls S16 mono frames from the mixer in its data callback
package output

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// Malgo plays the mixer through miniaudio
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
}

// NewMalgo creates a new Malgo device
func NewMalgo() Device {
	return &Malgo{}
}

// Start opens the default playback device at the mixer's sample rate
func (d *Malgo) Start(m *Mixer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(m.SampleRate())
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			m.Render(pOutput[:int(frameCount)*2])
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	d.malgoCtx = ctx
	d.device = device

	log.Info().Int("sample_rate", m.SampleRate()).Msg("audio output initialized (malgo/S16 mono)")
	return nil
}

// Close stops the device and frees the context
func (d *Malgo) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		if err := d.device.Stop(); err != nil {
			log.Warn().Err(err).Msg("playback device stop error")
		}
		d.device.Uninit()
		d.device = nil
	}

	if d.malgoCtx != nil {
		if err := d.malgoCtx.Uninit(); err != nil {
			log.Warn().Err(err).Msg("malgo context uninit error")
		}
		d.malgoCtx.Free()
		d.malgoCtx = nil
	}
	return nil
}
