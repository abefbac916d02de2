// ABOUTME: Malgo-based microphone source
// ABOUTME: Opens the default capture device as F32 mono and forwards samples
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// MalgoSource captures from the default miniaudio input device
type MalgoSource struct{}

// NewMalgoSource creates a microphone source
func NewMalgoSource() *MalgoSource {
	return &MalgoSource{}
}

// Open starts the default capture device
func (MalgoSource) Open(c Constraints, onSamples func([]float32)) (Stream, error) {
	// miniaudio has no voice processing graph
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		log.Debug().
			Bool("echo_cancellation", c.EchoCancellation).
			Bool("noise_suppression", c.NoiseSuppression).
			Bool("auto_gain", c.AutoGainControl).
			Msg("voice processing requested but not available on this backend")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &Error{Kind: Other, Err: fmt.Errorf("failed to initialize malgo context: %w", err)}
	}

	devices, err := ctx.Devices(malgo.Capture)
	if err == nil && len(devices) == 0 {
		freeContext(ctx)
		return nil, &Error{Kind: DeviceNotFound, Err: errors.New("no capture devices")}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(c.Channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.Alsa.NoMMap = 1

	channels := c.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			onSamples(downmixF32(pInput, int(frameCount), channels))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, classify(fmt.Errorf("failed to initialize capture device: %w", err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return nil, classify(fmt.Errorf("failed to start capture device: %w", err))
	}

	log.Info().Int("sample_rate", c.SampleRate).Msg("microphone opened (malgo/F32)")
	return &malgoStream{ctx: ctx, device: device}, nil
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (s *malgoStream) Close() error {
	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		freeContext(s.ctx)
		s.ctx = nil
	}
	return err
}

func freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		log.Warn().Err(err).Msg("malgo context uninit error")
	}
	ctx.Free()
}

// downmixF32 converts interleaved little-endian float32 frames to mono
func downmixF32(data []byte, frames, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	if avail := len(data) / (4 * channels); frames > avail {
		frames = avail
	}

	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 4
			sum += math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
		out[i] = sum / float32(channels)
	}
	return out
}
