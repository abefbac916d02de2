// ABOUTME: Tests for the linear resampler
// ABOUTME: Tests length conversion and interpolation
package pcm

import (
	"math"
	"testing"
)

func TestResampleLength(t *testing.T) {
	in := make([]float32, 1600)
	out := Resample(in, InputSampleRate, OutputSampleRate)
	if len(out) != 2400 {
		t.Errorf("expected 2400 samples, got %d", len(out))
	}
}

func TestResampleSameRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	out := Resample(in, 24000, 24000)
	if &out[0] != &in[0] {
		t.Error("expected input returned unchanged for equal rates")
	}
}

func TestResampleInterpolates(t *testing.T) {
	in := []float32{0, 1}
	out := Resample(in, 1, 2)
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	if math.Abs(float64(out[1]-0.5)) > 1e-6 {
		t.Errorf("expected midpoint 0.5, got %v", out[1])
	}
}
