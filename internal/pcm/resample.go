// ABOUTME: Linear interpolation resampler for mono float audio
// ABOUTME: Converts captured 16kHz speech to the 24kHz playback rate
package pcm

// Resample converts mono samples from one rate to another using linear interpolation
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(input) == 0 {
		return input
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(input)) / ratio)
	output := make([]float32, outLen)

	last := len(input) - 1
	for i := range output {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := float32(pos - float64(lo))
		output[i] = input[lo]*(1-frac) + input[hi]*frac
	}

	return output
}
