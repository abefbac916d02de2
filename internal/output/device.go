// ABOUTME: Audio device interface and backend selection
// ABOUTME: A device pulls rendered PCM from a Mixer on its own clock
package output

import (
	"fmt"
)

// Device drives a Mixer from an audio backend
type Device interface {
	// Start opens the device and begins pulling from m
	Start(m *Mixer) error

	// Close releases device resources
	Close() error
}

// Backend names accepted by New
const (
	BackendMalgo = "malgo"
	BackendOto   = "oto"
	BackendNull  = "null"
)

// New returns the device for the named backend
func New(backend string) (Device, error) {
	switch backend {
	case BackendMalgo, "":
		return NewMalgo(), nil
	case BackendOto:
		return NewOto(), nil
	case BackendNull:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", backend)
	}
}
