// ABOUTME: Tests for reconnect backoff
// ABOUTME: Verifies the default delay sequence and custom parameters
package transport

import (
	"testing"
	"time"
)

func TestDefaultBackoffSequence(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{1000, 2000, 4000, 8000, 16000, 30000, 30000, 30000}

	for attempt, ms := range want {
		if got := b.Delay(attempt); got != ms*time.Millisecond {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, ms*time.Millisecond)
		}
	}
}

func TestBackoffCustom(t *testing.T) {
	tests := []struct {
		name    string
		b       Backoff
		attempt int
		want    time.Duration
	}{
		{"base only", Backoff{Base: 500 * time.Millisecond, Max: time.Minute, Multiplier: 3}, 0, 500 * time.Millisecond},
		{"third attempt", Backoff{Base: 500 * time.Millisecond, Max: time.Minute, Multiplier: 3}, 2, 4500 * time.Millisecond},
		{"capped", Backoff{Base: time.Second, Max: 5 * time.Second, Multiplier: 10}, 1, 5 * time.Second},
		{"huge attempt", Backoff{Base: time.Second, Max: 30 * time.Second, Multiplier: 2}, 5000, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoffHasNoJitter(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 20; i++ {
		if got := b.Delay(3); got != 8*time.Second {
			t.Fatalf("run %d: Delay(3) = %v, want 8s", i, got)
		}
	}
}
