// ABOUTME: Tests for turn and subtitle history
// ABOUTME: Tests bounded subtitle storage, turn reset and context normalization
package session

import (
	"strings"
	"testing"
)

func TestSubtitlesDropOldest(t *testing.T) {
	s := NewSubtitles(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		s.Add(text)
	}

	got := strings.Join(s.Items(), ",")
	if got != "c,d,e" {
		t.Errorf("items = %s, want c,d,e", got)
	}
}

func TestSubtitlesDefaultCap(t *testing.T) {
	s := NewSubtitles(0)
	for i := 0; i < 20; i++ {
		s.Add("x")
	}
	if s.Len() != DefaultSubtitleCap {
		t.Errorf("len = %d, want %d", s.Len(), DefaultSubtitleCap)
	}
}

func TestTurnHistory(t *testing.T) {
	var h TurnHistory
	h.Append([]byte{1, 2})
	h.Append([]byte{3, 4, 5, 6})

	if h.Len() != 2 || h.Bytes() != 6 {
		t.Errorf("len %d bytes %d", h.Len(), h.Bytes())
	}

	chunks := h.Chunks()
	chunks[0] = nil
	if h.Chunks()[0] == nil {
		t.Error("Chunks should return a copy")
	}

	h.Reset()
	if h.Len() != 0 || h.Bytes() != 0 {
		t.Error("reset should clear the history")
	}
}

func TestNormalizeContext(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"whitespace", "  \n\t ", 0},
		{"short", "  hold position ", len("hold position")},
		{"at limit", strings.Repeat("a", 2000), 2000},
		{"over limit", strings.Repeat("a", 2001), 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len([]rune(NormalizeContext(tt.input))); got != tt.want {
				t.Errorf("length = %d, want %d", got, tt.want)
			}
		})
	}
}
