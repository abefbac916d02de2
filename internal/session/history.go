// ABOUTME: Turn history and subtitle history containers
// ABOUTME: Keeps the last turn's received PCM and a bounded list of subtitles
package session

import (
	"strings"
	"unicode/utf8"

	"github.com/Resonate-Protocol/walkie-go/internal/protocol"
)

// TurnHistory holds the PCM chunks received during the current turn
type TurnHistory struct {
	chunks [][]byte
	bytes  int
}

// Append adds a chunk
func (h *TurnHistory) Append(chunk []byte) {
	h.chunks = append(h.chunks, chunk)
	h.bytes += len(chunk)
}

// Reset clears the history for a new turn
func (h *TurnHistory) Reset() {
	h.chunks = nil
	h.bytes = 0
}

// Chunks returns the chunks in arrival order
func (h *TurnHistory) Chunks() [][]byte {
	return append([][]byte(nil), h.chunks...)
}

// Len returns the number of chunks
func (h *TurnHistory) Len() int {
	return len(h.chunks)
}

// Bytes returns the total PCM size
func (h *TurnHistory) Bytes() int {
	return h.bytes
}

// DefaultSubtitleCap is the number of subtitles kept
const DefaultSubtitleCap = 10

// Subtitles is an ordered history that drops the oldest entry past its cap
type Subtitles struct {
	limit int
	items []string
}

// NewSubtitles creates a history holding at most limit entries
func NewSubtitles(limit int) *Subtitles {
	if limit <= 0 {
		limit = DefaultSubtitleCap
	}
	return &Subtitles{limit: limit}
}

// Add appends text, dropping the oldest entries beyond the cap
func (s *Subtitles) Add(text string) {
	s.items = append(s.items, text)
	if over := len(s.items) - s.limit; over > 0 {
		s.items = append(s.items[:0], s.items[over:]...)
	}
}

// Items returns the subtitles oldest first
func (s *Subtitles) Items() []string {
	return append([]string(nil), s.items...)
}

// Len returns the number of stored subtitles
func (s *Subtitles) Len() int {
	return len(s.items)
}

// NormalizeContext trims text and limits it to MaxContextLength characters
func NormalizeContext(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= protocol.MaxContextLength {
		return text
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:protocol.MaxContextLength]))
}
