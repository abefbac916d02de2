// ABOUTME: WAV exporter for the last turn's received audio
// ABOUTME: Writes ai_response_<unix_ms>.wav files into an output directory
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

// Writer saves PCM turns as WAV files
type Writer struct {
	dir        string
	sampleRate int
	now        func() time.Time
}

// NewWriter creates a writer for dir, creating it if needed. An empty dir
// means the working directory.
func NewWriter(dir string, sampleRate int) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &Writer{
		dir:        dir,
		sampleRate: sampleRate,
		now:        time.Now,
	}, nil
}

// Filename returns the export name for t
func Filename(t time.Time) string {
	return fmt.Sprintf("ai_response_%d.wav", t.UnixMilli())
}

// Export encodes chunks as mono 16-bit WAV and returns the file path
func (w *Writer) Export(chunks [][]byte) (string, error) {
	path := filepath.Join(w.dir, Filename(w.now()))
	data := pcm.EncodeWAV(chunks, w.sampleRate)

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to save export: %w", err)
	}

	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("wav written")
	return path, nil
}
