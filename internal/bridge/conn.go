// ABOUTME: Per-client bridge session
// ABOUTME: Buffers a turn's audio and streams the reply
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
	"github.com/Resonate-Protocol/walkie-go/internal/protocol"
)

type conn struct {
	id     string
	ws     *websocket.Conn
	server *Server
	logger zerolog.Logger

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	// read loop only
	mission string
	talking bool
	audio   []byte

	replyMu sync.Mutex
	cancel  context.CancelFunc
	replies sync.WaitGroup
}

func (c *conn) serve() {
	if err := c.send(protocol.Connected()); err != nil {
		return
	}
	if err := c.send(protocol.Ready()); err != nil {
		return
	}

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

func (c *conn) handleAudio(data []byte) {
	if !c.talking {
		c.logger.Debug().Int("bytes", len(data)).Msg("dropping audio outside a turn")
		return
	}
	c.audio = append(c.audio, data...)
}

func (c *conn) handleText(data []byte) {
	msg, err := protocol.ParseClient(data)
	if err != nil {
		c.violation(fmt.Sprintf("invalid message: %v", err))
		return
	}

	switch msg.Type {
	case protocol.TypeSetContext:
		c.mission = msg.Context
		c.logger.Info().Int("length", utf8.RuneCountInString(msg.Context)).Msg("context set")

	case protocol.TypeStartTalking:
		c.cancelReply()
		if c.talking {
			c.logger.Warn().Msg("start_talking during a turn, restarting")
		}
		c.talking = true
		c.audio = c.audio[:0]
		c.logger.Info().Msg("turn started")

	case protocol.TypeStopTalking:
		if !c.talking {
			c.violation("stop_talking without start_talking")
			return
		}
		c.talking = false
		recorded := append([]byte(nil), c.audio...)
		c.audio = c.audio[:0]
		c.startReply(recorded, c.mission)

	default:
		c.violation(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *conn) violation(text string) {
	c.logger.Warn().Str("error", text).Msg("protocol violation")
	_ = c.send(protocol.Error(text))
}

func (c *conn) startReply(recorded []byte, mission string) {
	ctx, cancel := context.WithCancel(context.Background())

	c.replyMu.Lock()
	c.cancel = cancel
	c.replyMu.Unlock()

	c.replies.Add(1)
	go func() {
		defer c.replies.Done()
		if err := c.reply(ctx, recorded, mission); err != nil {
			c.logger.Debug().Err(err).Msg("reply stopped")
		}
	}()
}

// cancelReply interrupts the reply in flight and waits for it to finish
func (c *conn) cancelReply() {
	c.replyMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.replyMu.Unlock()
	c.replies.Wait()
}

func (c *conn) reply(ctx context.Context, recorded []byte, mission string) error {
	samples, err := pcm.DecodePCM16(recorded)
	if err != nil {
		// Odd trailing byte from a torn frame
		samples, _ = pcm.DecodePCM16(recorded[:len(recorded)&^1])
	}

	heard := pcm.Duration(len(samples), pcm.InputSampleRate)
	var out []float32
	if len(samples) == 0 {
		out = Tone(ToneFrequency, ToneDuration, pcm.OutputSampleRate)
	} else {
		out = pcm.Resample(samples, pcm.InputSampleRate, pcm.OutputSampleRate)
	}

	c.logger.Info().Float64("heard_seconds", heard).Int("reply_samples", len(out)).Msg("turn complete, replying")

	if err := c.send(protocol.SpeakingMessage(true)); err != nil {
		return err
	}
	if err := c.send(protocol.Subtitle(Describe(heard, mission))); err != nil {
		return err
	}
	if err := c.stream(ctx, out); err != nil {
		return err
	}
	if err := c.send(protocol.SpeakingMessage(false)); err != nil {
		return err
	}
	return c.send(protocol.TurnComplete())
}

func (c *conn) stream(ctx context.Context, samples []float32) error {
	per := int(ChunkDuration.Seconds() * pcm.OutputSampleRate)

	var ticker *time.Ticker
	if c.server.config.Realtime {
		ticker = time.NewTicker(ChunkDuration)
		defer ticker.Stop()
	}

	for off := 0; off < len(samples); off += per {
		end := min(off+per, len(samples))

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.write(websocket.BinaryMessage, pcm.EncodePCM16(samples[off:end])); err != nil {
			return err
		}

		if ticker != nil && end < len(samples) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

func (c *conn) send(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *conn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Describe builds the reply subtitle
func Describe(heard float64, mission string) string {
	var s string
	if heard == 0 {
		s = "I didn't catch any audio, here is a test tone."
	} else {
		s = fmt.Sprintf("I heard %.1f seconds of audio.", heard)
	}
	if mission != "" {
		s += fmt.Sprintf(" Context: %s", truncate(mission, 60))
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// Tone generates a sine wave at half scale
func Tone(freq float64, d time.Duration, sampleRate int) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}
