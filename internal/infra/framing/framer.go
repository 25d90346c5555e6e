// Package framing extracts well-formed protocol messages from a backend's
// raw output stream. Backends routinely print startup banners, log lines and
// other non-protocol text to the same stream; the framer drops everything
// that is not a complete, parseable JSON object.
package framing

import (
	"encoding/json"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Framer is a brace-counting state machine over an incoming byte stream.
// State survives across read boundaries, so messages split over multiple
// reads are reassembled. Not safe for concurrent use; each connection owns
// one framer fed only by its reader goroutine.
type Framer struct {
	logger  *zap.Logger
	metrics domain.Metrics

	inMessage bool
	depth     int
	buffer    []byte
	emitted   bool
}

func New(logger *zap.Logger, metrics domain.Metrics) *Framer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Framer{
		logger:  logger.Named("framer"),
		metrics: metrics,
	}
}

// Feed consumes a chunk of raw stream bytes and returns the complete
// messages it finished, in stream order. Bytes outside a message are noise
// and are dropped; balanced-brace buffers that fail to parse are discarded
// without aborting the stream.
func (f *Framer) Feed(chunk []byte) []json.RawMessage {
	var messages []json.RawMessage
	noiseStart := -1

	for i, b := range chunk {
		if !f.inMessage {
			if b == '{' {
				f.flushNoise(chunk, noiseStart, i)
				noiseStart = -1
				f.inMessage = true
				f.depth = 1
				f.buffer = append(f.buffer[:0], b)
				continue
			}
			if noiseStart < 0 {
				noiseStart = i
			}
			continue
		}

		f.buffer = append(f.buffer, b)
		switch b {
		case '{':
			f.depth++
		case '}':
			f.depth--
			if f.depth == 0 {
				if msg, ok := f.complete(); ok {
					messages = append(messages, msg)
				}
				f.inMessage = false
				f.buffer = f.buffer[:0]
			}
		}
	}

	f.flushNoise(chunk, noiseStart, len(chunk))
	return messages
}

// InMessage reports whether the framer holds a partial message. A stream
// that closes while this is true was truncated mid-message.
func (f *Framer) InMessage() bool {
	return f.inMessage
}

func (f *Framer) complete() (json.RawMessage, bool) {
	if !json.Valid(f.buffer) {
		f.logger.Warn("discard corrupt message",
			zap.Int("bytes", len(f.buffer)),
		)
		f.discard("corrupt")
		return nil, false
	}
	msg := make(json.RawMessage, len(f.buffer))
	copy(msg, f.buffer)
	f.emitted = true
	return msg, true
}

func (f *Framer) flushNoise(chunk []byte, start, end int) {
	if start < 0 || start >= end {
		return
	}
	noise := chunk[start:end]
	if isBlank(noise) {
		return
	}
	// Noise after the first valid message signals a protocol violation by
	// the backend; noise before it is the usual startup banner.
	if f.emitted {
		f.logger.Warn("non-protocol output between messages",
			zap.Int("bytes", len(noise)),
			zap.ByteString("sample", sample(noise)),
		)
	} else {
		f.logger.Debug("drop banner output",
			zap.Int("bytes", len(noise)),
			zap.ByteString("sample", sample(noise)),
		)
	}
	f.discard("noise")
}

func (f *Framer) discard(kind string) {
	if f.metrics != nil {
		f.metrics.IncFramerDiscard(kind)
	}
}

func isBlank(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}

func sample(b []byte) []byte {
	const max = 80
	if len(b) <= max {
		return b
	}
	return b[:max]
}
