package framing

import (
	"encoding/json"
	"io"

	"toolgate/internal/domain"
)

// Scanner drives a Framer from an io.Reader. It is the read-loop shape of the
// framer: Next blocks on the reader until a complete message is available.
type Scanner struct {
	r      io.Reader
	framer *Framer
	queue  []json.RawMessage
	buf    []byte
	err    error
}

func NewScanner(r io.Reader, framer *Framer) *Scanner {
	return &Scanner{
		r:      r,
		framer: framer,
		buf:    make([]byte, 4096),
	}
}

// Next returns the next framed message. When the stream ends it returns
// io.EOF on a clean boundary, ErrTruncatedStream if the stream died inside a
// message, or the underlying read error. Messages already framed before the
// stream error are drained first.
func (s *Scanner) Next() (json.RawMessage, error) {
	for len(s.queue) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.queue = append(s.queue, s.framer.Feed(s.buf[:n])...)
		}
		if err != nil {
			if s.framer.InMessage() {
				s.err = domain.ErrTruncatedStream
			} else {
				s.err = err
			}
		}
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, nil
}
