package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/framing"
)

// StreamConn is a protocol connection over a raw byte stream pair. A single
// reader goroutine owns the inbound half: it feeds bytes through the framer
// and demultiplexes replies to waiting callers by correlation id. Framing and
// dispatch never block on a specific caller.
type StreamConn struct {
	w      io.Writer
	closer func() error
	framer *framing.Framer
	logger *zap.Logger

	alive atomic.Bool

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan callResult

	closeOnce sync.Once
	closed    chan struct{}
}

type ConnOptions struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Backend string
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

func NewStreamConn(r io.Reader, w io.Writer, closer func() error, opts ConnOptions) *StreamConn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("conn").With(zap.String("backend", opts.Backend))
	c := &StreamConn{
		w:       w,
		closer:  closer,
		framer:  framing.New(logger, opts.Metrics),
		logger:  logger,
		pending: make(map[string]chan callResult),
		closed:  make(chan struct{}),
	}
	c.alive.Store(true)
	go c.readLoop(r)
	return c
}

func (c *StreamConn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}

	key := uuid.NewString()
	id, err := jsonrpc.MakeID(key)
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	wire, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resultCh := make(chan callResult, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[key] = resultCh
	c.mu.Unlock()

	if err := c.write(wire); err != nil {
		c.removePending(key)
		c.markDead()
		return nil, fmt.Errorf("write request: %w", errors.Join(domain.ErrConnectionClosed, err))
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}
		if result.resp.Error != nil {
			return nil, fmt.Errorf("backend error: %w", result.resp.Error)
		}
		return result.resp.Result, nil
	case <-ctx.Done():
		// A late reply for this id is dropped by the reader, not an error.
		c.removePending(key)
		return nil, ctx.Err()
	}
}

func (c *StreamConn) Alive() bool {
	return c.alive.Load()
}

func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.markDead()
		if c.closer != nil {
			err = c.closer()
		}
		c.failPending(domain.ErrConnectionClosed)
	})
	return err
}

func (c *StreamConn) write(wire []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(wire); err != nil {
		return err
	}
	_, err := c.w.Write([]byte{'\n'})
	return err
}

func (c *StreamConn) readLoop(r io.Reader) {
	scanner := framing.NewScanner(r, c.framer)
	for {
		raw, err := scanner.Next()
		if err != nil {
			failErr := domain.ErrConnectionClosed
			if errors.Is(err, domain.ErrTruncatedStream) {
				failErr = domain.ErrTruncatedStream
			} else if !errors.Is(err, io.EOF) {
				c.logger.Debug("stream read failed", zap.Error(err))
			}
			c.markDead()
			c.failPending(failErr)
			return
		}
		c.dispatch(raw)
	}
}

func (c *StreamConn) dispatch(raw json.RawMessage) {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		c.logger.Warn("drop message violating protocol", zap.Error(err))
		return
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		// Backend-initiated requests and notifications are not part of
		// the invocation protocol this gateway speaks.
		c.logger.Debug("drop non-response message")
		return
	}
	key, err := idKey(resp.ID)
	if err != nil {
		c.logger.Debug("drop response with invalid id", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Debug("drop response with no pending call", zap.String("id", key))
		return
	}
	ch <- callResult{resp: resp}
}

func (c *StreamConn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (c *StreamConn) removePending(key string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

func (c *StreamConn) markDead() {
	c.alive.Store(false)
}

func (c *StreamConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return !c.alive.Load()
	}
}

func idKey(id jsonrpc.ID) (string, error) {
	if !id.IsValid() {
		return "", errors.New("missing response id")
	}
	raw := id.Raw()
	switch typed := raw.(type) {
	case string:
		return typed, nil
	case float64:
		return fmt.Sprintf("%v", typed), nil
	case int64:
		return fmt.Sprintf("%v", typed), nil
	case json.Number:
		return typed.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", raw)
	}
}
