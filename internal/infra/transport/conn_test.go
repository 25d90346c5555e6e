package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// fakeBackend pairs two pipes so a test can play the backend side of a
// StreamConn: it reads newline-delimited requests and writes whatever bytes
// it wants back, including noise.
type fakeBackend struct {
	requests <-chan *jsonrpc.Request
	stdin    *io.PipeWriter
	stdout   io.Writer
}

func newFakeBackend(t *testing.T) (*StreamConn, *fakeBackend) {
	t.Helper()

	// backendWrite is the backend's stdout; the conn reads backendRead.
	// connWrite is the backend's stdin; the test reads connRead.
	backendRead, backendWrite := io.Pipe()
	connRead, connWrite := io.Pipe()

	requests := make(chan *jsonrpc.Request, 16)
	go func() {
		scanner := bufio.NewScanner(connRead)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			msg, err := jsonrpc.DecodeMessage(scanner.Bytes())
			if err != nil {
				continue
			}
			if req, ok := msg.(*jsonrpc.Request); ok {
				requests <- req
			}
		}
		close(requests)
	}()

	conn := NewStreamConn(backendRead, connWrite, func() error {
		_ = backendWrite.Close()
		return nil
	}, ConnOptions{Logger: zap.NewNop(), Backend: "fake"})
	t.Cleanup(func() { _ = conn.Close() })

	return conn, &fakeBackend{
		requests: requests,
		stdin:    backendWrite,
		stdout:   backendWrite,
	}
}

func (b *fakeBackend) reply(req *jsonrpc.Request, result string) {
	payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, rawID(req.ID), result)
	_, _ = b.stdout.Write([]byte(payload + "\n"))
}

func (b *fakeBackend) write(raw string) {
	_, _ = b.stdout.Write([]byte(raw))
}

func rawID(id jsonrpc.ID) string {
	raw, _ := json.Marshal(id.Raw())
	return string(raw)
}

func TestCallMatchesCorrelationID(t *testing.T) {
	conn, backend := newFakeBackend(t)

	go func() {
		req := <-backend.requests
		// Banner noise and a stray reply with an unknown id must both be
		// ignored by the caller awaiting its own correlation id.
		backend.write("warming up backend\n")
		backend.write(`{"jsonrpc":"2.0","id":"nobody-waits-for-this","result":{}}` + "\n")
		backend.reply(req, `{"ok":true}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := conn.Call(ctx, "tools/call", map[string]any{"name": "echo"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.True(t, conn.Alive())
}

func TestConcurrentCallsSeeOwnReplies(t *testing.T) {
	conn, backend := newFakeBackend(t)

	go func() {
		first := <-backend.requests
		second := <-backend.requests
		// Replies arrive in reverse order of the requests.
		backend.reply(second, `{"n":2}`)
		backend.reply(first, `{"n":1}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		n   int
		raw json.RawMessage
		err error
	}
	results := make(chan outcome, 2)
	for i := 1; i <= 2; i++ {
		n := i
		go func() {
			raw, err := conn.Call(ctx, "tools/call", map[string]any{"seq": n})
			results <- outcome{n: n, raw: raw, err: err}
		}()
		// Keep request ordering deterministic for the fake backend.
		time.Sleep(20 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		var decoded struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(out.raw, &decoded))
		assert.Equal(t, out.n, decoded.N)
	}
}

func TestCallTimeoutReleasesCaller(t *testing.T) {
	conn, backend := newFakeBackend(t)

	reqCh := make(chan *jsonrpc.Request, 1)
	go func() {
		reqCh <- <-backend.requests
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.Call(ctx, "tools/call", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A late reply for the abandoned id is discarded; the conn keeps working.
	req := <-reqCh
	backend.reply(req, `{"late":true}`)

	go func() {
		next := <-backend.requests
		backend.reply(next, `{"ok":true}`)
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	result, err := conn.Call(ctx2, "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestTruncatedStreamFailsInFlightCall(t *testing.T) {
	conn, backend := newFakeBackend(t)

	go func() {
		<-backend.requests
		backend.write(`{"jsonrpc":"2.0","id":1,"resu`)
		_ = backend.stdin.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Call(ctx, "tools/call", nil)
	require.ErrorIs(t, err, domain.ErrTruncatedStream)
	assert.False(t, conn.Alive())
}

func TestCloseFailsPendingAndRejectsNewCalls(t *testing.T) {
	conn, backend := newFakeBackend(t)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := conn.Call(ctx, "tools/call", nil)
		errCh <- err
	}()

	<-backend.requests
	require.NoError(t, conn.Close())

	err := <-errCh
	require.ErrorIs(t, err, domain.ErrConnectionClosed)

	_, err = conn.Call(context.Background(), "ping", nil)
	require.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestBackendErrorSurfacesToCaller(t *testing.T) {
	conn, backend := newFakeBackend(t)

	go func() {
		req := <-backend.requests
		payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"boom"}}`, rawID(req.ID))
		backend.write(payload + "\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Call(ctx, "tools/call", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
