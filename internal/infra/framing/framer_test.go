package framing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func feedAll(f *Framer, input []byte, chunk int) []json.RawMessage {
	var out []json.RawMessage
	for start := 0; start < len(input); start += chunk {
		end := start + chunk
		if end > len(input) {
			end = len(input)
		}
		out = append(out, f.Feed(input[start:end])...)
	}
	return out
}

func TestFramerDropsBannerAroundMessage(t *testing.T) {
	input := []byte("startup banner\n{\"id\":1,\"result\":{}}\nmore noise\n")

	f := New(zap.NewNop(), nil)
	messages := f.Feed(input)

	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"id":1,"result":{}}`, string(messages[0]))
	assert.False(t, f.InMessage())
}

func TestFramerByteByByte(t *testing.T) {
	input := []byte("startup banner\n{\"id\":1,\"result\":{}}\nmore noise\n")

	f := New(zap.NewNop(), nil)
	messages := feedAll(f, input, 1)

	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"id":1,"result":{}}`, string(messages[0]))
}

func TestFramerSplitReads(t *testing.T) {
	input := []byte("banner\n{\"id\":1,\"result\":{}}\n")

	for offset := 1; offset < len(input); offset++ {
		f := New(zap.NewNop(), nil)
		var messages []json.RawMessage
		messages = append(messages, f.Feed(input[:offset])...)
		messages = append(messages, f.Feed(input[offset:])...)

		require.Lenf(t, messages, 1, "split at offset %d", offset)
		assert.JSONEq(t, `{"id":1,"result":{}}`, string(messages[0]))
	}
}

func TestFramerNestedObjects(t *testing.T) {
	input := []byte(`{"id":7,"result":{"content":{"inner":{"deep":true}}}}`)

	f := New(zap.NewNop(), nil)
	messages := feedAll(f, input, 3)

	require.Len(t, messages, 1)
	assert.JSONEq(t, string(input), string(messages[0]))
}

func TestFramerMultipleMessagesOneChunk(t *testing.T) {
	input := []byte("{\"id\":1,\"result\":{}}\n{\"id\":2,\"result\":{}}")

	f := New(zap.NewNop(), nil)
	messages := f.Feed(input)

	require.Len(t, messages, 2)
	assert.JSONEq(t, `{"id":1,"result":{}}`, string(messages[0]))
	assert.JSONEq(t, `{"id":2,"result":{}}`, string(messages[1]))
}

func TestFramerDiscardsCorruptBalancedBraces(t *testing.T) {
	// Balanced braces but invalid JSON: discarded, stream continues.
	input := []byte("{not json}\n{\"id\":3,\"result\":{}}")

	f := New(zap.NewNop(), nil)
	messages := f.Feed(input)

	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"id":3,"result":{}}`, string(messages[0]))
}

func TestFramerPartialMessagePending(t *testing.T) {
	f := New(zap.NewNop(), nil)

	messages := f.Feed([]byte(`{"id":4,"resu`))
	assert.Empty(t, messages)
	assert.True(t, f.InMessage())

	messages = f.Feed([]byte(`lt":{}}`))
	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"id":4,"result":{}}`, string(messages[0]))
	assert.False(t, f.InMessage())
}

func TestFramerNoiseOnly(t *testing.T) {
	f := New(zap.NewNop(), nil)

	messages := f.Feed([]byte("nothing to see here\nstill nothing\n"))
	assert.Empty(t, messages)
	assert.False(t, f.InMessage())
}
