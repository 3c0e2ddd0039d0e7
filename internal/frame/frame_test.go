package frame

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: KeepAlive, Payload: nil},
		{Type: DataUpdate, Payload: []byte{1, 2, 3, 4}},
		{Type: Command, Payload: []byte(`{"req_id":1,"type":"use_item"}`)},
	}
	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, want))
		got, err := ReadMessage(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Payload, got.Payload)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{Type: DataUpdate, Payload: []byte{1, 2, 3, 4, 5}}))
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(truncated)))
	assert.Error(t, err, "expected an error reading a truncated frame")
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	header := []byte{0xff, 0xff, 0xff, 0xff, byte(DataUpdate)}
	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(header)))
	assert.Error(t, err, "expected an error for an oversized declared length")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "KEEP_ALIVE", KeepAlive.String())
	assert.NotEmpty(t, MessageType(200).String(), "unknown MessageType should still stringify to something non-empty")
}
