package pipboy

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkassab/pipboy-go/internal/config"
	"github.com/mkassab/pipboy-go/internal/frame"
	"github.com/mkassab/pipboy-go/internal/wire"
)

func encodeRecords(t *testing.T, recs []wire.Record) []byte {
	t.Helper()
	w := wire.NewWriter()
	require.NoError(t, wire.EncodeRecords(w, recs))
	return w.Bytes()
}

// TestClientConnectAndReceiveDataUpdate mirrors spec §8 scenario 1, but
// driven end-to-end through a live loopback session instead of directly
// against the tree store.
func TestClientConnectAndReceiveDataUpdate(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)

	recs := []wire.Record{
		{ID: 1, Type: wire.Uint32, Payload: uint32(42)},
		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "a", ID: 1}}}},
	}
	payload := encodeRecords(t, recs)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame.WriteMessage(conn, frame.Message{Type: frame.ConnectionAccepted, Payload: []byte(`{"lang":"en","version":"1.1.30.0"}`)})
		frame.WriteMessage(conn, frame.Message{Type: frame.DataUpdate, Payload: payload})
		time.Sleep(200 * time.Millisecond)
	}()

	c := New(config.DefaultSessionConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.Connect(ctx, addr.IP.String(), addr.Port)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { c.Disconnect(); c.Join() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if root := c.Root(); root != nil {
			assert.Equal(t, uint32(42), root.Child("a").Value())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("root was never known within the deadline")
}

func TestClientExportImportRoundTrip(t *testing.T) {
	c := New(config.DefaultSessionConfig())
	recs := []wire.Record{
		{ID: 1, Type: wire.Uint32, Payload: uint32(7)},
		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "a", ID: 1}}}},
	}
	for _, r := range recs {
		// populate via the underlying store directly, bypassing the wire, to
		// set up the round trip.
		require.NoError(t, c.tree.ApplyRecord(r))
	}
	exported := c.ExportData()

	c2 := New(config.DefaultSessionConfig())
	require.NoError(t, c2.ImportData(exported))
	assert.Equal(t, uint32(7), c2.Root().Child("a").Value())
}

func TestCommandRequestRoundTripOverLoopback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame.WriteMessage(conn, frame.Message{Type: frame.ConnectionAccepted, Payload: []byte(`{}`)})

		r := bufio.NewReader(conn)
		msg, err := frame.ReadMessage(r)
		if err != nil || msg.Type != frame.Command {
			return
		}
		var req struct {
			ID uint32 `json:"id"`
		}
		json.Unmarshal(msg.Payload, &req)
		result, _ := json.Marshal(map[string]any{"id": req.ID, "ok": true})
		frame.WriteMessage(conn, frame.Message{Type: frame.CommandResult, Payload: result})
	}()

	c := New(config.DefaultSessionConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.Connect(ctx, addr.IP.String(), addr.Port)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { c.Disconnect(); c.Join() }()

	resultCh := make(chan map[string]any, 1)
	require.NoError(t, c.SortInventory(1, func(result map[string]any) { resultCh <- result }))

	select {
	case result := <-resultCh:
		assert.Equal(t, true, result["ok"])
	case <-time.After(2 * time.Second):
		t.Fatal("command result callback never fired")
	}
	<-serverDone
}
