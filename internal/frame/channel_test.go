package frame

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func dialAddr(l net.Listener) (host string, port int) {
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestChannelConnectAccepted(t *testing.T) {
	l := listenLoopback(t)
	host, port := dialAddr(l)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		WriteMessage(conn, Message{Type: ConnectionAccepted, Payload: []byte(`{"lang":"en","version":"1.1.30.0"}`)})
		ReadMessage(bufio.NewReader(conn)) // first proactive/keep-alive frame from the client, if any
	}()

	ch := NewChannel()
	var gotConnected bool
	ch.RegisterConnectionListener(func(connected bool, errStatus int, errMsg string) {
		if connected {
			gotConnected = true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Connect(ctx, host, port))
	assert.True(t, gotConnected, "connection listener should have fired with connected=true")

	lang, version, ok := ch.HostInfo()
	assert.True(t, ok)
	assert.Equal(t, "en", lang)
	assert.Equal(t, "1.1.30.0", version)
	assert.Equal(t, Connected, ch.State())

	ch.Disconnect()
	ch.Join()
	assert.Equal(t, Disconnected, ch.State())
}

func TestChannelConnectRefused(t *testing.T) {
	l := listenLoopback(t)
	host, port := dialAddr(l)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		WriteMessage(conn, Message{Type: ConnectionRefused})
	}()

	ch := NewChannel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ch.Connect(ctx, host, port)
	require.ErrorIs(t, err, ErrRefused)
	assert.Equal(t, Disconnected, ch.State())
}

func TestChannelCancelConnectionAttempt(t *testing.T) {
	l := listenLoopback(t)
	host, port := dialAddr(l)
	// Accept the TCP connection but never write a handshake frame, so Connect
	// blocks in ReadMessage until cancellation fires.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	ch := NewChannel()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- ch.Connect(ctx, host, port) }()

	time.Sleep(50 * time.Millisecond)
	ch.CancelConnectionAttempt()

	select {
	case err := <-done:
		assert.Error(t, err, "expected Connect to fail after CancelConnectionAttempt")
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after CancelConnectionAttempt")
	}
}

func TestChannelDispatchesMessagesByFilter(t *testing.T) {
	l := listenLoopback(t)
	host, port := dialAddr(l)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		WriteMessage(conn, Message{Type: ConnectionAccepted, Payload: []byte(`{}`)})
		WriteMessage(conn, Message{Type: DataUpdate, Payload: []byte{9}})
		WriteMessage(conn, Message{Type: CommandResult, Payload: []byte(`{"req_id":1}`)})
		ReadMessage(bufio.NewReader(conn))
	}()

	ch := NewChannel()
	dataCh := make(chan Message, 1)
	allCh := make(chan Message, 4)
	dt := DataUpdate
	ch.RegisterMessageListener(&dt, func(m Message) { dataCh <- m })
	ch.RegisterMessageListener(nil, func(m Message) { allCh <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Connect(ctx, host, port))
	defer func() { ch.Disconnect(); ch.Join() }()

	select {
	case m := <-dataCh:
		assert.Equal(t, DataUpdate, m.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("filtered listener never fired")
	}

	seen := map[MessageType]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case m := <-allCh:
			seen[m.Type] = true
		case <-timeout:
			t.Fatalf("unfiltered listener only saw %v", seen)
		}
	}
}
