package frame

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mkassab/pipboy-go/pkg/plog"
)

// ErrRefused is returned by Connect when the host replies CONNECTION_REFUSED
// (spec §4.D).
var ErrRefused = errors.New("frame: connection refused by host")

// ErrNotConnected is returned by SendMessage when the channel has no live
// session.
var ErrNotConnected = errors.New("frame: not connected")

// KeepAliveInterval is the minimum spacing between the proactive KEEP_ALIVEs
// Channel sends while non-keep-alive frames arrive (spec §4.D "Keep-alive").
const KeepAliveInterval = 2 * time.Second

// HandshakeTimeout bounds how long Connect waits for CONNECTION_ACCEPTED or
// CONNECTION_REFUSED after the TCP handshake completes, when the ctx passed to
// Connect carries no deadline; otherwise that deadline applies instead.
const HandshakeTimeout = 10 * time.Second

// ListenerID identifies a registered Channel listener for later removal.
type ListenerID uint64

// Channel owns one TCP session: framing, the receive/dispatch loops, the
// keep-alive policy, and the connection lifecycle state machine. It mirrors
// the teacher's pkg/nats.Client — a single mutex-guarded connection wrapper
// with a registrable listener list and reconnect-style lifecycle callbacks —
// generalized from a pub/sub client to this protocol's raw framed session
// (spec §4.D, §5).
type Channel struct {
	mu    sync.Mutex
	state State
	conn  net.Conn
	host  string
	port  int

	hostLang    string
	hostVersion string

	closing atomic.Bool

	cancelConnect context.CancelFunc

	inbound chan *Message

	nextLID    atomic.Uint64
	listMu     sync.Mutex
	connListen map[ListenerID]ConnectionListener
	msgListen  map[ListenerID]filteredMessageListener

	keepAlive rate.Sometimes

	loopsDone chan struct{}
}

type filteredMessageListener struct {
	filter *MessageType
	fn     MessageListener
}

// NewChannel returns an idle, Disconnected Channel.
func NewChannel() *Channel {
	return &Channel{
		inbound:    make(chan *Message, 256),
		connListen: make(map[ListenerID]ConnectionListener),
		msgListen:  make(map[ListenerID]filteredMessageListener),
		keepAlive:  rate.Sometimes{Interval: KeepAliveInterval},
	}
}

// State reports the current connection lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HostInfo returns the lang/version the remote host announced in its
// CONNECTION_ACCEPTED payload, if connected.
func (c *Channel) HostInfo() (lang, version string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostLang, c.hostVersion, c.state == Connected
}

// Connect dials host:port, performs the handshake, and — on
// CONNECTION_ACCEPTED — starts the receive and dispatch loops. It returns
// ErrRefused if the host declines, and any dial/handshake error otherwise
// (spec §4.D "Connect").
func (c *Channel) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("frame: Connect called in state %s", c.state)
	}
	c.state = Connecting
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.mu.Unlock()

	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("frame: dial: %w", err)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	}
	// CancelConnectionAttempt (or ctx ending) during the handshake read
	// unblocks it by expiring the read deadline.
	stopWatch := context.AfterFunc(dialCtx, func() { _ = conn.SetReadDeadline(time.Now()) })
	reader := bufio.NewReader(conn)
	msg, err := ReadMessage(reader)
	if !stopWatch() && err == nil {
		err = dialCtx.Err()
	}
	if err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		if dialCtx.Err() != nil {
			return dialCtx.Err()
		}
		return fmt.Errorf("frame: handshake read: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch msg.Type {
	case ConnectionRefused:
		conn.Close()
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return ErrRefused
	case ConnectionAccepted:
		var hello struct {
			Lang    string `json:"lang"`
			Version string `json:"version"`
		}
		if len(msg.Payload) > 0 {
			if jerr := json.Unmarshal(msg.Payload, &hello); jerr != nil {
				plog.Warnf("frame: malformed CONNECTION_ACCEPTED payload: %v", jerr)
			}
		}
		c.mu.Lock()
		c.conn = conn
		c.host, c.port = host, port
		c.hostLang, c.hostVersion = hello.Lang, hello.Version
		c.state = Connected
		c.mu.Unlock()

		loopCtx, loopCancel := context.WithCancel(context.Background())
		c.startLoops(loopCtx, loopCancel, reader)
		c.fireConnection(true, 0, "")
		return nil
	default:
		conn.Close()
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("frame: unexpected handshake frame type %s", msg.Type)
	}
}

// CancelConnectionAttempt aborts an in-progress Connect (spec §4.D
// "cancel_connection_attempt"). No-op once a session is established.
func (c *Channel) CancelConnectionAttempt() {
	c.mu.Lock()
	cancel := c.cancelConnect
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) startLoops(ctx context.Context, cancel context.CancelFunc, reader *bufio.Reader) {
	c.loopsDone = make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(gctx, reader) })
	g.Go(func() error { return c.dispatchLoop(gctx) })

	go func() {
		err := g.Wait()
		cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		voluntary := c.closing.Load()
		c.state = Disconnected
		c.closing.Store(false)
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		if voluntary || err == nil {
			c.fireConnection(false, 0, "")
		} else {
			c.fireConnection(false, -1, err.Error())
		}
		close(c.loopsDone)
	}()
}

func (c *Channel) receiveLoop(ctx context.Context, reader *bufio.Reader) error {
	for {
		msg, err := ReadMessage(reader)
		if err != nil {
			if ctx.Err() != nil || c.closing.Load() {
				return nil
			}
			return err
		}

		if msg.Type == KeepAlive {
			if werr := c.SendMessage(KeepAlive, nil); werr != nil {
				return werr
			}
		} else {
			c.keepAlive.Do(func() {
				if werr := c.SendMessage(KeepAlive, nil); werr != nil {
					plog.Warnf("frame: proactive keep-alive send failed: %v", werr)
				}
			})
		}

		m := msg
		select {
		case c.inbound <- &m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Channel) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-c.inbound:
			if !ok || msg == nil {
				return nil
			}
			c.notifyMessage(*msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// SendMessage writes one frame to the active session. Concurrent callers
// (command plane, keep-alive responder) rely on the platform socket layer to
// keep a single Write call atomic, per spec §5 — see frame.WriteMessage.
func (c *Channel) SendMessage(mt MessageType, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return WriteMessage(conn, Message{Type: mt, Payload: payload})
}

// Disconnect voluntarily tears down the session. Safe to call from any state;
// a no-op if already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Disconnecting {
		c.mu.Unlock()
		return
	}
	c.state = Disconnecting
	conn := c.conn
	c.mu.Unlock()

	c.closing.Store(true)
	select {
	case c.inbound <- nil:
	default:
	}
	if conn != nil {
		conn.Close()
	}
}

// Join blocks until the receive and dispatch loops have both exited
// following a Disconnect or transport failure.
func (c *Channel) Join() {
	c.mu.Lock()
	done := c.loopsDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Channel) notifyMessage(msg Message) {
	c.listMu.Lock()
	fns := make([]filteredMessageListener, 0, len(c.msgListen))
	for _, l := range c.msgListen {
		fns = append(fns, l)
	}
	c.listMu.Unlock()
	for _, l := range fns {
		if l.filter != nil && *l.filter != msg.Type {
			continue
		}
		safeNotify(func() { l.fn(msg) })
	}
}

func (c *Channel) fireConnection(connected bool, errStatus int, errMsg string) {
	c.listMu.Lock()
	fns := make([]ConnectionListener, 0, len(c.connListen))
	for _, fn := range c.connListen {
		fns = append(fns, fn)
	}
	c.listMu.Unlock()
	for _, fn := range fns {
		safeNotify(func() { fn(connected, errStatus, errMsg) })
	}
}

// RegisterMessageListener registers fn for every dispatched frame, or only
// frames of *filter's type when filter is non-nil.
func (c *Channel) RegisterMessageListener(filter *MessageType, fn MessageListener) ListenerID {
	id := ListenerID(c.nextLID.Add(1))
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.msgListen[id] = filteredMessageListener{filter: filter, fn: fn}
	return id
}

func (c *Channel) UnregisterMessageListener(id ListenerID) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	delete(c.msgListen, id)
}

// RegisterConnectionListener registers fn for connect/disconnect transitions.
func (c *Channel) RegisterConnectionListener(fn ConnectionListener) ListenerID {
	id := ListenerID(c.nextLID.Add(1))
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.connListen[id] = fn
	return id
}

func (c *Channel) UnregisterConnectionListener(id ListenerID) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	delete(c.connListen, id)
}

// safeNotify runs fn, logging and swallowing any panic so a single
// misbehaving listener can never kill the dispatch loop (spec §7).
func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			plog.Errorf("frame: listener panic recovered: %v", r)
		}
	}()
	fn()
}
