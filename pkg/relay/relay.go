// Package relay re-serves a Pip-Boy session's materialized tree to
// additional downstream clients: a UDP autodiscover responder and a TCP
// fan-out server that synthesizes the handshake and an initial snapshot for
// each newly attached client (spec §4.G).
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkassab/pipboy-go/internal/config"
	"github.com/mkassab/pipboy-go/internal/frame"
	"github.com/mkassab/pipboy-go/internal/tree"
	"github.com/mkassab/pipboy-go/internal/wire"
	"github.com/mkassab/pipboy-go/pkg/plog"
)

// fallback CONNECTION_ACCEPTED fields used when the upstream host hasn't
// announced its own lang/version yet. An invalid version string crashes
// official clients, so this one must always be a real dotted version (§4.G).
const (
	fallbackLang    = "xx"
	fallbackVersion = "1.1.30.0"
)

// autodiscoverReply is the fixed literal every relay answers with,
// regardless of what the probing client sent (spec §4.G).
var autodiscoverReply = []byte(`{"IsBusy":false,"MachineType":"PC"}`)

type downstream struct {
	id       uuid.UUID
	conn     net.Conn
	writeMu  sync.Mutex
}

func (d *downstream) send(msg frame.Message) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return frame.WriteMessage(d.conn, msg)
}

// Server relays one upstream Channel/Store pair to any number of attached
// downstream TCP clients, modeled after the teacher's singleton pub/sub
// client wrapper (pkg/nats.Client) generalized to a fan-out server: a
// mutex-guarded registry of live peers plus independent start/stop for each
// of its two services.
type Server struct {
	upstream *frame.Channel
	store    *tree.Store
	cfg      config.RelayConfig

	mu      sync.Mutex
	clients map[uuid.UUID]*downstream

	acCancel    context.CancelFunc
	relayCancel context.CancelFunc
	g           *errgroup.Group

	msgListenerID frame.ListenerID
}

// NewServer returns a Server relaying upstream/store per cfg. The caller is
// responsible for upstream already being connected.
func NewServer(upstream *frame.Channel, store *tree.Store, cfg config.RelayConfig) *Server {
	return &Server{
		upstream: upstream,
		store:    store,
		cfg:      cfg,
		clients:  make(map[uuid.UUID]*downstream),
	}
}

// StartAutodiscoverService starts the UDP responder on cfg.DiscoveryPort. It
// runs until StopAutodiscoverService or ctx is cancelled.
func (s *Server) StartAutodiscoverService(ctx context.Context) error {
	s.mu.Lock()
	if s.acCancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("relay: autodiscover service already running")
	}
	acCtx, cancel := context.WithCancel(ctx)
	s.acCancel = cancel
	s.mu.Unlock()

	go func() {
		err := frame.Listen(s.cfg.DiscoveryPort, acCtx.Done(), func(map[string]any) []byte {
			return autodiscoverReply
		})
		if err != nil && acCtx.Err() == nil {
			plog.Errorf("relay: autodiscover service exited: %v", err)
		}
	}()
	return nil
}

// StopAutodiscoverService stops the UDP responder started by
// StartAutodiscoverService.
func (s *Server) StopAutodiscoverService() {
	s.mu.Lock()
	cancel := s.acCancel
	s.acCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StartRelayService starts the TCP fan-out server on cfg.ListenPort, the
// upstream-to-downstream mirror, and the 1-second keep-alive ticker (spec
// §4.G, §5 "Relay keep-alive").
func (s *Server) StartRelayService(ctx context.Context) error {
	s.mu.Lock()
	if s.relayCancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("relay: relay service already running")
	}
	relayCtx, cancel := context.WithCancel(ctx)
	s.relayCancel = cancel
	g, gctx := errgroup.WithContext(relayCtx)
	s.g = g
	s.mu.Unlock()

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		cancel()
		return fmt.Errorf("relay: listen :%d: %w", s.cfg.ListenPort, err)
	}
	go func() { <-gctx.Done(); l.Close() }()

	filter := (*frame.MessageType)(nil)
	s.msgListenerID = s.upstream.RegisterMessageListener(filter, s.mirrorUpstream)

	g.Go(func() error { return s.acceptLoop(gctx, l) })

	interval := s.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = time.Second
	}
	g.Go(func() error { return s.keepAliveLoop(gctx, interval) })

	return nil
}

// StopRelayService stops the TCP fan-out server and its supporting
// goroutines, closing every attached downstream connection.
func (s *Server) StopRelayService() {
	s.mu.Lock()
	cancel := s.relayCancel
	s.relayCancel = nil
	s.upstream.UnregisterMessageListener(s.msgListenerID)
	for _, d := range s.clients {
		d.conn.Close()
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Join blocks until the relay service's accept and keep-alive loops have
// exited. Per-client handler goroutines are not waited for.
func (s *Server) Join() error {
	s.mu.Lock()
	g := s.g
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		d := &downstream{id: uuid.New(), conn: conn}
		s.mu.Lock()
		s.clients[d.id] = d
		s.mu.Unlock()
		go s.handleDownstream(ctx, d)
	}
}

func (s *Server) handleDownstream(ctx context.Context, d *downstream) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, d.id)
		s.mu.Unlock()
		d.conn.Close()
	}()

	lang, version, ok := s.upstream.HostInfo()
	if !ok || lang == "" {
		lang = fallbackLang
	}
	if !ok || version == "" {
		version = fallbackVersion
	}
	hello, _ := json.Marshal(map[string]string{"lang": lang, "version": version})
	if err := d.send(frame.Message{Type: frame.ConnectionAccepted, Payload: hello}); err != nil {
		plog.Warnf("relay: client %s: send handshake: %v", d.id, err)
		return
	}

	snapshot := tree.ReverseRecords(s.store.Export())
	w := wire.NewWriter()
	if err := wire.EncodeRecords(w, snapshot); err != nil {
		plog.Errorf("relay: client %s: encode snapshot: %v", d.id, err)
		return
	}
	if err := d.send(frame.Message{Type: frame.DataUpdate, Payload: w.Bytes()}); err != nil {
		plog.Warnf("relay: client %s: send snapshot: %v", d.id, err)
		return
	}

	reader := bufio.NewReader(d.conn)
	for {
		msg, err := frame.ReadMessage(reader)
		if err != nil {
			if ctx.Err() == nil {
				plog.Debugf("relay: client %s disconnected: %v", d.id, err)
			}
			return
		}
		if msg.Type == frame.KeepAlive {
			if err := d.send(frame.Message{Type: frame.KeepAlive}); err != nil {
				return
			}
			continue
		}
		if err := s.upstream.SendMessage(msg.Type, msg.Payload); err != nil {
			plog.Warnf("relay: client %s: relay upstream: %v", d.id, err)
		}
	}
}

func (s *Server) mirrorUpstream(msg frame.Message) {
	if msg.Type == frame.KeepAlive {
		return
	}
	s.mu.Lock()
	targets := make([]*downstream, 0, len(s.clients))
	for _, d := range s.clients {
		targets = append(targets, d)
	}
	s.mu.Unlock()
	for _, d := range targets {
		if err := d.send(msg); err != nil {
			plog.Warnf("relay: mirror to client %s: %v", d.id, err)
		}
	}
}

func (s *Server) keepAliveLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			targets := make([]*downstream, 0, len(s.clients))
			for _, d := range s.clients {
				targets = append(targets, d)
			}
			s.mu.Unlock()
			for _, d := range targets {
				if err := d.send(frame.Message{Type: frame.KeepAlive}); err != nil {
					plog.Warnf("relay: keep-alive to client %s: %v", d.id, err)
				}
			}
		}
	}
}
