package frame

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/mkassab/pipboy-go/pkg/plog"
)

// DiscoveryPort is the well-known UDP port hosts listen on for autodiscover
// datagrams (spec §3, §4.D).
const DiscoveryPort = 28000

// DefaultDiscoveryTimeout is how long Discover waits for replies once the
// broadcast datagram is sent.
const DefaultDiscoveryTimeout = 3 * time.Second

// HostDesc is one autodiscover reply: the responder's address plus whatever
// JSON fields it announced (lang, version, machine type, busy state — spec
// §4.D, §6, and SPEC_FULL.md's relay autodiscover reply).
type HostDesc struct {
	Addr   string
	Fields map[string]any
}

// Discover broadcasts a UDP `{"cmd": "autodiscover"}` datagram to
// broadcastAddr:port and collects replies for timeout, in arrival order
// (spec §4.D "Discovery"). A malformed reply is logged and skipped rather
// than failing the whole discovery pass.
func Discover(broadcastAddr string, port int, timeout time.Duration) ([]HostDesc, error) {
	if port == 0 {
		port = DiscoveryPort
	}
	if timeout == 0 {
		timeout = DefaultDiscoveryTimeout
	}
	if broadcastAddr == "" {
		broadcastAddr = "255.255.255.255"
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("frame: discovery listen: %w", err)
	}
	defer conn.Close()

	if err := enableBroadcast(conn); err != nil {
		return nil, fmt.Errorf("frame: enable broadcast: %w", err)
	}

	dst := &net.UDPAddr{IP: net.ParseIP(broadcastAddr), Port: port}
	if _, err := conn.WriteToUDP([]byte(`{"cmd": "autodiscover"}`), dst); err != nil {
		return nil, fmt.Errorf("frame: send autodiscover: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("frame: set discovery deadline: %w", err)
	}

	var hosts []HostDesc
	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			break
		}
		if n == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(buf[:n], &fields); err != nil {
			plog.Warnf("frame: discovery: malformed reply from %s: %v", addr, err)
			continue
		}
		hosts = append(hosts, HostDesc{Addr: addr.IP.String(), Fields: fields})
	}
	return hosts, nil
}

// Listen starts a UDP autodiscover responder bound to port, invoking reply
// for every inbound datagram and writing whatever bytes it returns back to
// the sender. Used by the relay's autodiscover handler (spec §4.G,
// SPEC_FULL.md "SUPPLEMENTED FEATURES" item 5). Blocks until ctxDone is
// closed.
func Listen(port int, ctxDone <-chan struct{}, reply func(fields map[string]any) []byte) error {
	if port == 0 {
		port = DiscoveryPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("frame: discovery listen on :%d: %w", port, err)
	}
	defer conn.Close()

	go func() {
		<-ctxDone
		conn.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctxDone:
				return nil
			default:
				return fmt.Errorf("frame: discovery read: %w", err)
			}
		}
		var fields map[string]any
		if n > 0 {
			if jerr := json.Unmarshal(buf[:n], &fields); jerr != nil {
				plog.Warnf("frame: discovery: malformed datagram from %s: %v", addr, jerr)
				continue
			}
		}
		out := reply(fields)
		if out == nil {
			continue
		}
		if _, err := conn.WriteToUDP(out, addr); err != nil {
			plog.Warnf("frame: discovery: reply to %s failed: %v", addr, err)
		}
	}
}
