// Package pipboy is a client library for the Fallout 4 Pip-Boy companion
// protocol: discovery, the framed TCP session, the live value tree, and the
// command plane used to act on it. See pkg/relay for the multi-client relay.
package pipboy

import (
	"context"
	"fmt"
	"time"

	"github.com/mkassab/pipboy-go/internal/config"
	"github.com/mkassab/pipboy-go/internal/frame"
	"github.com/mkassab/pipboy-go/internal/tree"
	"github.com/mkassab/pipboy-go/internal/wire"
	"github.com/mkassab/pipboy-go/pkg/plog"
)

// HostDesc describes one host that answered a discovery broadcast.
type HostDesc = frame.HostDesc

// State is a session's connection lifecycle state.
type State = frame.State

const (
	Disconnected  = frame.Disconnected
	Connecting    = frame.Connecting
	Connected     = frame.Connected
	Disconnecting = frame.Disconnecting
)

// Client is one Pip-Boy session: a framed channel, the materialized value
// tree it feeds, and the command plane issued against it. A Client is safe
// for concurrent use by multiple goroutines, mirroring the channel/tree/
// command layers it wraps.
type Client struct {
	cfg  config.SessionConfig
	ch   *frame.Channel
	tree *tree.Store
	cmds *commands

	dataListenerID    frame.ListenerID
	localMapListenerID frame.ListenerID
	resultListenerID  frame.ListenerID
}

// New returns an idle Client configured by cfg.
func New(cfg config.SessionConfig) *Client {
	ch := frame.NewChannel()
	c := &Client{
		cfg:  cfg,
		ch:   ch,
		tree: tree.NewStore(),
	}
	c.cmds = newCommands(ch, c.tree)
	return c
}

// DiscoverHosts broadcasts an autodiscover datagram and collects replies
// (spec §4.D, §6).
func DiscoverHosts(broadcastAddr string, port int, timeout time.Duration) ([]HostDesc, error) {
	return frame.Discover(broadcastAddr, port, timeout)
}

// Connect dials host:port (defaulting to the configured session port),
// performs the handshake, and — on acceptance — wires the channel's inbound
// frames into the tree store and command plane. Returns false with a nil
// error if the host refused the connection (spec §4.D, §7).
func (c *Client) Connect(ctx context.Context, host string, port int) (bool, error) {
	if port == 0 {
		port = c.cfg.Port
	}
	c.tree.Reset()

	dt, lt, rt := frame.DataUpdate, frame.LocalMapUpdate, frame.CommandResult
	c.dataListenerID = c.ch.RegisterMessageListener(&dt, c.onDataUpdate)
	c.localMapListenerID = c.ch.RegisterMessageListener(&lt, c.onLocalMapUpdate)
	c.resultListenerID = c.ch.RegisterMessageListener(&rt, c.onCommandResult)

	connectCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	err := c.ch.Connect(connectCtx, host, port)
	if err == frame.ErrRefused {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CancelConnectionAttempt aborts an in-progress Connect.
func (c *Client) CancelConnectionAttempt() { c.ch.CancelConnectionAttempt() }

// Disconnect voluntarily tears down the session (no-op if already
// disconnected, per §7's NotConnected rule).
func (c *Client) Disconnect() { c.ch.Disconnect() }

// Join blocks until the receive/dispatch loops have fully exited.
func (c *Client) Join() { c.ch.Join() }

// State reports the current connection lifecycle state.
func (c *Client) State() State { return c.ch.State() }

func (c *Client) onDataUpdate(msg frame.Message) {
	err := wire.DecodeRecords(msg.Payload, func(rec wire.Record) error {
		return c.tree.ApplyRecord(rec)
	})
	if err != nil {
		plog.Errorf("pipboy: DATA_UPDATE decode failed, disconnecting: %v", err)
		c.ch.Disconnect()
	}
}

func (c *Client) onLocalMapUpdate(msg frame.Message) {
	m, err := wire.DecodeLocalMap(msg.Payload)
	if err != nil {
		plog.Errorf("pipboy: LOCAL_MAP_UPDATE decode failed, disconnecting: %v", err)
		c.ch.Disconnect()
		return
	}
	c.tree.NotifyLocalMap(m)
}

func (c *Client) onCommandResult(msg frame.Message) {
	c.cmds.handleResult(msg.Payload)
}

// RegisterRootObjectListener fires exactly once, the first time the root
// node is known for the current connection.
func (c *Client) RegisterRootObjectListener(fn func(root *tree.Node)) tree.ListenerID {
	return c.tree.RegisterRootKnownListener(fn)
}

func (c *Client) UnregisterRootObjectListener(id tree.ListenerID) {
	c.tree.UnregisterRootKnownListener(id)
}

// RegisterValueUpdatedListener fires for every applied Record.
func (c *Client) RegisterValueUpdatedListener(fn func(n *tree.Node, kind tree.UpdateKind)) tree.ListenerID {
	return c.tree.RegisterValueUpdatedListener(fn)
}

func (c *Client) UnregisterValueUpdatedListener(id tree.ListenerID) {
	c.tree.UnregisterValueUpdatedListener(id)
}

// RegisterLocalMapListener fires for every decoded local-map tile.
func (c *Client) RegisterLocalMapListener(fn func(m wire.LocalMap)) tree.ListenerID {
	return c.tree.RegisterLocalMapListener(fn)
}

func (c *Client) UnregisterLocalMapListener(id tree.ListenerID) {
	c.tree.UnregisterLocalMapListener(id)
}

// GetPipValueByID returns the node for id, or nil if unknown.
func (c *Client) GetPipValueByID(id uint32) *tree.Node {
	n, _ := c.tree.Lookup(id)
	return n
}

// Root returns the current root node, or nil before it is known.
func (c *Client) Root() *tree.Node { return c.tree.Root() }

// ExportData serializes the current tree for offline storage.
func (c *Client) ExportData() []wire.Record { return c.tree.Export() }

// ImportData replaces the current tree with records previously produced by
// ExportData. Only valid while disconnected (spec §4.E).
func (c *Client) ImportData(records []wire.Record) error {
	if c.ch.State() != frame.Disconnected {
		return fmt.Errorf("pipboy: ImportData called in state %s, must be disconnected", c.ch.State())
	}
	return c.tree.Import(records)
}

// Commands-plane accessors: one typed helper per request kind (spec §4.F,
// §6). Each validates the node it was given before sending anything.

func (c *Client) UseItem(item *tree.Node, cb ResultCallback) error {
	return c.cmds.UseItemCmd(item, cb)
}

func (c *Client) DropItem(item *tree.Node, count int, cb ResultCallback) error {
	return c.cmds.DropItemCmd(item, count, cb)
}

func (c *Client) SetFavorite(item *tree.Node, quickKeySlot int, cb ResultCallback) error {
	return c.cmds.SetFavoriteCmd(item, quickKeySlot, cb)
}

func (c *Client) ToggleComponentFavorite(component *tree.Node, cb ResultCallback) error {
	return c.cmds.ToggleComponentFavoriteCmd(component, cb)
}

func (c *Client) SortInventory(sortMode int, cb ResultCallback) error {
	return c.cmds.SortInventoryCmd(sortMode, cb)
}

func (c *Client) ToggleQuestActive(quest *tree.Node, cb ResultCallback) error {
	return c.cmds.ToggleQuestActiveCmd(quest, cb)
}

func (c *Client) SetCustomMapMarker(x, y float32, cb ResultCallback) error {
	return c.cmds.SetCustomMapMarkerCmd(x, y, cb)
}

func (c *Client) RemoveCustomMapMarker(cb ResultCallback) error {
	return c.cmds.RemoveCustomMapMarkerCmd(cb)
}

func (c *Client) CheckFastTravel(marker *tree.Node, cb ResultCallback) error {
	return c.cmds.CheckFastTravelCmd(marker, cb)
}

func (c *Client) FastTravel(marker *tree.Node, cb ResultCallback) error {
	return c.cmds.FastTravelCmd(marker, cb)
}

func (c *Client) MoveLocalMap(dx, dy float32, cb ResultCallback) error {
	return c.cmds.MoveLocalMapCmd(dx, dy, cb)
}

func (c *Client) ZoomLocalMap(zoom float32, cb ResultCallback) error {
	return c.cmds.ZoomLocalMapCmd(zoom, cb)
}

func (c *Client) ToggleRadioStation(station *tree.Node, cb ResultCallback) error {
	return c.cmds.ToggleRadioStationCmd(station, cb)
}

func (c *Client) RequestLocalMapSnapshot(cb ResultCallback) error {
	return c.cmds.RequestLocalMapSnapshotCmd(cb)
}

func (c *Client) ClearIdle(cb ResultCallback) error {
	return c.cmds.ClearIdleCmd(cb)
}
