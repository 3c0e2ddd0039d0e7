package pipboy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mkassab/pipboy-go/internal/frame"
	"github.com/mkassab/pipboy-go/internal/tree"
	"github.com/mkassab/pipboy-go/pkg/plog"
)

// ReqKind is the wire code for a COMMAND request. The numeric values are the
// external contract with the host; the enum itself carries no behavior (§6).
type ReqKind int

const (
	UseItem ReqKind = iota
	DropItem
	SetFavorite
	ToggleComponentFavorite
	SortInventory
	ToggleQuestActive
	SetCustomMapMarker
	RemoveCustomMapMarker
	CheckFastTravel
	FastTravel
	MoveLocalMap
	ZoomLocalMap
	ToggleRadioStation
	RequestLocalMapSnapshot
	ClearIdle
)

// ErrMissingField is raised by a typed command helper when the node it was
// given lacks a field the request requires, before any frame is sent (§4.F,
// §7).
var ErrMissingField = errors.New("pipboy: missing required field")

// ResultCallback receives the raw arbitrary fields of a COMMAND_RESULT.
type ResultCallback func(result map[string]any)

type commandRequest struct {
	ID   uint32  `json:"id"`
	Type ReqKind `json:"type"`
	Args []any   `json:"args"`
}

// commands is the request/response correlation layer: a monotonically
// increasing request ID and a pending-callback map, exactly as described in
// §4.F. It also holds the tree store, since several requests must carry the
// current Inventory/Version alongside the node-specific fields.
type commands struct {
	ch    *frame.Channel
	store *tree.Store

	mu        sync.Mutex
	pending   map[uint32]ResultCallback
	nextReqID atomic.Uint32
}

func newCommands(ch *frame.Channel, store *tree.Store) *commands {
	return &commands{ch: ch, store: store, pending: make(map[uint32]ResultCallback)}
}

// sendRequest allocates a request ID, JSON-encodes the envelope, and sends a
// COMMAND frame. Only valid while connected; per §7's NotConnected rule, a
// call while disconnected is a silent no-op rather than an error.
func (c *commands) sendRequest(kind ReqKind, args []any, cb ResultCallback) error {
	if c.ch.State() != frame.Connected {
		return nil
	}
	id := c.nextReqID.Add(1) - 1
	req := commandRequest{ID: id, Type: kind, Args: args}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("pipboy: encode command %v: %w", kind, err)
	}
	if cb != nil {
		c.mu.Lock()
		c.pending[id] = cb
		c.mu.Unlock()
	}
	if err := c.ch.SendMessage(frame.Command, payload); err != nil {
		if cb != nil {
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
		}
		return err
	}
	return nil
}

// handleResult dispatches one decoded COMMAND_RESULT payload to its
// callback, if any is still pending; unmatched IDs are dropped without error
// (§4.F, §8 "Command correlation").
func (c *commands) handleResult(payload []byte) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return
	}
	idf, ok := raw["id"].(float64)
	if !ok {
		return
	}
	id := uint32(idf)

	c.mu.Lock()
	cb, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if found {
		cb(raw)
	} else {
		plog.Debugf("pipboy: dropping COMMAND_RESULT for unknown request id %d", id)
	}
}

// requireField returns the child of n at key, or ErrMissingField.
func requireField(n *tree.Node, key string) (*tree.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: %q on a nil node", ErrMissingField, key)
	}
	child := n.Child(key)
	if child == nil {
		return nil, fmt.Errorf("%w: %q on node %d", ErrMissingField, key, n.ID())
	}
	return child, nil
}

// inventoryVersion returns the root's Inventory/Version value, required
// alongside the node-specific fields by several inventory RPCs (original
// pypipboy datamanager.PipboyDataManager).
func (c *commands) inventoryVersion() (any, error) {
	root := c.store.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: %q, root not yet known", ErrMissingField, "Inventory/Version")
	}
	inventory := root.Child("Inventory")
	if inventory == nil {
		return nil, fmt.Errorf("%w: %q on root", ErrMissingField, "Inventory")
	}
	version, err := requireField(inventory, "Version")
	if err != nil {
		return nil, err
	}
	return version.Value(), nil
}

// stackIDs validates item's StackID field (an array with at least one
// element) and returns its child nodes.
func stackIDs(item *tree.Node) ([]*tree.Node, error) {
	stackID, err := requireField(item, "StackID")
	if err != nil {
		return nil, err
	}
	if stackID.Len() <= 0 {
		return nil, fmt.Errorf("%w: %q on node %d is empty", ErrMissingField, "StackID", item.ID())
	}
	elems := stackID.Elements()
	out := make([]*tree.Node, len(elems))
	copy(out, elems)
	return out, nil
}

// The helpers below are thin argument-shape validators; they do not know
// what an "item" or "quest" looks like beyond the id field a request needs.
// Domain predicates over inventory/quest content are an external concern.

// UseItemCmd sends a UseItem request for the given inventory entry. item must
// carry HandleID and a non-empty StackID array; only the first stack id is
// sent, alongside the current Inventory/Version.
func (c *commands) UseItemCmd(item *tree.Node, cb ResultCallback) error {
	handle, err := requireField(item, "HandleID")
	if err != nil {
		return err
	}
	stacks, err := stackIDs(item)
	if err != nil {
		return err
	}
	version, err := c.inventoryVersion()
	if err != nil {
		return err
	}
	return c.sendRequest(UseItem, []any{handle.Value(), stacks[0].Value(), version}, cb)
}

// DropItemCmd sends a DropItem request for count units of item. item must
// carry HandleID and a non-empty StackID array; every stack id is sent.
func (c *commands) DropItemCmd(item *tree.Node, count int, cb ResultCallback) error {
	handle, err := requireField(item, "HandleID")
	if err != nil {
		return err
	}
	stacks, err := stackIDs(item)
	if err != nil {
		return err
	}
	version, err := c.inventoryVersion()
	if err != nil {
		return err
	}
	stacklist := make([]any, len(stacks))
	for i, s := range stacks {
		stacklist[i] = s.Value()
	}
	return c.sendRequest(DropItem, []any{handle.Value(), count, version, stacklist}, cb)
}

// SetFavoriteCmd assigns an inventory entry to quickKeySlot (or clears its
// quick-key assignment, depending on host semantics). item must carry
// HandleID and a non-empty StackID array.
func (c *commands) SetFavoriteCmd(item *tree.Node, quickKeySlot int, cb ResultCallback) error {
	handle, err := requireField(item, "HandleID")
	if err != nil {
		return err
	}
	stacks, err := stackIDs(item)
	if err != nil {
		return err
	}
	version, err := c.inventoryVersion()
	if err != nil {
		return err
	}
	stacklist := make([]any, len(stacks))
	for i, s := range stacks {
		stacklist[i] = s.Value()
	}
	return c.sendRequest(SetFavorite, []any{handle.Value(), stacklist, quickKeySlot, version}, cb)
}

// ToggleComponentFavoriteCmd toggles a crafting component's favorite flag.
// component must carry componentFormID; the current Inventory/Version is
// sent alongside it.
func (c *commands) ToggleComponentFavoriteCmd(component *tree.Node, cb ResultCallback) error {
	formID, err := requireField(component, "componentFormID")
	if err != nil {
		return err
	}
	version, err := c.inventoryVersion()
	if err != nil {
		return err
	}
	return c.sendRequest(ToggleComponentFavorite, []any{formID.Value(), version}, cb)
}

// SortInventoryCmd requests the host re-sort inventory by sortMode.
func (c *commands) SortInventoryCmd(sortMode int, cb ResultCallback) error {
	return c.sendRequest(SortInventory, []any{sortMode}, cb)
}

// ToggleQuestActiveCmd toggles whether a quest is pinned active. quest must
// carry formID, instance and type; all three are sent, in that order.
func (c *commands) ToggleQuestActiveCmd(quest *tree.Node, cb ResultCallback) error {
	formID, err := requireField(quest, "formID")
	if err != nil {
		return err
	}
	instance, err := requireField(quest, "instance")
	if err != nil {
		return err
	}
	qtype, err := requireField(quest, "type")
	if err != nil {
		return err
	}
	return c.sendRequest(ToggleQuestActive, []any{formID.Value(), instance.Value(), qtype.Value()}, cb)
}

// SetCustomMapMarkerCmd places a custom marker at (x, y).
func (c *commands) SetCustomMapMarkerCmd(x, y float32, cb ResultCallback) error {
	return c.sendRequest(SetCustomMapMarker, []any{x, y}, cb)
}

// RemoveCustomMapMarkerCmd clears the custom marker.
func (c *commands) RemoveCustomMapMarkerCmd(cb ResultCallback) error {
	return c.sendRequest(RemoveCustomMapMarker, nil, cb)
}

// CheckFastTravelCmd asks whether fast travel to marker is currently valid.
func (c *commands) CheckFastTravelCmd(marker *tree.Node, cb ResultCallback) error {
	id, err := requireField(marker, "ID")
	if err != nil {
		return err
	}
	return c.sendRequest(CheckFastTravel, []any{id.Value()}, cb)
}

// FastTravelCmd initiates fast travel to marker.
func (c *commands) FastTravelCmd(marker *tree.Node, cb ResultCallback) error {
	id, err := requireField(marker, "ID")
	if err != nil {
		return err
	}
	return c.sendRequest(FastTravel, []any{id.Value()}, cb)
}

// MoveLocalMapCmd pans the local-map viewport by (dx, dy).
func (c *commands) MoveLocalMapCmd(dx, dy float32, cb ResultCallback) error {
	return c.sendRequest(MoveLocalMap, []any{dx, dy}, cb)
}

// ZoomLocalMapCmd sets the local-map zoom level.
func (c *commands) ZoomLocalMapCmd(zoom float32, cb ResultCallback) error {
	return c.sendRequest(ZoomLocalMap, []any{zoom}, cb)
}

// ToggleRadioStationCmd switches the active radio station.
func (c *commands) ToggleRadioStationCmd(station *tree.Node, cb ResultCallback) error {
	id, err := requireField(station, "ID")
	if err != nil {
		return err
	}
	return c.sendRequest(ToggleRadioStation, []any{id.Value()}, cb)
}

// RequestLocalMapSnapshotCmd asks the host to emit a fresh LOCAL_MAP_UPDATE.
func (c *commands) RequestLocalMapSnapshotCmd(cb ResultCallback) error {
	return c.sendRequest(RequestLocalMapSnapshot, nil, cb)
}

// ClearIdleCmd resets the host's idle/AFK timer.
func (c *commands) ClearIdleCmd(cb ResultCallback) error {
	return c.sendRequest(ClearIdle, nil, cb)
}
