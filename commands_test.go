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

// buildInventoryFixture populates c's tree with an Inventory/Version and one
// item carrying HandleID and a two-element StackID array, mirroring the
// shape the original pypipboy datamanager RPCs expect, plus a quest and a
// crafting component.
func buildInventoryFixture(t *testing.T, c *Client) {
	t.Helper()
	recs := []wire.Record{
		{ID: 11, Type: wire.Uint32, Payload: uint32(5)},
		{ID: 10, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "Version", ID: 11}}}},

		{ID: 21, Type: wire.Uint32, Payload: uint32(100)},
		{ID: 23, Type: wire.Uint32, Payload: uint32(1)},
		{ID: 24, Type: wire.Uint32, Payload: uint32(2)},
		{ID: 22, Type: wire.Array, Payload: []uint32{23, 24}},
		{ID: 20, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "HandleID", ID: 21}, {Key: "StackID", ID: 22}}}},

		{ID: 31, Type: wire.Uint32, Payload: uint32(200)},
		{ID: 30, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "componentFormID", ID: 31}}}},

		{ID: 41, Type: wire.Uint32, Payload: uint32(300)},
		{ID: 42, Type: wire.Uint32, Payload: uint32(1)},
		{ID: 43, Type: wire.Uint32, Payload: uint32(2)},
		{ID: 40, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "formID", ID: 41}, {Key: "instance", ID: 42}, {Key: "type", ID: 43}}}},

		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "Inventory", ID: 10}, {Key: "Item", ID: 20}, {Key: "Component", ID: 30}, {Key: "Quest", ID: 40}}}},
	}
	for _, r := range recs {
		require.NoError(t, c.tree.ApplyRecord(r))
	}
}

func TestUseItemCmdMissingStackID(t *testing.T) {
	c := New(config.DefaultSessionConfig())
	recs := []wire.Record{
		{ID: 21, Type: wire.Uint32, Payload: uint32(100)},
		{ID: 20, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "HandleID", ID: 21}}}},
		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{Added: []wire.KeyID{{Key: "Item", ID: 20}}}},
	}
	for _, r := range recs {
		require.NoError(t, c.tree.ApplyRecord(r))
	}
	item := c.Root().Child("Item")
	err := c.UseItem(item, nil)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestToggleComponentFavoriteCmdWrongFieldRejected(t *testing.T) {
	c := New(config.DefaultSessionConfig())
	buildInventoryFixture(t, c)
	// "Item" has HandleID, not componentFormID, and must be rejected.
	err := c.ToggleComponentFavorite(c.Root().Child("Item"), nil)
	assert.ErrorIs(t, err, ErrMissingField)
}

// TestCommandArgShapesOverLoopback drives each corrected command helper over
// a live loopback session and asserts the exact wire argument shape the
// original pypipboy datamanager RPCs send.
func TestCommandArgShapesOverLoopback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)

	type captured struct {
		kind ReqKind
		args []any
	}
	capturedCh := make(chan captured, 8)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame.WriteMessage(conn, frame.Message{Type: frame.ConnectionAccepted, Payload: []byte(`{}`)})

		r := bufio.NewReader(conn)
		for {
			msg, err := frame.ReadMessage(r)
			if err != nil || msg.Type != frame.Command {
				return
			}
			var req struct {
				ID   uint32  `json:"id"`
				Type ReqKind `json:"type"`
				Args []any   `json:"args"`
			}
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return
			}
			capturedCh <- captured{kind: req.Type, args: req.Args}
			result, _ := json.Marshal(map[string]any{"id": req.ID})
			frame.WriteMessage(conn, frame.Message{Type: frame.CommandResult, Payload: result})
		}
	}()

	c := New(config.DefaultSessionConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.Connect(ctx, addr.IP.String(), addr.Port)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { c.Disconnect(); c.Join() }()

	// Connect resets the tree, so the fixture is built once the session is up.
	buildInventoryFixture(t, c)

	item := c.Root().Child("Item")
	component := c.Root().Child("Component")
	quest := c.Root().Child("Quest")

	require.NoError(t, c.UseItem(item, nil))
	require.NoError(t, c.DropItem(item, 3, nil))
	require.NoError(t, c.SetFavorite(item, 2, nil))
	require.NoError(t, c.ToggleComponentFavorite(component, nil))
	require.NoError(t, c.ToggleQuestActive(quest, nil))

	want := map[ReqKind][]any{
		UseItem:                 {float64(100), float64(1), float64(5)},
		DropItem:                {float64(100), float64(3), float64(5), []any{float64(1), float64(2)}},
		SetFavorite:             {float64(100), []any{float64(1), float64(2)}, float64(2), float64(5)},
		ToggleComponentFavorite: {float64(200), float64(5)},
		ToggleQuestActive:       {float64(300), float64(1), float64(2)},
	}

	seen := map[ReqKind][]any{}
	for len(seen) < len(want) {
		select {
		case got := <-capturedCh:
			seen[got.kind] = got.args
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for commands, got so far: %v", seen)
		}
	}
	for kind, args := range want {
		assert.Equal(t, args, seen[kind], "unexpected args for request kind %v", kind)
	}
}
