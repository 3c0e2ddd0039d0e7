package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkassab/pipboy-go/internal/wire"
)

// TestScenario1RootAndSortedOrder mirrors spec §8 scenario 1.
func TestScenario1RootAndSortedOrder(t *testing.T) {
	s := NewStore()
	var rootKnownCount int
	s.RegisterRootKnownListener(func(root *Node) { rootKnownCount++ })

	recs := []wire.Record{
		{ID: 1, Type: wire.Uint32, Payload: uint32(42)},
		{ID: 2, Type: wire.Uint32, Payload: uint32(7)},
		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{
			Added: []wire.KeyID{{Key: "a", ID: 1}, {Key: "b", ID: 2}},
		}},
	}
	for _, r := range recs {
		require.NoError(t, s.ApplyRecord(r))
	}

	root := s.Root()
	require.NotNil(t, root)
	assert.Equal(t, uint32(0), root.ID())
	assert.Equal(t, uint32(42), root.Child("a").Value())
	assert.Equal(t, "a", root.ChildAt(0).ParentKey(), "lexicographic order")
	assert.Equal(t, 1, rootKnownCount)
}

// TestScenario2UpdatePropagation mirrors spec §8 scenario 2.
func TestScenario2UpdatePropagation(t *testing.T) {
	s := seedSimpleTree(t)

	var globalKind UpdateKind
	var globalNode *Node
	s.RegisterValueUpdatedListener(func(n *Node, k UpdateKind) {
		globalNode, globalKind = n, k
	})

	root, _ := s.Lookup(0)
	node1, _ := s.Lookup(1)

	var nodeDepth, rootDepth = -1, -1
	node1.RegisterListener(-1, func(caller, origin *Node, path []*Node) {
		nodeDepth = len(path)
	})
	root.RegisterListener(-1, func(caller, origin *Node, path []*Node) {
		rootDepth = len(path)
	})

	require.NoError(t, s.ApplyRecord(wire.Record{ID: 1, Type: wire.Uint32, Payload: uint32(99)}))

	assert.Equal(t, uint32(99), root.Child("a").Value())
	require.NotNil(t, globalNode)
	assert.Equal(t, uint32(1), globalNode.ID())
	assert.Equal(t, Updated, globalKind)
	assert.Equal(t, 0, nodeDepth, "node-1 listener path length (depth 0)")
	assert.Equal(t, 1, rootDepth, "root listener path length (depth 1)")
}

// TestScenario3DanglingReference mirrors spec §8 scenario 3.
func TestScenario3DanglingReference(t *testing.T) {
	s := seedSimpleTree(t)

	err := s.ApplyRecord(wire.Record{ID: 5, Type: wire.Array, Payload: []uint32{9999}})
	require.ErrorIs(t, err, ErrDanglingReference)

	_, ok := s.Lookup(5)
	assert.False(t, ok, "no partial Array node should remain visible after a dangling reference")
}

// TestScenario4ExportImportRoundTrip mirrors spec §8 scenario 4.
func TestScenario4ExportImportRoundTrip(t *testing.T) {
	s := seedSimpleTree(t)
	records := s.Export()

	s2 := NewStore()
	require.NoError(t, s2.Import(records))

	assertStructurallyEqual(t, s.Root(), s2.Root())
}

func assertStructurallyEqual(t *testing.T, a, b *Node) {
	t.Helper()
	if a == nil || b == nil {
		assert.Equal(t, a == nil, b == nil, "exactly one of the nodes is nil")
		return
	}
	require.Equal(t, a.ID(), b.ID())
	require.Equal(t, a.ValueType(), b.ValueType())
	switch a.ValueType() {
	case wire.Object:
		pa, pb := a.Presentation(), b.Presentation()
		require.Len(t, pb, len(pa), "object %d presentation length", a.ID())
		for i := range pa {
			assert.Equal(t, pa[i].ParentKey(), pb[i].ParentKey(), "object %d key[%d]", a.ID(), i)
			assertStructurallyEqual(t, pa[i], pb[i])
		}
	case wire.Array:
		ea, eb := a.Elements(), b.Elements()
		require.Len(t, eb, len(ea), "array %d length", a.ID())
		for i := range ea {
			assertStructurallyEqual(t, ea[i], eb[i])
		}
	default:
		assert.Equal(t, a.Value(), b.Value(), "node %d value", a.ID())
	}
}

// TestSortedOrderInvariant exercises the §8 "Sorted order invariant" across a
// larger object.
func TestSortedOrderInvariant(t *testing.T) {
	s := NewStore()
	keys := []string{"zeta", "alpha", "mike", "bravo", "yankee"}
	var recs []wire.Record
	for i, k := range keys {
		recs = append(recs, wire.Record{ID: uint32(i + 1), Type: wire.String, Payload: k})
	}
	added := make([]wire.KeyID, len(keys))
	for i, k := range keys {
		added[i] = wire.KeyID{Key: k, ID: uint32(i + 1)}
	}
	recs = append(recs, wire.Record{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{Added: added}})

	for _, r := range recs {
		require.NoError(t, s.ApplyRecord(r))
	}

	pres := s.Root().Presentation()
	for i := 0; i < len(pres)-1; i++ {
		assert.Less(t, pres[i].ParentKey(), pres[i+1].ParentKey(), "presentation keys must be sorted")
		assert.Equal(t, uint32(i), pres[i].ParentIndex())
	}
}

// TestPropagationDepthFilter exercises the §8 "Propagation depth" property:
// a listener at depth d fires iff d < 0 or d >= k, where k is the number of
// edges between the origin and the listener's node.
func TestPropagationDepthFilter(t *testing.T) {
	s := seedSimpleTree(t) // root(0) -> a(1), k=1 for a change applied to node 1
	root, _ := s.Lookup(0)
	root.SetUserCache("derived", "stale-free", 1)

	var firedD0, firedD1 bool
	root.RegisterListener(0, func(caller, origin *Node, path []*Node) { firedD0 = true })
	root.RegisterListener(1, func(caller, origin *Node, path []*Node) { firedD1 = true })

	require.NoError(t, s.ApplyRecord(wire.Record{ID: 1, Type: wire.Uint32, Payload: uint32(1)}))

	assert.False(t, firedD0, "root listener with depth=0 should not fire for a change 1 edge below (k=1)")
	assert.True(t, firedD1, "root listener with depth=1 should fire for a change 1 edge below (k=1)")

	entry, ok := root.UserCache("derived")
	require.True(t, ok)
	assert.True(t, entry.Dirty, "cache entry with invalidateDepth=1 should be dirty after a depth-1 propagation")
}

func seedSimpleTree(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	recs := []wire.Record{
		{ID: 1, Type: wire.Uint32, Payload: uint32(42)},
		{ID: 2, Type: wire.Uint32, Payload: uint32(7)},
		{ID: 0, Type: wire.Object, Payload: wire.ObjectPayload{
			Added: []wire.KeyID{{Key: "a", ID: 1}, {Key: "b", ID: 2}},
		}},
	}
	for _, r := range recs {
		require.NoError(t, s.ApplyRecord(r), "seed ApplyRecord(%+v)", r)
	}
	return s
}
