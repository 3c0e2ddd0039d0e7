package tree

import "github.com/mkassab/pipboy-go/internal/wire"

// Export walks the tree breadth-first starting from the root, emitting one
// Record per node in the same codec shape ApplyRecord consumes. The order is
// root-first; feeding it back through ApplyRecord in that same order fails
// with ErrDanglingReference on any non-trivial tree; Import (and the relay)
// compensate by reversing it (spec §4.E, §4.G, §9.5).
func (s *Store) Export() []wire.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.root == nil {
		return nil
	}

	var (
		records []wire.Record
		visited = make(map[uint32]bool)
		queue   = []*Node{s.root}
	)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n.id] {
			continue
		}
		visited[n.id] = true

		records = append(records, nodeRecord(n))

		switch n.valueType {
		case wire.Object:
			queue = append(queue, n.order...)
		case wire.Array:
			queue = append(queue, n.elements...)
		}
	}
	return records
}

func nodeRecord(n *Node) wire.Record {
	switch n.valueType {
	case wire.Array:
		ids := make([]uint32, len(n.elements))
		for i, c := range n.elements {
			ids[i] = c.id
		}
		return wire.Record{ID: n.id, Type: wire.Array, Payload: ids}
	case wire.Object:
		added := make([]wire.KeyID, len(n.order))
		for i, c := range n.order {
			added[i] = wire.KeyID{Key: c.parentKey, ID: c.id}
		}
		return wire.Record{ID: n.id, Type: wire.Object, Payload: wire.ObjectPayload{Added: added}}
	default:
		return wire.Record{ID: n.id, Type: n.valueType, Payload: n.scalar}
	}
}

// ReverseRecords returns a new slice with records in reverse order. Used to
// turn Export's root-first walk into the leaf-first order the wire protocol
// requires for forward application (every reference must already exist).
func ReverseRecords(records []wire.Record) []wire.Record {
	out := make([]wire.Record, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out
}

// Import clears the store and reapplies an exported Record stream, reversing
// it first so every reference resolves against an already-inserted child
// (spec §4.E, §8 "Reference integrity"). Callers are responsible for only
// calling Import while disconnected (spec §4.E).
func (s *Store) Import(records []wire.Record) error {
	s.Reset()
	for _, r := range ReverseRecords(records) {
		if err := s.ApplyRecord(r); err != nil {
			return err
		}
	}
	return nil
}
