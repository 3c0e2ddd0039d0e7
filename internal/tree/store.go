package tree

import (
	"fmt"
	"sync"

	"github.com/mkassab/pipboy-go/internal/wire"
	"github.com/mkassab/pipboy-go/pkg/plog"
)

// UpdateKind distinguishes a freshly created node from a mutated one in the
// global value-updated event (spec §4.E step 6).
type UpdateKind int

const (
	New UpdateKind = iota
	Updated
)

func (k UpdateKind) String() string {
	if k == New {
		return "NEW"
	}
	return "UPDATED"
}

type (
	// RootKnownListener fires exactly once, the first time a Record for id 0
	// finishes applying (spec §4.E).
	RootKnownListener func(root *Node)
	// ValueUpdatedListener fires for every applied Record, regardless of
	// which node it touched.
	ValueUpdatedListener func(node *Node, kind UpdateKind)
	// LocalMapListener fires for every decoded LOCAL_MAP_UPDATE frame.
	LocalMapListener func(m wire.LocalMap)
)

// Store is the canonical value graph: nodes indexed by id, with three
// top-level listener registries (root-known, value-updated-any, local-map)
// and per-node listener registries reached through Node (spec §4.E).
type Store struct {
	mu             sync.RWMutex
	valueMap       map[uint32]*Node
	root           *Node
	rootKnownFired bool

	globalMu      sync.Mutex
	nextGlobalID  ListenerID
	rootListeners map[ListenerID]RootKnownListener
	valListeners  map[ListenerID]ValueUpdatedListener
	mapListeners  map[ListenerID]LocalMapListener
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		valueMap:      make(map[uint32]*Node),
		rootListeners: make(map[ListenerID]RootKnownListener),
		valListeners:  make(map[ListenerID]ValueUpdatedListener),
		mapListeners:  make(map[ListenerID]LocalMapListener),
	}
}

// Reset clears the value graph, as happens on every new connection (spec
// §4.E). Registered listeners survive a Reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueMap = make(map[uint32]*Node)
	s.root = nil
	s.rootKnownFired = false
}

// Lookup returns the node for id, if known.
func (s *Store) Lookup(id uint32) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.valueMap[id]
	return n, ok
}

// Root returns the current root node, or nil before it is known.
func (s *Store) Root() *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// ApplyRecord applies a decoded Record following spec §4.E's ordering:
// lookup-or-create, structural mutation, then global and node-scoped event
// firing, with root-known deferred until the Record finishes applying.
func (s *Store) ApplyRecord(rec wire.Record) error {
	s.mu.Lock()
	node, existed := s.valueMap[rec.ID]
	wasRootUnknown := s.root == nil

	switch rec.Type {
	case wire.Bool, wire.Int8, wire.Uint8, wire.Int32, wire.Uint32, wire.Float, wire.String:
		if existed {
			if node.valueType != rec.Type {
				s.mu.Unlock()
				return fmt.Errorf("%w: node %d was %s, record is %s", ErrValueTypeChanged, rec.ID, node.valueType, rec.Type)
			}
			node.scalar = rec.Payload
		} else {
			node = newNode(s, rec.ID, rec.Type)
			node.scalar = rec.Payload
			s.valueMap[rec.ID] = node
		}

	case wire.Array:
		if existed {
			if node.valueType != wire.Array {
				s.mu.Unlock()
				return fmt.Errorf("%w: node %d was %s, record is array", ErrValueTypeChanged, rec.ID, node.valueType)
			}
		} else {
			node = newNode(s, rec.ID, wire.Array)
			s.valueMap[rec.ID] = node
		}
		ids := rec.Payload.([]uint32)
		elems := make([]*Node, len(ids))
		for i, id := range ids {
			child, ok := s.valueMap[id]
			if !ok {
				if !existed {
					delete(s.valueMap, rec.ID)
				}
				s.mu.Unlock()
				return fmt.Errorf("%w: array %d references unknown id %d", ErrDanglingReference, rec.ID, id)
			}
			child.parent = node
			child.parentKey = ""
			child.parentIndex = uint32(i)
			elems[i] = child
		}
		node.elements = elems

	case wire.Object:
		if existed {
			if node.valueType != wire.Object {
				s.mu.Unlock()
				return fmt.Errorf("%w: node %d was %s, record is object", ErrValueTypeChanged, rec.ID, node.valueType)
			}
		} else {
			node = newNode(s, rec.ID, wire.Object)
			s.valueMap[rec.ID] = node
		}
		obj := rec.Payload.(wire.ObjectPayload)
		for _, kv := range obj.Added {
			child, ok := s.valueMap[kv.ID]
			if !ok {
				if !existed {
					delete(s.valueMap, rec.ID)
				}
				s.mu.Unlock()
				return fmt.Errorf("%w: object %d references unknown id %d for key %q", ErrDanglingReference, rec.ID, kv.ID, kv.Key)
			}
			child.parent = node
			child.parentKey = kv.Key
			node.children[kv.Key] = child
		}
		for _, rid := range obj.Removed {
			plog.Debugf("tree: object %d marks id %d removed (not evicted, see spec §9.1)", rec.ID, rid)
		}
		node.rebuildPresentation()
		if rec.ID == 0 {
			s.root = node
		}

	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", wire.ErrUnknownValueType, rec.Type)
	}
	isNewRoot := rec.ID == 0 && wasRootUnknown && !s.rootKnownFired
	s.mu.Unlock()

	kind := Updated
	if !existed {
		kind = New
	}
	s.fireValueUpdated(node, kind)

	if existed {
		node.firePropagate(node, nil, 0)
	}

	if isNewRoot {
		s.mu.Lock()
		s.rootKnownFired = true
		s.mu.Unlock()
		s.fireRootKnown(node)
	}

	return nil
}

// NotifyLocalMap dispatches a decoded local-map tile to registered listeners.
// It is not a Record and does not touch the value graph.
func (s *Store) NotifyLocalMap(m wire.LocalMap) {
	s.globalMu.Lock()
	listeners := make([]LocalMapListener, 0, len(s.mapListeners))
	for _, fn := range s.mapListeners {
		listeners = append(listeners, fn)
	}
	s.globalMu.Unlock()
	for _, fn := range listeners {
		safeCall(func() { fn(m) })
	}
}

func (s *Store) fireValueUpdated(node *Node, kind UpdateKind) {
	s.globalMu.Lock()
	listeners := make([]ValueUpdatedListener, 0, len(s.valListeners))
	for _, fn := range s.valListeners {
		listeners = append(listeners, fn)
	}
	s.globalMu.Unlock()
	for _, fn := range listeners {
		safeCall(func() { fn(node, kind) })
	}
}

func (s *Store) fireRootKnown(root *Node) {
	s.globalMu.Lock()
	listeners := make([]RootKnownListener, 0, len(s.rootListeners))
	for _, fn := range s.rootListeners {
		listeners = append(listeners, fn)
	}
	s.globalMu.Unlock()
	for _, fn := range listeners {
		safeCall(func() { fn(root) })
	}
}

// RegisterRootKnownListener registers fn to run once, the first time the
// root node is known for the current connection.
func (s *Store) RegisterRootKnownListener(fn RootKnownListener) ListenerID {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.nextGlobalID++
	id := s.nextGlobalID
	s.rootListeners[id] = fn
	return id
}

func (s *Store) UnregisterRootKnownListener(id ListenerID) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	delete(s.rootListeners, id)
}

// RegisterValueUpdatedListener registers fn to run on every applied Record.
func (s *Store) RegisterValueUpdatedListener(fn ValueUpdatedListener) ListenerID {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.nextGlobalID++
	id := s.nextGlobalID
	s.valListeners[id] = fn
	return id
}

func (s *Store) UnregisterValueUpdatedListener(id ListenerID) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	delete(s.valListeners, id)
}

// RegisterLocalMapListener registers fn to run on every decoded local-map tile.
func (s *Store) RegisterLocalMapListener(fn LocalMapListener) ListenerID {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.nextGlobalID++
	id := s.nextGlobalID
	s.mapListeners[id] = fn
	return id
}

func (s *Store) UnregisterLocalMapListener(id ListenerID) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	delete(s.mapListeners, id)
}

// safeCall runs fn, logging and swallowing any panic so a single misbehaving
// listener can never bring down the dispatch loop (spec §7).
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			plog.Errorf("tree: listener panic recovered: %v", r)
		}
	}()
	fn()
}
