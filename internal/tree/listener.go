package tree

// RegisterListener registers fn on this node with the given depth filter.
// depth < 0 means "fire regardless of distance"; depth >= 0 means "fire only
// when the origin is at most depth levels below this node" (spec §4.E).
func (n *Node) RegisterListener(depth int, fn PropagationListener) ListenerID {
	n.listenerMu.Lock()
	defer n.listenerMu.Unlock()
	n.nextLID++
	id := n.nextLID
	n.listeners = append(n.listeners, listenerEntry{id: id, depth: depth, fn: fn})
	return id
}

// UnregisterListener removes a previously registered listener. No-op if id
// is unknown (already removed, or never registered on this node).
func (n *Node) UnregisterListener(id ListenerID) {
	n.listenerMu.Lock()
	defer n.listenerMu.Unlock()
	for i, le := range n.listeners {
		if le.id == id {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

// firePropagate implements spec §4.E's upward walk: fire(origin, path, depth).
// Each node's own listener lock is held only while firing this node's own
// listeners and cache entries, then released before recursing into the
// parent — so a listener may register/unregister on an ancestor (but not on
// the node it is currently running on) without deadlocking (spec §5, §9).
func (n *Node) firePropagate(origin *Node, path []*Node, depth int) {
	n.listenerMu.Lock()
	n.markCacheDirty(depth)
	// The live slice is iterated with n.listenerMu held, so a handler must
	// not Register/UnregisterListener on n itself (that would deadlock; see
	// doc above). Concurrent firing passes are excluded by the fact that all
	// tree mutation/propagation happens on one dispatch goroutine (spec §5).
	for _, le := range n.listeners {
		if le.depth < 0 || le.depth >= depth {
			le.fn(n, origin, path)
		}
	}
	parent := n.parent
	n.listenerMu.Unlock()

	if parent != nil {
		nextPath := make([]*Node, len(path)+1)
		copy(nextPath, path)
		nextPath[len(path)] = n
		parent.firePropagate(origin, nextPath, depth+1)
	}
}
