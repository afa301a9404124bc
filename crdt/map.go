package crdt

// LiveMap is a string key -> child node map with unordered keys
// (spec.md §3). Unlike LiveObject, a map's values are always child
// CRDT nodes — a leaf value assigned via Set is transparently wrapped
// in a LiveRegister, matching the payload table's "string key → child
// node" (no "OR JSON leaf value" alternative, unlike Object).
type LiveMap struct {
	base
	entries map[string]Node
}

// NewLiveMap creates a detached, empty map.
func NewLiveMap() *LiveMap {
	return &LiveMap{entries: make(map[string]Node), base: base{kind: KindMap}}
}

// Get returns the child node at key.
func (m *LiveMap) Get(key string) (Node, bool) {
	n, ok := m.entries[key]
	return n, ok
}

// Keys returns the map's keys in unspecified order.
func (m *LiveMap) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Set attaches value at key, replacing and destroying whatever child
// was there. A non-Node value is wrapped in a fresh LiveRegister.
func (m *LiveMap) Set(key string, value any) error {
	if !m.Attached() {
		return ErrDetached
	}
	child, isNode := value.(Node)
	if !isNode {
		child = &LiveRegister{value: value, base: base{kind: KindRegister}}
	}
	m.doc.setMapKey(m, key, child)
	return nil
}

// Delete removes and destroys the child at key, if any.
func (m *LiveMap) Delete(key string) error {
	if !m.Attached() {
		return ErrDetached
	}
	m.doc.deleteMapKey(m, key)
	return nil
}

func (d *Document) setMapKey(m *LiveMap, key string, child Node) {
	var forward []Op
	var inverse []Op

	if old, ok := m.entries[key]; ok {
		deleteOp, resurrect := d.destroyChild(old)
		forward = append(forward, deleteOp)
		inverse = append(inverse, resurrect...)
	}

	newID := d.ids.NextNodeID()
	d.adopt(child, newID, m.id, key)
	m.entries[key] = child
	forward = append(forward, Op{
		OpID: newOpID(), Kind: createKindFor(child.Kind()), Target: m.id,
		NewID: newID, ParentKey: key, Value: child.serialize(),
	})
	// Delete the new child before recreating the old one at the same key.
	inverse = append([]Op{{OpID: newOpID(), Kind: OpDeleteCRDT, Target: newID}}, inverse...)

	update := map[NodeID]StorageUpdate{m.id: {Node: m.id, Kind: KindMap, UpdatedKeys: map[string]any{key: child}}}
	d.applyLocal(forward, update, inverse)
}

func (d *Document) deleteMapKey(m *LiveMap, key string) {
	old, ok := m.entries[key]
	if !ok {
		return
	}
	deleteOp, resurrect := d.destroyChild(old)
	delete(m.entries, key)
	update := map[NodeID]StorageUpdate{m.id: {Node: m.id, Kind: KindMap, DeletedKeys: []string{key}}}
	d.applyLocal([]Op{deleteOp}, update, resurrect)
}

func (m *LiveMap) serialize() any {
	out := map[string]any{"type": "map", "data": map[string]any{}}
	data := out["data"].(map[string]any)
	for k, v := range m.entries {
		data[k] = map[string]any{"$ref": string(v.ID())}
	}
	return out
}

func (m *LiveMap) applyOp(doc *Document, op Op, source opSource) ([]Op, *StorageUpdate, error) {
	switch op.Kind {
	case OpCreateObject, OpCreateMap, OpCreateList, OpCreateRegister:
		child := materialize(op)
		doc.adopt(child, op.NewID, m.id, op.ParentKey)
		m.entries[op.ParentKey] = child
		update := &StorageUpdate{Node: m.id, Kind: KindMap, UpdatedKeys: map[string]any{op.ParentKey: child}}
		inverse := []Op{{OpID: newOpID(), Kind: OpDeleteCRDT, Target: op.NewID}}
		return inverse, update, nil
	case OpDeleteCRDT:
		for k, v := range m.entries {
			if v.ID() == op.Target {
				resurrect := snapshotCreateOps(v)
				doc.detachRecursive(v)
				delete(m.entries, k)
				update := &StorageUpdate{Node: m.id, Kind: KindMap, DeletedKeys: []string{k}}
				return resurrect, update, nil
			}
		}
		return nil, nil, &ProtocolViolation{Message: "DELETE_CRDT target not a child of this map"}
	default:
		return nil, nil, &ProtocolViolation{Message: "op kind not valid for Map: " + op.Kind.String()}
	}
}
