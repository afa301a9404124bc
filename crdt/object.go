package crdt

// LiveObject is a key -> (child node | JSON leaf) map with per-key
// last-writer-wins semantics over op-id ordering (spec.md §3).
type LiveObject struct {
	base
	fields map[string]any // value is a Node, or a JSON-marshalable leaf
}

// NewLiveObject creates a detached object, attached by Set/Insert on a
// parent or by Document.Bootstrap/ApplyInitialStorage for the document root.
func NewLiveObject() *LiveObject {
	return &LiveObject{fields: make(map[string]any), base: base{kind: KindObject}}
}

// Get returns the value stored at key: a Node for a child CRDT, a
// plain JSON-ish value for a leaf, or (nil, false) if absent.
func (o *LiveObject) Get(key string) (any, bool) {
	v, ok := o.fields[key]
	return v, ok
}

// Keys returns the object's keys in unspecified order (objects have
// no ordering guarantee, spec.md §3).
func (o *LiveObject) Keys() []string {
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	return keys
}

// Set assigns a leaf value or attaches a detached child Node at key,
// replacing whatever was there (spec.md §4.3 local mutation). Returns
// ErrDetached if called on a detached object.
func (o *LiveObject) Set(key string, value any) error {
	if !o.Attached() {
		return ErrDetached
	}
	o.doc.setObjectKey(o, key, value)
	return nil
}

// Delete removes key, detaching and destroying any child CRDT stored
// there.
func (o *LiveObject) Delete(key string) error {
	if !o.Attached() {
		return ErrDetached
	}
	o.doc.deleteObjectKey(o, key)
	return nil
}

// setObjectKey is the shared implementation behind Set. If the key
// previously held a child CRDT, that subtree is destroyed and its
// resurrection snapshot folded into this call's undo entry before the
// new value lands (spec.md §4.3 "Register immutability" describes the
// same delete+create atomicity for registers; the same shape applies
// to any key whose value is replaced wholesale).
func (d *Document) setObjectKey(o *LiveObject, key string, value any) {
	var forward []Op
	var inverse []Op

	prevValue, hadOld := o.fields[key]
	if hadOld {
		if child, isNode := prevValue.(Node); isNode {
			deleteOp, resurrect := d.destroyChild(child)
			forward = append(forward, deleteOp)
			inverse = append(inverse, resurrect...)
			hadOld = false // the slot is now empty; nothing left to restore as a leaf
		}
	}

	createOp := Op{OpID: newOpID(), Target: o.id}
	var thisInverse Op
	if !hadOld {
		thisInverse = Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{key: Deleted}}
	} else {
		thisInverse = Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{key: prevValue}}
	}

	if child, isNode := value.(Node); isNode {
		newID := d.ids.NextNodeID()
		d.adopt(child, newID, o.id, key)
		createOp.Kind = createKindFor(child.Kind())
		createOp.NewID = newID
		createOp.ParentKey = key
		createOp.Value = child.serialize()
		o.fields[key] = child
	} else {
		createOp.Kind = OpUpdateObject
		createOp.Fields = map[string]any{key: value}
		o.fields[key] = value
	}
	forward = append(forward, createOp)
	// The key's own inverse runs first, so a resurrected child is not
	// removed again by it.
	inverse = append([]Op{thisInverse}, inverse...)

	update := map[NodeID]StorageUpdate{o.id: {Node: o.id, Kind: KindObject, UpdatedKeys: map[string]any{key: value}}}
	d.applyLocal(forward, update, inverse)
}

func (d *Document) deleteObjectKey(o *LiveObject, key string) {
	oldValue, ok := o.fields[key]
	if !ok {
		return
	}
	var forward []Op
	var inverse []Op

	if child, isNode := oldValue.(Node); isNode {
		deleteOp, resurrect := d.destroyChild(child)
		delete(o.fields, key)
		forward = append(forward, deleteOp)
		inverse = append(inverse, resurrect...)
	} else {
		delete(o.fields, key)
		forward = append(forward, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{key: Deleted}})
		inverse = append(inverse, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{key: oldValue}})
	}

	update := map[NodeID]StorageUpdate{o.id: {Node: o.id, Kind: KindObject, DeletedKeys: []string{key}}}
	d.applyLocal(forward, update, inverse)
}

// destroyChild recursively detaches child (and, for containers, its
// descendants) from the document index. It returns the DELETE_CRDT op
// that removes it and the full recreate-batch that would resurrect
// the exact subtree, used as the op's inverse (spec.md §8 property 1:
// undo of a subtree delete must restore the initial state, not just
// the top node).
func (d *Document) destroyChild(child Node) (Op, []Op) {
	id := child.ID()
	resurrect := snapshotCreateOps(child)
	d.detachRecursive(child)
	return Op{OpID: newOpID(), Kind: OpDeleteCRDT, Target: id}, resurrect
}

func (d *Document) detachRecursive(n Node) {
	switch c := n.(type) {
	case *LiveObject:
		for _, v := range c.fields {
			if child, ok := v.(Node); ok {
				d.detachRecursive(child)
			}
		}
	case *LiveMap:
		for _, v := range c.entries {
			d.detachRecursive(v)
		}
	case *LiveList:
		for _, e := range c.items {
			d.detachRecursive(e.node)
		}
	}
	d.forget(n.ID())
	n.detach()
}

// snapshotCreateOps walks an attached subtree (parent before
// children) and produces the ops that would recreate it byte-for-byte
// under its current parent/key, reusing the same node ids — safe
// because by the time this batch is ever replayed those ids have been
// freed from the index by the delete that is about to happen.
func snapshotCreateOps(n Node) []Op {
	self := Op{
		OpID:      newOpID(),
		Kind:      createKindFor(n.Kind()),
		Target:    n.Parent(),
		NewID:     n.ID(),
		ParentKey: n.ParentKey(),
	}
	ops := []Op{self}

	switch c := n.(type) {
	case *LiveObject:
		for k, v := range c.fields {
			if child, ok := v.(Node); ok {
				ops = append(ops, snapshotCreateOps(child)...)
			} else {
				ops = append(ops, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: n.ID(), Fields: map[string]any{k: v}})
			}
		}
	case *LiveMap:
		for _, v := range c.entries {
			ops = append(ops, snapshotCreateOps(v)...)
		}
	case *LiveList:
		for _, e := range c.items {
			ops = append(ops, snapshotCreateOps(e.node)...)
		}
	case *LiveRegister:
		self.Value = c.value
		ops[0] = self
	}
	return ops
}

func createKindFor(k Kind) OpKind {
	switch k {
	case KindObject:
		return OpCreateObject
	case KindMap:
		return OpCreateMap
	case KindList:
		return OpCreateList
	case KindRegister:
		return OpCreateRegister
	default:
		return OpCreateObject
	}
}

func (o *LiveObject) serialize() any {
	out := map[string]any{"type": "object", "data": map[string]any{}}
	data := out["data"].(map[string]any)
	for k, v := range o.fields {
		if child, ok := v.(Node); ok {
			data[k] = map[string]any{"$ref": string(child.ID())}
		} else {
			data[k] = v
		}
	}
	return out
}

func (o *LiveObject) applyOp(doc *Document, op Op, source opSource) ([]Op, *StorageUpdate, error) {
	switch op.Kind {
	case OpUpdateObject:
		updated := map[string]any{}
		deleted := []string{}
		inverse := make([]Op, 0, len(op.Fields))
		for k, v := range op.Fields {
			prev, had := o.fields[k]
			if _, isDel := v.(deletedValue); isDel {
				delete(o.fields, k)
				deleted = append(deleted, k)
			} else {
				o.fields[k] = v
				updated[k] = v
			}
			if had {
				inverse = append(inverse, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{k: prev}})
			} else {
				inverse = append(inverse, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: o.id, Fields: map[string]any{k: Deleted}})
			}
		}
		update := &StorageUpdate{Node: o.id, Kind: KindObject, UpdatedKeys: updated, DeletedKeys: deleted}
		return inverse, update, nil
	case OpCreateObject, OpCreateMap, OpCreateList, OpCreateRegister:
		child := materialize(op)
		doc.adopt(child, op.NewID, o.id, op.ParentKey)
		o.fields[op.ParentKey] = child
		update := &StorageUpdate{Node: o.id, Kind: KindObject, UpdatedKeys: map[string]any{op.ParentKey: child}}
		inverse := []Op{{OpID: newOpID(), Kind: OpDeleteCRDT, Target: op.NewID}}
		return inverse, update, nil
	case OpDeleteCRDT:
		for k, v := range o.fields {
			if child, ok := v.(Node); ok && child.ID() == op.Target {
				resurrect := snapshotCreateOps(child)
				doc.detachRecursive(child)
				delete(o.fields, k)
				update := &StorageUpdate{Node: o.id, Kind: KindObject, DeletedKeys: []string{k}}
				return resurrect, update, nil
			}
		}
		return nil, nil, &ProtocolViolation{Message: "DELETE_CRDT target not a child of this object"}
	default:
		return nil, nil, &ProtocolViolation{Message: "op kind not valid for Object: " + op.Kind.String()}
	}
}

// materialize builds a fresh detached node of the kind named by a
// CREATE_* op, used when applying a remote creation.
func materialize(op Op) Node {
	switch op.Kind {
	case OpCreateObject:
		return &LiveObject{fields: make(map[string]any), base: base{kind: KindObject}}
	case OpCreateMap:
		return &LiveMap{entries: make(map[string]Node), base: base{kind: KindMap}}
	case OpCreateList:
		return &LiveList{base: base{kind: KindList}}
	case OpCreateRegister:
		return &LiveRegister{value: op.Value, base: base{kind: KindRegister}}
	default:
		panic("materialize: not a CREATE_* op")
	}
}
