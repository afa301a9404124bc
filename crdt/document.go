package crdt

import (
	"encoding/json"
	"fmt"
)

func marshalAny(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// StorageListener receives the minimal delta from a single applyOp
// call (spec.md §4.3, per-node `subscribe(fn)`).
type StorageListener func(StorageUpdate)

// BatchListener receives every StorageUpdate produced by a single
// _apply call, keyed by node id (spec.md §4.3, `subscribe("storage", fn)`).
type BatchListener func(map[NodeID]StorageUpdate)

// Emitter is how a Document hands a freshly produced local op to its
// owner (the Room's outbound coalescer, spec.md §4.2). It never
// blocks and never suspends (spec.md §5).
type Emitter func(Op)

// Document is the CRDT tree: root node, id->node index, op dispatch,
// and subscription fan-out (spec.md §2 "Storage document").
//
// Document is not internally concurrency-safe. Room holds its own lock
// around the Document methods it calls itself, but mutators reached
// through Room.Root() (LiveObject.Set and the like) run without that
// lock, so callers keep a Document to one goroutine, matching the
// "single execution context" model of spec.md §5 — see DESIGN.md.
type Document struct {
	root  *LiveObject
	index map[NodeID]Node
	ids   *idAllocator
	undo  *UndoStack

	emit Emitter

	listeners      map[NodeID][]StorageListener
	batchListeners []BatchListener

	// pending is every local op not yet acked by the server, in
	// emission order. It doubles as the reconnect retry buffer
	// (spec.md invariant 5: an op is either ack-pending or in the
	// retry buffer, never both, because while disconnected nothing is
	// "pending ack" — the distinction is purely about whether the
	// socket is currently open, which the Room tracks, not the
	// Document).
	pending []Op
}

// NewDocument creates a document with no root attached yet. Call
// Bootstrap for a fresh empty document, or ApplyInitialStorage after an
// INITIAL_STORAGE_STATE fetch.
func NewDocument(actorID int) *Document {
	return &Document{
		index:     make(map[NodeID]Node),
		ids:       newIDAllocator(actorID),
		undo:      newUndoStack(),
		listeners: make(map[NodeID][]StorageListener),
	}
}

// SetEmitter wires the Document to its outbound coalescer. Must be
// called before any local mutation.
func (d *Document) SetEmitter(e Emitter) { d.emit = e }

// SetActor re-points id generation at a new actor id after a
// reconnect (spec.md §3).
func (d *Document) SetActor(actorID int) { d.ids.SetActor(actorID) }

// Bootstrap attaches an empty LiveObject as the root, used the first
// time a document is created before any INITIAL_STORAGE_STATE has
// arrived (e.g. withoutConnecting rooms).
func (d *Document) Bootstrap() {
	d.index = make(map[NodeID]Node)
	root := NewLiveObject()
	d.adopt(root, RootID, "", "")
	d.root = root
}

// Root returns the document's root object.
func (d *Document) Root() *LiveObject { return d.root }

// Index returns the node registered under id, if attached.
func (d *Document) Index(id NodeID) (Node, bool) {
	n, ok := d.index[id]
	return n, ok
}

func (d *Document) adopt(n Node, id NodeID, parent NodeID, parentKey string) {
	n.attach(d, id, parent, parentKey)
	d.index[id] = n
}

func (d *Document) forget(id NodeID) {
	delete(d.index, id)
}

// ApplyAck prunes the retry buffer for one of this client's own op
// ids (spec.md §4.3 "Ack"). It never touches in-memory state — state
// already reflects the local application.
func (d *Document) ApplyAck(opID OpID) {
	for i, op := range d.pending {
		if op.OpID == opID {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}

// PendingOps returns the ops awaiting server acknowledgement, in
// emission order — the set replayed after a reconnect (spec.md §4.1
// "Initial sync").
func (d *Document) PendingOps() []Op {
	out := make([]Op, len(d.pending))
	copy(out, d.pending)
	return out
}

// applyLocal finishes the local-op lifecycle for one user-level
// mutation (spec.md §4.3 "Local"): enqueue the forward ops for
// emission in order, push their combined inverse as a single undo
// entry (unless paused), and notify subscribers synchronously.
func (d *Document) applyLocal(forward []Op, updates map[NodeID]StorageUpdate, inverse []Op) {
	for _, op := range forward {
		d.pending = append(d.pending, op)
		if d.emit != nil {
			d.emit(op)
		}
	}
	d.undo.pushForward(inverse)
	d.notify(updates)
}

// ApplyRemote applies a server-originated op from another actor
// (spec.md §4.3 "Remote"). Malformed/unknown-target frames are
// reported as a *ProtocolViolation and dropped, per spec.md §7.
func (d *Document) ApplyRemote(op Op) error {
	_, update, err := d.apply(op, sourceRemote)
	if err != nil {
		return err
	}
	if update != nil {
		d.notify(map[NodeID]StorageUpdate{update.Node: *update})
	}
	return nil
}

// apply routes op to the node responsible for handling it. CREATE_*
// and UPDATE_OBJECT target the node being mutated directly; SET_PARENT_KEY
// and DELETE_CRDT name the child being repositioned/removed, so they
// route to that child's parent, which owns the child collection.
func (d *Document) apply(op Op, source opSource) ([]Op, *StorageUpdate, error) {
	switch op.Kind {
	case OpSetParentKey, OpDeleteCRDT:
		child, ok := d.index[op.Target]
		if !ok {
			return nil, nil, &ProtocolViolation{Message: fmt.Sprintf("op %s targets unknown node %s", op.Kind, op.Target)}
		}
		parent, ok := d.index[child.Parent()]
		if !ok {
			return nil, nil, &ProtocolViolation{Message: fmt.Sprintf("op %s targets a node with no attached parent", op.Kind)}
		}
		return parent.applyOp(d, op, source)
	default:
		target, ok := d.index[op.Target]
		if !ok {
			return nil, nil, &ProtocolViolation{Message: fmt.Sprintf("op %s targets unknown node %s", op.Kind, op.Target)}
		}
		return target.applyOp(d, op, source)
	}
}

// notify fans a batch of updates out to per-node and batch listeners
// (spec.md §4.3 "Change notifications").
func (d *Document) notify(updates map[NodeID]StorageUpdate) {
	for id, u := range updates {
		for _, fn := range d.listeners[id] {
			fn(u)
		}
	}
	if len(updates) > 0 {
		for _, fn := range d.batchListeners {
			fn(updates)
		}
	}
}

// Subscribe registers a per-node listener and returns an unsubscribe func.
func (d *Document) Subscribe(id NodeID, fn StorageListener) func() {
	d.listeners[id] = append(d.listeners[id], fn)
	idx := len(d.listeners[id]) - 1
	return func() {
		l := d.listeners[id]
		d.listeners[id] = append(l[:idx], l[idx+1:]...)
	}
}

// SubscribeStorage registers a batch listener and returns an unsubscribe func.
func (d *Document) SubscribeStorage(fn BatchListener) func() {
	d.batchListeners = append(d.batchListeners, fn)
	idx := len(d.batchListeners) - 1
	return func() {
		d.batchListeners = append(d.batchListeners[:idx], d.batchListeners[idx+1:]...)
	}
}

// Undo pops the top inverse batch and applies it as a local mutation,
// pushing a fresh inverse onto the redo stack (spec.md §4.4).
func (d *Document) Undo() error {
	batch, ok := d.undo.popUndo()
	if !ok {
		return &UserError{Message: "nothing to undo"}
	}
	d.replayBatch(batch, true)
	return nil
}

// Redo is symmetric to Undo (spec.md §4.4).
func (d *Document) Redo() error {
	batch, ok := d.undo.popRedo()
	if !ok {
		return &UserError{Message: "nothing to redo"}
	}
	d.replayBatch(batch, false)
	return nil
}

// replayBatch replays a recorded op batch "as if local": each op is
// re-applied (with a fresh opId so the server can distinguish retries
// from genuinely new mutations), re-enqueued for emission, and its own
// freshly computed inverse is collected into one new batch that lands
// on the opposite stack (undo<->redo).
func (d *Document) replayBatch(batch []Op, fromUndo bool) {
	updates := make(map[NodeID]StorageUpdate, len(batch))
	var freshInverse []Op
	var forward []Op
	for _, op := range batch {
		op = opWithFreshID(op)
		inverse, update, err := d.apply(op, sourceLocal)
		if err != nil {
			continue
		}
		freshInverse = append(freshInverse, inverse...)
		if update != nil {
			updates[update.Node] = *update
		}
		forward = append(forward, op)
	}
	for _, op := range forward {
		d.pending = append(d.pending, op)
		if d.emit != nil {
			d.emit(op)
		}
	}
	if fromUndo {
		d.undo.pushRedoBatch(freshInverse)
	} else {
		d.undo.pushUndoBatch(freshInverse)
	}
	d.notify(updates)
}

func opWithFreshID(op Op) Op {
	op.OpID = newOpID()
	return op
}

// PauseHistory suspends pushing undo entries (spec.md §4.4).
func (d *Document) PauseHistory() { d.undo.pause() }

// ResumeHistory resumes pushing undo entries.
func (d *Document) ResumeHistory() { d.undo.resume() }

// Snapshot walks the attached tree and returns it as a flat RawNode
// list in the shape ApplyInitialStorage consumes — the inverse of
// that function, used by a relay that must answer FETCH_STORAGE with
// the canonical state it has been replaying ops into.
func (d *Document) Snapshot() []RawNode {
	if d.root == nil {
		return nil
	}
	out := make([]RawNode, 0, len(d.index))
	for id, n := range d.index {
		shape, _ := n.serialize().(map[string]any)
		typ, _ := shape["type"].(string)
		data, err := marshalAny(shape["data"])
		if err != nil {
			continue
		}
		out = append(out, RawNode{ID: id, Type: typ, Data: data})
	}
	return out
}

// ProtocolViolation is a malformed server frame, unknown op target, or
// duplicate attach (spec.md §7). The frame is dropped and the
// connection left open; repeated violations force a reconnect — see
// Room.recordProtocolViolation.
type ProtocolViolation struct {
	Message string
}

func (e *ProtocolViolation) Error() string { return e.Message }
