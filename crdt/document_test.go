package crdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestDoc() *Document {
	d := NewDocument(1)
	d.Bootstrap()
	return d
}

func TestObjectSetGetLeaf(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	err := root.Set("title", "hello")
	assert.Equal(t, err, nil)

	v, ok := root.Get("title")
	assert.Equal(t, ok, true)
	assert.Equal(t, v, "hello")
}

func TestObjectSetChildNode(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	m := NewLiveMap()
	err := root.Set("settings", m)
	assert.Equal(t, err, nil)
	assert.Equal(t, m.Attached(), true)

	v, ok := root.Get("settings")
	assert.Equal(t, ok, true)
	assert.Equal(t, v.(*LiveMap), m)
}

func TestObjectDeleteLeaf(t *testing.T) {
	d := newTestDoc()
	root := d.Root()
	root.Set("a", 1.0)

	err := root.Delete("a")
	assert.Equal(t, err, nil)

	_, ok := root.Get("a")
	assert.Equal(t, ok, false)
}

func TestDetachedNodeRejectsMutation(t *testing.T) {
	m := NewLiveMap()
	err := m.Set("x", 1.0)
	assert.Equal(t, err, ErrDetached)
}

// TestUndoRestoresDeletedSubtree is the literal testable property from
// spec.md §8: applying the recorded inverse ops in reverse order
// yields the initial state, including a populated subtree.
func TestUndoRestoresDeletedSubtree(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	m := NewLiveMap()
	root.Set("folder", m)
	m.Set("name", "docs")
	inner := NewLiveList()
	m.Set("items", inner)
	inner.Push("a")
	inner.Push("b")

	assert.Equal(t, inner.Len(), 2)

	err := root.Delete("folder")
	assert.Equal(t, err, nil)
	_, ok := root.Get("folder")
	assert.Equal(t, ok, false)

	err = d.Undo()
	assert.Equal(t, err, nil)

	v, ok := root.Get("folder")
	assert.Equal(t, ok, true)
	restored := v.(*LiveMap)
	name, ok := restored.Get("name")
	assert.Equal(t, ok, true)
	assert.Equal(t, name.(*LiveRegister).Value(), "docs")

	itemsNode, ok := restored.Get("items")
	assert.Equal(t, ok, true)
	restoredList := itemsNode.(*LiveList)
	assert.Equal(t, restoredList.Len(), 2)
	first, _ := restoredList.Get(0)
	assert.Equal(t, first.(*LiveRegister).Value(), "a")
}

func TestUndoRedoRoundTrip(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	root.Set("count", 1.0)
	root.Set("count", 2.0)

	err := d.Undo()
	assert.Equal(t, err, nil)
	v, _ := root.Get("count")
	assert.Equal(t, v, 1.0)

	err = d.Redo()
	assert.Equal(t, err, nil)
	v, _ = root.Get("count")
	assert.Equal(t, v, 2.0)

	err = d.Undo()
	assert.Equal(t, err, nil)
	err = d.Undo()
	assert.Equal(t, err, nil)
	_, ok := root.Get("count")
	assert.Equal(t, ok, false)

	err = d.Undo()
	assert.NotEqual(t, err, nil)
}

func TestMutationClearsRedoStack(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	root.Set("a", 1.0)
	d.Undo()
	root.Set("b", 2.0)

	err := d.Redo()
	assert.NotEqual(t, err, nil)
}

func TestPauseHistoryCoalesces(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	root.Set("a", 1.0)
	d.PauseHistory()
	root.Set("a", 2.0)
	root.Set("a", 3.0)
	d.ResumeHistory()

	err := d.Undo()
	assert.Equal(t, err, nil)
	v, _ := root.Get("a")
	assert.Equal(t, v, 1.0)
}

func TestApplyRemoteUpdatesObject(t *testing.T) {
	d := newTestDoc()
	root := d.Root()

	op := Op{OpID: newOpID(), Kind: OpUpdateObject, Target: root.ID(), Fields: map[string]any{"from": "peer"}}
	err := d.ApplyRemote(op)
	assert.Equal(t, err, nil)

	v, ok := root.Get("from")
	assert.Equal(t, ok, true)
	assert.Equal(t, v, "peer")
}

func TestApplyRemoteUnknownTargetIsProtocolViolation(t *testing.T) {
	d := newTestDoc()
	op := Op{OpID: newOpID(), Kind: OpDeleteCRDT, Target: NodeID("9:9")}
	err := d.ApplyRemote(op)
	assert.NotEqual(t, err, nil)
	_, ok := err.(*ProtocolViolation)
	assert.Equal(t, ok, true)
}

func TestApplyAckPrunesPending(t *testing.T) {
	d := newTestDoc()
	root := d.Root()
	var emitted []Op
	d.SetEmitter(func(op Op) { emitted = append(emitted, op) })

	root.Set("a", 1.0)
	assert.Equal(t, len(d.PendingOps()), 1)

	d.ApplyAck(emitted[0].OpID)
	assert.Equal(t, len(d.PendingOps()), 0)
}
