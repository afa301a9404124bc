package crdt

import "sort"

type listItem struct {
	node Node
}

// LiveList is a sequence of child nodes ordered by a dense fractional
// position string (spec.md §3, §4.3 "List positions"). Concurrent
// inserts at the same gap can independently compute an identical
// position; the tie is broken by actor id, lower first.
type LiveList struct {
	base
	items []listItem // kept sorted by (position, actor-id tiebreak)
}

// NewLiveList creates a detached, empty list.
func NewLiveList() *LiveList {
	return &LiveList{base: base{kind: KindList}}
}

// Len returns the number of elements.
func (l *LiveList) Len() int { return len(l.items) }

// Get returns the child node at index in iteration order.
func (l *LiveList) Get(index int) (Node, bool) {
	if index < 0 || index >= len(l.items) {
		return nil, false
	}
	return l.items[index].node, true
}

// ToSlice returns every element in iteration order.
func (l *LiveList) ToSlice() []Node {
	out := make([]Node, len(l.items))
	for i, it := range l.items {
		out[i] = it.node
	}
	return out
}

func lessItem(a, b Node) bool {
	c := comparePositions(a.ParentKey(), b.ParentKey())
	if c != 0 {
		return c < 0
	}
	aa, ba := a.ID().Actor(), b.ID().Actor()
	if aa != ba {
		return aa < ba
	}
	return a.ID().Counter() < b.ID().Counter()
}

func (l *LiveList) insertSorted(n Node) int {
	idx := sort.Search(len(l.items), func(i int) bool { return lessItem(n, l.items[i].node) })
	l.items = append(l.items, listItem{})
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = listItem{node: n}
	return idx
}

func (l *LiveList) removeByID(id NodeID) (Node, int) {
	for i, it := range l.items {
		if it.node.ID() == id {
			n := it.node
			l.items = append(l.items[:i], l.items[i+1:]...)
			return n, i
		}
	}
	return nil, -1
}

// positionForIndex computes the fractional position a new element at
// index should take, given the current (pre-insert) ordering.
func (l *LiveList) positionForIndex(index int) string {
	if len(l.items) == 0 {
		return firstPosition()
	}
	if index <= 0 {
		return positionBetween("", l.items[0].node.ParentKey())
	}
	if index >= len(l.items) {
		return positionBetween(l.items[len(l.items)-1].node.ParentKey(), "")
	}
	return positionBetween(l.items[index-1].node.ParentKey(), l.items[index].node.ParentKey())
}

// InsertAt attaches value as a new child at index, wrapping a non-Node
// value in a LiveRegister (the same convention as LiveMap).
func (l *LiveList) InsertAt(index int, value any) error {
	if !l.Attached() {
		return ErrDetached
	}
	child, isNode := value.(Node)
	if !isNode {
		child = &LiveRegister{value: value, base: base{kind: KindRegister}}
	}
	l.doc.insertListItem(l, index, child)
	return nil
}

// Push appends value to the end of the list.
func (l *LiveList) Push(value any) error {
	return l.InsertAt(len(l.items), value)
}

// Delete removes and destroys the element at index.
func (l *LiveList) Delete(index int) error {
	if !l.Attached() {
		return ErrDetached
	}
	if index < 0 || index >= len(l.items) {
		return &UserError{Message: "list index out of range"}
	}
	l.doc.deleteListItem(l, l.items[index].node)
	return nil
}

// Move repositions the element at fromIndex to sit at toIndex,
// generating a SET_PARENT_KEY op (spec.md §4.3 "Re-positioning
// generates a SET_PARENT_KEY op").
func (l *LiveList) Move(fromIndex, toIndex int) error {
	if !l.Attached() {
		return ErrDetached
	}
	if fromIndex < 0 || fromIndex >= len(l.items) {
		return &UserError{Message: "list index out of range"}
	}
	l.doc.moveListItem(l, l.items[fromIndex].node, toIndex)
	return nil
}

func (d *Document) insertListItem(l *LiveList, index int, child Node) {
	pos := l.positionForIndex(index)
	newID := d.ids.NextNodeID()
	child.attach(d, newID, l.id, pos)
	d.index[newID] = child
	l.insertSorted(child)

	forward := Op{OpID: newOpID(), Kind: createKindFor(child.Kind()), Target: l.id, NewID: newID, ParentKey: pos, Value: child.serialize()}
	inverse := Op{OpID: newOpID(), Kind: OpDeleteCRDT, Target: newID}

	update := map[NodeID]StorageUpdate{l.id: {Node: l.id, Kind: KindList, ListInsert: &newID}}
	d.applyLocal([]Op{forward}, update, []Op{inverse})
}

func (d *Document) deleteListItem(l *LiveList, child Node) {
	id := child.ID()
	deleteOp, resurrect := d.destroyChild(child)
	l.removeByID(id)
	update := map[NodeID]StorageUpdate{l.id: {Node: l.id, Kind: KindList, ListDelete: &id}}
	d.applyLocal([]Op{deleteOp}, update, resurrect)
}

func (d *Document) moveListItem(l *LiveList, child Node, toIndex int) {
	oldPos := child.ParentKey()
	// Compute the target position against the list with child
	// provisionally removed, so moving "onto itself" is a no-op and
	// moving past its old slot lands correctly.
	_, fromIdx := l.removeByID(child.ID())
	if toIndex > len(l.items) {
		toIndex = len(l.items)
	}
	newPos := l.positionForIndex(toIndex)
	child.attach(d, child.ID(), l.id, newPos)
	l.insertSorted(child)
	_ = fromIdx

	id := child.ID()
	forward := Op{OpID: newOpID(), Kind: OpSetParentKey, Target: id, NewParentKey: newPos}
	inverse := Op{OpID: newOpID(), Kind: OpSetParentKey, Target: id, NewParentKey: oldPos}

	update := map[NodeID]StorageUpdate{l.id: {Node: l.id, Kind: KindList, ListMove: &id}}
	d.applyLocal([]Op{forward}, update, []Op{inverse})
}

func (l *LiveList) serialize() any {
	data := make([]map[string]any, len(l.items))
	for i, it := range l.items {
		data[i] = map[string]any{"$ref": string(it.node.ID()), "position": it.node.ParentKey()}
	}
	return map[string]any{"type": "list", "data": data}
}

func (l *LiveList) applyOp(doc *Document, op Op, source opSource) ([]Op, *StorageUpdate, error) {
	switch op.Kind {
	case OpCreateObject, OpCreateMap, OpCreateList, OpCreateRegister:
		child := materialize(op)
		doc.adopt(child, op.NewID, l.id, op.ParentKey)
		l.insertSorted(child)
		update := &StorageUpdate{Node: l.id, Kind: KindList, ListInsert: &op.NewID}
		inverse := []Op{{OpID: newOpID(), Kind: OpDeleteCRDT, Target: op.NewID}}
		return inverse, update, nil
	case OpDeleteCRDT:
		child, idx := l.removeByID(op.Target)
		if idx < 0 {
			return nil, nil, &ProtocolViolation{Message: "DELETE_CRDT target not a child of this list"}
		}
		resurrect := snapshotCreateOps(child)
		doc.detachRecursive(child)
		id := op.Target
		update := &StorageUpdate{Node: l.id, Kind: KindList, ListDelete: &id}
		return resurrect, update, nil
	case OpSetParentKey:
		child, ok := doc.Index(op.Target)
		if !ok {
			return nil, nil, &ProtocolViolation{Message: "SET_PARENT_KEY target not attached"}
		}
		oldPos := child.ParentKey()
		l.removeByID(op.Target)
		child.attach(doc, child.ID(), l.id, op.NewParentKey)
		l.insertSorted(child)
		id := op.Target
		update := &StorageUpdate{Node: l.id, Kind: KindList, ListMove: &id}
		inverse := []Op{{OpID: newOpID(), Kind: OpSetParentKey, Target: op.Target, NewParentKey: oldPos}}
		return inverse, update, nil
	default:
		return nil, nil, &ProtocolViolation{Message: "op kind not valid for List: " + op.Kind.String()}
	}
}
