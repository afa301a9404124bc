package crdt

// Kind tags the four CRDT node variants of spec.md §3. A tagged
// variant is used instead of deep interface inheritance, per design
// note §9 ("model as a tagged variant... rather than deep
// inheritance").
type Kind int

const (
	KindObject Kind = iota
	KindMap
	KindList
	KindRegister
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Node is the capability interface shared by every CRDT variant:
// attach/detach, serialize, and op application. The tree's back-edges
// (parent pointers) are lookups by id into the owning Document, not
// strong references — see DESIGN.md "Tree with back-edges".
type Node interface {
	// ID is the empty string for a detached node.
	ID() NodeID
	Kind() Kind
	Parent() NodeID
	ParentKey() string
	// Attached reports whether the node carries an id and is
	// registered in its Document's index (invariant 4 of spec.md §3).
	Attached() bool

	attach(doc *Document, id NodeID, parent NodeID, parentKey string)
	detach()
	// serialize returns the wire representation used by
	// INITIAL_STORAGE_STATE and CREATE_* ops.
	serialize() any
	// applyOp applies a single already-validated op targeting this
	// node and returns the inverse ops plus the StorageUpdate to
	// publish, or an error for a malformed/out-of-range op (§7
	// "Protocol violation"). The inverse is a batch (not a single op)
	// because destroying a node with descendants must be reversible by
	// recreating the whole subtree (spec.md §8 property 1).
	applyOp(doc *Document, op Op, source opSource) (inverse []Op, update *StorageUpdate, err error)
}

type base struct {
	doc       *Document
	id        NodeID
	parent    NodeID
	parentKey string
	kind      Kind
}

func (b *base) ID() NodeID        { return b.id }
func (b *base) Kind() Kind        { return b.kind }
func (b *base) Parent() NodeID    { return b.parent }
func (b *base) ParentKey() string { return b.parentKey }
func (b *base) Attached() bool    { return b.doc != nil && b.id != "" }

func (b *base) attach(doc *Document, id NodeID, parent NodeID, parentKey string) {
	b.doc = doc
	b.id = id
	b.parent = parent
	b.parentKey = parentKey
}

func (b *base) detach() {
	b.doc = nil
	b.id = ""
	b.parent = ""
	b.parentKey = ""
}

// opSource distinguishes why applyOp is running, per spec.md §4.3
// "Sources": local calls generate an inverse and push undo history,
// remote ops never do, and acks don't touch state at all (handled
// before reaching a node — see Document.ApplyAck).
type opSource int

const (
	sourceLocal opSource = iota
	sourceRemote
)

// ErrDetached is returned by user-facing mutators called on a node
// that has been removed from its parent (spec.md §7 "User API
// misuse": "mutating a detached node").
var ErrDetached = &UserError{Message: "cannot mutate a detached node"}

// UserError represents synchronous misuse of the public API: a
// descriptive error returned immediately, state left unchanged
// (spec.md §7). Unlike the JS source this never panics — explicit
// error returns are the idiom the whole pack uses.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }
