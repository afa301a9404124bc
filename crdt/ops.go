package crdt

// OpKind enumerates the operation kinds of spec.md §4.3.
type OpKind int

const (
	OpCreateObject OpKind = iota
	OpCreateMap
	OpCreateList
	OpCreateRegister
	OpUpdateObject
	OpSetParentKey
	OpDeleteCRDT
)

func (k OpKind) String() string {
	switch k {
	case OpCreateObject:
		return "CREATE_OBJECT"
	case OpCreateMap:
		return "CREATE_MAP"
	case OpCreateList:
		return "CREATE_LIST"
	case OpCreateRegister:
		return "CREATE_REGISTER"
	case OpUpdateObject:
		return "UPDATE_OBJECT"
	case OpSetParentKey:
		return "SET_PARENT_KEY"
	case OpDeleteCRDT:
		return "DELETE_CRDT"
	default:
		return "UNKNOWN"
	}
}

// deletedValue marks a key as tombstoned in an UPDATE_OBJECT op's
// Fields map, distinguishing "set to JSON null" from "remove the key"
// (spec.md §3 payload: "key→value or key→deletion").
type deletedValue struct{}

// Deleted is the sentinel value for a deleted key in an UPDATE_OBJECT op.
var Deleted = deletedValue{}

// Op is a single CRDT mutation, carrying opId + target id per spec.md
// §4.3, plus kind-specific fields. Only the fields relevant to Kind
// are populated; the rest are zero.
type Op struct {
	OpID   OpID
	Kind   OpKind
	Target NodeID

	// CREATE_* ops: the id to register the new node under, its
	// position in the parent, and (CREATE_REGISTER only) its value.
	NewID     NodeID
	ParentKey string
	Value     any

	// UPDATE_OBJECT: key -> value, where a value of Deleted means the
	// key is removed.
	Fields map[string]any

	// SET_PARENT_KEY: the new position string.
	NewParentKey string

	// DELETE_CRDT: no extra fields; Target is deleted from its parent.
}

// actor returns the actor id encoded in the op's NewID when present
// (CREATE_*) or in Target otherwise. List ordering does not call it:
// lessItem breaks position ties from the child nodes' own ids.
func (op Op) actor() int {
	if op.NewID != "" {
		return op.NewID.Actor()
	}
	return op.Target.Actor()
}

// StorageUpdate describes the minimal delta produced by a single
// applyOp call, delivered to per-node subscribe(fn) and folded into
// the batched subscribe("storage", fn) map keyed by node id
// (spec.md §4.3 "Change notifications").
type StorageUpdate struct {
	Node NodeID
	Kind Kind

	// Object/Map: keys that changed, new value (nil if deleted).
	UpdatedKeys map[string]any
	DeletedKeys []string

	// List: child inserted, removed, or moved.
	ListInsert *NodeID
	ListDelete *NodeID
	ListMove   *NodeID

	// Register: new value.
	RegisterValue any
}
