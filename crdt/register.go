package crdt

// LiveRegister is an opaque, immutable-after-creation JSON leaf
// (spec.md §3). It has no mutator of its own: "replacing" one always
// goes through the parent. Object.Set and Map.Set emit the
// delete+create pair in one local batch (spec.md §4.3 "Register
// immutability"); LiveList has no replace operation, so replacing a
// list element is a Delete followed by an InsertAt, two separate local
// mutations.
type LiveRegister struct {
	base
	value any
}

// NewLiveRegister creates a detached register holding value.
func NewLiveRegister(value any) *LiveRegister {
	return &LiveRegister{value: value, base: base{kind: KindRegister}}
}

// Value returns the register's JSON value.
func (r *LiveRegister) Value() any { return r.value }

func (r *LiveRegister) serialize() any {
	return map[string]any{"type": "register", "data": r.value}
}

// applyOp: a LiveRegister is a leaf; it never receives an op directly
// (its parent handles CREATE_REGISTER/DELETE_CRDT on its behalf), but
// the method exists to satisfy Node.
func (r *LiveRegister) applyOp(doc *Document, op Op, source opSource) ([]Op, *StorageUpdate, error) {
	return nil, nil, &ProtocolViolation{Message: "registers do not accept ops directly"}
}
