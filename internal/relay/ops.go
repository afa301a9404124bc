package relay

import (
	"encoding/json"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
)

// wireOp mirrors the client's own wire encoding of crdt.Op (see
// ops_wire.go at the module root) so the relay can decode an
// UPDATE_STORAGE batch well enough to replay it into its own
// canonical Document without depending on the client package.
type wireOp struct {
	OpID         string         `json:"opId"`
	Kind         string         `json:"kind"`
	Target       string         `json:"id"`
	NewID        string         `json:"newId,omitempty"`
	ParentKey    string         `json:"parentKey,omitempty"`
	Value        any            `json:"value,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	NewParentKey string         `json:"newParentKey,omitempty"`
}

type deletedMarker struct {
	Deleted bool `json:"$deleted"`
}

func kindFromWire(s string) crdt.OpKind {
	switch s {
	case "CREATE_OBJECT":
		return crdt.OpCreateObject
	case "CREATE_MAP":
		return crdt.OpCreateMap
	case "CREATE_LIST":
		return crdt.OpCreateList
	case "CREATE_REGISTER":
		return crdt.OpCreateRegister
	case "UPDATE_OBJECT":
		return crdt.OpUpdateObject
	case "SET_PARENT_KEY":
		return crdt.OpSetParentKey
	case "DELETE_CRDT":
		return crdt.OpDeleteCRDT
	default:
		return crdt.OpKind(-1)
	}
}

func opFromWire(raw json.RawMessage) (crdt.Op, error) {
	var w wireOp
	if err := json.Unmarshal(raw, &w); err != nil {
		return crdt.Op{}, err
	}
	op := crdt.Op{
		OpID:         crdt.OpID(w.OpID),
		Kind:         kindFromWire(w.Kind),
		Target:       crdt.NodeID(w.Target),
		NewID:        crdt.NodeID(w.NewID),
		ParentKey:    w.ParentKey,
		Value:        w.Value,
		NewParentKey: w.NewParentKey,
	}
	if w.Fields != nil {
		op.Fields = make(map[string]any, len(w.Fields))
		for k, v := range w.Fields {
			if isDeletedMarker(v) {
				op.Fields[k] = crdt.Deleted
			} else {
				op.Fields[k] = v
			}
		}
	}
	return op, nil
}

func isDeletedMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	del, ok := m["$deleted"].(bool)
	return ok && del
}
