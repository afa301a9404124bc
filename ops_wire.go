package liveblocks

import (
	"encoding/json"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
)

// rawNodesFromWire converts the (id, {type,data}) pairs of an
// INITIAL_STORAGE_STATE frame into crdt.RawNode values for
// Document.ApplyInitialStorage.
func rawNodesFromWire(items []wire.StorageItem) ([]crdt.RawNode, error) {
	out := make([]crdt.RawNode, 0, len(items))
	for _, item := range items {
		var id string
		if err := json.Unmarshal(item[0], &id); err != nil {
			return nil, err
		}
		var shape struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(item[1], &shape); err != nil {
			return nil, err
		}
		out = append(out, crdt.RawNode{ID: crdt.NodeID(id), Type: shape.Type, Data: shape.Data})
	}
	return out, nil
}

// wireOp is the JSON shape of a single crdt.Op on the wire (spec.md
// §4.3's "kind-specific fields" made concrete for codes 201
// UPDATE_STORAGE client->server and server->client). deletedMarker
// distinguishes "set this field/key to JSON null" from "remove it",
// the wire equivalent of crdt.Deleted.
type wireOp struct {
	OpID         string          `json:"opId"`
	Kind         string          `json:"kind"`
	Target       string          `json:"id"`
	NewID        string          `json:"newId,omitempty"`
	ParentKey    string          `json:"parentKey,omitempty"`
	Value        any             `json:"value,omitempty"`
	Fields       map[string]any  `json:"fields,omitempty"`
	NewParentKey string          `json:"newParentKey,omitempty"`
}

type deletedMarker struct {
	Deleted bool `json:"$deleted"`
}

func kindToWire(k crdt.OpKind) string {
	switch k {
	case crdt.OpCreateObject:
		return "CREATE_OBJECT"
	case crdt.OpCreateMap:
		return "CREATE_MAP"
	case crdt.OpCreateList:
		return "CREATE_LIST"
	case crdt.OpCreateRegister:
		return "CREATE_REGISTER"
	case crdt.OpUpdateObject:
		return "UPDATE_OBJECT"
	case crdt.OpSetParentKey:
		return "SET_PARENT_KEY"
	case crdt.OpDeleteCRDT:
		return "DELETE_CRDT"
	default:
		return "UNKNOWN"
	}
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

func opToWireValue(op crdt.Op) wireOp {
	w := wireOp{
		OpID:         string(op.OpID),
		Kind:         kindToWire(op.Kind),
		Target:       string(op.Target),
		NewID:        string(op.NewID),
		ParentKey:    op.ParentKey,
		Value:        op.Value,
		NewParentKey: op.NewParentKey,
	}
	if op.Fields != nil {
		w.Fields = make(map[string]any, len(op.Fields))
		for k, v := range op.Fields {
			if v == crdt.Deleted {
				w.Fields[k] = deletedMarker{Deleted: true}
			} else {
				w.Fields[k] = v
			}
		}
	}
	return w
}

// opsToWire marshals a batch of forward ops into raw JSON messages for
// wire.ClientUpdateStorageData.Ops, preserving emission order.
func opsToWire(ops []crdt.Op) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		raw, err := json.Marshal(opToWireValue(op))
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// opFromWire parses one raw op message back into a crdt.Op, the
// inverse of opToWireValue, used for remote UPDATE_STORAGE frames.
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
