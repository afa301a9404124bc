package crdt

import "encoding/json"

// RawNode is the wire-agnostic shape of one INITIAL_STORAGE_STATE
// entry (spec.md §4.1 "Initial sync"): a node id, its Kind tag, and
// its JSON-encoded payload in the same shape LiveObject/LiveMap/
// LiveList/LiveRegister.serialize() produce. Keeping this in crdt
// (rather than internal/wire) means the wire package never needs to
// know the tree-reconstruction algorithm, only the outer envelope.
type RawNode struct {
	ID   NodeID
	Type string
	Data json.RawMessage
}

type refPointer struct {
	Ref string `json:"$ref"`
}

type listRef struct {
	Ref      string `json:"$ref"`
	Position string `json:"position"`
}

func asRef(raw json.RawMessage) (NodeID, bool) {
	var p refPointer
	if json.Unmarshal(raw, &p) == nil && p.Ref != "" {
		return NodeID(p.Ref), true
	}
	return "", false
}

// ApplyInitialStorage replaces the document's entire tree with one
// reconstructed from a flat list of (id, type, data) entries,
// resolving $ref child pointers recursively and discarding any
// previous root (spec.md §4.1 "Initial sync": "replaces any local
// root"). It is the server-fetch counterpart to Bootstrap.
func (d *Document) ApplyInitialStorage(nodes []RawNode) error {
	byID := make(map[NodeID]RawNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	d.index = make(map[NodeID]Node)
	visited := make(map[NodeID]bool, len(nodes))
	root, err := d.buildNode(RootID, "", "", byID, visited)
	if err != nil {
		return err
	}
	obj, ok := root.(*LiveObject)
	if !ok {
		return &ProtocolViolation{Message: "root node is not an object"}
	}
	d.root = obj
	return nil
}

func (d *Document) buildNode(id NodeID, parent NodeID, parentKey string, byID map[NodeID]RawNode, visited map[NodeID]bool) (Node, error) {
	if visited[id] {
		return nil, &ProtocolViolation{Message: "cycle detected while reconstructing storage tree"}
	}
	visited[id] = true

	raw, ok := byID[id]
	if !ok {
		return nil, &ProtocolViolation{Message: "missing node referenced by initial storage state: " + string(id)}
	}

	switch raw.Type {
	case "object":
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw.Data, &fields); err != nil {
			return nil, err
		}
		o := &LiveObject{fields: make(map[string]any), base: base{kind: KindObject}}
		d.adopt(o, id, parent, parentKey)
		for key, rawVal := range fields {
			if ref, isRef := asRef(rawVal); isRef {
				child, err := d.buildNode(ref, id, key, byID, visited)
				if err != nil {
					return nil, err
				}
				o.fields[key] = child
			} else {
				var leaf any
				if err := json.Unmarshal(rawVal, &leaf); err != nil {
					return nil, err
				}
				o.fields[key] = leaf
			}
		}
		return o, nil

	case "map":
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw.Data, &entries); err != nil {
			return nil, err
		}
		m := &LiveMap{entries: make(map[string]Node), base: base{kind: KindMap}}
		d.adopt(m, id, parent, parentKey)
		for key, rawVal := range entries {
			ref, isRef := asRef(rawVal)
			if !isRef {
				return nil, &ProtocolViolation{Message: "map entry missing $ref"}
			}
			child, err := d.buildNode(ref, id, key, byID, visited)
			if err != nil {
				return nil, err
			}
			m.entries[key] = child
		}
		return m, nil

	case "list":
		var items []listRef
		if err := json.Unmarshal(raw.Data, &items); err != nil {
			return nil, err
		}
		l := &LiveList{base: base{kind: KindList}}
		d.adopt(l, id, parent, parentKey)
		for _, item := range items {
			child, err := d.buildNode(NodeID(item.Ref), id, item.Position, byID, visited)
			if err != nil {
				return nil, err
			}
			l.insertSorted(child)
		}
		return l, nil

	case "register":
		var value any
		if err := json.Unmarshal(raw.Data, &value); err != nil {
			return nil, err
		}
		r := &LiveRegister{value: value, base: base{kind: KindRegister}}
		d.adopt(r, id, parent, parentKey)
		return r, nil

	default:
		return nil, &ProtocolViolation{Message: "unknown node type in initial storage state: " + raw.Type}
	}
}
