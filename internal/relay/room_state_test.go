package relay

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestAssignActorIsMonotonicPerRoom(t *testing.T) {
	rs := newRoomState("r1")
	assert.Equal(t, rs.assignActor(), 1)
	assert.Equal(t, rs.assignActor(), 2)
	assert.Equal(t, rs.assignActor(), 3)
}

func TestMergePresenceUnionsAcrossCalls(t *testing.T) {
	rs := newRoomState("r1")
	rs.mergePresence(1, map[string]any{"x": 1.0})
	rs.mergePresence(1, map[string]any{"y": 2.0})

	c := &client{actor: 1}
	rs.addClient(c)
	users := rs.users()
	assert.Equal(t, len(users), 1)
	assert.Equal(t, users[0].Info["x"], 1.0)
	assert.Equal(t, users[0].Info["y"], 2.0)
}

func TestRemoveClientClearsPresence(t *testing.T) {
	rs := newRoomState("r1")
	rs.addClient(&client{actor: 5})
	rs.mergePresence(5, map[string]any{"cursor": "hi"})
	rs.removeClient(5)

	users := rs.users()
	assert.Equal(t, len(users), 0)
}

func TestApplyOpsThenSnapshotRoundTrips(t *testing.T) {
	rs := newRoomState("r1")

	setOp := map[string]any{
		"opId": "op-1",
		"kind": "UPDATE_OBJECT",
		"id":   "0:0",
		"fields": map[string]any{
			"title": "hello",
		},
	}
	raw, err := json.Marshal(setOp)
	assert.Equal(t, err, nil)

	errs := rs.applyOps([]json.RawMessage{raw})
	assert.Equal(t, len(errs), 0)

	items := rs.snapshot()
	assert.NotEqual(t, len(items), 0)

	found := false
	for _, item := range items {
		var id string
		if json.Unmarshal(item[0], &id) == nil && id == "0:0" {
			var shape struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			assert.Equal(t, json.Unmarshal(item[1], &shape), nil)
			assert.Equal(t, shape.Type, "object")
			var fields map[string]any
			assert.Equal(t, json.Unmarshal(shape.Data, &fields), nil)
			assert.Equal(t, fields["title"], "hello")
			found = true
		}
	}
	assert.Equal(t, found, true)
}

func TestApplyOpsReportsMalformedOpWithoutAbortingBatch(t *testing.T) {
	rs := newRoomState("r1")

	good, _ := json.Marshal(map[string]any{
		"opId":   "op-1",
		"kind":   "UPDATE_OBJECT",
		"id":     "0:0",
		"fields": map[string]any{"a": 1.0},
	})
	bad := json.RawMessage(`{not valid json`)

	errs := rs.applyOps([]json.RawMessage{bad, good})
	assert.Equal(t, len(errs), 1)

	items := rs.snapshot()
	found := false
	for _, item := range items {
		var id string
		if json.Unmarshal(item[0], &id) == nil && id == "0:0" {
			found = true
		}
	}
	assert.Equal(t, found, true)
}
