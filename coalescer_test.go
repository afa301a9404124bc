package liveblocks

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
	"github.com/M-Faheem-Khan/liveblocks/presence"
)

type capturedSend struct {
	mu    sync.Mutex
	calls [][]wire.Envelope
}

func (c *capturedSend) fn(envs []wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, envs)
}

func (c *capturedSend) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *capturedSend) last() []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func waitForCalls(t *testing.T, c *capturedSend, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flush calls, got %d", n, c.len())
}

// TestCoalescerMergesPresenceLatestWins is the literal testable
// property from spec.md §8: two UpdatePresence calls to the same key
// inside one throttle window flush as a single merged patch.
func TestCoalescerMergesPresenceLatestWins(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(30*time.Millisecond, sender.fn)

	c.QueuePresence(presence.Patch{"x": 1.0}, nil)
	c.QueuePresence(presence.Patch{"x": 2.0, "y": "hi"}, nil)

	waitForCalls(t, sender, 1)
	envs := sender.last()
	assert.Equal(t, len(envs), 1)

	var data wire.ClientUpdatePresenceData
	err := json.Unmarshal(envs[0].Data, &data)
	assert.Equal(t, err, nil)
	assert.Equal(t, data.Data["x"], 2.0)
	assert.Equal(t, data.Data["y"], "hi")
}

// TestCoalescerQueueFullPresenceReplacesPendingPatch is the literal
// testable property behind spec.md §4.2's presence diffusion rule: a
// late joiner's resync must carry the entire record, not merely
// whatever partial patch happened to be pending.
func TestCoalescerQueueFullPresenceReplacesPendingPatch(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(30*time.Millisecond, sender.fn)

	c.QueuePresence(presence.Patch{"cursor": 1.0}, nil)
	c.QueueFullPresence(presence.Record{"cursor": 1.0, "name": "ana", "color": "red"})

	waitForCalls(t, sender, 1)
	envs := sender.last()
	assert.Equal(t, len(envs), 1)
	assert.Equal(t, envs[0].Code, wire.ClientUpdatePresence)

	var data wire.ClientUpdatePresenceData
	err := json.Unmarshal(envs[0].Data, &data)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(data.Data), 3)
	assert.Equal(t, data.Data["name"], "ana")
	assert.Equal(t, data.Data["color"], "red")
}

// TestCoalescerQueueFullPresenceAloneStillFlushes covers the case
// where no incremental patch preceded the resync obligation: flush
// must not ship an empty object (the bug this method replaced).
func TestCoalescerQueueFullPresenceAloneStillFlushes(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(30*time.Millisecond, sender.fn)

	c.QueueFullPresence(presence.Record{"name": "ana"})

	waitForCalls(t, sender, 1)
	envs := sender.last()
	assert.Equal(t, len(envs), 1)

	var data wire.ClientUpdatePresenceData
	err := json.Unmarshal(envs[0].Data, &data)
	assert.Equal(t, err, nil)
	assert.Equal(t, data.Data["name"], "ana")
}

func TestCoalescerOrdersStorageOpsBeforeEvents(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(30*time.Millisecond, sender.fn)

	c.QueuePresence(presence.Patch{"cursor": 1.0}, nil)
	c.QueueOps([]crdt.Op{{OpID: "op1", Kind: crdt.OpUpdateObject, Target: crdt.RootID, Fields: map[string]any{"a": 1.0}}})
	c.QueueEvent(map[string]any{"type": "ping"})

	waitForCalls(t, sender, 1)
	envs := sender.last()
	assert.Equal(t, len(envs), 3)
	assert.Equal(t, envs[0].Code, wire.ClientUpdatePresence)
	assert.Equal(t, envs[1].Code, wire.ClientUpdateStorage)
	assert.Equal(t, envs[2].Code, wire.ClientBroadcastEvent)
}

func TestCoalescerNeverCoalescesBroadcastEvents(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(30*time.Millisecond, sender.fn)

	c.QueueEvent("first")
	c.QueueEvent("second")

	waitForCalls(t, sender, 1)
	envs := sender.last()
	assert.Equal(t, len(envs), 2)
}

func TestCoalescerFlushNowIsSynchronous(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(time.Hour, sender.fn)

	c.QueueEvent("hello")
	c.FlushNow()

	assert.Equal(t, sender.len(), 1)
}

func TestCoalescerStopCancelsPendingFlush(t *testing.T) {
	sender := &capturedSend{}
	c := newCoalescer(20*time.Millisecond, sender.fn)

	c.QueueEvent("hello")
	c.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, sender.len(), 0)
}
