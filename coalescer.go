package liveblocks

import (
	"sync"
	"time"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
	"github.com/M-Faheem-Khan/liveblocks/presence"
)

// coalescer holds the three outbound buffers of spec.md §4.2: a
// single merged presence patch (latest wins per key), an ordered list
// of storage ops, and an ordered list of broadcast events (never
// coalesced). send is called at most once per throttle window.
type coalescer struct {
	mu sync.Mutex

	throttle time.Duration
	send     func(envelopes []wire.Envelope)

	timer   *time.Timer
	armed   bool
	flushAt time.Time

	presenceDirty bool
	presenceData  presence.Patch
	targetActor   *int

	storageOps []crdt.Op
	events     []any
}

func newCoalescer(throttle time.Duration, send func([]wire.Envelope)) *coalescer {
	return &coalescer{throttle: throttle, send: send, presenceData: presence.Patch{}}
}

// QueuePresence merges patch into the pending presence buffer and
// arms the flush timer.
func (c *coalescer) QueuePresence(patch presence.Patch, targetActor *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range patch {
		c.presenceData[k] = v
	}
	c.presenceDirty = true
	c.targetActor = targetActor
	c.arm()
}

// QueueFullPresence forces the next presence flush to carry the
// complete current record rather than only the patch accumulated since
// the last flush (spec.md §4.2 "Presence diffusion rule"). full is a
// snapshot of the local actor's presence taken by the caller at the
// moment the obligation arose (e.g. on USER_JOINED) — by construction
// it already reflects every patch queued before this call, so it
// simply replaces the pending patch rather than merging with it.
func (c *coalescer) QueueFullPresence(full presence.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	patch := make(presence.Patch, len(full))
	for k, v := range full {
		patch[k] = v
	}
	c.presenceData = patch
	c.presenceDirty = true
	c.arm()
}

// QueueOps appends forward ops for emission, preserving program order
// (spec.md §4.3 "Local").
func (c *coalescer) QueueOps(ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storageOps = append(c.storageOps, ops...)
	c.arm()
}

// QueueEvent appends a broadcast event (spec.md §4.5, never
// coalesced — every call produces its own wire entry).
func (c *coalescer) QueueEvent(event any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.arm()
}

// arm (re)schedules the flush timer for throttle since the last
// flush, per spec.md §4.2 "the flush timer is (re)armed for throttle
// ms from the last flush" — not from now, so a burst of mutations
// inside one window still flushes on the original cadence.
func (c *coalescer) arm() {
	if c.armed {
		return
	}
	wait := time.Until(c.flushAt)
	if wait <= 0 {
		wait = c.throttle
	}
	c.armed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(wait, c.flush)
}

// flush emits, in order, the presence frame (if dirty), the storage
// ops frame, and the broadcast events frame (spec.md §4.2 "On flush,
// three frames are emitted in order").
func (c *coalescer) flush() {
	c.mu.Lock()
	c.armed = false
	c.flushAt = time.Now().Add(c.throttle)

	var envelopes []wire.Envelope

	if c.presenceDirty {
		data := map[string]any(c.presenceData)
		if env, err := wire.Build(wire.ClientUpdatePresence, wire.ClientUpdatePresenceData{Data: data, TargetActor: c.targetActor}); err == nil {
			envelopes = append(envelopes, env)
		}
		c.presenceDirty = false
		c.presenceData = presence.Patch{}
		c.targetActor = nil
	}

	if len(c.storageOps) > 0 {
		ops := c.storageOps
		c.storageOps = nil
		payload := opsToWire(ops)
		if env, err := wire.Build(wire.ClientUpdateStorage, wire.ClientUpdateStorageData{Ops: payload}); err == nil {
			envelopes = append(envelopes, env)
		}
	}

	for _, ev := range c.events {
		if env, err := wire.Build(wire.ClientBroadcastEvent, wire.ClientBroadcastEventData{Event: ev}); err == nil {
			envelopes = append(envelopes, env)
		}
	}
	c.events = nil

	send := c.send
	c.mu.Unlock()

	if len(envelopes) > 0 && send != nil {
		send(envelopes)
	}
}

// Stop cancels any pending flush timer without flushing (spec.md §5
// "Cancellation": leave() cancels all timers).
func (c *coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.armed = false
}

// FlushNow forces an immediate synchronous flush, used when the
// connection transitions into open (spec.md §4.2 "they flush on
// entering open").
func (c *coalescer) FlushNow() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.flush()
}
