// Package relay is a reference server-side counterpart to the
// liveblocks client: a relay process that authenticates connections,
// assigns actor ids, relays presence/broadcast/storage frames between
// the actors in a room, and keeps a durable record of each room's
// canonical state. It generalizes sumanthd032-CollabText's agent Hub
// (register/unregister/broadcast over one hardcoded document) to the
// room/presence/storage protocol of spec.md §6.2, and its server
// (Redis-bridged, Postgres-backed) to many named rooms instead of one.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
)

// Logger lets the host process route relay diagnostics through its
// own logging stack (cmd/relayserver wires this to glog) without the
// package importing one directly, the same injectable-hook shape
// ClientOptions.Logger uses on the client side.
type Logger func(format string, args ...any)

func (l Logger) logf(format string, args ...any) {
	if l != nil {
		l(format, args...)
	}
}

// client is one connected websocket peer, bound to a single actor id
// within a single room (spec.md §3 "Actor"): one connection, one
// actor, for that connection's lifetime.
type client struct {
	conn  *websocket.Conn
	send  chan []byte
	actor int
	room  string
}

// Hub owns every room this process is currently serving. Rooms are
// created lazily on first connection and kept for the process
// lifetime; canonical state for a room a process has never seen is
// recovered from Postgres via Store.LoadSnapshot.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roomState

	broker Broker
	store  Store
	logger Logger
}

// NewHub wires a Hub to its (optional) durability and fanout
// collaborators. broker and store may be nil: a Hub with neither
// still works correctly for a single process serving all of a room's
// traffic in memory, matching the teacher's original single-instance
// agent.
func NewHub(broker Broker, store Store, logger Logger) *Hub {
	return &Hub{rooms: make(map[string]*roomState), broker: broker, store: store, logger: logger}
}

func (h *Hub) room(ctx context.Context, name string) *roomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok := h.rooms[name]; ok {
		return rs
	}
	rs := newRoomState(name)
	if h.store != nil {
		if nodes, err := h.store.LoadSnapshot(ctx, name); err == nil && len(nodes) > 0 {
			_ = rs.loadSnapshot(nodes)
		}
	}
	h.rooms[name] = rs
	if h.broker != nil {
		h.subscribeRoom(name, rs)
	}
	return rs
}

// subscribeRoom starts the one goroutine per room that fans frames
// published by any process (including this one) out to this
// process's locally connected clients — the generalized form of the
// teacher's per-connection `go func() { for msg := range redisChan {
// ws.WriteMessage(...) } }()`, hoisted to once-per-room since a room
// may now have many local clients instead of exactly one.
func (h *Hub) subscribeRoom(name string, rs *roomState) {
	frames, unsub, err := h.broker.Subscribe(context.Background(), name)
	if err != nil {
		h.logger.logf("relay: subscribe %s failed: %v", name, err)
		return
	}
	go func() {
		defer unsub()
		for frame := range frames {
			h.deliverLocal(rs, frame, -1)
		}
	}()
}

// deliverLocal writes frame to every locally connected client in rs
// except skipActor (use -1 for "no exclusion").
func (h *Hub) deliverLocal(rs *roomState, frame []byte, skipActor int) {
	rs.mu.Lock()
	targets := make([]*client, 0, len(rs.clients))
	for actor, c := range rs.clients {
		if actor == skipActor {
			continue
		}
		targets = append(targets, c)
	}
	rs.mu.Unlock()
	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			h.logger.logf("relay: dropping slow client, actor %d room %s", c.actor, rs.id)
		}
	}
}

// fanout publishes frame to every process serving the room (via
// broker) or, with no broker configured, delivers it directly to this
// process's local clients.
func (h *Hub) fanout(rs *roomState, frame []byte, skipActor int) {
	if h.broker != nil {
		if err := h.broker.Publish(context.Background(), rs.id, frame); err != nil {
			h.logger.logf("relay: publish to %s failed: %v", rs.id, err)
		}
		return
	}
	h.deliverLocal(rs, frame, skipActor)
}

// Join registers conn as actor in room, sends it ROOM_STATE, tells
// existing peers USER_JOINED, and starts its read/write pumps. It
// blocks until the connection closes.
func (h *Hub) Join(ctx context.Context, room string, conn *websocket.Conn) {
	rs := h.room(ctx, room)
	actor := rs.assignActor()
	c := &client{conn: conn, send: make(chan []byte, 256), actor: actor, room: room}

	env, err := wire.Build(wire.ServerRoomState, wire.ServerRoomStateData{Actor: actor, Users: rs.users()})
	if err == nil {
		if data, err := wire.EncodeBatch([]wire.Envelope{env}); err == nil {
			c.send <- data
		}
	}

	rs.addClient(c)
	h.announceJoin(rs, actor)

	go c.writePump()
	c.readPump(ctx, h, rs)

	rs.removeClient(actor)
	h.announceLeave(rs, actor)
}

func (h *Hub) announceJoin(rs *roomState, actor int) {
	env, err := wire.Build(wire.ServerUserJoined, wire.UserInfo{Actor: actor})
	if err != nil {
		return
	}
	data, err := wire.EncodeBatch([]wire.Envelope{env})
	if err != nil {
		return
	}
	h.fanout(rs, data, actor)
}

func (h *Hub) announceLeave(rs *roomState, actor int) {
	env, err := wire.Build(wire.ServerUserLeft, wire.ServerUserLeftData{Actor: actor})
	if err != nil {
		return
	}
	data, err := wire.EncodeBatch([]wire.Envelope{env})
	if err != nil {
		return
	}
	h.fanout(rs, data, actor)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump decodes frames from this connection and dispatches them
// per spec.md §6.2's client->server codes, mirroring handleFrame on
// the client side but from the relay's authoritative vantage point.
func (c *client) readPump(ctx context.Context, h *Hub, rs *roomState) {
	defer c.conn.Close()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		envs, err := wire.Decode(msg)
		if err != nil {
			continue
		}
		for _, env := range envs {
			h.handleClientFrame(ctx, rs, c, env)
		}
	}
}

func (h *Hub) handleClientFrame(ctx context.Context, rs *roomState, c *client, env wire.Envelope) {
	switch env.Code {
	case wire.ClientUpdatePresence:
		var data wire.ClientUpdatePresenceData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		rs.mergePresence(c.actor, data.Data)
		out := wire.ServerUpdatePresenceData{Actor: c.actor, Data: data.Data}
		if env2, err := wire.Build(wire.ServerUpdatePresence, out); err == nil {
			if frame, err := wire.EncodeBatch([]wire.Envelope{env2}); err == nil {
				if data.TargetActor != nil {
					// Delivered only to the target actor when it is connected to
					// this relay process; targeted delivery across processes needs
					// a richer envelope, out of scope for the reference relay.
					rs.mu.Lock()
					target, ok := rs.clients[*data.TargetActor]
					rs.mu.Unlock()
					if ok {
						select {
						case target.send <- frame:
						default:
							h.logger.logf("relay: dropping slow client, actor %d room %s", target.actor, rs.id)
						}
					}
				} else {
					h.fanout(rs, frame, c.actor)
				}
			}
		}

	case wire.ClientBroadcastEvent:
		var data wire.ClientBroadcastEventData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		out := wire.ServerBroadcastEventData{Actor: c.actor, Event: data.Event}
		if env2, err := wire.Build(wire.ServerBroadcastEvent, out); err == nil {
			if frame, err := wire.EncodeBatch([]wire.Envelope{env2}); err == nil {
				h.fanout(rs, frame, c.actor)
			}
		}

	case wire.ClientFetchStorage:
		items := rs.snapshot()
		if env2, err := wire.Build(wire.ServerInitialStorage, wire.ServerInitialStorageData{Items: items}); err == nil {
			if frame, err := wire.EncodeBatch([]wire.Envelope{env2}); err == nil {
				c.send <- frame
			}
		}

	case wire.ClientUpdateStorage:
		var data wire.ClientUpdateStorageData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		if errs := rs.applyOps(data.Ops); len(errs) > 0 {
			h.logger.logf("relay: room %s dropped %d malformed op(s)", rs.id, len(errs))
		}
		if h.store != nil {
			if err := h.store.AppendOps(ctx, rs.id, data.Ops); err != nil {
				h.logger.logf("relay: room %s op log append failed: %v", rs.id, err)
			}
			if err := h.store.SaveSnapshot(ctx, rs.id, rs.rawSnapshot()); err != nil {
				h.logger.logf("relay: room %s snapshot save failed: %v", rs.id, err)
			}
		}
		env2, err := wire.Build(wire.ServerUpdateStorage, wire.ServerUpdateStorageData{Ops: data.Ops})
		if err != nil {
			return
		}
		if frame, err := wire.EncodeBatch([]wire.Envelope{env2}); err == nil {
			h.fanout(rs, frame, c.actor)
		}

	default:
		h.logger.logf("relay: room %s actor %d sent unknown code %d", rs.id, c.actor, env.Code)
	}
}
