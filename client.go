// Package liveblocks implements a realtime collaboration client: a
// process-wide pool of named rooms, each pairing ephemeral presence
// with a durable CRDT document (see the crdt and presence packages),
// kept in sync with a relay server over WebSocket.
package liveblocks

import "sync"

// Client is the process-wide room factory of spec.md §4.6: "A
// process-wide factory holding a mapping from room id to active
// room." The pool map itself is single-writer — Enter/Leave hold the
// client's own mutex; environment listener callbacks registered by a
// Room never touch the pool, only that Room's own fields (spec.md §5
// "Shared resources").
type Client struct {
	mu    sync.Mutex
	opts  *ClientOptions
	rooms map[string]*Room
}

// NewClient validates opts and returns a Client, or a
// *ConfigurationError if opts is invalid (spec.md §7 "Configuration:
// ... Surfaced synchronously at createClient").
func NewClient(opts ClientOptions) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts
	return &Client{opts: &o, rooms: make(map[string]*Room)}, nil
}

// Enter returns the existing room for roomID if one is active,
// otherwise creates one and (unless RoomOptions.WithoutConnecting)
// initiates its connection (spec.md §4.6 "enter(roomId, opts)").
func (c *Client) Enter(roomID string, opts RoomOptions) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID, c.opts)
	c.rooms[roomID] = r
	if !opts.WithoutConnecting {
		r.connect()
	}
	return r
}

// Leave disconnects and removes roomID's room, if any (spec.md §4.6
// "leave(roomId) disconnects and removes"). A subsequent Enter for the
// same roomID returns a fresh Room unaffected by the previous instance
// (spec.md §8 testable property 5).
func (c *Client) Leave(roomID string) {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if ok {
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
	if ok {
		r.leave()
	}
}

// GetRoom is a pure lookup with no side effects (spec.md §4.6
// "getRoom(roomId) is a pure lookup").
func (c *Client) GetRoom(roomID string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	return r, ok
}
