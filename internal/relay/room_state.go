package relay

import (
	"encoding/json"
	"sync"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
)

// roomState is the per-room canonical state a relay process holds in
// memory: the actor counter (spec.md §3 "Actor"), the CRDT document
// replayed from every accepted op (so FETCH_STORAGE can be answered
// without round-tripping to Postgres), and the union of connected
// actors' presence. One roomState exists per room name on a given
// relay process; postgres.go and redis.go let several processes serve
// the same room consistently.
type roomState struct {
	mu sync.Mutex

	id        string
	nextActor int
	doc       *crdt.Document
	presence  map[int]map[string]any
	clients   map[int]*client
}

func newRoomState(id string) *roomState {
	doc := crdt.NewDocument(0)
	doc.Bootstrap()
	return &roomState{
		id:       id,
		doc:      doc,
		presence: make(map[int]map[string]any),
		clients:  make(map[int]*client),
	}
}

// loadSnapshot restores canonical state recovered from Postgres
// (store.LoadSnapshot), used when a process becomes the first to
// serve a room that already has durable history.
func (s *roomState) loadSnapshot(nodes []crdt.RawNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ApplyInitialStorage(nodes)
}

// assignActor hands out the next actor id for a newly authenticated
// connection (spec.md §3 "Actor ids are not reused within a room's
// lifetime as seen by a client").
func (s *roomState) assignActor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActor++
	return s.nextActor
}

func (s *roomState) addClient(c *client) {
	s.mu.Lock()
	s.clients[c.actor] = c
	s.mu.Unlock()
}

func (s *roomState) removeClient(actor int) {
	s.mu.Lock()
	delete(s.clients, actor)
	delete(s.presence, actor)
	s.mu.Unlock()
}

// users returns the current roster in ROOM_STATE/USER_JOINED shape.
func (s *roomState) users() []wire.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.UserInfo, 0, len(s.clients))
	for actor := range s.clients {
		out = append(out, wire.UserInfo{Actor: actor, Info: s.presence[actor]})
	}
	return out
}

// mergePresence folds a partial presence patch into actor's record
// the way the client itself does (§4.2 "Presence diffusion rule"),
// so the ROOM_STATE sent to a later joiner carries the union of every
// patch seen rather than only the last one. The record lives only in
// memory and does not survive a relay restart.
func (s *roomState) mergePresence(actor int, patch map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.presence[actor]
	if !ok {
		rec = make(map[string]any)
		s.presence[actor] = rec
	}
	for k, v := range patch {
		rec[k] = v
	}
}

// applyOps replays a batch of UPDATE_STORAGE ops into the canonical
// document, skipping (and reporting) any op a ProtocolViolation
// rejects rather than aborting the whole batch — mirroring the
// client's own per-op tolerance in handleFrame.
func (s *roomState) applyOps(raws []json.RawMessage) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, raw := range raws {
		op, err := opFromWire(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.doc.ApplyRemote(op); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// rawSnapshot returns the canonical tree in the shape Store.SaveSnapshot
// persists and Store.LoadSnapshot later restores.
func (s *roomState) rawSnapshot() []crdt.RawNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Snapshot()
}

// snapshot serializes the canonical tree into INITIAL_STORAGE_STATE items.
func (s *roomState) snapshot() []wire.StorageItem {
	nodes := s.rawSnapshot()
	items := make([]wire.StorageItem, 0, len(nodes))
	for _, n := range nodes {
		id, err := json.Marshal(n.ID)
		if err != nil {
			continue
		}
		shape, err := json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: n.Type, Data: n.Data})
		if err != nil {
			continue
		}
		items = append(items, wire.StorageItem{id, shape})
	}
	return items
}
