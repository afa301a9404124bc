package liveblocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
	"github.com/M-Faheem-Khan/liveblocks/presence"
)

// fakeSocket is a Socket backed by two channels, standing in for a
// WebSocket connection in tests (design note §9: "tests inject
// deterministic sources" generalizes to the transport seam too).
type fakeSocket struct {
	mu     sync.Mutex
	closed bool
	inbox  chan []byte
	sent   chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan []byte, 32), sent: make(chan []byte, 32)}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	data, ok := <-s.inbox
	if !ok {
		return nil, errors.New("socket closed")
	}
	return data, nil
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("socket closed")
	}
	s.mu.Unlock()
	s.sent <- data
	return nil
}

func (s *fakeSocket) Close(code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.inbox)
	return nil
}

func (s *fakeSocket) push(env wire.Envelope) {
	data, _ := wire.EncodeBatch([]wire.Envelope{env})
	s.inbox <- data
}

func (s *fakeSocket) waitSent(t *testing.T) wire.Envelope {
	t.Helper()
	select {
	case data := <-s.sent:
		envs, err := wire.Decode(data)
		assert.Equal(t, err, nil)
		return envs[0]
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return wire.Envelope{}
	}
}

func instantAuthOptions(sock *fakeSocket) *ClientOptions {
	return &ClientOptions{
		AuthEndpoint: &AuthEndpoint{Callback: func(room string) (string, error) { return "tok", nil }},
		Environment:  staticEnvironment{},
		Throttle:     minThrottle,
		WebSocketFactory: func(ctx context.Context, url string) (Socket, error) {
			return sock, nil
		},
	}
}

func roomStateFrame(actor int) wire.Envelope {
	data, _ := json.Marshal(wire.ServerRoomStateData{Actor: actor, Users: nil})
	return wire.Envelope{Code: wire.ServerRoomState, Data: data}
}

// waitForStatus polls Room.Status until it reaches want or times out.
func waitForStatus(t *testing.T, r *Room, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room never reached state %s, stuck at %s", want, r.Status())
}

func TestRoomReachesOpenAfterRoomState(t *testing.T) {
	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, err := NewClient(*opts)
	assert.Equal(t, err, nil)

	r := client.Enter("room-1", RoomOptions{})
	waitForStatus(t, r, StateConnecting)

	sock.push(roomStateFrame(7))
	waitForStatus(t, r, StateOpen)

	// Open triggers a FETCH_STORAGE request since this is the first
	// ROOM_STATE this room has ever seen (spec.md §4.1 "Initial sync").
	env := sock.waitSent(t)
	assert.Equal(t, env.Code, wire.ClientFetchStorage)

	client.Leave("room-1")
}

func TestRoomAppliesInitialStorage(t *testing.T) {
	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, _ := NewClient(*opts)
	r := client.Enter("room-2", RoomOptions{})
	waitForStatus(t, r, StateConnecting)

	sock.push(roomStateFrame(1))
	waitForStatus(t, r, StateOpen)
	sock.waitSent(t) // FETCH_STORAGE

	rootData, _ := json.Marshal(map[string]any{"title": map[string]any{"$ref": "2:1"}})
	leafData, _ := json.Marshal("hello")
	items := []wire.StorageItem{
		{mustJSON("0:0"), mustJSON(map[string]any{"type": "object", "data": json.RawMessage(rootData)})},
		{mustJSON("2:1"), mustJSON(map[string]any{"type": "register", "data": json.RawMessage(leafData)})},
	}
	data, _ := json.Marshal(wire.ServerInitialStorageData{Items: items})
	sock.push(wire.Envelope{Code: wire.ServerInitialStorage, Data: data})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := r.Root().Get("title"); ok {
			node := v.(interface{ Value() any })
			assert.Equal(t, node.Value(), "hello")
			client.Leave("room-2")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("initial storage never applied")
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestRoomPresenceUpdateFlushesAndDiffuses(t *testing.T) {
	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, _ := NewClient(*opts)
	r := client.Enter("room-3", RoomOptions{})
	waitForStatus(t, r, StateConnecting)
	sock.push(roomStateFrame(1))
	waitForStatus(t, r, StateOpen)
	sock.waitSent(t) // FETCH_STORAGE

	r.UpdatePresence(presenceTestPatch(), false)
	env := sock.waitSent(t)
	assert.Equal(t, env.Code, wire.ClientUpdatePresence)

	client.Leave("room-3")
}

func TestRoomBroadcastDeliversToListeners(t *testing.T) {
	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, _ := NewClient(*opts)
	r := client.Enter("room-4", RoomOptions{})
	waitForStatus(t, r, StateConnecting)
	sock.push(roomStateFrame(1))
	waitForStatus(t, r, StateOpen)
	sock.waitSent(t) // FETCH_STORAGE

	got := make(chan any, 1)
	unsub := r.SubscribeEvent(func(actor int, event any) { got <- event })
	defer unsub()

	data, _ := json.Marshal(wire.ServerBroadcastEventData{Actor: 2, Event: "ping"})
	sock.push(wire.Envelope{Code: wire.ServerBroadcastEvent, Data: data})

	select {
	case ev := <-got:
		assert.Equal(t, ev, "ping")
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
	client.Leave("room-4")
}

func TestRoomProtocolViolationLimitForcesReconnect(t *testing.T) {
	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, _ := NewClient(*opts)
	r := client.Enter("room-5", RoomOptions{})
	waitForStatus(t, r, StateConnecting)
	sock.push(roomStateFrame(1))
	waitForStatus(t, r, StateOpen)
	sock.waitSent(t) // FETCH_STORAGE

	for i := 0; i < protocolViolationLimit; i++ {
		sock.push(wire.Envelope{Code: 9999, Data: nil})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sock.mu.Lock()
		closed := sock.closed
		sock.mu.Unlock()
		if closed {
			client.Leave("room-5")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("socket was never closed after repeated protocol violations")
}

// TestClientLeaveThenEnterYieldsFreshRoom is testable property 5 of
// spec.md §8.
func TestClientLeaveThenEnterYieldsFreshRoom(t *testing.T) {
	sock1 := newFakeSocket()
	opts := instantAuthOptions(sock1)
	client, _ := NewClient(*opts)

	r1 := client.Enter("room-6", RoomOptions{WithoutConnecting: true})
	r1.Root().Set("x", 1.0)
	client.Leave("room-6")

	r2 := client.Enter("room-6", RoomOptions{WithoutConnecting: true})
	assert.NotEqual(t, r1, r2)
	_, ok := r2.Root().Get("x")
	assert.Equal(t, ok, false)
}

func TestClientGetRoomIsPureLookup(t *testing.T) {
	opts := &ClientOptions{PublicApiKey: "pk_test"}
	client, err := NewClient(*opts)
	assert.Equal(t, err, nil)

	_, ok := client.GetRoom("nope")
	assert.Equal(t, ok, false)

	r := client.Enter("room-7", RoomOptions{WithoutConnecting: true})
	got, ok := client.GetRoom("room-7")
	assert.Equal(t, ok, true)
	assert.Equal(t, got, r)
}

func TestNewClientValidatesOptions(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	assert.NotEqual(t, err, nil)

	_, err = NewClient(ClientOptions{PublicApiKey: "pk_test", AuthEndpoint: &AuthEndpoint{URL: "x"}})
	assert.NotEqual(t, err, nil)

	_, err = NewClient(ClientOptions{PublicApiKey: "pk_test", Throttle: 5 * time.Millisecond})
	assert.NotEqual(t, err, nil)
}

// TestRoomHeartbeatTimeoutResetsOnAnyFrame is the testable property
// behind spec.md §4.1's "no server frame arrives for 60s": continued
// traffic of any kind, not just pongs, must keep the connection alive
// instead of cycling it through reconnect every heartbeatTimeout.
func TestRoomHeartbeatTimeoutResetsOnAnyFrame(t *testing.T) {
	oldInterval, oldTimeout := heartbeatInterval, heartbeatTimeout
	heartbeatInterval = 24 * time.Hour
	heartbeatTimeout = 40 * time.Millisecond
	defer func() {
		heartbeatInterval = oldInterval
		heartbeatTimeout = oldTimeout
	}()

	sock := newFakeSocket()
	opts := instantAuthOptions(sock)
	client, _ := NewClient(*opts)
	r := client.Enter("room-heartbeat", RoomOptions{})
	waitForStatus(t, r, StateConnecting)
	sock.push(roomStateFrame(1))
	waitForStatus(t, r, StateOpen)
	sock.waitSent(t) // FETCH_STORAGE

	data, _ := json.Marshal(wire.ServerBroadcastEventData{Actor: 2, Event: "keepalive"})
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		sock.push(wire.Envelope{Code: wire.ServerBroadcastEvent, Data: data})
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, r.Status(), StateOpen)
	client.Leave("room-heartbeat")
}

func presenceTestPatch() presence.Patch {
	return presence.Patch{"cursor": map[string]any{"x": 1.0, "y": 2.0}}
}
