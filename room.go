package liveblocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/M-Faheem-Khan/liveblocks/crdt"
	"github.com/M-Faheem-Khan/liveblocks/internal/backoff"
	"github.com/M-Faheem-Khan/liveblocks/internal/wire"
	"github.com/M-Faheem-Khan/liveblocks/presence"
)

// EventListener receives a broadcast event from actor (spec.md §4.5).
type EventListener func(actor int, event any)

// ErrorListener receives a room-level error (spec.md §7
// "Authentication permanent: reported to room error subscribers").
type ErrorListener func(error)

// Room binds one named room to its presence table, CRDT document, and
// connection state machine (spec.md §2 "Room: the shared context
// binding a set of actors to a single document").
//
// Room is not internally lock-free: a single mutex guards every field
// below, the Go transliteration of the "single execution context"
// model of spec.md §5 — user API calls take the lock, apply
// synchronously, and release it before returning, matching "User API
// calls never suspend". See DESIGN.md.
type Room struct {
	mu sync.Mutex

	name string
	opts *ClientOptions

	doc      *crdt.Document
	presence *presence.Table
	diffuser *presence.Diffuser
	coalesce *coalescer

	actor int
	state State

	socket       Socket
	ladder       *backoff.Ladder
	fetchedOnce  bool
	violationLog []time.Time

	statusListeners []StatusListener
	eventListeners  []EventListener
	errorListeners  []ErrorListener

	cancel    context.CancelFunc
	unsubOnline  func()
	unsubVisible func()
	retryNow  chan struct{}

	closed bool
}

func newRoom(name string, opts *ClientOptions) *Room {
	doc := crdt.NewDocument(0)
	doc.Bootstrap()
	r := &Room{
		name:     name,
		opts:     opts,
		doc:      doc,
		presence: presence.NewTable(0),
		diffuser: presence.NewDiffuser(),
		ladder:   backoff.New(),
		retryNow: make(chan struct{}, 1),
	}
	r.coalesce = newCoalescer(opts.throttle(), r.sendEnvelopes)
	doc.SetEmitter(func(op crdt.Op) { r.coalesce.QueueOps([]crdt.Op{op}) })
	return r
}

// Name returns the room's identifier.
func (r *Room) Name() string { return r.name }

// Status returns the current connection state.
func (r *Room) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Root returns the document's root LiveObject.
func (r *Room) Root() *crdt.LiveObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Root()
}

// UpdatePresence merges patch into the local presence record and
// enqueues it for the next flush (spec.md §4.5). addToHistory is
// accepted for interface symmetry with the distilled spec but
// presence has no undo entry of its own (spec.md §3 "Presence has no
// history").
func (r *Room) UpdatePresence(patch presence.Patch, addToHistory bool) {
	r.mu.Lock()
	changed := r.presence.UpdateSelf(patch)
	r.mu.Unlock()
	if changed {
		r.coalesce.QueuePresence(patch, nil)
	}
}

// MyPresence returns a copy of the local actor's presence.
func (r *Room) MyPresence() presence.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Self()
}

// Others returns a snapshot of every remote actor's presence.
func (r *Room) Others() map[int]presence.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Others()
}

// Broadcast sends an opaque event to every currently connected peer,
// fire-and-forget (spec.md §4.5).
func (r *Room) Broadcast(event any) {
	r.coalesce.QueueEvent(event)
}

// Undo/Redo delegate to the document (spec.md §4.4).
func (r *Room) Undo() error { r.mu.Lock(); defer r.mu.Unlock(); return r.doc.Undo() }
func (r *Room) Redo() error { r.mu.Lock(); defer r.mu.Unlock(); return r.doc.Redo() }
func (r *Room) PauseHistory()  { r.mu.Lock(); defer r.mu.Unlock(); r.doc.PauseHistory() }
func (r *Room) ResumeHistory() { r.mu.Lock(); defer r.mu.Unlock(); r.doc.ResumeHistory() }

// SubscribeStatus, SubscribeEvent, and SubscribeError register
// listeners and return unsubscribe funcs.
func (r *Room) SubscribeStatus(fn StatusListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusListeners = append(r.statusListeners, fn)
	idx := len(r.statusListeners) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statusListeners = append(r.statusListeners[:idx], r.statusListeners[idx+1:]...)
	}
}

func (r *Room) SubscribeEvent(fn EventListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventListeners = append(r.eventListeners, fn)
	idx := len(r.eventListeners) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.eventListeners = append(r.eventListeners[:idx], r.eventListeners[idx+1:]...)
	}
}

func (r *Room) SubscribeError(fn ErrorListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorListeners = append(r.errorListeners, fn)
	idx := len(r.errorListeners) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errorListeners = append(r.errorListeners[:idx], r.errorListeners[idx+1:]...)
	}
}

// SubscribeStorage mirrors crdt.Document.SubscribeStorage (spec.md
// §4.3 "A batched subscribe('storage', fn) flavor").
func (r *Room) SubscribeStorage(fn crdt.BatchListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.SubscribeStorage(fn)
}

func (r *Room) reportError(err error) {
	r.mu.Lock()
	listeners := append([]ErrorListener{}, r.errorListeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

func (r *Room) reportEvent(actor int, event any) {
	r.mu.Lock()
	listeners := append([]EventListener{}, r.eventListeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(actor, event)
	}
}

// connect starts the authenticate-dial-sync loop (spec.md §4.1
// closed -> authenticating). Called by Client.Enter unless
// RoomOptions.WithoutConnecting is set.
func (r *Room) connect() {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	env := r.opts.Environment
	if env == nil {
		// No host-provided online/visibility source: fall back to LAN
		// mDNS reachability as the default signal, the way
		// sumanthd032-CollabText/agent treats peer discovery as a proxy
		// for connectivity.
		env = NewZeroconfEnvironment(defaultZeroconfService, 0)
	}
	r.unsubOnline = env.SubscribeOnline(func(online bool) {
		if online {
			select {
			case r.retryNow <- struct{}{}:
			default:
			}
		}
	})
	r.unsubVisible = env.SubscribeVisible(func() {
		select {
		case r.retryNow <- struct{}{}:
		default:
		}
	})

	go r.runLoop(ctx)
}

// runLoop drives the connection state machine: authenticate, dial,
// sync, then read frames until the socket drops, then back to
// authenticate with backoff (spec.md §4.1).
func (r *Room) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mu.Lock()
		r.setState(StateAuthenticating)
		r.mu.Unlock()

		token, expiresAt, err := authenticate(ctx, r.opts, r.name)
		if err != nil {
			if authErr, ok := err.(*AuthenticationError); ok && authErr.Permanent {
				r.mu.Lock()
				r.setState(StateFailed)
				r.mu.Unlock()
				logf(r.opts.Logger, r.name, "error", "authentication failed permanently", err)
				r.reportError(err)
				return
			}
			logf(r.opts.Logger, r.name, "warn", "authentication failed, retrying", err)
			r.reportError(err)
			if !r.backoffWait(ctx) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.setState(StateConnecting)
		r.mu.Unlock()

		factory := r.opts.WebSocketFactory
		if factory == nil {
			factory = defaultWebSocketFactory
		}
		url := r.opts.server() + "?token=" + token + "&room=" + r.name
		sock, err := factory(ctx, url)
		if err != nil {
			r.mu.Lock()
			r.setState(StateUnavailable)
			r.mu.Unlock()
			logf(r.opts.Logger, r.name, "warn", "dial failed, retrying", err)
			r.reportError(err)
			if !r.backoffWait(ctx) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.socket = sock
		r.mu.Unlock()

		opened := r.readUntilRoomState(sock)
		if !opened {
			r.mu.Lock()
			r.setState(StateUnavailable)
			r.mu.Unlock()
			if !r.backoffWait(ctx) {
				return
			}
			continue
		}

		r.ladder.Reset()
		r.mu.Lock()
		r.setState(StateOpen)
		r.mu.Unlock()
		r.coalesce.FlushNow()
		r.replayPending()

		r.readLoop(ctx, sock, expiresAt)

		r.mu.Lock()
		if r.state != StateFailed {
			r.setState(StateUnavailable)
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Room) backoffWait(ctx context.Context) bool {
	d := r.ladder.NextBackOff()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.retryNow:
		return true
	case <-timer.C:
		return true
	}
}

// readUntilRoomState blocks for frames until ROOM_STATE arrives
// (spec.md §4.1 "open when the socket reports open AND the initial
// ROOM_STATE message has been received"), dispatching anything else
// that arrives first through the normal frame handler.
func (r *Room) readUntilRoomState(sock Socket) bool {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			return false
		}
		envs, err := wire.Decode(data)
		if err != nil {
			continue
		}
		gotRoomState := false
		for _, env := range envs {
			if env.Code == wire.ServerRoomState {
				gotRoomState = true
			}
			r.handleFrame(env)
		}
		if gotRoomState {
			return true
		}
	}
}

// sessionRefreshMargin is how far ahead of a token's exp claim the
// connection machine pre-emptively cycles the socket to re-authenticate
// (SPEC_FULL.md "Session token expiry tracking"), rather than waiting
// for the relay to reject a stale token.
const sessionRefreshMargin = 30 * time.Second

func (r *Room) readLoop(ctx context.Context, sock Socket, expiresAt time.Time) {
	done := make(chan struct{})
	frameReceived := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for {
			data, err := sock.ReadMessage()
			if err != nil {
				return
			}
			select {
			case frameReceived <- struct{}{}:
			default:
			}
			envs, err := wire.Decode(data)
			if err != nil {
				continue
			}
			for _, env := range envs {
				r.handleFrame(env)
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(heartbeatTimeout)
	defer timeout.Stop()

	var reauth <-chan time.Time
	if !expiresAt.IsZero() {
		reauthTimer := time.NewTimer(time.Until(expiresAt) - sessionRefreshMargin)
		defer reauthTimer.Stop()
		reauth = reauthTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = sock.Close(1000)
			<-done
			return
		case <-done:
			return
		case <-frameReceived:
			if !timeout.Stop() {
				select {
				case <-timeout.C:
				default:
				}
			}
			timeout.Reset(heartbeatTimeout)
		case <-heartbeat.C:
			_ = sock.WriteMessage([]byte(`{"code":0}`))
		case <-timeout.C:
			_ = sock.Close(1000)
			<-done
			return
		case <-reauth:
			logf(r.opts.Logger, r.name, "info", "pre-emptively cycling connection to refresh session before token expiry", nil)
			_ = sock.Close(1000)
			<-done
			return
		}
	}
}

func (r *Room) replayPending() {
	r.mu.Lock()
	pending := r.doc.PendingOps()
	r.mu.Unlock()
	if len(pending) > 0 {
		r.coalesce.QueueOps(pending)
	}
}

func (r *Room) sendEnvelopes(envs []wire.Envelope) {
	r.mu.Lock()
	sock := r.socket
	state := r.state
	r.mu.Unlock()
	if sock == nil || state != StateOpen {
		return
	}
	data, err := wire.EncodeBatch(envs)
	if err != nil {
		return
	}
	_ = sock.WriteMessage(data)
}

const protocolViolationWindow = 10 * time.Second
const protocolViolationLimit = 5

func (r *Room) recordProtocolViolation(reason string) {
	now := time.Now()
	r.mu.Lock()
	cutoff := now.Add(-protocolViolationWindow)
	kept := r.violationLog[:0]
	for _, t := range r.violationLog {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.violationLog = kept
	forceReconnect := len(r.violationLog) >= protocolViolationLimit
	sock := r.socket
	r.mu.Unlock()
	logf(r.opts.Logger, r.name, "warn", "dropped frame: "+reason, nil)
	if forceReconnect && sock != nil {
		logf(r.opts.Logger, r.name, "error", "protocol violation limit exceeded, forcing reconnect", nil)
		_ = sock.Close(1000)
	}
}

// handleFrame dispatches a single decoded server envelope (spec.md §6.2).
func (r *Room) handleFrame(env wire.Envelope) {
	switch env.Code {
	case wire.ServerRoomState:
		var data wire.ServerRoomStateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed ROOM_STATE payload")
			return
		}
		r.mu.Lock()
		r.actor = data.Actor
		r.doc.SetActor(data.Actor)
		r.presence.SetActor(data.Actor)
		for _, u := range data.Users {
			r.presence.SetRemoteFull(u.Actor, presence.Record(u.Info))
		}
		needFetch := !r.fetchedOnce
		r.fetchedOnce = true
		sock := r.socket
		r.mu.Unlock()
		// Written directly to the socket rather than through
		// sendEnvelopes: ROOM_STATE is itself what makes the room open
		// (spec.md §4.1), so at this exact point in readUntilRoomState
		// the state field may still read connecting — the socket is
		// already live and waiting on this reply regardless.
		if needFetch && sock != nil {
			if env2, err := wire.Build(wire.ClientFetchStorage, struct{}{}); err == nil {
				if data, err := wire.EncodeBatch([]wire.Envelope{env2}); err == nil {
					_ = sock.WriteMessage(data)
				}
			}
		}

	case wire.ServerInitialStorage:
		var data wire.ServerInitialStorageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed INITIAL_STORAGE_STATE payload")
			return
		}
		nodes, err := rawNodesFromWire(data.Items)
		if err != nil {
			r.recordProtocolViolation("malformed INITIAL_STORAGE_STATE item: " + err.Error())
			return
		}
		r.mu.Lock()
		err = r.doc.ApplyInitialStorage(nodes)
		r.mu.Unlock()
		if err != nil {
			r.recordProtocolViolation(err.Error())
		}

	case wire.ServerUpdatePresence:
		var data wire.ServerUpdatePresenceData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed UPDATE_PRESENCE payload")
			return
		}
		r.mu.Lock()
		r.presence.MergeRemote(data.Actor, presence.Patch(data.Data))
		r.mu.Unlock()

	case wire.ServerUserJoined:
		var data wire.UserInfo
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed USER_JOINED payload")
			return
		}
		r.mu.Lock()
		r.presence.SetRemoteFull(data.Actor, presence.Record(data.Info))
		r.diffuser.NotePeerJoined(data.Actor)
		full := r.presence.Self()
		owed := r.diffuser.DrainOwed()
		r.mu.Unlock()
		r.coalesce.QueueFullPresence(full)
		logf(r.opts.Logger, r.name, "info", fmt.Sprintf("queued full presence resync for %d joining actor(s)", len(owed)), nil)

	case wire.ServerUserLeft:
		var data wire.ServerUserLeftData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed USER_LEFT payload")
			return
		}
		r.mu.Lock()
		r.presence.RemoveRemote(data.Actor)
		r.diffuser.NotePeerLeft(data.Actor)
		r.mu.Unlock()

	case wire.ServerBroadcastEvent:
		var data wire.ServerBroadcastEventData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed BROADCAST_EVENT payload")
			return
		}
		r.reportEvent(data.Actor, data.Event)

	case wire.ServerUpdateStorage:
		var data wire.ServerUpdateStorageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.recordProtocolViolation("malformed UPDATE_STORAGE payload")
			return
		}
		r.mu.Lock()
		for _, raw := range data.Ops {
			op, err := opFromWire(raw)
			if err != nil {
				continue
			}
			if err := r.doc.ApplyRemote(op); err != nil {
				r.mu.Unlock()
				r.recordProtocolViolation(err.Error())
				r.mu.Lock()
			}
		}
		r.mu.Unlock()

	default:
		r.recordProtocolViolation("unknown message code")
	}
}

// leave cancels every timer, closes the socket with code 1000, and
// detaches environment listeners (spec.md §5 "Cancellation").
func (r *Room) leave() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	sock := r.socket
	r.mu.Unlock()

	r.coalesce.Stop()
	if cancel != nil {
		cancel()
	}
	if sock != nil {
		_ = sock.Close(1000)
	}
	if r.unsubOnline != nil {
		r.unsubOnline()
	}
	if r.unsubVisible != nil {
		r.unsubVisible()
	}
}
