package crdt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeID is "<actorId>:<counter>" per spec.md §3. The root node is the
// reserved id "0:0".
type NodeID string

// RootID is the reserved id of the document root.
const RootID NodeID = "0:0"

func newNodeID(actorID, counter int) NodeID {
	return NodeID(fmt.Sprintf("%d:%d", actorID, counter))
}

// Actor returns the actor id component of a node id.
func (id NodeID) Actor() int {
	a, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(a)
	return n
}

// Counter returns the monotonic counter component of a node id.
func (id NodeID) Counter() int {
	_, c, ok := strings.Cut(string(id), ":")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(c)
	return n
}

// OpID uniquely identifies an operation emitted by a client. The
// format isn't specified by the wire protocol (only "unique per
// emitting client" is required), so it's a random uuid, the way
// sumanthd032-CollabText and putnap-crdt-experiment mint operation ids.
type OpID string

func newOpID() OpID {
	return OpID(uuid.NewString())
}

// idAllocator issues node ids for a single actor. The counter persists
// across reconnects of the same client (spec.md §3 "Node id"); it is
// only reset when the process restarts, which the spec already scopes
// as "process-lifetime" in §6.3.
type idAllocator struct {
	actorID int
	counter int
}

func newIDAllocator(actorID int) *idAllocator {
	return &idAllocator{actorID: actorID}
}

// SetActor re-points the allocator at a new actor id after a reconnect
// issues one (spec.md §3: "on reconnect a new actor id MAY be issued").
// The counter is preserved.
func (a *idAllocator) SetActor(actorID int) {
	a.actorID = actorID
}

func (a *idAllocator) Actor() int {
	return a.actorID
}

func (a *idAllocator) NextNodeID() NodeID {
	a.counter++
	return newNodeID(a.actorID, a.counter)
}
