// Package presence implements the ephemeral per-actor presence table
// (spec.md §3 "Presence entity", §4.5): a last-writer-wins merge of
// shallow JSON patches, keyed by actor, with no history of its own —
// unlike the crdt package, nothing here is ever undoable or durable.
package presence

import "sort"

// Patch is a shallow top-level merge: a key mapped to Deleted removes
// it, any other value overwrites it (spec.md §4.5 "undefined values
// delete the key").
type Patch map[string]any

// Deleted marks a key for removal from a Patch.
var Deleted = struct{}{}

func isDeleted(v any) bool {
	_, ok := v.(struct{})
	return ok
}

// Record is one actor's presence JSON object.
type Record map[string]any

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// applyPatch merges patch into r in place, following the Deleted
// convention, and reports whether anything changed.
func applyPatch(r Record, patch Patch) bool {
	changed := false
	for k, v := range patch {
		if isDeleted(v) {
			if _, had := r[k]; had {
				delete(r, k)
				changed = true
			}
			continue
		}
		r[k] = v
		changed = true
	}
	return changed
}

// Table is the per-room presence table: the local actor's own record
// plus a map of every other connected actor's record (spec.md §3
// "Lifecycle": remote entries are created on first message and
// destroyed on USER_LEFT).
type Table struct {
	selfActor int
	self      Record
	remote    map[int]Record
}

// NewTable creates a table for selfActor with an empty local record.
func NewTable(selfActor int) *Table {
	return &Table{
		selfActor: selfActor,
		self:      Record{},
		remote:    make(map[int]Record),
	}
}

// SetActor re-points the table at a new local actor id after a
// reconnect issues one, preserving the current local record (spec.md
// §3: the record itself has no identity tied to a specific connection
// attempt).
func (t *Table) SetActor(actor int) { t.selfActor = actor }

// Self returns a copy of the local actor's current presence.
func (t *Table) Self() Record { return t.self.clone() }

// UpdateSelf merges patch into the local record and reports whether
// anything changed (spec.md §4.5 "shallow merge by top-level key").
func (t *Table) UpdateSelf(patch Patch) bool {
	return applyPatch(t.self, patch)
}

// MergeRemote applies a partial update from actor, creating the
// record if this is the first message seen from it (spec.md §3
// "Presence entries for remote actors are created on first message").
// It reports whether the merged record differs from what was there
// before.
func (t *Table) MergeRemote(actor int, patch Patch) bool {
	r, ok := t.remote[actor]
	if !ok {
		r = Record{}
		t.remote[actor] = r
	}
	return applyPatch(r, patch)
}

// SetRemoteFull replaces actor's entire record wholesale — used for
// the ROOM_STATE snapshot on join and for USER_JOINED's full-resync
// reply (spec.md §4.2 "Presence diffusion rule").
func (t *Table) SetRemoteFull(actor int, full Record) {
	t.remote[actor] = full.clone()
}

// Remote returns a copy of actor's presence record, if known.
func (t *Table) Remote(actor int) (Record, bool) {
	r, ok := t.remote[actor]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// RemoveRemote destroys actor's presence entry (spec.md §3 "destroyed
// when a USER_LEFT event is received").
func (t *Table) RemoveRemote(actor int) {
	delete(t.remote, actor)
}

// Actors returns every known remote actor id, sorted ascending.
func (t *Table) Actors() []int {
	out := make([]int, 0, len(t.remote))
	for a := range t.remote {
		out = append(out, a)
	}
	sort.Ints(out)
	return out
}

// Others returns a snapshot of every remote actor's record, keyed by
// actor id.
func (t *Table) Others() map[int]Record {
	out := make(map[int]Record, len(t.remote))
	for a, r := range t.remote {
		out[a] = r.clone()
	}
	return out
}
