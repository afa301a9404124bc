package crdt

// maxHistoryDepth bounds the undo/redo stacks (spec.md §3: "Both are
// bounded (implementation chooses bound; 50 is a reasonable
// default)").
const maxHistoryDepth = 50

// UndoStack holds paired forward/inverse op batches (spec.md §2).
// Each entry is the full set of ops that reverse one user-level
// mutation, possibly spanning several CRDT nodes (e.g. deleting a
// populated subtree).
type UndoStack struct {
	undo   [][]Op
	redo   [][]Op
	paused bool
	// pending accumulates batches pushed while paused, coalesced into
	// a single entry on resume (spec.md §4.4 "mutations during a pause
	// coalesce into the next entry").
	pendingPause []Op
}

func newUndoStack() *UndoStack {
	return &UndoStack{}
}

// pushForward records the inverse of a freshly applied local mutation
// and clears the redo stack (spec.md §4.4 "Calling any mutating API
// clears the redo stack"). While paused, the inverse is appended to
// the pending batch instead of becoming its own entry, and redo is
// NOT cleared yet — it clears once the coalesced entry is finally
// pushed, i.e. on the next pushForward after resume or on Resume
// itself if mutations occurred.
func (s *UndoStack) pushForward(inverse []Op) {
	if len(inverse) == 0 {
		return
	}
	if s.paused {
		// Reverse-prepend: later mutations must undo before earlier
		// ones when the whole pause window is undone as one entry.
		s.pendingPause = append(append([]Op{}, inverse...), s.pendingPause...)
		return
	}
	s.redo = nil
	s.push(&s.undo, inverse)
}

func (s *UndoStack) push(stack *[][]Op, batch []Op) {
	*stack = append(*stack, batch)
	if len(*stack) > maxHistoryDepth {
		*stack = (*stack)[len(*stack)-maxHistoryDepth:]
	}
}

// pushUndoBatch and pushRedoBatch land a freshly computed inverse
// (from replaying an undo/redo entry) on the named stack, without
// clearing anything — used only by Document.replayBatch.
func (s *UndoStack) pushUndoBatch(batch []Op) {
	if len(batch) == 0 {
		return
	}
	s.push(&s.undo, batch)
}

func (s *UndoStack) pushRedoBatch(batch []Op) {
	if len(batch) == 0 {
		return
	}
	s.push(&s.redo, batch)
}

func (s *UndoStack) popUndo() ([]Op, bool) {
	if len(s.undo) == 0 {
		return nil, false
	}
	top := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	return top, true
}

func (s *UndoStack) popRedo() ([]Op, bool) {
	if len(s.redo) == 0 {
		return nil, false
	}
	top := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	return top, true
}

// pause suspends pushing undo entries; mutations still apply and
// enqueue normally (spec.md §4.4, design note §9: pause/disconnection
// interaction resolved as "undo entries accumulate normally while
// paused").
func (s *UndoStack) pause() { s.paused = true }

// resume flushes any batch accumulated during the pause as a single
// undo entry and stops coalescing further mutations.
func (s *UndoStack) resume() {
	s.paused = false
	if len(s.pendingPause) > 0 {
		batch := s.pendingPause
		s.pendingPause = nil
		s.redo = nil
		s.push(&s.undo, batch)
	}
}
