package presence

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestUpdateSelfShallowMerge(t *testing.T) {
	table := NewTable(1)
	changed := table.UpdateSelf(Patch{"x": 1.0, "y": 2.0})
	assert.Equal(t, changed, true)

	self := table.Self()
	assert.Equal(t, self["x"], 1.0)
	assert.Equal(t, self["y"], 2.0)
}

func TestUpdateSelfDeletesKey(t *testing.T) {
	table := NewTable(1)
	table.UpdateSelf(Patch{"x": 1.0})
	changed := table.UpdateSelf(Patch{"x": Deleted})
	assert.Equal(t, changed, true)

	_, ok := table.Self()["x"]
	assert.Equal(t, ok, false)
}

func TestMergeRemoteCreatesOnFirstMessage(t *testing.T) {
	table := NewTable(1)
	_, ok := table.Remote(2)
	assert.Equal(t, ok, false)

	table.MergeRemote(2, Patch{"cursor": "a"})
	r, ok := table.Remote(2)
	assert.Equal(t, ok, true)
	assert.Equal(t, r["cursor"], "a")
}

func TestRemoveRemoteDestroysEntry(t *testing.T) {
	table := NewTable(1)
	table.MergeRemote(2, Patch{"cursor": "a"})
	table.RemoveRemote(2)

	_, ok := table.Remote(2)
	assert.Equal(t, ok, false)
}

// TestPresenceMergeCommutative is the literal testable property from
// spec.md §8: applying {a:1} then {b:2} yields the same record as the
// reverse order.
func TestPresenceMergeCommutative(t *testing.T) {
	t1 := NewTable(1)
	t1.MergeRemote(2, Patch{"a": 1.0})
	t1.MergeRemote(2, Patch{"b": 2.0})

	t2 := NewTable(1)
	t2.MergeRemote(2, Patch{"b": 2.0})
	t2.MergeRemote(2, Patch{"a": 1.0})

	r1, _ := t1.Remote(2)
	r2, _ := t2.Remote(2)
	assert.Equal(t, r1["a"], r2["a"])
	assert.Equal(t, r1["b"], r2["b"])
	assert.Equal(t, len(r1), len(r2))
}

func TestSetRemoteFullReplacesWholesale(t *testing.T) {
	table := NewTable(1)
	table.MergeRemote(2, Patch{"stale": "value"})
	table.SetRemoteFull(2, Record{"fresh": "snapshot"})

	r, _ := table.Remote(2)
	_, hasStale := r["stale"]
	assert.Equal(t, hasStale, false)
	assert.Equal(t, r["fresh"], "snapshot")
}

func TestActorsSorted(t *testing.T) {
	table := NewTable(1)
	table.MergeRemote(5, Patch{})
	table.MergeRemote(2, Patch{})
	table.MergeRemote(9, Patch{})

	assert.Equal(t, table.Actors(), []int{2, 5, 9})
}

func TestDiffuserTracksOwedResync(t *testing.T) {
	d := NewDiffuser()
	assert.Equal(t, d.AnyOwed(), false)

	d.NotePeerJoined(3)
	assert.Equal(t, d.AnyOwed(), true)

	owed := d.DrainOwed()
	assert.Equal(t, owed, []int{3})
	assert.Equal(t, d.AnyOwed(), false)
}

func TestDiffuserClearsOnPeerLeft(t *testing.T) {
	d := NewDiffuser()
	d.NotePeerJoined(3)
	d.NotePeerLeft(3)
	assert.Equal(t, d.AnyOwed(), false)
}
