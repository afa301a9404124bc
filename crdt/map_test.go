package crdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newAttachedMap(d *Document) *LiveMap {
	m := NewLiveMap()
	d.Root().Set("map", m)
	return m
}

func TestMapSetWrapsLeafInRegister(t *testing.T) {
	d := newTestDoc()
	m := newAttachedMap(d)

	err := m.Set("count", 5.0)
	assert.Equal(t, err, nil)

	v, ok := m.Get("count")
	assert.Equal(t, ok, true)
	reg, isRegister := v.(*LiveRegister)
	assert.Equal(t, isRegister, true)
	assert.Equal(t, reg.Value(), 5.0)
}

func TestMapSetReplacesExistingChild(t *testing.T) {
	d := newTestDoc()
	m := newAttachedMap(d)

	m.Set("nested", NewLiveMap())
	firstChild, _ := m.Get("nested")

	secondChild := NewLiveMap()
	err := m.Set("nested", secondChild)
	assert.Equal(t, err, nil)

	v, _ := m.Get("nested")
	assert.Equal(t, v, Node(secondChild))
	assert.Equal(t, firstChild.(*LiveMap).Attached(), false)
}

func TestMapDeleteAndUndo(t *testing.T) {
	d := newTestDoc()
	m := newAttachedMap(d)
	m.Set("key", "value")

	err := m.Delete("key")
	assert.Equal(t, err, nil)
	_, ok := m.Get("key")
	assert.Equal(t, ok, false)

	err = d.Undo()
	assert.Equal(t, err, nil)
	v, ok := m.Get("key")
	assert.Equal(t, ok, true)
	assert.Equal(t, v.(*LiveRegister).Value(), "value")
}

func TestRegisterRejectsDirectOps(t *testing.T) {
	d := newTestDoc()
	m := newAttachedMap(d)
	m.Set("key", "value")
	regNode, _ := m.Get("key")

	_, _, err := regNode.applyOp(d, Op{OpID: newOpID(), Kind: OpUpdateObject, Target: regNode.ID()}, sourceRemote)
	assert.NotEqual(t, err, nil)
}
