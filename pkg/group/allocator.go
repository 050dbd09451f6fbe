// Package group maintains the bidirectional binding between tuples and
// the OpenFlow group ids used to realize their broadcast/learning
// behaviour, plus the pool of group ids not currently bound to any
// tuple.
package group

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// Allocator is the bimap of tuple<->group id for a single switch, plus
// the set of group ids available for a new binding. It is not
// safe for concurrent use; callers serialize access through the
// owning switch actor.
type Allocator struct {
	tupleToGroup map[tuple.Tuple]uint32
	groupToTuple map[uint32]tuple.Tuple
	free         map[uint32]struct{}
}

// NewAllocator returns an allocator with a single free group, id 0.
// The free pool self-extends as groups are claimed, so no larger seed
// is needed.
func NewAllocator() *Allocator {
	return &Allocator{
		tupleToGroup: make(map[tuple.Tuple]uint32),
		groupToTuple: make(map[uint32]tuple.Tuple),
		free:         map[uint32]struct{}{0: {}},
	}
}

// Get returns the group id already bound to tup, if any.
func (a *Allocator) Get(tup tuple.Tuple) (group uint32, ok bool) {
	group, ok = a.tupleToGroup[tup]
	return
}

// GroupTuple returns the tuple bound to group, if any.
func (a *Allocator) GroupTuple(group uint32) (tup tuple.Tuple, ok bool) {
	tup, ok = a.groupToTuple[group]
	return
}

// Claim returns the group id bound to tup, allocating one if none
// exists yet. The second return value is true when a new binding was
// created. The allocated id is always the smallest free id; when that
// was the only free id left, the pool is extended by adding its
// successor, so the pool only runs dry once the largest uint32 id
// has been handed out.
func (a *Allocator) Claim(tup tuple.Tuple) (group uint32, created bool) {
	if g, ok := a.tupleToGroup[tup]; ok {
		return g, false
	}

	group = a.lowestFree()
	delete(a.free, group)
	if len(a.free) == 0 && group != ^uint32(0) {
		a.free[group+1] = struct{}{}
	}

	a.tupleToGroup[tup] = group
	a.groupToTuple[group] = tup
	util.Logger.WithField("group", group).WithField("tuple", tup.String()).
		Info("claimed group for tuple")
	return group, true
}

// ReleaseTuple frees the group bound to tup, if any, returning it.
func (a *Allocator) ReleaseTuple(tup tuple.Tuple) (group uint32, ok bool) {
	group, ok = a.tupleToGroup[tup]
	if !ok {
		return 0, false
	}
	delete(a.tupleToGroup, tup)
	delete(a.groupToTuple, group)
	a.free[group] = struct{}{}
	util.Logger.WithField("group", group).WithField("tuple", tup.String()).
		Info("released group for tuple")
	return group, true
}

// ReleaseGroup frees group from whatever tuple it is bound to,
// returning that tuple.
func (a *Allocator) ReleaseGroup(group uint32) (tup tuple.Tuple, ok bool) {
	tup, ok = a.groupToTuple[group]
	if !ok {
		return tuple.Tuple{}, false
	}
	delete(a.groupToTuple, group)
	delete(a.tupleToGroup, tup)
	a.free[group] = struct{}{}
	util.Logger.WithField("group", group).WithField("tuple", tup.String()).
		Info("released group for tuple")
	return tup, true
}

// lowestFree returns the smallest id currently in the free pool. The
// pool is tiny in practice (group ids stay close to 0 for the
// lifetime of a switch), so a linear scan from 0 is cheap and avoids
// carrying a heap for a handful of entries.
func (a *Allocator) lowestFree() uint32 {
	for g := uint32(0); ; g++ {
		if _, ok := a.free[g]; ok {
			return g
		}
		if g == ^uint32(0) {
			panic(fmt.Sprintf("group: free pool exhausted searching from %d", g))
		}
	}
}
