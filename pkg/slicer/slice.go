package slicer

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/tuple"
)

// Slice is one traffic class: the set of tuples a client has asked to
// be grouped together, plus the bookkeeping the revalidator uses to
// converge the switch's flow tables onto that intent.
//
//   - target is what the client wants.
//   - sanitized is target restricted to ports the switch currently
//     reports — computed fresh each revalidation pass.
//   - established is what the switch's flow tables actually contain,
//     as of the end of the last revalidation pass.
type Slice struct {
	sw *SwitchState

	target      tuple.Set
	sanitized   tuple.Set
	established tuple.Set
}

func newSlice(sw *SwitchState) *Slice {
	return &Slice{sw: sw, target: tuple.NewSet(), established: tuple.NewSet()}
}

// Tuples returns the slice's target set.
func (s *Slice) Tuples() tuple.Set { return s.target.Clone() }

// sanitize recomputes sanitized from target and the switch's current
// port set.
func (s *Slice) sanitize() {
	sanitized := tuple.NewSet()
	for t := range s.target {
		if s.sw.hasPort(t.Port) {
			sanitized.Add(t)
		}
	}
	s.sanitized = sanitized
}

// match promotes sanitized to established once the switch's flow
// tables have been brought in line with it.
func (s *Slice) match() {
	s.established = s.sanitized.Clone()
}

// invalidate clears established, as if the slice had just gone from
// empty to its current target in one step, and marks the slice for
// revalidation.
func (s *Slice) invalidate() {
	s.established = tuple.NewSet()
	s.sw.markInvalid(s)
}

// adopt ensures tup belongs to this slice, first forcing any other
// slice holding a conflicting tuple to abandon it.
func (s *Slice) adopt(t tuple.Tuple) {
	if s.target.Has(t) {
		return
	}

	type victim struct {
		slice *Slice
		tup   tuple.Tuple
	}
	var victims []victim
	for t2, owner := range s.sw.targetIndex {
		if !tuple.Conflict(t, t2) {
			continue
		}
		if t == t2 && owner == s {
			continue
		}
		victims = append(victims, victim{owner, t2})
	}
	for _, v := range victims {
		v.slice.abandon(v.tup)
	}

	s.target.Add(t)
	s.sw.targetIndex[t] = s
	s.sw.markInvalid(s)
}

// abandon removes tup from this slice's target set, if present.
func (s *Slice) abandon(t tuple.Tuple) {
	if !s.target.Has(t) {
		return
	}
	s.target.Remove(t)
	delete(s.sw.targetIndex, t)
	s.sw.markInvalid(s)
}

// deleteStaticRules removes whatever static flow/group state no
// longer matches sanitized, given established. It never adds
// anything — see addStaticRules for that half of convergence. Per the
// switch-wide six-step ordering in SwitchState.Revalidate, every
// slice's deletes run before any slice's adds, so a tuple moving
// between two slices never holds two sets of rules at once.
func (s *Slice) deleteStaticRules(d driver.Driver) error {
	if s.sanitized.Equal(s.established) {
		return nil
	}

	var stale tuple.Set
	switch {
	case s.established.Len() == 2:
		stale = s.established
	case s.sanitized.Len() <= 2:
		stale = s.established
	default:
		stale = s.established.Diff(s.sanitized)
	}

	for _, t := range stale.Slice() {
		s.sw.invalidateFirstTagRule(t)
		match, table, _ := flow.TupleMatch(t, nil)

		fm := flow.FlowMod{
			Command:  flow.FlowDelete,
			Table:    table,
			Match:    match,
			OutGroup: flow.GroupAll,
		}
		if group, ok := s.sw.groups.Get(t); ok {
			fm.Cookie = uint64(group)
			fm.CookieMask = flow.CookieExactMask
			fm.OutPort = flow.PortController
		} else {
			fm.Cookie = flow.CookieAny
			fm.CookieMask = 0
			fm.OutPort = flow.PortAny
		}
		if err := d.InstallFlow(s.sw.dpid, fm); err != nil {
			return fmt.Errorf("delete static rule for %s: %w", t, err)
		}
	}

	if s.sanitized.Len() <= 2 && s.established.Len() > 2 {
		// Every tuple had a group for full learning-switch
		// behaviour; none of them need one any more.
		for _, t := range stale.Slice() {
			group, ok := s.sw.groups.ReleaseTuple(t)
			if !ok {
				continue
			}
			if err := d.InstallGroup(s.sw.dpid, flow.GroupMod{Command: flow.GroupDelete, Group: group}); err != nil {
				return fmt.Errorf("delete group %d for %s: %w", group, t, err)
			}
			// Deleting the group also drops the rule that
			// directed into it, but not the T2 rules that
			// matched on (metadata=group) and sent there —
			// those are matched on metadata alone, so they
			// must be cleared explicitly.
			match := flow.Match{Metadata: uint64(group), HasMetadata: true}
			fm := flow.FlowMod{
				Command:    flow.FlowDelete,
				Table:      flow.TableDest,
				Match:      match,
				Cookie:     flow.CookieAny,
				CookieMask: 0,
				OutPort:    flow.PortAny,
				OutGroup:   flow.GroupAll,
			}
			if err := d.InstallFlow(s.sw.dpid, fm); err != nil {
				return fmt.Errorf("delete metadata-keyed rules for group %d: %w", group, err)
			}
		}
	}
	return nil
}

// addStaticRules installs whatever static flow/group state sanitized
// requires that established didn't already provide.
func (s *Slice) addStaticRules(d driver.Driver) error {
	if s.sanitized.Equal(s.established) {
		return nil
	}

	switch {
	case s.sanitized.Len() < 2:
		// A 0- or 1-tuple slice has no OpenFlow manifestation;
		// the absence of any forwarding rule is the drop.
		return nil

	case s.sanitized.Len() == 2:
		tups := s.sanitized.Slice()
		for i := 0; i < 2; i++ {
			src, dst := tups[i], tups[1-i]
			if err := s.sw.ensureFirstTagRule(src, d); err != nil {
				return fmt.Errorf("ensure first-tag rule for %s: %w", src, err)
			}
			match, table, prio := flow.TupleMatch(src, nil)
			actions := flow.TupleAction(dst, src.Port)
			fm := flow.FlowMod{
				Command:      flow.FlowAdd,
				Table:        table,
				Priority:     prio,
				Match:        match,
				Instructions: []flow.Instruction{flow.ApplyActions(actions...)},
			}
			if err := d.InstallFlow(s.sw.dpid, fm); err != nil {
				return fmt.Errorf("add e-line rule %s->%s: %w", src, dst, err)
			}
		}
		return nil
	}

	var newPorts tuple.Set
	if s.established.Len() <= 2 {
		newPorts = s.sanitized
	} else {
		newPorts = s.sanitized.Diff(s.established)
	}

	// Full learning-switch behaviour: every tuple's group must
	// point at every other tuple in the slice.
	for _, src := range s.sanitized.Slice() {
		group, created := s.sw.groups.Claim(src)
		cmd := flow.GroupModify
		if created {
			cmd = flow.GroupAdd
		}
		var buckets [][]flow.Action
		for _, dst := range s.sanitized.Slice() {
			if dst == src {
				continue
			}
			buckets = append(buckets, flow.TupleAction(dst, src.Port))
		}
		if err := d.InstallGroup(s.sw.dpid, flow.GroupMod{Command: cmd, Group: group, Buckets: buckets}); err != nil {
			return fmt.Errorf("update group %d for %s: %w", group, src, err)
		}

		if created {
			// Unknown destinations within this slice are
			// broadcast to the group. The source is matched by
			// the group id stashed in metadata by the learned
			// T1/T0 rule. This rule is removed automatically
			// when the group is deleted, because its actions
			// reference the group.
			match := flow.Match{Metadata: uint64(group), HasMetadata: true}
			fm := flow.FlowMod{
				Command:      flow.FlowAdd,
				Table:        flow.TableDest,
				Priority:     1,
				Match:        match,
				Instructions: []flow.Instruction{flow.ApplyActions(flow.ToGroup(group))},
				Cookie:       flow.BroadcastCookie,
			}
			if err := d.InstallFlow(s.sw.dpid, fm); err != nil {
				return fmt.Errorf("add broadcast rule for group %d: %w", group, err)
			}
		}
	}

	for _, src := range newPorts.Slice() {
		// Packets from this tuple with an unrecognized source MAC
		// go to the controller to be learned.
		group, _ := s.sw.groups.Get(src)
		match, table, prio := flow.TupleMatch(src, nil)
		fm := flow.FlowMod{
			Command:      flow.FlowAdd,
			Table:        table,
			Priority:     prio,
			Match:        match,
			Instructions: []flow.Instruction{flow.ApplyActions(flow.OutputToController(0xffff))},
			Cookie:       uint64(group),
		}
		if err := d.InstallFlow(s.sw.dpid, fm); err != nil {
			return fmt.Errorf("add learn rule for %s: %w", src, err)
		}
		if err := s.sw.ensureFirstTagRule(src, d); err != nil {
			return fmt.Errorf("ensure first-tag rule for %s: %w", src, err)
		}
	}
	return nil
}
