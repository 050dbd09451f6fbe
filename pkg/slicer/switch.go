package slicer

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/group"
	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// firstTagKey identifies an (in_port, outer VLAN) pair whose T0
// tag-extraction rule might no longer be needed by any slice.
type firstTagKey struct {
	Port uint32
	VLAN uint16
}

// SwitchState is the full converged/converging picture of one
// datapath: which ports exist, which tuple belongs to which slice,
// the group allocator backing multi-way slices, and the set of slices
// and first-tag candidates still waiting on the next revalidation
// pass. A SwitchState has no goroutine of its own — see Controller for
// the actor that serializes access to it per dpid.
type SwitchState struct {
	dpid uint64

	knownPorts map[uint32]struct{}
	groups     *group.Allocator

	targetIndex map[tuple.Tuple]*Slice

	invalidSlices        map[*Slice]struct{}
	invalidFirstTagRules map[firstTagKey]struct{}
}

// NewSwitchState creates switch bookkeeping for a newly attached
// datapath. No flow-table state is touched here; call Attach (package
// slicer's Controller) to reset the switch's tables before relying on
// this state.
func NewSwitchState(dpid uint64) *SwitchState {
	return &SwitchState{
		dpid:                 dpid,
		knownPorts:           make(map[uint32]struct{}),
		groups:               group.NewAllocator(),
		targetIndex:          make(map[tuple.Tuple]*Slice),
		invalidSlices:        make(map[*Slice]struct{}),
		invalidFirstTagRules: make(map[firstTagKey]struct{}),
	}
}

func (sw *SwitchState) Dpid() uint64 { return sw.dpid }

func (sw *SwitchState) hasPort(port uint32) bool {
	_, ok := sw.knownPorts[port]
	return ok
}

func (sw *SwitchState) markInvalid(s *Slice) {
	sw.invalidSlices[s] = struct{}{}
}

// GetSlice looks up the slice currently owning tup, if any.
func (sw *SwitchState) GetSlice(t tuple.Tuple) (*Slice, bool) {
	s, ok := sw.targetIndex[t]
	return s, ok
}

// GroupForTuple returns the group id already bound to tup, without
// allocating one.
func (sw *SwitchState) GroupForTuple(t tuple.Tuple) (uint32, bool) {
	return sw.groups.Get(t)
}

// GetConfig returns every distinct slice's target tuple set, in no
// particular order — the shape the HTTP config GET endpoint returns.
func (sw *SwitchState) GetConfig() [][]tuple.Tuple {
	seen := make(map[*Slice]struct{})
	var out [][]tuple.Tuple
	for _, s := range sw.targetIndex {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s.Tuples().Slice())
	}
	return out
}

// CreateSlice forms a new slice out of tups, or folds tups into
// whichever existing slice already owns the most overlapping tuples.
// tups must be non-empty, each tuple valid (length 1-3), and pairwise
// non-conflicting; otherwise an error is returned and no state is
// changed. Resolves the design question of adopted orphans: when the
// tuples left behind by the slice with maximum overlap form a
// non-empty remainder, that remainder becomes its own new slice (via
// ordinary adopt calls) rather than being silently dropped, so it
// still appears in a later GetConfig call and can be independently
// retargeted.
func (sw *SwitchState) CreateSlice(tups []tuple.Tuple) (*Slice, error) {
	if len(tups) == 0 {
		return nil, fmt.Errorf("%w: empty tuple set", ErrMalformedRequest)
	}
	set := tuple.NewSet(tups...)
	for t := range set {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: invalid tuple %s", ErrMalformedRequest, t)
		}
		for t2 := range set {
			if t == t2 {
				continue
			}
			if tuple.Conflict(t, t2) {
				return nil, fmt.Errorf("%w: %s conflicts with %s", ErrMalformedRequest, t, t2)
			}
		}
	}

	var best *Slice
	bestOverlap := 0
	for t := range set {
		s, ok := sw.targetIndex[t]
		if !ok {
			continue
		}
		overlap := s.Tuples().Intersect(set).Len()
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = s
		}
	}

	if best != nil {
		for _, t := range set.Diff(best.Tuples()).Slice() {
			best.adopt(t)
		}
		abandoned := best.Tuples().Diff(set)
		if abandoned.Len() > 0 {
			orphan := newSlice(sw)
			for _, t := range abandoned.Slice() {
				orphan.adopt(t)
			}
		}
		return best, nil
	}

	s := newSlice(sw)
	for _, t := range set.Slice() {
		s.adopt(t)
	}
	return s, nil
}

// DiscardTuple removes tup from whichever slice currently owns it, if
// any. The slice is left marked invalid so the next revalidation
// retracts its rules.
func (sw *SwitchState) DiscardTuple(t tuple.Tuple) {
	if s, ok := sw.targetIndex[t]; ok {
		s.abandon(t)
	}
}

// Invalidate marks every known slice for revalidation, as if each had
// just transitioned from empty to its current target set. Used on
// datapath attach, once the switch's tables have been wiped.
func (sw *SwitchState) Invalidate() {
	seen := make(map[*Slice]struct{})
	for _, s := range sw.targetIndex {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		s.invalidate()
	}
}

// PortAdded records that port now exists on the switch, invalidating
// every slice that targets it so the revalidator installs their rules
// for that port. Ports beyond the 31-bit OpenFlow reserved-port range
// are ignored, mirroring the wire protocol's own split between real
// and logical ports.
func (sw *SwitchState) PortAdded(port uint32) {
	if port > 0x7fffffff {
		return
	}
	util.Logger.WithField("dpid", sw.logDpid()).WithField("port", port).Info("port added")
	sw.knownPorts[port] = struct{}{}
	for t, s := range sw.targetIndex {
		if t.Port == port {
			sw.markInvalid(s)
		}
	}
}

// PortRemoved records that port no longer exists, invalidating every
// slice that targets it so the revalidator retracts their rules for
// that port.
func (sw *SwitchState) PortRemoved(port uint32) {
	util.Logger.WithField("dpid", sw.logDpid()).WithField("port", port).Info("port removed")
	delete(sw.knownPorts, port)
	for t, s := range sw.targetIndex {
		if t.Port == port {
			sw.markInvalid(s)
		}
	}
}

func (sw *SwitchState) logDpid() string { return fmt.Sprintf("%016x", sw.dpid) }

// ensureFirstTagRule installs the T0 rule that strips tup's outer
// VLAN tag into metadata and passes to T1. Tuples of length 1 need no
// such rule, since untagged traffic is matched directly in T0. The
// flow-mod is an unconditional ADD; re-adding an identical match is
// how the original switch-side semantics treat "this rule should
// exist" idempotently.
func (sw *SwitchState) ensureFirstTagRule(t tuple.Tuple, d driver.Driver) error {
	if t.Len < 2 {
		return nil
	}
	match := flow.Match{InPort: t.Port, HasInPort: true, VLANVID: 0x1000 | t.Outer, HasVLANVID: true}
	actions := []flow.Action{flow.PopVLAN(), flow.SetMetadata(uint64(t.Outer))}
	fm := flow.FlowMod{
		Command:  flow.FlowAdd,
		Table:    flow.TableOuterTag,
		Priority: 4,
		Match:    match,
		Instructions: []flow.Instruction{
			flow.ApplyActions(actions...),
			flow.GotoTable(flow.TableSource),
		},
	}
	return d.InstallFlow(sw.dpid, fm)
}

// invalidateFirstTagRule records that tup's T0 first-tag rule might no
// longer be needed by anything. The candidate is resolved later, in
// revalidateFirstTagRules, once every slice's static rules have
// settled.
func (sw *SwitchState) invalidateFirstTagRule(t tuple.Tuple) {
	if t.Len < 2 {
		return
	}
	sw.invalidFirstTagRules[firstTagKey{t.Port, t.Outer}] = struct{}{}
}

// revalidateFirstTagRules deletes T0 first-tag rules for every
// (port, vlan) candidate accumulated since the last pass that no
// surviving slice still requires.
func (sw *SwitchState) revalidateFirstTagRules(d driver.Driver) error {
	seen := make(map[*Slice]struct{})
	for _, s := range sw.targetIndex {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		for _, t := range s.Tuples().Slice() {
			if t.Len >= 2 {
				delete(sw.invalidFirstTagRules, firstTagKey{t.Port, t.Outer})
			}
		}
	}

	for key := range sw.invalidFirstTagRules {
		match := flow.Match{InPort: key.Port, HasInPort: true, VLANVID: 0x1000 | key.VLAN, HasVLANVID: true}
		fm := flow.FlowMod{
			Command:  flow.FlowDelete,
			Table:    flow.TableOuterTag,
			Match:    match,
			OutPort:  flow.PortAny,
			OutGroup: flow.GroupAll,
		}
		if err := d.InstallFlow(sw.dpid, fm); err != nil {
			return fmt.Errorf("delete stale first-tag rule for port %d vlan %d: %w", key.Port, key.VLAN, err)
		}
	}
	sw.invalidFirstTagRules = make(map[firstTagKey]struct{})
	return nil
}
