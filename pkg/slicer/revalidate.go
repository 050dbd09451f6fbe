package slicer

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// Revalidate brings the switch's flow and group tables in line with
// every slice marked invalid since the last pass, in six ordered
// steps:
//
//  1. Retract dynamic (learned) rules for tuples that left their
//     slice entirely, before anything else touches their tables.
//  2. Recompute each invalid slice's sanitized set against the
//     current port list.
//  3. Delete static rules/groups every invalid slice no longer needs.
//  4. Add static rules/groups every invalid slice now needs.
//  5. Promote sanitized to established for every invalid slice, and
//     clear the invalid set.
//  6. Garbage-collect T0 first-tag rules no surviving slice requires.
//
// Steps 3 and 4 run as separate passes over every invalid slice
// (delete-for-all, then add-for-all) rather than interleaved
// delete-then-add per slice, so that a tuple moving from slice A to
// slice B has A's claim released before B's claim is made — otherwise
// two slices could transiently both hold rules for the same tuple.
func (sw *SwitchState) Revalidate(d driver.Driver) error {
	if len(sw.invalidSlices) == 0 {
		return nil
	}
	util.Logger.WithField("dpid", sw.logDpid()).Info("revalidating")

	toReset := tuple.NewSet()
	for s := range sw.invalidSlices {
		for t := range s.established.Diff(s.target) {
			toReset.Add(t)
		}
	}
	for _, t := range toReset.Slice() {
		if err := sw.deleteDynamicRules(t, d); err != nil {
			return err
		}
	}

	for s := range sw.invalidSlices {
		s.sanitize()
	}

	for s := range sw.invalidSlices {
		if err := s.deleteStaticRules(d); err != nil {
			return err
		}
	}
	for s := range sw.invalidSlices {
		if err := s.addStaticRules(d); err != nil {
			return err
		}
	}

	for s := range sw.invalidSlices {
		s.match()
	}
	sw.invalidSlices = make(map[*Slice]struct{})

	if err := sw.revalidateFirstTagRules(d); err != nil {
		return err
	}

	util.Logger.WithField("dpid", sw.logDpid()).Info("revalidation complete")
	return nil
}

// deleteDynamicRules retracts a tuple's learned state entirely: its
// T0/T1 source rule, its group (if it has full learning-switch
// behaviour), and the T2 rules keyed on that group in either
// direction. Used both when a tuple leaves its slice (Revalidate's
// first step) and when the user explicitly discards a tuple's config.
func (sw *SwitchState) deleteDynamicRules(t tuple.Tuple, d driver.Driver) error {
	sw.invalidateFirstTagRule(t)
	match, table, _ := flow.TupleMatch(t, nil)
	fm := flow.FlowMod{
		Command:  flow.FlowDelete,
		Table:    table,
		Match:    match,
		OutPort:  flow.PortAny,
		OutGroup: flow.GroupAll,
	}
	if err := d.InstallFlow(sw.dpid, fm); err != nil {
		return fmt.Errorf("delete dynamic rule for %s: %w", t, err)
	}

	group, ok := sw.groups.ReleaseTuple(t)
	if !ok {
		return nil
	}
	if err := d.InstallGroup(sw.dpid, flow.GroupMod{Command: flow.GroupDelete, Group: group}); err != nil {
		return fmt.Errorf("delete group %d for %s: %w", group, t, err)
	}

	// T2 rules that forward destined to this group.
	destFm := flow.FlowMod{
		Command:    flow.FlowDelete,
		Table:      flow.TableDest,
		Match:      flow.Match{},
		Cookie:     uint64(group),
		CookieMask: flow.CookieExactMask,
		OutPort:    flow.PortAny,
		OutGroup:   flow.GroupAll,
	}
	if err := d.InstallFlow(sw.dpid, destFm); err != nil {
		return fmt.Errorf("delete dest rules for group %d: %w", group, err)
	}

	// T2 rules that match packets sourced from this group.
	srcFm := flow.FlowMod{
		Command:  flow.FlowDelete,
		Table:    flow.TableDest,
		Match:    flow.Match{Metadata: uint64(group), HasMetadata: true},
		OutPort:  flow.PortAny,
		OutGroup: flow.GroupAll,
	}
	if err := d.InstallFlow(sw.dpid, srcFm); err != nil {
		return fmt.Errorf("delete source-keyed rules for group %d: %w", group, err)
	}
	return nil
}
