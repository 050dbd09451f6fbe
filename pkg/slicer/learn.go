package slicer

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// Learn records that mac was most recently seen arriving on tup, and
// installs the T2 rules that stop the controller from being bothered
// about that MAC again until it goes quiet or moves. A revalidation
// pass runs first, so a tuple that just lost its slice never gets
// learned against stale state. Tuples not currently owned by any
// slice, or owned by a 1- or 2-tuple slice with no group (no learning
// switch behaviour), are silently ignored — there is nothing to
// learn.
func (sw *SwitchState) Learn(t tuple.Tuple, mac [6]byte, timeout uint16, d driver.Driver) error {
	if err := sw.Revalidate(d); err != nil {
		return err
	}

	s, ok := sw.GetSlice(t)
	if !ok {
		return nil
	}
	group, ok := sw.groups.Get(t)
	if !ok {
		return nil
	}
	util.Logger.WithField("dpid", sw.logDpid()).WithField("mac", macString(mac)).
		WithField("tuple", t.String()).Info("learning new source")

	tups := s.Tuples()

	// Prevent flooding for this MAC: install a T2 rule per
	// destination tuple in the slice, keyed by that tuple's group
	// in metadata. A rule whose destination group is the learner's
	// own group drops instead of looping the packet back to its
	// source.
	for _, dtup := range tups.Slice() {
		dgroup, _ := sw.groups.Get(dtup)
		var actions []flow.Action
		if group != dgroup {
			actions = flow.TupleAction(t, dtup.Port)
		}
		fm := flow.FlowMod{
			Command:      flow.FlowAdd,
			Table:        flow.TableDest,
			Priority:     2,
			Match:        flow.Match{Metadata: uint64(dgroup), HasMetadata: true, EthDst: mac, HasEthDst: true},
			Instructions: []flow.Instruction{flow.ApplyActions(actions...)},
			Cookie:       uint64(group),
		}
		if err := d.InstallFlow(sw.dpid, fm); err != nil {
			return fmt.Errorf("install unicast rule for %s via %s: %w", macString(mac), dtup, err)
		}
	}

	// If this MAC reappears on a different tuple within the slice,
	// the controller must see it again: drop any rule that was
	// learned for it on another source tuple.
	for _, stup := range tups.Slice() {
		if stup == t {
			continue
		}
		sgroup, _ := sw.groups.Get(stup)
		_, table, _ := flow.TupleMatch(stup, &mac)
		fm := flow.FlowMod{
			Command:    flow.FlowDelete,
			Table:      table,
			Match:      flow.Match{EthSrc: mac, HasEthSrc: true},
			Cookie:     uint64(sgroup),
			CookieMask: flow.CookieExactMask,
			OutPort:    flow.PortAny,
			OutGroup:   flow.GroupAll,
		}
		if err := d.InstallFlow(sw.dpid, fm); err != nil {
			return fmt.Errorf("clear stale learn rule for %s on %s: %w", macString(mac), stup, err)
		}
	}

	// Stop sending this (source tuple, MAC) pair to the controller
	// until it goes idle.
	match, table, prio := flow.TupleMatch(t, &mac)
	actions := []flow.Action{flow.SetMetadata(uint64(group))}
	if t.Len > 2 {
		actions = append(actions, flow.PopVLAN())
	}
	fm := flow.FlowMod{
		Command:  flow.FlowAdd,
		Table:    table,
		Priority: prio + 1,
		Match:    match,
		Instructions: []flow.Instruction{
			flow.ApplyActions(actions...),
			flow.GotoTable(flow.TableDest),
		},
		Cookie:      uint64(group),
		IdleTimeout: timeout,
		SendFlowRem: true,
	}
	if err := d.InstallFlow(sw.dpid, fm); err != nil {
		return fmt.Errorf("install learned source rule for %s on %s: %w", macString(mac), t, err)
	}
	return nil
}

// NotHeardFrom retracts the T2 unicast rule installed for mac when
// its learned source rule in T0/T1 idles out. Called from the
// flow-removed event path.
func (sw *SwitchState) NotHeardFrom(t tuple.Tuple, mac [6]byte, d driver.Driver) error {
	group, _ := sw.groups.Get(t)
	util.Logger.WithField("dpid", sw.logDpid()).WithField("tuple", t.String()).
		WithField("group", group).WithField("mac", macString(mac)).Info("not heard from")

	fm := flow.FlowMod{
		Command:    flow.FlowDelete,
		Table:      flow.TableDest,
		Match:      flow.Match{EthDst: mac, HasEthDst: true},
		Cookie:     uint64(group),
		CookieMask: flow.CookieExactMask,
		OutPort:    flow.PortAny,
		OutGroup:   flow.GroupAll,
	}
	if err := d.InstallFlow(sw.dpid, fm); err != nil {
		return fmt.Errorf("delete unicast rule for %s: %w", macString(mac), err)
	}
	return nil
}

// HandleFlowRemoved reacts to a flow-removed event by retracting the
// learned state for whichever (tuple, MAC) pair just idled out. Only
// idle-timeout removals are meaningful here; any other reason (an
// explicit delete, a group deletion cascading into its rules) is the
// controller's own doing and needs no further reaction.
func (sw *SwitchState) HandleFlowRemoved(ev driver.Event, d driver.Driver) error {
	if ev.Reason != flow.ReasonIdleTimeout {
		return nil
	}
	t := tupleFromMatch(ev.Table, ev.RemovedMatch)
	return sw.NotHeardFrom(t, ev.RemovedMatch.EthSrc, d)
}

// HandlePacketIn reacts to a packet whose source MAC was unrecognized
// on its tuple: it learns the MAC's location, then re-injects the
// packet back through the pipeline on the same input port, restoring
// whatever VLAN tags T0/T1 had stripped so the newly-installed T2
// rules see the same traffic the switch would have.
func (sw *SwitchState) HandlePacketIn(ev driver.Event, timeout uint16, d driver.Driver) error {
	t := packetInTuple(ev)

	if err := sw.Learn(t, ev.EthSrc, timeout, d); err != nil {
		return err
	}
	if err := d.SendBarrier(sw.dpid); err != nil {
		return fmt.Errorf("barrier after learn: %w", err)
	}

	var actions []flow.Action
	switch t.Len {
	case 3:
		actions = append(actions, flow.PushVLAN(flow.EthType8021AD), flow.SetVLANID(t.Outer))
	case 2:
		actions = append(actions, flow.PushVLAN(flow.EthType8021Q), flow.SetVLANID(t.Outer))
	}
	actions = append(actions, flow.Output(flow.PortTable))

	if err := d.SendPacketOut(sw.dpid, ev.BufferID, ev.InPort, actions); err != nil {
		return fmt.Errorf("packet-out after learn: %w", err)
	}
	return nil
}

// packetInTuple reconstructs the tuple a packet-in event arrived on
// from the table it was captured in and the metadata/VLAN fields
// carried with it.
func packetInTuple(ev driver.Event) tuple.Tuple {
	if ev.Table == flow.TableOuterTag {
		return tuple.New1(ev.InPort)
	}
	if ev.HasVLAN {
		return tuple.New3(ev.InPort, uint16(ev.Metadata), ev.VLANVID&0x0fff)
	}
	return tuple.New2(ev.InPort, uint16(ev.Metadata))
}

// tupleFromMatch reconstructs the tuple a removed flow's match
// described, the same way packetInTuple does for packet-in events.
func tupleFromMatch(table uint8, m flow.Match) tuple.Tuple {
	if table == flow.TableOuterTag {
		return tuple.New1(m.InPort)
	}
	if m.HasVLANVID {
		return tuple.New3(m.InPort, uint16(m.Metadata), m.VLANVID&0x0fff)
	}
	return tuple.New2(m.InPort, uint16(m.Metadata))
}

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
