// Package driver defines the boundary between the slicing engine and
// whatever carries OpenFlow messages to and from a physical or
// virtual switch. The wire session itself (handshake, echo, framing)
// is out of scope here; a Driver only needs to accept already-built
// flow/group mutations and barriers, and to surface the handful of
// switch events the engine reacts to.
package driver

import "github.com/ofslicer/ofslicer/pkg/flow"

// Driver is the sole collaborator the slicing engine depends on to
// reach a real switch. Implementations are expected to serialize
// calls for a single datapath themselves if the transport requires
// it; the engine issues one call at a time per switch actor (see
// package slicer), never concurrently for the same dpid.
type Driver interface {
	// InstallFlow sends a flow-mod (add, modify, or delete).
	InstallFlow(dpid uint64, fm flow.FlowMod) error

	// InstallGroup sends a group-mod (add, modify, or delete).
	InstallGroup(dpid uint64, gm flow.GroupMod) error

	// SendBarrier sends a barrier request to dpid, so the switch
	// finishes every message sent before it ahead of any message
	// sent after it. It does not wait for the barrier reply.
	SendBarrier(dpid uint64) error

	// SendPacketOut re-injects a previously buffered packet,
	// directing it back through the pipeline from inPort with the
	// given action list.
	SendPacketOut(dpid uint64, bufferID uint32, inPort uint32, actions []flow.Action) error
}

// EventKind distinguishes the switch-originated events the engine
// reacts to.
type EventKind int

const (
	EventDatapathEnter EventKind = iota
	EventDatapathLeave
	EventPortAdd
	EventPortRemove
	EventPacketIn
	EventFlowRemoved
)

// Event is a single occurrence reported by a Driver for one datapath.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	Dpid uint64

	// PortAdd / PortRemove / DatapathEnter (initial port list)
	Port uint32

	// DatapathEnter
	Ports []uint32

	// PacketIn
	Table    uint8
	InPort   uint32
	Metadata uint64
	VLANVID  uint16
	HasVLAN  bool
	EthSrc   [6]byte
	BufferID uint32

	// FlowRemoved
	Reason       flow.RemovedReason
	RemovedMatch flow.Match
}
