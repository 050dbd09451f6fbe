// Package flow translates tuples into the OpenFlow 1.3 wire primitives
// that realize them: matches, action lists, and the flow-mod/group-mod
// commands the revalidator and learning engine emit to a Driver.
package flow

import "github.com/ofslicer/ofslicer/pkg/tuple"

// Table ids of the static three-table pipeline every slicer switch
// runs: T0 strips an outer VLAN tag into metadata, T1 matches on
// (in_port, metadata) for single/double-tagged traffic, T2 is the
// learned-destination table shared by every bridge slice.
const (
	TableOuterTag uint8 = 0
	TableSource   uint8 = 1
	TableDest     uint8 = 2
)

// Reserved port numbers, named the way the OpenFlow 1.3 spec names
// them.
const (
	PortInPort    uint32 = 0xfffffff8
	PortTable     uint32 = 0xfffffff9
	PortController uint32 = 0xfffffffd
	PortAny       uint32 = 0xffffffff
)

// Reserved group id meaning "all groups" in a delete.
const GroupAll uint32 = 0xffffffff

// Flow-mod commands.
type FlowModCommand int

const (
	FlowAdd FlowModCommand = iota
	FlowModify
	FlowDelete
)

// Group-mod commands.
type GroupModCommand int

const (
	GroupAdd GroupModCommand = iota
	GroupModify
	GroupDelete
)

// Flow-removed reasons the controller acts on.
type RemovedReason int

const (
	ReasonIdleTimeout RemovedReason = iota
	ReasonHardTimeout
	ReasonDelete
	ReasonGroupDelete
)

// CookieAny matches any cookie on a delete, paired with a zero mask.
const CookieAny uint64 = 0

// CookieExactMask matches the cookie field exactly.
const CookieExactMask uint64 = 0xffffffffffffffff

// BroadcastCookie marks the T2 rules that belong to a group's
// broadcast bucket rather than to any one learned tuple, so they
// survive a single tuple's learning churn and are only ever removed
// together with their group.
const BroadcastCookie uint64 = 0xffffffffffffffff

// Ethertypes used when pushing VLAN tags back on.
const (
	EthType8021Q  uint16 = 0x8100
	EthType8021AD uint16 = 0x88a8
)

// vlanPresent is ORed into a vlan_vid match/set-field value to signal
// "tag present" per the OpenFlow 1.3 OXM encoding.
const vlanPresent uint16 = 0x1000

// Match is an OpenFlow match expressed as the handful of fields this
// controller ever needs.
type Match struct {
	InPort   uint32
	HasInPort bool

	EthSrc    [6]byte
	HasEthSrc bool

	EthDst    [6]byte
	HasEthDst bool

	Metadata    uint64
	HasMetadata bool

	VLANVID    uint16 // includes the "present" bit when HasVLANVID
	HasVLANVID bool

	EthType    uint16
	HasEthType bool
}

// Action is one OpenFlow action. Exactly one of the typed fields is
// meaningful, selected by Kind.
type ActionKind int

const (
	ActionOutput ActionKind = iota
	ActionPushVLAN
	ActionSetFieldVLAN
	ActionSetFieldMetadata
	ActionPopVLAN
	ActionGroup
)

type Action struct {
	Kind ActionKind

	OutputPort uint32
	OutputMax  uint16 // max_len, used only for PORT_CONTROLLER sends

	EtherType uint16 // for PushVLAN

	VLANVID uint16 // for SetFieldVLAN, includes the "present" bit

	Metadata uint64 // for SetFieldMetadata

	GroupID uint32 // for Group
}

func Output(port uint32) Action              { return Action{Kind: ActionOutput, OutputPort: port} }
func OutputToController(maxLen uint16) Action {
	return Action{Kind: ActionOutput, OutputPort: PortController, OutputMax: maxLen}
}
func PushVLAN(etherType uint16) Action  { return Action{Kind: ActionPushVLAN, EtherType: etherType} }
func SetVLANID(vlan uint16) Action      { return Action{Kind: ActionSetFieldVLAN, VLANVID: vlanPresent | vlan} }
func SetMetadata(v uint64) Action       { return Action{Kind: ActionSetFieldMetadata, Metadata: v} }
func PopVLAN() Action                   { return Action{Kind: ActionPopVLAN} }
func ToGroup(group uint32) Action       { return Action{Kind: ActionGroup, GroupID: group} }

// InstructionKind distinguishes the two instruction types this
// controller emits.
type InstructionKind int

const (
	InstructionApplyActions InstructionKind = iota
	InstructionGotoTable
)

type Instruction struct {
	Kind    InstructionKind
	Actions []Action // for ApplyActions
	Table   uint8    // for GotoTable
}

func ApplyActions(actions ...Action) Instruction {
	return Instruction{Kind: InstructionApplyActions, Actions: actions}
}

func GotoTable(table uint8) Instruction {
	return Instruction{Kind: InstructionGotoTable, Table: table}
}

// FlowMod is a flow table mutation addressed to one switch table.
type FlowMod struct {
	Command      FlowModCommand
	Table        uint8
	Priority     uint16
	Match        Match
	Instructions []Instruction
	Cookie       uint64
	CookieMask   uint64
	IdleTimeout  uint16
	SendFlowRem  bool
	OutPort      uint32 // delete filter; defaults to PortAny
	OutGroup     uint32 // delete filter; defaults to GroupAll
}

// GroupMod is a group table mutation.
type GroupMod struct {
	Command GroupModCommand
	Group   uint32
	Buckets [][]Action // one bucket per destination; nil for a delete
}

// TupleMatch builds the match, table, and priority for a tuple,
// optionally narrowed to a specific source MAC. The table and
// priority pair is the same one package slicer's ensureFirstTagRule
// GOTO_TABLE target expects: length-1 tuples live in T0 (the only table that
// sees untagged traffic directly), longer tuples live in T1 behind
// the VLAN-extraction rule in T0.
func TupleMatch(t tuple.Tuple, mac *[6]byte) (m Match, table uint8, priority uint16) {
	m.InPort, m.HasInPort = t.Port, true
	if mac != nil {
		m.EthSrc, m.HasEthSrc = *mac, true
	}
	switch t.Len {
	case 1:
		return m, TableOuterTag, 4
	case 2:
		m.Metadata, m.HasMetadata = uint64(t.Outer), true
		return m, TableSource, 4
	default:
		m.Metadata, m.HasMetadata = uint64(t.Outer), true
		m.VLANVID, m.HasVLANVID = vlanPresent|t.Inner, true
		return m, TableSource, 4
	}
}

// TupleAction builds the action list that forwards to tup from a
// packet currently on inPort. When tup's own port equals inPort, the
// action list substitutes the reflexive IN_PORT pseudo-port, since a
// literal self-output is silently dropped by most datapaths. This
// action list is used both as a group bucket and as the action list
// of a learned T2 rule.
func TupleAction(t tuple.Tuple, inPort uint32) []Action {
	outPort := t.Port
	if t.Port == inPort {
		outPort = PortInPort
	}
	switch t.Len {
	case 1:
		return []Action{Output(outPort)}
	case 2:
		return []Action{
			PushVLAN(EthType8021Q),
			SetVLANID(t.Outer),
			Output(outPort),
		}
	default:
		return []Action{
			PushVLAN(EthType8021Q),
			SetVLANID(t.Inner),
			PushVLAN(EthType8021AD),
			SetVLANID(t.Outer),
			Output(outPort),
		}
	}
}
