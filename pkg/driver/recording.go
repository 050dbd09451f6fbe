package driver

import "github.com/ofslicer/ofslicer/pkg/flow"

// RecordingCommand is one call captured by a RecordingDriver, tagged
// by which method produced it.
type RecordingCommand struct {
	Kind string // "flow", "group", "barrier", "packet-out"
	Dpid uint64

	Flow  flow.FlowMod
	Group flow.GroupMod

	BufferID uint32
	InPort   uint32
	Actions  []flow.Action
}

// RecordingDriver records every command it receives, in order, and
// never errors. It exists for tests that assert on the exact set of
// mutations a convergence pass emits, without a real switch.
type RecordingDriver struct {
	Commands []RecordingCommand
}

func (d *RecordingDriver) InstallFlow(dpid uint64, fm flow.FlowMod) error {
	d.Commands = append(d.Commands, RecordingCommand{Kind: "flow", Dpid: dpid, Flow: fm})
	return nil
}

func (d *RecordingDriver) InstallGroup(dpid uint64, gm flow.GroupMod) error {
	d.Commands = append(d.Commands, RecordingCommand{Kind: "group", Dpid: dpid, Group: gm})
	return nil
}

func (d *RecordingDriver) SendBarrier(dpid uint64) error {
	d.Commands = append(d.Commands, RecordingCommand{Kind: "barrier", Dpid: dpid})
	return nil
}

func (d *RecordingDriver) SendPacketOut(dpid uint64, bufferID, inPort uint32, actions []flow.Action) error {
	d.Commands = append(d.Commands, RecordingCommand{
		Kind: "packet-out", Dpid: dpid, BufferID: bufferID, InPort: inPort, Actions: actions,
	})
	return nil
}

// Flows returns every flow-mod recorded so far, in order.
func (d *RecordingDriver) Flows() []flow.FlowMod {
	var out []flow.FlowMod
	for _, c := range d.Commands {
		if c.Kind == "flow" {
			out = append(out, c.Flow)
		}
	}
	return out
}

// Groups returns every group-mod recorded so far, in order.
func (d *RecordingDriver) Groups() []flow.GroupMod {
	var out []flow.GroupMod
	for _, c := range d.Commands {
		if c.Kind == "group" {
			out = append(out, c.Group)
		}
	}
	return out
}

// Reset clears recorded commands, keeping the driver for reuse across
// subsequent phases of a test.
func (d *RecordingDriver) Reset() {
	d.Commands = nil
}
