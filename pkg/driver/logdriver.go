package driver

import (
	"fmt"

	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// LogDriver discards every command after logging it. Useful for
// running the engine against no real switch at all, e.g. smoke-testing
// config changes; `ofslicerd serve --dry-run` uses it in place of the
// Redis transport.
type LogDriver struct{}

func (LogDriver) InstallFlow(dpid uint64, fm flow.FlowMod) error {
	util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).
		WithField("table", fm.Table).WithField("command", fm.Command).
		Info("flow-mod")
	return nil
}

func (LogDriver) InstallGroup(dpid uint64, gm flow.GroupMod) error {
	util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).
		WithField("group", gm.Group).WithField("command", gm.Command).
		Info("group-mod")
	return nil
}

func (LogDriver) SendBarrier(dpid uint64) error {
	util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).Debug("barrier")
	return nil
}

func (LogDriver) SendPacketOut(dpid uint64, bufferID, inPort uint32, actions []flow.Action) error {
	util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).
		WithField("in_port", inPort).Debug("packet-out")
	return nil
}
