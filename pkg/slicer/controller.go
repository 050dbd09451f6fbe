package slicer

import (
	"fmt"
	"sync"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/tuple"
	"github.com/ofslicer/ofslicer/pkg/util"
)

// actorCmd is one unit of work queued onto a switch's event loop.
type actorCmd struct {
	fn   func(*SwitchState) error
	done chan error
}

// switchActor owns one SwitchState and processes every command
// against it on a single goroutine, so the state itself never needs
// its own locking — the actor-per-datapath model described for this
// controller. Other switches run on their own independent actors and
// never block on this one.
type switchActor struct {
	sw   *SwitchState
	cmds chan actorCmd
	quit chan struct{}
}

func newSwitchActor(dpid uint64) *switchActor {
	a := &switchActor{
		sw:   NewSwitchState(dpid),
		cmds: make(chan actorCmd),
		quit: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *switchActor) run() {
	for {
		select {
		case cmd := <-a.cmds:
			cmd.done <- cmd.fn(a.sw)
		case <-a.quit:
			return
		}
	}
}

func (a *switchActor) do(fn func(*SwitchState) error) error {
	done := make(chan error, 1)
	a.cmds <- actorCmd{fn: fn, done: done}
	return <-done
}

func (a *switchActor) stop() { close(a.quit) }

// Controller owns one switchActor per attached datapath and is the
// single entry point the HTTP API, packet-in/flow-removed event
// source, and CLI learn/config commands all go through.
type Controller struct {
	driver       driver.Driver
	learnTimeout uint16

	mu     sync.Mutex
	actors map[uint64]*switchActor
}

// NewController builds a controller driving switches through d, with
// learnTimeout applied to every MAC learned unless a caller overrides
// it per-call.
func NewController(d driver.Driver, learnTimeout uint16) *Controller {
	return &Controller{
		driver:       d,
		learnTimeout: learnTimeout,
		actors:       make(map[uint64]*switchActor),
	}
}

func (c *Controller) actorFor(dpid uint64) *switchActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actors[dpid]
	if !ok {
		a = newSwitchActor(dpid)
		c.actors[dpid] = a
	}
	return a
}

func (c *Controller) existingActor(dpid uint64) (*switchActor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actors[dpid]
	return a, ok
}

// Attach resets a newly connected datapath's flow and group tables to
// the static three-table topology every slice is built on top of,
// then invalidates and revalidates every slice so far known for it
// (typically none, for a switch seen for the first time; any it had
// before a reconnect, otherwise).
func (c *Controller) Attach(dpid uint64, ports []uint32) error {
	a := c.actorFor(dpid)
	return a.do(func(sw *SwitchState) error {
		util.Logger.WithField("dpid", sw.logDpid()).Info("datapath attached")

		for _, table := range []uint8{flow.TableOuterTag, flow.TableSource, flow.TableDest} {
			fm := flow.FlowMod{Command: flow.FlowDelete, Table: table, OutPort: flow.PortAny, OutGroup: flow.GroupAll}
			if err := c.driver.InstallFlow(dpid, fm); err != nil {
				return fmt.Errorf("wipe table %d: %w", table, err)
			}
		}
		if err := c.driver.InstallGroup(dpid, flow.GroupMod{Command: flow.GroupDelete, Group: flow.GroupAll}); err != nil {
			return fmt.Errorf("wipe groups: %w", err)
		}

		// Drop LLDP outright; it has no place in a sliced data
		// plane and would otherwise fall through to the
		// per-tuple learn rules.
		lldpMatch := flow.Match{VLANVID: 0x0000, HasVLANVID: true, EthType: 0x88cc, HasEthType: true}
		lldpFm := flow.FlowMod{
			Command:      flow.FlowAdd,
			Table:        flow.TableOuterTag,
			Priority:     6,
			Match:        lldpMatch,
			Instructions: []flow.Instruction{flow.ApplyActions()},
		}
		if err := c.driver.InstallFlow(dpid, lldpFm); err != nil {
			return fmt.Errorf("install lldp drop: %w", err)
		}

		for _, p := range ports {
			sw.PortAdded(p)
		}
		sw.Invalidate()
		return sw.Revalidate(c.driver)
	})
}

// Detach drops a disconnected datapath's actor. Its SwitchState
// (ports, slices, group bindings) is discarded; a subsequent Attach
// for the same dpid starts from an empty switch, matching a real
// switch's tables having reset on reconnect.
func (c *Controller) Detach(dpid uint64) {
	c.mu.Lock()
	a, ok := c.actors[dpid]
	if ok {
		delete(c.actors, dpid)
	}
	c.mu.Unlock()
	if ok {
		a.stop()
		util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).Info("datapath detached")
	}
}

// HandleEvent routes a single switch-originated event to its
// datapath's actor. Events for a datapath with no actor (one that was
// never attached, or already detached) are dropped.
func (c *Controller) HandleEvent(ev driver.Event) error {
	a, ok := c.existingActor(ev.Dpid)
	if !ok {
		return fmt.Errorf("%w: %016x", ErrUnknownDatapath, ev.Dpid)
	}
	switch ev.Kind {
	case driver.EventPortAdd:
		return a.do(func(sw *SwitchState) error {
			sw.PortAdded(ev.Port)
			return sw.Revalidate(c.driver)
		})
	case driver.EventPortRemove:
		return a.do(func(sw *SwitchState) error {
			sw.PortRemoved(ev.Port)
			return sw.Revalidate(c.driver)
		})
	case driver.EventPacketIn:
		return a.do(func(sw *SwitchState) error {
			return sw.HandlePacketIn(ev, c.learnTimeout, c.driver)
		})
	case driver.EventFlowRemoved:
		return a.do(func(sw *SwitchState) error {
			return sw.HandleFlowRemoved(ev, c.driver)
		})
	default:
		return nil
	}
}

// GetConfig returns dpid's current set of slices as tuple lists.
func (c *Controller) GetConfig(dpid uint64) ([][]tuple.Tuple, error) {
	a, ok := c.existingActor(dpid)
	if !ok {
		return nil, fmt.Errorf("%w: %016x", ErrUnknownDatapath, dpid)
	}
	var out [][]tuple.Tuple
	err := a.do(func(sw *SwitchState) error {
		out = sw.GetConfig()
		return nil
	})
	return out, err
}

// ApplyConfig discards every tuple in disused, creates/folds a slice
// for each tuple list in slices, then revalidates. A dpid with no
// actor yet is created implicitly, matching the original's "first
// POST creates the switch record" behaviour — useful for staging a
// slice's configuration before its switch has even connected.
func (c *Controller) ApplyConfig(dpid uint64, slices [][]tuple.Tuple, disused []tuple.Tuple) error {
	a := c.actorFor(dpid)
	return a.do(func(sw *SwitchState) error {
		for _, t := range disused {
			sw.DiscardTuple(t)
		}
		for _, tups := range slices {
			util.Logger.WithField("dpid", sw.logDpid()).WithField("tuples", tuple.Text(tups)).
				Info("creating slice")
			if _, err := sw.CreateSlice(tups); err != nil {
				return err
			}
		}
		return sw.Revalidate(c.driver)
	})
}

// Datapaths returns every dpid the controller holds state for, in no
// particular order: attached datapaths and those ApplyConfig created
// before their switch connected. Used by the HTTP health endpoint.
func (c *Controller) Datapaths() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.actors))
	for dpid := range c.actors {
		out = append(out, dpid)
	}
	return out
}

// Learn manually installs learned state for mac on tup, as if a
// packet-in had just arrived from it. Exposed for the CLI's `learn`
// subcommand and for tests that want to drive learning without a
// synthetic packet-in event.
func (c *Controller) Learn(dpid uint64, t tuple.Tuple, mac [6]byte, timeout uint16) error {
	a, ok := c.existingActor(dpid)
	if !ok {
		return fmt.Errorf("%w: %016x", ErrUnknownDatapath, dpid)
	}
	return a.do(func(sw *SwitchState) error {
		return sw.Learn(t, mac, timeout, c.driver)
	})
}
