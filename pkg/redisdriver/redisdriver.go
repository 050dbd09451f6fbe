// Package redisdriver implements driver.Driver over Redis pub/sub:
// flow/group mutations are published as JSON on a per-datapath command
// channel, and a lightweight wire agent sitting next to the real
// switch is expected to apply them and publish switch events back on
// a matching per-datapath event channel. This stands in for the
// OpenFlow wire session itself, which this module does not implement.
package redisdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/util"
)

const (
	cmdChannelFmt  = "ofslicer:cmd:%016x"
	evtChannelFmt  = "ofslicer:evt:%016x"
	evtChannelGlob = "ofslicer:evt:*"
)

var evtChannelRe = regexp.MustCompile(`^ofslicer:evt:([0-9a-fA-F]{16})$`)

// command is the wire envelope published for every Driver call. Only
// the field matching Kind is populated.
type command struct {
	Kind     string          `json:"kind"`
	Flow     *flow.FlowMod   `json:"flow,omitempty"`
	Group    *flow.GroupMod  `json:"group,omitempty"`
	BufferID uint32          `json:"buffer_id,omitempty"`
	InPort   uint32          `json:"in_port,omitempty"`
	Actions  []flow.Action   `json:"actions,omitempty"`
}

// Driver publishes flow-mod/group-mod/barrier/packet-out commands to
// Redis and can subscribe to switch events published back by the
// agent sitting beside the real datapath.
type Driver struct {
	client *redis.Client
	ctx    context.Context
}

// New builds a driver against a Redis instance at addr. The
// connection is established lazily by the underlying client; call
// Connect to fail fast on a misconfigured address.
func New(addr string) *Driver {
	return &Driver{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ctx:    context.Background(),
	}
}

// Connect verifies the Redis connection is reachable.
func (d *Driver) Connect() error {
	return d.client.Ping(d.ctx).Err()
}

// Close releases the underlying Redis connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

func (d *Driver) publish(dpid uint64, cmd command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Kind, err)
	}
	channel := fmt.Sprintf(cmdChannelFmt, dpid)
	if err := d.client.Publish(d.ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s command to %016x: %w", cmd.Kind, dpid, err)
	}
	return nil
}

func (d *Driver) InstallFlow(dpid uint64, fm flow.FlowMod) error {
	return d.publish(dpid, command{Kind: "flow", Flow: &fm})
}

func (d *Driver) InstallGroup(dpid uint64, gm flow.GroupMod) error {
	return d.publish(dpid, command{Kind: "group", Group: &gm})
}

func (d *Driver) SendBarrier(dpid uint64) error {
	return d.publish(dpid, command{Kind: "barrier"})
}

func (d *Driver) SendPacketOut(dpid uint64, bufferID, inPort uint32, actions []flow.Action) error {
	return d.publish(dpid, command{Kind: "packet-out", BufferID: bufferID, InPort: inPort, Actions: actions})
}

// Events subscribes to dpid's event channel and decodes every message
// into a driver.Event, dropping (and logging) anything that fails to
// parse. The returned channel is closed when ctx is cancelled or the
// subscription drops.
func (d *Driver) Events(ctx context.Context, dpid uint64) <-chan driver.Event {
	sub := d.client.Subscribe(ctx, fmt.Sprintf(evtChannelFmt, dpid))
	out := make(chan driver.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev driver.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					util.Logger.WithField("dpid", fmt.Sprintf("%016x", dpid)).
						WithField("error", err).Warn("dropping malformed event")
					continue
				}
				ev.Dpid = dpid
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// AllEvents subscribes once to every datapath's event channel via a
// Redis pattern subscription, recovering the originating dpid from the
// channel name. This is what ofslicerd's serve loop runs on startup,
// rather than a per-dpid Events call, since it has no way to know
// which datapaths exist until their wire agent announces them. The
// returned channel is closed when ctx is cancelled.
func (d *Driver) AllEvents(ctx context.Context) <-chan driver.Event {
	sub := d.client.PSubscribe(ctx, evtChannelGlob)
	out := make(chan driver.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				m := evtChannelRe.FindStringSubmatch(msg.Channel)
				if m == nil {
					continue
				}
				dpid, err := strconv.ParseUint(m[1], 16, 64)
				if err != nil {
					continue
				}
				var ev driver.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					util.Logger.WithField("dpid", m[1]).WithField("error", err).
						Warn("dropping malformed event")
					continue
				}
				ev.Dpid = dpid
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
