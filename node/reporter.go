package node

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/proto"
)

const (
	DeviceKind     = "Mesh switch"
	LibraryVersion = "meshswitch/transport 1"
)

const (
	unitRelay       = 1
	unitTemperature = 2
	unitHumidity    = 3
)

// reporter raises a semaphore for each periodic report when its interval
// elapses. The loop clears a semaphore right before sending and leaves it
// raised while no gateway is available.
type reporter struct {
	attributes timer
	keepAlive  timer
	status     timer

	attributesDue bool
	keepAliveDue  bool
	statusDue     bool
}

func (r *reporter) start(now time.Time, t config.TimingConfig) {
	r.attributes.every(now, t.Attributes)
	r.keepAlive.every(now, t.KeepAlive)
	r.status.every(now, t.Status)
	r.attributesDue = true
	r.keepAliveDue = true
	r.statusDue = true
}

func (r *reporter) poll(now time.Time) {
	if r.attributes.fired(now) {
		r.attributesDue = true
	}
	if r.keepAlive.fired(now) {
		r.keepAliveDue = true
	}
	if r.status.fired(now) {
		r.statusDue = true
	}
}

func (n *Node) report() {
	if !n.presence.Available() {
		return
	}
	if n.reporter.attributesDue {
		n.reporter.attributesDue = false
		n.sendAttributes()
	}
	if n.reporter.keepAliveDue {
		n.reporter.keepAliveDue = false
		n.send(proto.DeviceSwitch, proto.PayloadKeepAlive, nil)
	}
	if n.reporter.statusDue {
		n.reporter.statusDue = false
		n.sendStatus()
	}
}

// announce re-sends everything the gateway needs after its bridge comes online.
func (n *Node) announce() {
	slog.Info("Announcing device to gateway", "gateway", n.presence.Gateway())
	n.sendConfig()
	n.sendAttributes()
	n.sendStatus()
}

func formatUptime(d time.Duration) string {
	mins := int(d / time.Minute)
	return fmt.Sprintf("Days:%d Hours:%d Mins:%d", mins/(24*60), mins/60%24, mins%60)
}

func (n *Node) sendAttributes() {
	attrs := proto.Attributes{
		Type:     DeviceKind,
		MCU:      runtime.GOOS + "/" + runtime.GOARCH,
		MAC:      n.mesh.Addr().String(),
		Firmware: n.record.Firmware,
		Library:  LibraryVersion,
		Uptime:   formatUptime(n.now.Sub(n.booted)),
	}
	n.send(proto.DeviceSwitch, proto.PayloadAttributes, attrs)

	if n.sensor != nil {
		attrs.Type = n.record.SensorType
		n.send(proto.DeviceSensor, proto.PayloadAttributes, attrs)
	}
}

func (n *Node) sendSwitchStatus() {
	n.send(proto.DeviceSwitch, proto.PayloadState, proto.SwitchState{State: proto.StateString(n.record.RelayStatus)})
}

func (n *Node) sendStatus() {
	n.sendSwitchStatus()
	if n.sensor == nil {
		return
	}

	reading, err := n.sensor.Read()
	if err != nil {
		slog.Warn("Sensor read failed, skipping sensor status", "sensor", n.record.SensorType, "error", err)
		return
	}
	temp, hum := reading.Int8()
	state := proto.SensorState{Temperature: temp}
	if reading.HasHumidity {
		state.Humidity = &hum
	}
	n.send(proto.DeviceSensor, proto.PayloadState, state)
}

func (n *Node) entities() []proto.EntityConfig {
	name := n.record.DeviceName
	out := []proto.EntityConfig{{
		Name:       name,
		Unit:       unitRelay,
		Type:       "switch",
		Class:      "switch",
		Template:   "state",
		PayloadOn:  proto.StateOn,
		PayloadOff: proto.StateOff,
	}}
	if n.sensor == nil {
		return out
	}

	expire := int(3 * n.timing.Status / time.Second)
	out = append(out, proto.EntityConfig{
		Name:        name + " temperature",
		Unit:        unitTemperature,
		Type:        "sensor",
		Class:       "temperature",
		Template:    "temperature",
		Measurement: "°C",
		ExpireAfter: expire,
	})
	if n.record.SensorHasHumidity() {
		out = append(out, proto.EntityConfig{
			Name:        name + " humidity",
			Unit:        unitHumidity,
			Type:        "sensor",
			Class:       "humidity",
			Template:    "humidity",
			Measurement: "%",
			ExpireAfter: expire,
		})
	}
	return out
}

func (n *Node) sendConfig() {
	for _, e := range n.entities() {
		device := proto.DeviceSwitch
		if e.Unit != unitRelay {
			device = proto.DeviceSensor
		}
		n.send(device, proto.PayloadConfig, e)
	}
}
