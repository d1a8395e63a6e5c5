package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbocsi/meshswitch/proto"
)

const relayUnit = 1

var components = map[string]bool{"switch": true, "sensor": true, "binary_sensor": true, "light": true}

func (g *Gateway) stateTopic(addr proto.Addr, device proto.DeviceType) string {
	return fmt.Sprintf("%s/%s/%s/state", g.prefix, addr.Compact(), device)
}

func (g *Gateway) attributesTopic(addr proto.Addr, device proto.DeviceType) string {
	return fmt.Sprintf("%s/%s/%s/attributes", g.prefix, addr.Compact(), device)
}

func (g *Gateway) availabilityTopic(addr proto.Addr) string {
	return fmt.Sprintf("%s/%s/status", g.prefix, addr.Compact())
}

func (g *Gateway) commandTopic(addr proto.Addr) string {
	return fmt.Sprintf("%s/%s/switch/set", g.prefix, addr.Compact())
}

func (g *Gateway) discoveryTopic(addr proto.Addr, e proto.EntityConfig) string {
	return fmt.Sprintf("%s/%s/%s-%d/config", g.discoveryPrefix, e.Type, addr.Compact(), e.Unit)
}

// deviceName is the name Home Assistant groups a device's entities under: the
// relay entity's name, or the entity's own name without its class suffix.
func (d *Device) deviceName(e proto.EntityConfig) string {
	if e.Unit == relayUnit {
		return e.Name
	}
	if relay, ok := d.Entities[relayUnit]; ok {
		return relay.Name
	}
	return strings.TrimSuffix(e.Name, " "+e.Class)
}

// discoveryPayload builds a Home Assistant discovery document for one entity.
func (g *Gateway) discoveryPayload(addr proto.Addr, device proto.DeviceType, deviceName string, e proto.EntityConfig) ([]byte, error) {
	if !components[e.Type] {
		return nil, fmt.Errorf("unsupported entity type %q", e.Type)
	}

	doc := map[string]any{
		"name":      e.Name,
		"unique_id": fmt.Sprintf("%s-%d", addr.Compact(), e.Unit),
		"availability": []map[string]string{
			{"topic": g.availabilityTopic(addr)},
			{"topic": StatusTopic(g.prefix)},
		},
		"availability_mode":     "all",
		"state_topic":           g.stateTopic(addr, device),
		"json_attributes_topic": g.attributesTopic(addr, device),
		"device": map[string]any{
			"identifiers": []string{addr.Compact()},
			"connections": [][]string{{"mac", addr.String()}},
			"name":        deviceName,
		},
	}
	if e.Template != "" {
		doc["value_template"] = "{{ value_json." + e.Template + " }}"
	}
	if e.Class != "" && e.Class != e.Type {
		doc["device_class"] = e.Class
	}
	if e.Measurement != "" {
		doc["unit_of_measurement"] = e.Measurement
	}
	if e.ExpireAfter > 0 {
		doc["expire_after"] = e.ExpireAfter
	}
	if e.Type == "switch" || e.Type == "light" {
		doc["command_topic"] = g.commandTopic(addr)
		doc["payload_on"] = e.PayloadOn
		doc["payload_off"] = e.PayloadOff
		doc["state_on"] = e.PayloadOn
		doc["state_off"] = e.PayloadOff
	}
	return json.Marshal(doc)
}
