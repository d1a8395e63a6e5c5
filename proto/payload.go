package proto

import (
	"encoding/json"
	"fmt"
)

const (
	StateOn  = "ON"
	StateOff = "OFF"

	BridgeOnline  = "online"
	BridgeOffline = "offline"
)

// KeepAlive is broadcast by the gateway and reports whether its MQTT bridge is up.
// Devices send it without a body.
type KeepAlive struct {
	MQTT string `json:"MQTT,omitempty"`
}

type SetCommand struct {
	Set string `json:"set"`
}

// On reports the requested state. Anything but "ON" means off.
func (s SetCommand) On() bool {
	return s.Set == StateOn
}

type SwitchState struct {
	State string `json:"state"`
}

func StateString(on bool) string {
	if on {
		return StateOn
	}
	return StateOff
}

type SensorState struct {
	Temperature int8  `json:"temperature"`
	Humidity    *int8 `json:"humidity,omitempty"`
}

type Attributes struct {
	Type     string `json:"Type"`
	MCU      string `json:"MCU"`
	MAC      string `json:"MAC"`
	Firmware string `json:"Firmware"`
	Library  string `json:"Library"`
	Uptime   string `json:"Uptime"`
}

// EntityConfig describes one controllable or measurable entity of a device so the
// gateway can announce it to home automation software.
type EntityConfig struct {
	Name        string `json:"name"`
	Unit        int    `json:"unit"`
	Type        string `json:"type"`
	Class       string `json:"class"`
	Template    string `json:"template,omitempty"`
	PayloadOn   string `json:"payload_on,omitempty"`
	PayloadOff  string `json:"payload_off,omitempty"`
	Measurement string `json:"meas,omitempty"`
	ExpireAfter int    `json:"time,omitempty"`
}

// NewEnvelope marshals body into the message of a new envelope. A nil body leaves
// the message empty.
func NewEnvelope(device DeviceType, payload PayloadType, body any) (Envelope, error) {
	env := Envelope{DeviceType: device, PayloadType: payload}
	if body == nil {
		return env, nil
	}
	msg, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s body: %w", payload, err)
	}
	env.Message = msg
	return env, nil
}

// Frame builds and encodes an envelope in one step.
func Frame(device DeviceType, payload PayloadType, body any) ([]byte, error) {
	env, err := NewEnvelope(device, payload, body)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

func (e Envelope) Unmarshal(v any) error {
	if len(e.Message) == 0 {
		return fmt.Errorf("empty %s message", e.PayloadType)
	}
	return json.Unmarshal(e.Message, v)
}
