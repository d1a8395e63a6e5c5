package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	SensorNone    = ""
	SensorDHT11   = "DHT11"
	SensorDHT22   = "DHT22"
	SensorDS18B20 = "DS18B20"
)

// MaxNameLen keeps entity configs within one mesh frame. It counts the name
// as JSON encodes it, escapes included.
const MaxNameLen = 64

// EncodedNameLen is the length of name inside a JSON string.
func EncodedNameLen(name string) int {
	raw, _ := json.Marshal(name)
	return len(raw) - 2
}

// Device is the persisted record of a switch node. Pin 0 means not connected.
// A *PinType of true means active high for outputs and rising edge for buttons.
type Device struct {
	Firmware         string `json:"firmware"`
	DeviceName       string `json:"deviceName"`
	NetName          string `json:"netName"`
	RelayStatus      bool   `json:"relayStatus"`
	RelayPin         int    `json:"relayPin"`
	RelayPinType     bool   `json:"relayPinType"`
	WorkMode         bool   `json:"workMode"`
	ButtonPin        int    `json:"buttonPin"`
	ButtonPinType    bool   `json:"buttonPinType"`
	ExtButtonPin     int    `json:"extButtonPin"`
	ExtButtonPinType bool   `json:"extButtonPinType"`
	LedPin           int    `json:"ledPin"`
	LedPinType       bool   `json:"ledPinType"`
	SensorType       string `json:"sensorType"`
}

// DefaultDevice returns the record written on first boot. suffix is appended to
// the device name, usually the tail of the hardware address.
func DefaultDevice(firmware, netName, suffix string) Device {
	return Device{
		Firmware:     firmware,
		DeviceName:   "Mesh switch " + suffix,
		NetName:      netName,
		RelayPinType: true,
	}
}

func (d Device) HasSensor() bool {
	return d.SensorType != SensorNone
}

// SensorHasHumidity reports whether the configured sensor also measures humidity.
func (d Device) SensorHasHumidity() bool {
	return d.SensorType == SensorDHT11 || d.SensorType == SensorDHT22
}

// ApplyValues copies the recognised fields present in values into the record.
// It returns the names of the fields that were set.
func (d *Device) ApplyValues(values url.Values) ([]string, error) {
	var applied []string

	str := func(key string, dst *string) {
		if values.Has(key) {
			*dst = strings.TrimSpace(values.Get(key))
			applied = append(applied, key)
		}
	}
	num := func(key string, dst *int) error {
		if !values.Has(key) {
			return nil
		}
		n, err := strconv.Atoi(values.Get(key))
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid pin %q", key, values.Get(key))
		}
		*dst = n
		applied = append(applied, key)
		return nil
	}
	flag := func(key string, dst *bool) error {
		if !values.Has(key) {
			return nil
		}
		b, err := strconv.ParseBool(values.Get(key))
		if err != nil {
			return fmt.Errorf("%s: invalid flag %q", key, values.Get(key))
		}
		*dst = b
		applied = append(applied, key)
		return nil
	}

	next := *d
	str("deviceName", &next.DeviceName)
	str("netName", &next.NetName)

	for _, err := range []error{
		num("relayPin", &next.RelayPin),
		flag("relayPinType", &next.RelayPinType),
		flag("workMode", &next.WorkMode),
		num("buttonPin", &next.ButtonPin),
		flag("buttonPinType", &next.ButtonPinType),
		num("extButtonPin", &next.ExtButtonPin),
		flag("extButtonPinType", &next.ExtButtonPinType),
		num("ledPin", &next.LedPin),
		flag("ledPinType", &next.LedPinType),
	} {
		if err != nil {
			return nil, err
		}
	}

	if values.Has("sensorType") {
		switch t := values.Get("sensorType"); t {
		case SensorNone, SensorDHT11, SensorDHT22, SensorDS18B20:
			next.SensorType = t
			applied = append(applied, "sensorType")
		default:
			return nil, fmt.Errorf("sensorType: unknown sensor %q", t)
		}
	}

	if next.DeviceName == "" || EncodedNameLen(next.DeviceName) > MaxNameLen {
		return nil, fmt.Errorf("deviceName: must be 1 to %d bytes once JSON-escaped", MaxNameLen)
	}
	if next.NetName == "" {
		return nil, fmt.Errorf("netName: must not be empty")
	}

	*d = next
	return applied, nil
}
