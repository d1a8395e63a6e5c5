package hardware

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mbocsi/meshswitch/config"
)

var ErrNoSensor = errors.New("no sensor configured")

type Reading struct {
	Temperature float64
	Humidity    float64
	HasHumidity bool
}

// Int8 rounds the reading to the integer range sent on the wire.
func (r Reading) Int8() (temp int8, humidity int8) {
	return clampInt8(r.Temperature), clampInt8(r.Humidity)
}

func clampInt8(v float64) int8 {
	v = math.Round(v)
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}
	return int8(v)
}

type Sensor interface {
	Read() (Reading, error)
}

// OpenSensor selects the driver for a sensor type stored in the device record.
// DHT sensors are read through the kernel IIO driver at path, DS18B20 through
// the 1-Wire device directory at path.
func OpenSensor(sensorType, path string) (Sensor, error) {
	switch sensorType {
	case config.SensorNone:
		return nil, ErrNoSensor
	case config.SensorDHT11, config.SensorDHT22:
		return &IIOSensor{Dir: path}, nil
	case config.SensorDS18B20:
		return &W1Sensor{Dir: path}, nil
	}
	return nil, fmt.Errorf("unknown sensor type %q", sensorType)
}

// readMilli parses a sysfs attribute holding a value scaled by 1000.
func readMilli(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(n) / 1000, nil
}

// IIOSensor reads an industrial-I/O device such as the dht11 kernel driver.
type IIOSensor struct {
	Dir string
}

func (s *IIOSensor) Read() (Reading, error) {
	temp, err := readMilli(filepath.Join(s.Dir, "in_temp_input"))
	if err != nil {
		return Reading{}, fmt.Errorf("read temperature: %w", err)
	}
	r := Reading{Temperature: temp}

	hum, err := readMilli(filepath.Join(s.Dir, "in_humidityrelative_input"))
	if err == nil {
		r.Humidity = hum
		r.HasHumidity = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return Reading{}, fmt.Errorf("read humidity: %w", err)
	}
	return r, nil
}

// W1Sensor reads a 1-Wire thermometer exposed by the w1_therm driver.
type W1Sensor struct {
	Dir string
}

func (s *W1Sensor) Read() (Reading, error) {
	temp, err := readMilli(filepath.Join(s.Dir, "temperature"))
	if err != nil {
		return Reading{}, fmt.Errorf("read temperature: %w", err)
	}
	return Reading{Temperature: temp}, nil
}
