package config

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data", "config.json"))

	if store.Exists() {
		t.Fatal("Expected fresh store to be empty")
	}
	if _, err := store.Load(); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Expected ErrNotExist, got %v", err)
	}

	d := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")
	d.RelayStatus = true
	d.RelayPin = 17
	d.LedPin = 27

	if err := store.Save(d); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != d {
		t.Errorf("Expected %+v, got %+v", d, got)
	}
}

func TestFileStoreLoadOrCreate(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	def := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")

	got, err := store.LoadOrCreate(def)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if got != def || !store.Exists() {
		t.Fatalf("Expected defaults written on first boot, got %+v", got)
	}

	changed := def
	changed.DeviceName = "Porch light"
	store.Save(changed)

	got, _ = store.LoadOrCreate(def)
	if got.DeviceName != "Porch light" {
		t.Errorf("Expected stored record to win, got %q", got.DeviceName)
	}
}

func TestDefaultDevice(t *testing.T) {
	d := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")
	if d.DeviceName != "Mesh switch 0A0B0C" {
		t.Errorf("Expected default name, got %q", d.DeviceName)
	}
	if !d.RelayPinType {
		t.Error("Expected relay active high by default")
	}
	if d.HasSensor() {
		t.Error("Expected no sensor by default")
	}
}

func TestApplyValues(t *testing.T) {
	d := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")

	values := url.Values{}
	values.Set("deviceName", "Hall")
	values.Set("relayPin", "5")
	values.Set("relayPinType", "0")
	values.Set("workMode", "1")
	values.Set("sensorType", SensorDHT22)

	applied, err := d.ApplyValues(values)
	if err != nil {
		t.Fatalf("ApplyValues failed: %v", err)
	}
	if len(applied) != 5 {
		t.Errorf("Expected 5 applied fields, got %v", applied)
	}
	if d.DeviceName != "Hall" || d.RelayPin != 5 || d.RelayPinType || !d.WorkMode || !d.SensorHasHumidity() {
		t.Errorf("Unexpected record after apply: %+v", d)
	}
	if d.NetName != "DEFAULT" {
		t.Errorf("Expected absent fields untouched, got net %q", d.NetName)
	}
}

func TestApplyValuesRejects(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{"bad pin", url.Values{"relayPin": {"x"}}},
		{"negative pin", url.Values{"ledPin": {"-1"}}},
		{"bad flag", url.Values{"ledPinType": {"maybe"}}},
		{"bad sensor", url.Values{"sensorType": {"BME280"}}},
		{"empty name", url.Values{"deviceName": {" "}}},
		{"long name", url.Values{"deviceName": {strings.Repeat("x", MaxNameLen+1)}}},
		{"escaped name too long", url.Values{"deviceName": {strings.Repeat("<", MaxNameLen)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")
			before := d
			if _, err := d.ApplyValues(tt.values); err == nil {
				t.Error("Expected error")
			}
			if d != before {
				t.Errorf("Expected record unchanged on error, got %+v", d)
			}
		})
	}
}

func TestEncodedNameLen(t *testing.T) {
	tests := map[string]int{
		"Kitchen":  7,
		"a<b":      8,
		`say "hi"`: 10,
		"°C":       3,
	}
	for name, want := range tests {
		if got := EncodedNameLen(name); got != want {
			t.Errorf("Expected EncodedNameLen(%q) = %d, got %d", name, want, got)
		}
	}
}

func TestApplyValuesEscapedNameAtLimit(t *testing.T) {
	d := DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")
	name := strings.Repeat("&", 10) + "abcd"

	if _, err := d.ApplyValues(url.Values{"deviceName": {name}}); err != nil {
		t.Fatalf("Expected name escaping to %d bytes accepted, got %v", MaxNameLen, err)
	}
	if d.DeviceName != name {
		t.Errorf("Expected name %q, got %q", name, d.DeviceName)
	}
}
