package proto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEnvelopeEncodeLayout(t *testing.T) {
	env := Envelope{DeviceType: DeviceSwitch, PayloadType: PayloadState, Message: []byte(`{"state":"ON"}`)}

	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(frame) != FrameSize {
		t.Fatalf("Expected frame size %d, got %d", FrameSize, len(frame))
	}
	if frame[0] != byte(DeviceSwitch) || frame[1] != byte(PayloadState) {
		t.Errorf("Expected header [%d %d], got [%d %d]", DeviceSwitch, PayloadState, frame[0], frame[1])
	}
	if !bytes.HasPrefix(frame[HeaderSize:], env.Message) {
		t.Errorf("Expected message at offset %d", HeaderSize)
	}
	for i := HeaderSize + len(env.Message); i < FrameSize; i++ {
		if frame[i] != 0 {
			t.Fatalf("Expected NUL padding at %d, got %#x", i, frame[i])
		}
	}
}

func TestEnvelopeEncodeRejects(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want error
	}{
		{"no device", Envelope{DeviceType: DeviceNone, PayloadType: PayloadSet}, ErrUnknownDevice},
		{"device out of range", Envelope{DeviceType: 9, PayloadType: PayloadSet}, ErrUnknownDevice},
		{"payload zero", Envelope{DeviceType: DeviceSwitch, PayloadType: 0}, ErrUnknownPayload},
		{"payload out of range", Envelope{DeviceType: DeviceSwitch, PayloadType: 8}, ErrUnknownPayload},
		{"message too long", Envelope{DeviceType: DeviceSwitch, PayloadType: PayloadState, Message: bytes.Repeat([]byte("a"), MessageSize)}, ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.env.Encode()
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEnvelopeLongestMessage(t *testing.T) {
	msg := bytes.Repeat([]byte("x"), MessageSize-1)
	frame, err := Envelope{DeviceType: DeviceGateway, PayloadType: PayloadKeepAlive, Message: msg}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(env.Message, msg) {
		t.Errorf("Expected %d byte message back, got %d", len(msg), len(env.Message))
	}
}

func TestDecode(t *testing.T) {
	valid := make([]byte, FrameSize)
	valid[0] = byte(DeviceGateway)
	valid[1] = byte(PayloadSet)
	copy(valid[HeaderSize:], `{"set":"ON"}`)

	trailing := append(bytes.Clone(valid), 0xAA, 0xBB)

	short := valid[:FrameSize-1]

	badDevice := bytes.Clone(valid)
	badDevice[0] = 0

	badPayload := bytes.Clone(valid)
	badPayload[1] = 42

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
		wantMsg string
	}{
		{"valid", valid, nil, `{"set":"ON"}`},
		{"trailing bytes ignored", trailing, nil, `{"set":"ON"}`},
		{"short", short, ErrShortFrame, ""},
		{"empty", nil, ErrShortFrame, ""},
		{"unknown device", badDevice, ErrUnknownDevice, ""},
		{"unknown payload", badPayload, ErrUnknownPayload, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && string(env.Message) != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, env.Message)
			}
		})
	}
}

func TestDecodeUnterminatedMessage(t *testing.T) {
	frame := make([]byte, FrameSize)
	frame[0] = byte(DeviceSwitch)
	frame[1] = byte(PayloadAttributes)
	copy(frame[HeaderSize:], strings.Repeat("z", MessageSize))

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(env.Message) != MessageSize {
		t.Errorf("Expected message clamped to %d bytes, got %d", MessageSize, len(env.Message))
	}
}

func TestFrameAndUnmarshal(t *testing.T) {
	frame, err := Frame(DeviceGateway, PayloadKeepAlive, KeepAlive{MQTT: BridgeOnline})
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var ka KeepAlive
	if err := env.Unmarshal(&ka); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if ka.MQTT != BridgeOnline {
		t.Errorf("Expected MQTT %q, got %q", BridgeOnline, ka.MQTT)
	}

	empty, err := Frame(DeviceSwitch, PayloadKeepAlive, nil)
	if err != nil {
		t.Fatalf("Frame without body failed: %v", err)
	}
	env, _ = Decode(empty)
	if err := env.Unmarshal(&ka); err == nil {
		t.Error("Expected error unmarshalling empty message")
	}
}

func TestSetCommandOn(t *testing.T) {
	tests := map[string]bool{"ON": true, "OFF": false, "": false, "on": false, "TOGGLE": false}
	for in, want := range tests {
		if got := (SetCommand{Set: in}).On(); got != want {
			t.Errorf("SetCommand{%q}.On() = %t, expected %t", in, got, want)
		}
	}
}
