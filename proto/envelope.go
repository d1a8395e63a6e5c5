package proto

import (
	"bytes"
	"fmt"
)

const (
	MessageSize = 200
	HeaderSize  = 2
	FrameSize   = HeaderSize + MessageSize
)

type DeviceType uint8

const (
	DeviceNone DeviceType = iota
	DeviceSwitch
	DeviceSensor
	DeviceGateway
)

func (d DeviceType) Valid() bool {
	return d >= DeviceSwitch && d <= DeviceGateway
}

func (d DeviceType) String() string {
	switch d {
	case DeviceSwitch:
		return "switch"
	case DeviceSensor:
		return "sensor"
	case DeviceGateway:
		return "gateway"
	}
	return fmt.Sprintf("device(%d)", uint8(d))
}

type PayloadType uint8

const (
	PayloadKeepAlive PayloadType = iota + 1
	PayloadSet
	PayloadState
	PayloadAttributes
	PayloadConfig
	PayloadUpdate
	PayloadRestart
)

func (p PayloadType) Valid() bool {
	return p >= PayloadKeepAlive && p <= PayloadRestart
}

func (p PayloadType) String() string {
	switch p {
	case PayloadKeepAlive:
		return "keep-alive"
	case PayloadSet:
		return "set"
	case PayloadState:
		return "state"
	case PayloadAttributes:
		return "attributes"
	case PayloadConfig:
		return "config"
	case PayloadUpdate:
		return "update"
	case PayloadRestart:
		return "restart"
	}
	return fmt.Sprintf("payload(%d)", uint8(p))
}

// Envelope is the fixed-size frame exchanged between peers. Message carries JSON text.
type Envelope struct {
	DeviceType  DeviceType
	PayloadType PayloadType
	Message     []byte
}

// Encode lays the envelope out as deviceType | payloadType | message padded with NUL
// to MessageSize. The final message byte is always NUL.
func (e Envelope) Encode() ([]byte, error) {
	if !e.DeviceType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, e.DeviceType)
	}
	if !e.PayloadType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayload, e.PayloadType)
	}
	if len(e.Message) > MessageSize-1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(e.Message))
	}

	frame := make([]byte, FrameSize)
	frame[0] = byte(e.DeviceType)
	frame[1] = byte(e.PayloadType)
	copy(frame[HeaderSize:], e.Message)
	return frame, nil
}

// Decode validates a received frame. Bytes past FrameSize are ignored and the
// message is cut at the first NUL.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < FrameSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}

	env := Envelope{
		DeviceType:  DeviceType(frame[0]),
		PayloadType: PayloadType(frame[1]),
	}
	if !env.DeviceType.Valid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownDevice, frame[0])
	}
	if !env.PayloadType.Valid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownPayload, frame[1])
	}

	msg := frame[HeaderSize:FrameSize]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	env.Message = bytes.Clone(msg)
	return env, nil
}
