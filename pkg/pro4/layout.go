// Package pro4 encodes and decodes frames of the PRO4 serial protocol used by
// ROV thrusters, lights and sensor modules on an RS-485 tether.
package pro4

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SyncWord is the 16-bit value at the start of every frame, read little-endian.
// It selects the direction (request or response) and the checksum width.
type SyncWord uint16

const (
	RequestCrc8   SyncWord = 0xAFFA // wire: FA AF
	RequestCrc32  SyncWord = 0x5FF5 // wire: F5 5F
	ResponseCrc8  SyncWord = 0xDFFD // wire: FD DF
	ResponseCrc32 SyncWord = 0x0FF0 // wire: F0 0F
)

// CrcWidth is the size in bytes of the header and total checksum trailers.
type CrcWidth int

const (
	WidthByte CrcWidth = 1
	WidthWord CrcWidth = 4
)

// Fixed header layout.
const (
	SyncSize         = 2
	FixedHeaderSize  = 6 // sync + id + flags + csr + length
	MaxPayloadSize   = 254
	ExtendedLength   = 0xFF
	offsetID         = 2
	offsetFlags      = 3
	offsetCSR        = 4
	offsetPayloadLen = 5
)

// ParseSyncWord reads the sync word from the first two bytes of b.
func ParseSyncWord(b []byte) (SyncWord, error) {
	if len(b) < SyncSize {
		return 0, fmt.Errorf("%w: %d bytes, need %d for sync word", ErrTruncatedFrame, len(b), SyncSize)
	}
	s := SyncWord(binary.LittleEndian.Uint16(b))
	if !s.Valid() {
		return 0, fmt.Errorf("%w: 0x%04X", ErrUnknownSyncWord, uint16(s))
	}
	return s, nil
}

// Valid reports whether s is one of the four legal sync words.
func (s SyncWord) Valid() bool {
	switch s {
	case RequestCrc8, RequestCrc32, ResponseCrc8, ResponseCrc32:
		return true
	}
	return false
}

// Width returns the checksum trailer width for s. It returns 0 for an
// illegal sync word.
func (s SyncWord) Width() CrcWidth {
	switch s {
	case RequestCrc8, ResponseCrc8:
		return WidthByte
	case RequestCrc32, ResponseCrc32:
		return WidthWord
	}
	return 0
}

// IsRequest reports whether s marks a host-to-device frame.
func (s SyncWord) IsRequest() bool {
	return s == RequestCrc8 || s == RequestCrc32
}

// IsResponse reports whether s marks a device-to-host frame.
func (s SyncWord) IsResponse() bool {
	return s == ResponseCrc8 || s == ResponseCrc32
}

// Response returns the response sync word with the same checksum width.
func (s SyncWord) Response() SyncWord {
	switch s {
	case RequestCrc8, ResponseCrc8:
		return ResponseCrc8
	case RequestCrc32, ResponseCrc32:
		return ResponseCrc32
	}
	return s
}

// Request returns the request sync word with the same checksum width.
func (s SyncWord) Request() SyncWord {
	switch s {
	case RequestCrc8, ResponseCrc8:
		return RequestCrc8
	case RequestCrc32, ResponseCrc32:
		return RequestCrc32
	}
	return s
}

// Bytes returns the wire encoding of s.
func (s SyncWord) Bytes() [SyncSize]byte {
	var b [SyncSize]byte
	binary.LittleEndian.PutUint16(b[:], uint16(s))
	return b
}

func (s SyncWord) String() string {
	switch s {
	case RequestCrc8:
		return "request/crc8"
	case RequestCrc32:
		return "request/crc32"
	case ResponseCrc8:
		return "response/crc8"
	case ResponseCrc32:
		return "response/crc32"
	}
	return fmt.Sprintf("sync(0x%04X)", uint16(s))
}

// HeaderSize returns the fixed header plus header checksum size for s.
func HeaderSize(s SyncWord) int {
	return FixedHeaderSize + int(s.Width())
}

// FrameSize returns the full wire size of a frame with the given payload length.
func FrameSize(s SyncWord, payloadLen int) int {
	w := int(s.Width())
	return FixedHeaderSize + w + payloadLen + w
}

// Address is the frame id byte. The high bits double as addressing flags.
type Address uint8

const (
	Broadcast     Address = 0xFF
	MulticastFlag Address = 0x80
	RelayFlag     Address = 0x40
	nodeIDMask    Address = 0x3F
)

// Multicast returns the multicast address for group.
func Multicast(group uint8) Address {
	return MulticastFlag | Address(group)&nodeIDMask
}

// WithRelay returns a with the relay-request flag set.
func WithRelay(a Address) Address {
	if a == Broadcast {
		return a
	}
	return a | RelayFlag
}

func (a Address) IsBroadcast() bool { return a == Broadcast }

func (a Address) IsMulticast() bool { return a != Broadcast && a&MulticastFlag != 0 }

func (a Address) WantsRelay() bool { return a != Broadcast && a&RelayFlag != 0 }

// NodeID returns the address with the flag bits stripped.
func (a Address) NodeID() uint8 { return uint8(a & nodeIDMask) }

func (a Address) String() string {
	if a.IsBroadcast() {
		return "broadcast"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", a.NodeID())
	if a.IsMulticast() {
		sb.WriteString("/multicast")
	}
	if a.WantsRelay() {
		sb.WriteString("/relay")
	}
	return sb.String()
}

// Reserved CSR addresses shared by every device type.
const (
	CSRCustomCommand uint8 = 0xF0
	CSRConfigSize    uint8 = 0xF5
	CSRConfigData    uint8 = 0xF7
	CSRNodeID        uint8 = 0xFB
	CSRGroupID       uint8 = 0xFC
	CSRDeviceID      uint8 = 0xFD
	CSRUtility       uint8 = 0xFE

	// RebootMagic is written to CSRUtility, low byte first.
	RebootMagic uint16 = 0xDEAD
)

// DeviceType identifies a device class. It is never carried in the frame;
// callers know it from the bus topic or node they are talking to.
type DeviceType uint8

const (
	DeviceHost            DeviceType = 0x00
	DeviceROV             DeviceType = 0x01
	DeviceManipulator     DeviceType = 0x02
	DeviceCamera          DeviceType = 0x03
	DeviceThruster        DeviceType = 0x04
	DeviceRadiationSensor DeviceType = 0x05
	DeviceCPProbe         DeviceType = 0x06
	DeviceLight           DeviceType = 0x07
	DeviceSensorModule    DeviceType = 0x08
	DeviceProtocolAdapter DeviceType = 0x10
	DeviceSmartTether     DeviceType = 0x50
)

var deviceNames = map[DeviceType]string{
	DeviceHost:            "host",
	DeviceROV:             "rov",
	DeviceManipulator:     "manipulator",
	DeviceCamera:          "camera",
	DeviceThruster:        "thruster",
	DeviceRadiationSensor: "radiation",
	DeviceCPProbe:         "cp-probe",
	DeviceLight:           "light",
	DeviceSensorModule:    "sensor",
	DeviceProtocolAdapter: "adapter",
	DeviceSmartTether:     "tether",
}

func (d DeviceType) String() string {
	if name, ok := deviceNames[d]; ok {
		return name
	}
	return fmt.Sprintf("device(0x%02X)", uint8(d))
}

// ParseDeviceType accepts a device name as printed by String.
func ParseDeviceType(name string) (DeviceType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, n := range deviceNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown device type %q", name)
}
