package pro4

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed part of a frame plus its header checksum.
type Header struct {
	Sync       SyncWord
	ID         Address
	Flags      uint8
	CSR        uint8
	PayloadLen uint8
	Checksum   uint32 // 1 or 4 significant bytes depending on Sync.Width()
}

// Frame is a logical command or reply. Header.PayloadLen and Header.Checksum
// are derived on encode.
type Frame struct {
	Header  Header
	Payload []byte
}

// Size returns the encoded size of f.
func (f Frame) Size() int {
	return FrameSize(f.Header.Sync, len(f.Payload))
}

// Encode builds the wire bytes for f in either direction.
func (f Frame) Encode() ([]byte, error) {
	return build(f.Header.Sync, f.Header.ID, f.Header.Flags, f.Header.CSR, f.Payload)
}

// Encode builds a host-to-device request frame. sync must be RequestCrc8 or
// RequestCrc32.
func Encode(sync SyncWord, id Address, flags, csr uint8, payload []byte) ([]byte, error) {
	if !sync.IsRequest() {
		return nil, fmt.Errorf("%w: encode request with %s", ErrWrongDirection, sync)
	}
	return build(sync, id, flags, csr, payload)
}

// EncodeResponse builds a device-to-host frame, as emitted by PRO4 firmware.
func EncodeResponse(sync SyncWord, id Address, flags, csr uint8, payload []byte) ([]byte, error) {
	if !sync.IsResponse() {
		return nil, fmt.Errorf("%w: encode response with %s", ErrWrongDirection, sync)
	}
	return build(sync, id, flags, csr, payload)
}

// RebootRequest builds the utility-register write that reboots node id.
func RebootRequest(sync SyncWord, id Address) ([]byte, error) {
	var magic [2]byte
	binary.LittleEndian.PutUint16(magic[:], RebootMagic)
	return Encode(sync, id, 0, CSRUtility, magic[:])
}

// build lays out sync, id, flags, csr, length, the header checksum over those
// six bytes, the payload, and the total checksum over the payload.
func build(sync SyncWord, id Address, flags, csr uint8, payload []byte) ([]byte, error) {
	if !sync.Valid() {
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownSyncWord, uint16(sync))
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	w := sync.Width()
	buf := make([]byte, FrameSize(sync, len(payload)))

	binary.LittleEndian.PutUint16(buf[0:SyncSize], uint16(sync))
	buf[offsetID] = uint8(id)
	buf[offsetFlags] = flags
	buf[offsetCSR] = csr
	buf[offsetPayloadLen] = uint8(len(payload))
	putChecksum(buf[FixedHeaderSize:], w, checksum(w, buf[:FixedHeaderSize]))

	payloadStart := FixedHeaderSize + int(w)
	payloadEnd := payloadStart + copy(buf[payloadStart:], payload)
	putChecksum(buf[payloadEnd:], w, checksum(w, buf[payloadStart:payloadEnd]))

	return buf, nil
}
