package pro4

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sigurn/crc8"
)

// Crc8Params is the 8-bit checksum spoken by PRO4 firmware. The x^8+1
// polynomial folds every input byte together with XOR.
var Crc8Params = crc8.Params{
	Poly:   0x01,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0x31,
	Name:   "CRC-8/PRO4",
}

var (
	crc8Table  = crc8.MakeTable(Crc8Params)
	crc32Table = crc32.IEEETable
)

// Crc8 returns the 8-bit PRO4 checksum of b.
func Crc8(b []byte) uint8 {
	return crc8.Checksum(b, crc8Table)
}

// Crc32 returns the 32-bit PRO4 checksum (CRC-32/IEEE) of b.
func Crc32(b []byte) uint32 {
	return crc32.Checksum(b, crc32Table)
}

// checksum computes the trailer for b at width w.
func checksum(w CrcWidth, b []byte) uint32 {
	if w == WidthByte {
		return uint32(Crc8(b))
	}
	return Crc32(b)
}

func putChecksum(dst []byte, w CrcWidth, v uint32) {
	if w == WidthByte {
		dst[0] = uint8(v)
		return
	}
	binary.LittleEndian.PutUint32(dst, v)
}

func readChecksum(src []byte, w CrcWidth) uint32 {
	if w == WidthByte {
		return uint32(src[0])
	}
	return binary.LittleEndian.Uint32(src)
}
