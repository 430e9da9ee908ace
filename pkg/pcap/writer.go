package pcap

import (
	"encoding/binary"
	"io"
	"time"
)

const (
	magicNumber  uint32 = 0xa1b2c3d4
	versionMajor uint16 = 2
	versionMinor uint16 = 4
	snapLen      uint32 = 65535
)

// Link types written in the global header.
const (
	DLTUser0   uint32 = 147 // raw serial bytes, no framing
	DLTRTACSer uint32 = 250 // RTAC Serial: 12-byte header + frame
)

// RTACHeaderLen is the size of the per-packet RTAC Serial header.
const RTACHeaderLen = 12

// Writer writes packets in libpcap format.
type Writer struct {
	w        io.Writer
	order    binary.ByteOrder
	linkType uint32
}

// NewWriter creates a Writer and writes the 24-byte pcap global header in
// the given byte order.
func NewWriter(w io.Writer, order binary.ByteOrder, linkType uint32) (*Writer, error) {
	hdr := struct {
		Magic        uint32
		VersionMajor uint16
		VersionMinor uint16
		ThisZone     int32
		SigFigs      uint32
		SnapLen      uint32
		LinkType     uint32
	}{
		Magic:        magicNumber,
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
		SnapLen:      snapLen,
		LinkType:     linkType,
	}
	if err := binary.Write(w, order, &hdr); err != nil {
		return nil, err
	}
	return &Writer{w: w, order: order, linkType: linkType}, nil
}

// LinkType returns the link type from the global header.
func (pw *Writer) LinkType() uint32 {
	return pw.linkType
}

// WritePacket writes a single packet with its timestamp and raw data.
func (pw *Writer) WritePacket(ts time.Time, data []byte) error {
	length := uint32(len(data))
	hdr := struct {
		TsSec   uint32
		TsUsec  uint32
		CapLen  uint32
		OrigLen uint32
	}{
		TsSec:   uint32(ts.Unix()),
		TsUsec:  uint32(ts.Nanosecond() / 1000),
		CapLen:  length,
		OrigLen: length,
	}
	if err := binary.Write(pw.w, pw.order, &hdr); err != nil {
		return err
	}
	_, err := pw.w.Write(data)
	return err
}

// WriteRTAC writes data prefixed with an RTAC Serial header carrying ts and
// eventType (see decoder.Direction).
func (pw *Writer) WriteRTAC(ts time.Time, eventType byte, data []byte) error {
	pkt := make([]byte, RTACHeaderLen, RTACHeaderLen+len(data))
	putRTACHeader(pkt, ts, eventType)
	return pw.WritePacket(ts, append(pkt, data...))
}

// putRTACHeader fills the 12-byte RTAC Serial header. It is big-endian
// regardless of the file byte order.
func putRTACHeader(hdr []byte, ts time.Time, eventType byte) {
	binary.BigEndian.PutUint32(hdr[0:4], uint32(ts.Unix()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(ts.Nanosecond()/1000))
	hdr[8] = eventType
}
