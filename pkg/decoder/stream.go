package decoder

import (
	"encoding/binary"
	"errors"

	"pro4cap/pkg/pro4"
)

// Direction classifies a captured PRO4 frame as a request or response.
// The values intentionally match the RTAC Serial event type byte.
type Direction uint8

const (
	DirUnknown  Direction = 0x00 // STATUS_CHANGE, not a frame
	DirRequest  Direction = 0x01 // DATA_TX_START
	DirResponse Direction = 0x02 // DATA_RX_START
)

func (d Direction) String() string {
	switch d {
	case DirRequest:
		return "request"
	case DirResponse:
		return "response"
	}
	return "unknown"
}

// Frame is a slice of captured bytes with its classified direction. Data
// holds one complete PRO4 frame unless Dir is DirUnknown.
type Frame struct {
	Data []byte
	Dir  Direction
}

// DirectionOf classifies a sync word.
func DirectionOf(s pro4.SyncWord) Direction {
	switch {
	case s.IsRequest():
		return DirRequest
	case s.IsResponse():
		return DirResponse
	}
	return DirUnknown
}

// FrameLen returns the PRO4 frame length declared by the header at the start
// of data. Returns -1 if data is too short to hold the length byte, does not
// start with a sync word, or declares an extended length.
func FrameLen(data []byte) int {
	n, err := pro4.DeclaredSize(data)
	if err != nil {
		return -1
	}
	return n
}

// ValidHeader reports whether data starts with a sync word and a matching
// header checksum. Only the header bytes are needed.
func ValidHeader(data []byte) bool {
	s, err := pro4.ParseSyncWord(data)
	if err != nil || len(data) < pro4.HeaderSize(s) {
		return false
	}
	return validHeaderPrefix(data, s)
}

type scan int

const (
	scanFrame scan = iota // complete frame at this position
	scanSkip              // not a frame start, skip one byte
	scanShort             // may be a frame start, need more bytes
)

// probe classifies the bytes at the start of data.
func probe(data []byte) (scan, int, Direction) {
	s, err := pro4.ParseSyncWord(data)
	if errors.Is(err, pro4.ErrTruncatedFrame) {
		if data[0] == 0xFA || data[0] == 0xF5 || data[0] == 0xFD || data[0] == 0xF0 {
			return scanShort, 0, DirUnknown
		}
		return scanSkip, 0, DirUnknown
	}
	if err != nil {
		return scanSkip, 0, DirUnknown
	}
	n, err := pro4.DeclaredSize(data)
	if errors.Is(err, pro4.ErrTruncatedFrame) {
		return scanShort, 0, DirUnknown
	}
	if err != nil {
		return scanSkip, 0, DirUnknown
	}
	if len(data) >= pro4.HeaderSize(s) && !validHeaderPrefix(data, s) {
		return scanSkip, 0, DirUnknown
	}
	if n > len(data) {
		return scanShort, 0, DirUnknown
	}
	return scanFrame, n, DirectionOf(s)
}

func validHeaderPrefix(data []byte, s pro4.SyncWord) bool {
	if s.Width() == pro4.WidthByte {
		return pro4.Crc8(data[:pro4.FixedHeaderSize]) == data[pro4.FixedHeaderSize]
	}
	stored := binary.LittleEndian.Uint32(data[pro4.FixedHeaderSize:])
	return pro4.Crc32(data[:pro4.FixedHeaderSize]) == stored
}

// SplitFrames splits a byte slice containing concatenated PRO4 frames into
// individual frames with classified directions. If the frames don't consume
// the entire slice exactly, the original data is returned unsplit with
// DirUnknown.
func SplitFrames(data []byte) []Frame {
	frames, remainder := SplitFramesPartial(data)
	if remainder != nil || len(frames) == 0 {
		return []Frame{{Data: data, Dir: DirUnknown}}
	}
	for _, f := range frames {
		if f.Dir == DirUnknown {
			return []Frame{{Data: data, Dir: DirUnknown}}
		}
	}
	return frames
}

// SplitFramesPartial parses as many complete PRO4 frames as possible from the
// front of data and returns them along with any unparsed remainder bytes.
// Runs of bytes that cannot start a frame (bad sync word, bad header checksum)
// are returned as DirUnknown frames so the stream resynchronises on the next
// sync word. A frame cut off at the end of data becomes the remainder. If all
// bytes are consumed, remainder is nil. The returned remainder is a newly
// allocated copy, not a sub-slice of data.
func SplitFramesPartial(data []byte) ([]Frame, []byte) {
	var frames []Frame
	junk := -1
	flushJunk := func(end int) {
		if junk >= 0 {
			frames = append(frames, Frame{Data: data[junk:end], Dir: DirUnknown})
			junk = -1
		}
	}

	pos := 0
scanLoop:
	for pos < len(data) {
		kind, n, dir := probe(data[pos:])
		switch kind {
		case scanShort:
			break scanLoop
		case scanSkip:
			if junk < 0 {
				junk = pos
			}
			pos++
		case scanFrame:
			flushJunk(pos)
			frames = append(frames, Frame{Data: data[pos : pos+n], Dir: dir})
			pos += n
		}
	}
	flushJunk(pos)

	var remainder []byte
	if pos < len(data) {
		remainder = make([]byte, len(data)-pos)
		copy(remainder, data[pos:])
	}
	return frames, remainder
}
