package pro4

import (
	"errors"
	"fmt"
)

// DecodedFrame is the result of parsing one frame. Checksum failures are
// reported through the validity flags; the frame is still returned so the
// caller can log it before dropping it.
type DecodedFrame struct {
	Header              Header
	Payload             []byte // sub-slice of the decoded buffer
	TotalChecksum       uint32
	HeaderChecksumValid bool
	TotalChecksumValid  bool
	Size                int // bytes consumed from the buffer
}

// Valid reports whether both checksums matched.
func (f DecodedFrame) Valid() bool {
	return f.HeaderChecksumValid && f.TotalChecksumValid
}

// Validate returns the checksum mismatches of f as an error, or nil.
func (f DecodedFrame) Validate() error {
	var errs []error
	if !f.HeaderChecksumValid {
		errs = append(errs, ErrHeaderChecksumMismatch)
	}
	if !f.TotalChecksumValid {
		errs = append(errs, ErrTotalChecksumMismatch)
	}
	return errors.Join(errs...)
}

// Decode parses the frame at the start of buf. Bytes after the frame are
// ignored; DecodedFrame.Size tells how many were used. Request-shaped frames
// decode the same way as responses.
//
// Decode fails with ErrUnknownSyncWord, ErrTruncatedFrame or
// ErrUnsupportedExtendedLength. Checksum mismatches are not errors.
func Decode(buf []byte) (DecodedFrame, error) {
	sync, err := ParseSyncWord(buf)
	if err != nil {
		return DecodedFrame{}, err
	}

	w := sync.Width()
	headerEnd := HeaderSize(sync)
	if len(buf) < headerEnd {
		return DecodedFrame{}, fmt.Errorf("%w: %d bytes, %s header needs %d",
			ErrTruncatedFrame, len(buf), sync, headerEnd)
	}

	h := Header{
		Sync:       sync,
		ID:         Address(buf[offsetID]),
		Flags:      buf[offsetFlags],
		CSR:        buf[offsetCSR],
		PayloadLen: buf[offsetPayloadLen],
		Checksum:   readChecksum(buf[FixedHeaderSize:], w),
	}
	if h.PayloadLen == ExtendedLength {
		return DecodedFrame{}, ErrUnsupportedExtendedLength
	}

	payloadEnd := headerEnd + int(h.PayloadLen)
	frameEnd := payloadEnd + int(w)
	if len(buf) < frameEnd {
		return DecodedFrame{}, fmt.Errorf("%w: %d bytes, frame with %d byte payload needs %d",
			ErrTruncatedFrame, len(buf), h.PayloadLen, frameEnd)
	}

	payload := buf[headerEnd:payloadEnd]
	total := readChecksum(buf[payloadEnd:], w)

	return DecodedFrame{
		Header:              h,
		Payload:             payload,
		TotalChecksum:       total,
		HeaderChecksumValid: checksum(w, buf[:FixedHeaderSize]) == h.Checksum,
		TotalChecksumValid:  checksum(w, payload) == total,
		Size:                frameEnd,
	}, nil
}

// DeclaredSize returns the full frame size announced by the header prefix of
// buf, or an error when the prefix is too short or not a frame.
func DeclaredSize(buf []byte) (int, error) {
	sync, err := ParseSyncWord(buf)
	if err != nil {
		return 0, err
	}
	if len(buf) < FixedHeaderSize {
		return 0, fmt.Errorf("%w: %d bytes, need %d for length", ErrTruncatedFrame, len(buf), FixedHeaderSize)
	}
	n := buf[offsetPayloadLen]
	if n == ExtendedLength {
		return 0, ErrUnsupportedExtendedLength
	}
	return FrameSize(sync, int(n)), nil
}
