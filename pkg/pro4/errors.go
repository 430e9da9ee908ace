package pro4

import "errors"

var (
	ErrUnknownSyncWord           = errors.New("pro4: unknown sync word")
	ErrTruncatedFrame            = errors.New("pro4: truncated frame")
	ErrUnsupportedExtendedLength = errors.New("pro4: extended payload length not supported")
	ErrHeaderChecksumMismatch    = errors.New("pro4: header checksum mismatch")
	ErrTotalChecksumMismatch     = errors.New("pro4: total checksum mismatch")
	ErrPayloadTooLarge           = errors.New("pro4: payload too large")
	ErrWrongDirection            = errors.New("pro4: sync word has wrong direction")
)
