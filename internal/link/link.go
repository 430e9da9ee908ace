// Package link runs request/response exchanges with PRO4 devices over a
// serial line.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"pro4cap/internal/config"
	"pro4cap/internal/metrics"
	"pro4cap/pkg/decoder"
	"pro4cap/pkg/pro4"
)

// PollInterval bounds a single port read so a pending Transact notices
// cancellation and its deadline.
const PollInterval = 10 * time.Millisecond

var (
	ErrNoResponse = errors.New("link: no response before timeout")
	ErrNotRequest = errors.New("link: frame is not a valid request")
)

type Link struct {
	port    io.ReadWriter
	timeout time.Duration
	log     zerolog.Logger
}

// New wraps an open port. Reads on port should return (0, nil) after at
// most PollInterval when no data arrives, as a serial.Port with a read
// timeout does.
func New(port io.ReadWriter, timeout time.Duration, logger zerolog.Logger) *Link {
	return &Link{
		port:    port,
		timeout: timeout,
		log:     logger.With().Str("component", "link").Logger(),
	}
}

// Open opens the configured serial port and returns a Link over it along
// with the port for the caller to close.
func Open(cfg config.SerialConfig, timeout time.Duration, logger zerolog.Logger) (*Link, serial.Port, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, nil, err
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open serial port: %w", err)
	}
	if err := port.SetReadTimeout(PollInterval); err != nil {
		_ = port.Close()
		return nil, nil, fmt.Errorf("set read timeout: %w", err)
	}
	return New(port, timeout, logger), port, nil
}

// Send writes a complete request frame without waiting for a reply.
func (l *Link) Send(frame []byte) error {
	if err := checkRequest(frame); err != nil {
		return err
	}
	l.log.Debug().Hex("frame", frame).Msg("send")
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Transact sends req and waits for the first response frame. Request frames
// read back from the line (bus echo) are skipped, as are bytes that do not
// form a frame. A response with a bad checksum is returned together with
// its validation error. No retries are made.
func (l *Link) Transact(ctx context.Context, req []byte) (pro4.DecodedFrame, error) {
	start := time.Now()
	resp, err := l.transact(ctx, req)
	metrics.RecordTransaction(time.Since(start).Seconds(), err == nil)
	return resp, err
}

func (l *Link) transact(ctx context.Context, req []byte) (pro4.DecodedFrame, error) {
	if err := l.Send(req); err != nil {
		return pro4.DecodedFrame{}, err
	}

	deadline := time.Now().Add(l.timeout)
	buf := make([]byte, 512)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return pro4.DecodedFrame{}, err
		}
		if !time.Now().Before(deadline) {
			l.log.Debug().Int("pending", len(pending)).Dur("timeout", l.timeout).Msg("no response")
			return pro4.DecodedFrame{}, ErrNoResponse
		}

		n, err := l.port.Read(buf)
		if err != nil {
			return pro4.DecodedFrame{}, fmt.Errorf("read response: %w", err)
		}
		if n == 0 {
			continue
		}
		pending = append(pending, buf[:n]...)

		frames, rest := decoder.SplitFramesPartial(pending)
		hold := -1
		off := 0
		for _, f := range frames {
			start := off
			off += len(f.Data)
			switch f.Dir {
			case decoder.DirRequest:
				l.log.Trace().Hex("frame", f.Data).Msg("skipping echoed request")
			case decoder.DirUnknown:
				// The splitter drops frames whose header checksum fails. A
				// response in there is still reported, with its flags.
				resp, at, err := damagedResponse(f.Data)
				switch {
				case err == nil:
					return l.response(resp)
				case errors.Is(err, pro4.ErrTruncatedFrame) && hold < 0:
					hold = start + at
				default:
					l.log.Debug().Hex("bytes", f.Data).Msg("skipping unframed bytes")
				}
			case decoder.DirResponse:
				resp, err := pro4.Decode(f.Data)
				if err != nil {
					return pro4.DecodedFrame{}, err
				}
				return l.response(resp)
			}
		}
		if hold >= 0 {
			pending = append([]byte(nil), pending[hold:]...)
		} else {
			pending = rest
		}
	}
}

func (l *Link) response(resp pro4.DecodedFrame) (pro4.DecodedFrame, error) {
	l.log.Debug().
		Stringer("id", resp.Header.ID).
		Uint8("csr", resp.Header.CSR).
		Bool("header_valid", resp.HeaderChecksumValid).
		Bool("total_valid", resp.TotalChecksumValid).
		Msg("response")
	return resp, resp.Validate()
}

var errNoSync = errors.New("link: no response sync word")

// damagedResponse decodes the first response-shaped frame in an unframed
// run and returns its offset in b.
func damagedResponse(b []byte) (pro4.DecodedFrame, int, error) {
	for i := range b {
		s, err := pro4.ParseSyncWord(b[i:])
		if err != nil || !s.IsResponse() {
			continue
		}
		f, err := pro4.Decode(b[i:])
		return f, i, err
	}
	return pro4.DecodedFrame{}, 0, errNoSync
}

func checkRequest(frame []byte) error {
	f, err := pro4.Decode(frame)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRequest, err)
	}
	if !f.Header.Sync.IsRequest() || f.Size != len(frame) || !f.Valid() {
		return ErrNotRequest
	}
	return nil
}
