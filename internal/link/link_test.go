package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pro4cap/internal/testutil/testlog"
	"pro4cap/pkg/pro4"
)

// fakePort hands out queued chunks one per Read and reports (0, nil) once
// they run out, like a serial port hitting its read timeout.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	chunks  [][]byte
	readErr error
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func mustFrame(t *testing.T, enc func(pro4.SyncWord, pro4.Address, uint8, uint8, []byte) ([]byte, error),
	sync pro4.SyncWord, id pro4.Address, csr uint8, payload []byte) []byte {
	t.Helper()
	b, err := enc(sync, id, 0, csr, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestTransact(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x3D, pro4.CSRCustomCommand, []byte{0xAA, 0x3D, 0, 0, 0, 0})
	resp := mustFrame(t, pro4.EncodeResponse, pro4.ResponseCrc32, 0x3D, pro4.CSRCustomCommand, make([]byte, 17))

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"single read", [][]byte{resp}},
		{"split across reads", [][]byte{resp[:3], resp[3:9], resp[9:]}},
		{"echo first", [][]byte{req, resp}},
		{"noise then response", [][]byte{{0x00, 0x13, 0x37}, resp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{chunks: tt.chunks}
			l := New(port, time.Second, testlog.New(t))

			got, err := l.Transact(context.Background(), req)
			if err != nil {
				t.Fatalf("Transact: %v", err)
			}
			if !bytes.Equal(port.written.Bytes(), req) {
				t.Errorf("written = %x, want %x", port.written.Bytes(), req)
			}
			if got.Header.Sync != pro4.ResponseCrc32 || got.Header.ID != 0x3D || len(got.Payload) != 17 {
				t.Errorf("response = %+v", got.Header)
			}
		})
	}
}

func TestTransactTimeout(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x01, pro4.CSRCustomCommand, nil)
	port := &fakePort{chunks: [][]byte{req}}
	l := New(port, 20*time.Millisecond, testlog.New(t))

	if _, err := l.Transact(context.Background(), req); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
}

func TestTransactCanceled(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x01, pro4.CSRCustomCommand, nil)
	l := New(&fakePort{}, time.Minute, testlog.New(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Transact(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTransactBadChecksum(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x3D, pro4.CSRCustomCommand, nil)
	resp := mustFrame(t, pro4.EncodeResponse, pro4.ResponseCrc8, 0x3D, pro4.CSRCustomCommand, []byte{1, 2, 3})
	resp[len(resp)-1] ^= 0xFF

	l := New(&fakePort{chunks: [][]byte{resp}}, time.Second, testlog.New(t))
	got, err := l.Transact(context.Background(), req)
	if !errors.Is(err, pro4.ErrTotalChecksumMismatch) {
		t.Fatalf("err = %v, want ErrTotalChecksumMismatch", err)
	}
	if !got.HeaderChecksumValid || got.TotalChecksumValid {
		t.Errorf("flags = header %v total %v", got.HeaderChecksumValid, got.TotalChecksumValid)
	}
}

func TestTransactBadHeaderChecksum(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x3D, pro4.CSRCustomCommand, nil)
	resp := mustFrame(t, pro4.EncodeResponse, pro4.ResponseCrc8, 0x3D, pro4.CSRCustomCommand, []byte{1, 2, 3})
	resp[3] ^= 0x01

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"single read", [][]byte{resp}},
		{"cut inside header", [][]byte{resp[:4], resp[4:]}},
		{"cut inside payload", [][]byte{resp[:8], resp[8:]}},
		{"noise before", [][]byte{append([]byte{0x00, 0x13}, resp...)}},
		{"noise before and cut", [][]byte{append([]byte{0x00, 0x13}, resp[:8]...), resp[8:]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&fakePort{chunks: tt.chunks}, time.Second, testlog.New(t))
			got, err := l.Transact(context.Background(), req)
			if !errors.Is(err, pro4.ErrHeaderChecksumMismatch) {
				t.Fatalf("err = %v, want ErrHeaderChecksumMismatch", err)
			}
			if got.HeaderChecksumValid || !got.TotalChecksumValid {
				t.Errorf("flags = header %v total %v", got.HeaderChecksumValid, got.TotalChecksumValid)
			}
			if got.Header.ID != 0x3D || got.Header.Flags != 0x01 {
				t.Errorf("header = %+v", got.Header)
			}
			if !bytes.Equal(got.Payload, []byte{1, 2, 3}) {
				t.Errorf("payload = %x", got.Payload)
			}
		})
	}
}

func TestTransactReadError(t *testing.T) {
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x01, pro4.CSRCustomCommand, nil)
	boom := errors.New("port gone")
	l := New(&fakePort{readErr: boom}, time.Second, testlog.New(t))

	if _, err := l.Transact(context.Background(), req); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped read error", err)
	}
}

func TestSendRejectsNonRequest(t *testing.T) {
	resp := mustFrame(t, pro4.EncodeResponse, pro4.ResponseCrc8, 0x01, pro4.CSRCustomCommand, nil)
	req := mustFrame(t, pro4.Encode, pro4.RequestCrc8, 0x01, pro4.CSRCustomCommand, []byte{9})
	corrupt := append([]byte(nil), req...)
	corrupt[len(corrupt)-1] ^= 0x01

	for name, frame := range map[string][]byte{
		"response":  resp,
		"truncated": req[:len(req)-1],
		"corrupt":   corrupt,
		"trailing":  append(append([]byte(nil), req...), 0x00),
	} {
		t.Run(name, func(t *testing.T) {
			port := &fakePort{}
			if err := New(port, time.Second, testlog.New(t)).Send(frame); !errors.Is(err, ErrNotRequest) {
				t.Errorf("err = %v, want ErrNotRequest", err)
			}
			if port.written.Len() != 0 {
				t.Errorf("wrote %x", port.written.Bytes())
			}
		})
	}
}
