package main

import (
	"encoding/hex"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"pro4cap/internal/metrics"
	"pro4cap/pkg/decoder"
	"pro4cap/pkg/payload"
	"pro4cap/pkg/pro4"
)

// frameRecord is one line of the JSON capture log.
type frameRecord struct {
	Session     string         `json:"session"`
	Seq         int            `json:"seq"`
	Time        time.Time      `json:"time"`
	Direction   string         `json:"direction"`
	Sync        string         `json:"sync,omitempty"`
	ID          string         `json:"id,omitempty"`
	Flags       uint8          `json:"flags"`
	CSR         uint8          `json:"csr"`
	PayloadLen  int            `json:"payload_len"`
	HeaderValid bool           `json:"header_valid"`
	TotalValid  bool           `json:"total_valid"`
	Raw         string         `json:"raw"`
	Schema      string         `json:"schema,omitempty"`
	Payload     payload.Record `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// recordWriter writes newline-delimited JSON, one record per captured frame.
type recordWriter struct {
	enc      *json.Encoder
	session  string
	seq      int
	registry *payload.Registry
	device   pro4.DeviceType
	decode   bool
}

func newRecordWriter(w io.Writer, registry *payload.Registry) *recordWriter {
	return &recordWriter{
		enc:      json.NewEncoder(w),
		session:  uuid.NewString(),
		registry: registry,
	}
}

// decodeAs turns on payload decoding of response frames for device d.
func (rw *recordWriter) decodeAs(d pro4.DeviceType) {
	rw.device = d
	rw.decode = true
}

func (rw *recordWriter) write(ts time.Time, frame decoder.Frame) error {
	rw.seq++
	rec := frameRecord{
		Session:   rw.session,
		Seq:       rw.seq,
		Time:      ts,
		Direction: frame.Dir.String(),
		Raw:       hex.EncodeToString(frame.Data),
	}
	f, err := pro4.Decode(frame.Data)
	switch {
	case err == nil:
	case frame.Dir == decoder.DirUnknown:
		return rw.enc.Encode(rec)
	default:
		rec.Error = err.Error()
		return rw.enc.Encode(rec)
	}
	// Unframed runs that still decode start with a header-damaged frame.
	rec.Sync = f.Header.Sync.String()
	rec.ID = f.Header.ID.String()
	rec.Flags = f.Header.Flags
	rec.CSR = f.Header.CSR
	rec.PayloadLen = len(f.Payload)
	rec.HeaderValid = f.HeaderChecksumValid
	rec.TotalValid = f.TotalChecksumValid

	if rw.decode && frame.Dir == decoder.DirResponse {
		r, err := rw.registry.DecodeFrame(rw.device, f)
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Schema = r.SchemaName()
			rec.Payload = r
			metrics.RecordPayload(rec.Schema)
		}
	}
	return rw.enc.Encode(rec)
}
