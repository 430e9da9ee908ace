// Package payload decodes PRO4 frame payloads into typed telemetry records.
//
// Each device class has a fixed-width Schema. The caller picks the schema
// (usually through a Registry keyed by device type) because frame headers do
// not say what kind of device sent them.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrPayloadLengthMismatch = errors.New("payload: length does not match schema")
	ErrUnknownDeviceType     = errors.New("payload: no schema for device type")
	ErrSchemaExists          = errors.New("payload: schema already registered")
	ErrTooManyValues         = errors.New("payload: too many values for one frame")
)

// Kind is the wire type of a schema field. All multi-byte kinds are
// little-endian.
type Kind uint8

const (
	Uint8 Kind = iota + 1
	Uint16
	Float32
	Bytes
)

func (k Kind) size() int {
	switch k {
	case Uint8, Bytes:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	case Bytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is one entry of a schema. Count > 1 makes it a fixed-length array
// (for Bytes, a byte string of Count bytes).
type Field struct {
	Name  string
	Kind  Kind
	Count int
}

func (f Field) count() int {
	if f.Count < 1 {
		return 1
	}
	return f.Count
}

// Width returns the field size in bytes.
func (f Field) Width() int {
	return f.Kind.size() * f.count()
}

// Record is a typed, decoded payload.
type Record interface {
	SchemaName() string
}

// Schema is a fixed-width payload layout. Fields describe the layout; build
// reads the same fields in the same order into a typed record.
type Schema struct {
	Name   string
	Fields []Field
	build  func(r *reader) Record
}

// Width returns the fixed payload size of s.
func (s Schema) Width() int {
	n := 0
	for _, f := range s.Fields {
		n += f.Width()
	}
	return n
}

func (s Schema) checkLength(b []byte) error {
	if len(b) != s.Width() {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrPayloadLengthMismatch, s.Name, s.Width(), len(b))
	}
	return nil
}

// Decode turns b into the typed record for s. b must be exactly s.Width()
// bytes; decoding does not look at frame checksums.
func Decode(s Schema, b []byte) (Record, error) {
	if err := s.checkLength(b); err != nil {
		return nil, err
	}
	return s.build(&reader{b: b}), nil
}

// Value is one named field value, for display.
type Value struct {
	Name  string
	Value any
}

// Values decodes b field by field in schema order. Arrays come back as
// slices, byte strings as []byte.
func Values(s Schema, b []byte) ([]Value, error) {
	if err := s.checkLength(b); err != nil {
		return nil, err
	}
	r := &reader{b: b}
	out := make([]Value, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, Value{Name: f.Name, Value: r.field(f)})
	}
	return out, nil
}

// reader walks a payload whose length has already been checked.
type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) f32() float32 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return v
}

func (r *reader) f32s(dst []float32) {
	for i := range dst {
		dst[i] = r.f32()
	}
}

func (r *reader) bytes(dst []byte) {
	r.off += copy(dst, r.b[r.off:])
}

func (r *reader) field(f Field) any {
	switch f.Kind {
	case Uint8:
		if f.count() == 1 {
			return r.u8()
		}
		v := make([]uint8, f.count())
		r.bytes(v)
		return v
	case Uint16:
		if f.count() == 1 {
			return r.u16()
		}
		v := make([]uint16, f.count())
		for i := range v {
			v[i] = r.u16()
		}
		return v
	case Float32:
		if f.count() == 1 {
			return r.f32()
		}
		v := make([]float32, f.count())
		r.f32s(v)
		return v
	case Bytes:
		v := make([]byte, f.count())
		r.bytes(v)
		return v
	}
	return nil
}
