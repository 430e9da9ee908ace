package payload

import (
	"fmt"
	"sync"

	"pro4cap/pkg/pro4"
)

// Registry maps device types to payload schemas. Bindings are add-only.
// The zero value is an empty registry ready for use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[pro4.DeviceType]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[pro4.DeviceType]Schema)}
}

// DefaultRegistry returns a registry with the built-in device bindings.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.schemas[pro4.DeviceThruster] = Motor
	r.schemas[pro4.DeviceLight] = Light
	r.schemas[pro4.DeviceSensorModule] = BAM
	return r
}

// Register binds s to d. An existing binding is never replaced.
func (r *Registry) Register(d pro4.DeviceType, s Schema) error {
	if s.build == nil {
		return fmt.Errorf("payload: schema %q has no decoder", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.schemas[d]; ok {
		return fmt.Errorf("%w: %s is bound to %s", ErrSchemaExists, d, old.Name)
	}
	if r.schemas == nil {
		r.schemas = make(map[pro4.DeviceType]Schema)
	}
	r.schemas[d] = s
	return nil
}

// Lookup returns the schema bound to d.
func (r *Registry) Lookup(d pro4.DeviceType) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[d]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownDeviceType, d)
	}
	return s, nil
}

// DecodeFrame decodes the payload of f with the schema bound to d. Frames
// with a failed checksum are refused with the checksum error.
func (r *Registry) DecodeFrame(d pro4.DeviceType, f pro4.DecodedFrame) (Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s, err := r.Lookup(d)
	if err != nil {
		return nil, err
	}
	return Decode(s, f.Payload)
}

// NewSchema builds a schema for a device type that is not built in. decode
// receives exactly Width() bytes.
func NewSchema(name string, fields []Field, decode func(b []byte) Record) Schema {
	return Schema{
		Name:   name,
		Fields: fields,
		build: func(r *reader) Record {
			rec := decode(r.b[r.off:])
			r.off = len(r.b)
			return rec
		},
	}
}
