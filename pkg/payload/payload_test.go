package payload

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"

	"pro4cap/pkg/pro4"
)

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func TestSchemaWidths(t *testing.T) {
	tests := []struct {
		schema Schema
		want   int
	}{
		{Motor, 17},
		{Light, 14},
		{BAM, 104},
	}
	for _, tt := range tests {
		t.Run(tt.schema.Name, func(t *testing.T) {
			if got := tt.schema.Width(); got != tt.want {
				t.Errorf("Width() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Every schema's typed decoder must read exactly the bytes its field list
// describes.
func TestSchemaDecoderConsumesWidth(t *testing.T) {
	for _, s := range []Schema{Motor, Light, BAM} {
		t.Run(s.Name, func(t *testing.T) {
			r := &reader{b: make([]byte, s.Width())}
			s.build(r)
			if r.off != s.Width() {
				t.Errorf("decoder read %d bytes, schema width %d", r.off, s.Width())
			}
		})
	}
}

func TestDecodeMotor(t *testing.T) {
	b := make([]byte, 17)
	putF32(b[0:], 1500)
	putF32(b[4:], 48.5)
	putF32(b[8:], 2.25)
	putF32(b[12:], 31)
	b[16] = 0x04

	rec, err := Decode(Motor, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := rec.(MotorTelemetry)
	if !ok {
		t.Fatalf("record type %T, want MotorTelemetry", rec)
	}
	want := MotorTelemetry{RPM: 1500, BusVoltage: 48.5, BusCurrent: 2.25, Temperature: 31, Fault: 4}
	if m != want {
		t.Errorf("record = %+v, want %+v", m, want)
	}
	if m.SchemaName() != "motor" {
		t.Errorf("SchemaName = %q", m.SchemaName())
	}
}

func TestDecodeMotorShort(t *testing.T) {
	_, err := Decode(Motor, make([]byte, 16))
	if !errors.Is(err, ErrPayloadLengthMismatch) {
		t.Errorf("err = %v, want ErrPayloadLengthMismatch", err)
	}
	_, err = Decode(Motor, make([]byte, 18))
	if !errors.Is(err, ErrPayloadLengthMismatch) {
		t.Errorf("long payload: err = %v, want ErrPayloadLengthMismatch", err)
	}
}

func TestDecodeLightVector(t *testing.T) {
	frame, _ := hex.DecodeString("f00f3d02f00ec317c1d48300f23b4266e683be0000484208dff7fe56ff")
	f, err := pro4.Decode(frame)
	if err != nil {
		t.Fatalf("pro4.Decode: %v", err)
	}

	rec, err := DefaultRegistry().DecodeFrame(pro4.DeviceLight, f)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	l, ok := rec.(LightTelemetry)
	if !ok {
		t.Fatalf("record type %T, want LightTelemetry", rec)
	}
	if l.DeviceType != 0x83 || l.Fault != 0x08 || l.Temperature != 50 {
		t.Errorf("record = %+v", l)
	}
	if math.Abs(float64(l.BusVoltage)-46.986328125) > 1e-6 {
		t.Errorf("bus voltage = %v", l.BusVoltage)
	}
	if math.Abs(float64(l.BusCurrent)+0.2576) > 1e-3 {
		t.Errorf("bus current = %v", l.BusCurrent)
	}
}

func TestDecodeSensorBundle(t *testing.T) {
	b := make([]byte, 104)
	prefix, _ := hex.DecodeString("53434e496402004022330500")
	copy(b, prefix)
	for i := 0; i < 13; i++ {
		putF32(b[12+4*i:], float32(i+1))
	}
	putF32(b[64:], 12.1)
	putF32(b[68:], 0.9)
	putF32(b[72:], 5.02)
	putF32(b[76:], 3.31)
	putF32(b[80:], 1013.25)
	putF32(b[84:], 14.5)
	b[88] = 0x01

	rec, err := Decode(BAM, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := rec.(SensorBundle)
	if s.TagString() != "SCNI" {
		t.Errorf("tag = %q, want SCNI", s.TagString())
	}
	if s.Length != 100 || s.Command != 0x02 {
		t.Errorf("length/command = %d/%d", s.Length, s.Command)
	}
	if s.Servo1 != 0x4000 || s.Servo2 != 0x3322 {
		t.Errorf("servos = 0x%04x/0x%04x", s.Servo1, s.Servo2)
	}
	if s.GPIO1 != 0x05 || s.GPIO2 != 0x00 {
		t.Errorf("gpio = %d/%d", s.GPIO1, s.GPIO2)
	}
	if s.Currents != [4]float32{1, 2, 3, 4} || s.Temperatures != [4]float32{5, 6, 7, 8} {
		t.Errorf("currents %v temperatures %v", s.Currents, s.Temperatures)
	}
	if s.Humidity != [2]float32{9, 10} || s.Attitude != [3]float32{11, 12, 13} {
		t.Errorf("humidity %v attitude %v", s.Humidity, s.Attitude)
	}
	if s.SupplyVoltage != 12.1 || s.Rail3V3 != 3.31 || s.Pressure != 1013.25 || s.PressureStatus != 1 {
		t.Errorf("rails/pressure = %+v", s)
	}
}

func TestSensorBundleJSON(t *testing.T) {
	s := SensorBundle{Tag: [4]byte{'S', 'C', 'N', 'I'}, Length: 100, Command: 0x02, Servo1: 0x4000}
	b, err := json.Marshal(Record(s))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal(%s): %v", b, err)
	}
	tests := []struct {
		key  string
		want any
	}{
		{"tag", "SCNI"},
		{"length", float64(100)},
		{"command", float64(2)},
		{"servo1", float64(0x4000)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got[tt.key] != tt.want {
				t.Errorf("%s = %v, want %v in %s", tt.key, got[tt.key], tt.want, b)
			}
		})
	}
	if _, ok := got["Reserved"]; ok {
		t.Errorf("reserved bytes leaked: %s", b)
	}
}

func TestValues(t *testing.T) {
	b := make([]byte, 14)
	b[0] = 0x83
	putF32(b[1:], 24)
	b[13] = 2

	vals, err := Values(Light, b)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(vals) != len(Light.Fields) {
		t.Fatalf("got %d values, want %d", len(vals), len(Light.Fields))
	}
	if vals[0].Name != "device_type" || vals[0].Value != uint8(0x83) {
		t.Errorf("vals[0] = %+v", vals[0])
	}
	if vals[1].Value != float32(24) {
		t.Errorf("vals[1] = %+v", vals[1])
	}
	if vals[4].Value != uint8(2) {
		t.Errorf("vals[4] = %+v", vals[4])
	}

	bam, err := Values(BAM, make([]byte, 104))
	if err != nil {
		t.Fatalf("Values(BAM): %v", err)
	}
	if arr, ok := bam[7].Value.([]float32); !ok || len(arr) != 4 {
		t.Errorf("currents = %#v", bam[7].Value)
	}
	if _, err := Values(BAM, make([]byte, 103)); !errors.Is(err, ErrPayloadLengthMismatch) {
		t.Errorf("short BAM: err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		device pro4.DeviceType
		want   string
	}{
		{pro4.DeviceThruster, "motor"},
		{pro4.DeviceLight, "light"},
		{pro4.DeviceSensorModule, "bam"},
	}
	for _, tt := range tests {
		t.Run(tt.device.String(), func(t *testing.T) {
			s, err := r.Lookup(tt.device)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if s.Name != tt.want {
				t.Errorf("schema = %s, want %s", s.Name, tt.want)
			}
		})
	}

	if _, err := r.Lookup(pro4.DeviceCamera); !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("camera: err = %v, want ErrUnknownDeviceType", err)
	}
	if err := r.Register(pro4.DeviceLight, Motor); !errors.Is(err, ErrSchemaExists) {
		t.Errorf("rebind light: err = %v, want ErrSchemaExists", err)
	}
	if err := r.Register(pro4.DeviceCamera, Schema{Name: "empty"}); err == nil {
		t.Error("schema without decoder registered")
	}
}

type depthReading struct {
	Meters float32
}

func (depthReading) SchemaName() string { return "depth" }

func TestZeroRegistry(t *testing.T) {
	var r Registry
	if _, err := r.Lookup(pro4.DeviceThruster); !errors.Is(err, ErrUnknownDeviceType) {
		t.Fatalf("empty lookup: err = %v", err)
	}
	if err := r.Register(pro4.DeviceThruster, Motor); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s, err := r.Lookup(pro4.DeviceThruster)
	if err != nil || s.Name != "motor" {
		t.Errorf("Lookup = %q, %v", s.Name, err)
	}
}

func TestRegisterCustomSchema(t *testing.T) {
	depth := NewSchema("depth", []Field{{Name: "meters", Kind: Float32}}, func(b []byte) Record {
		return depthReading{Meters: math.Float32frombits(binary.LittleEndian.Uint32(b))}
	})

	r := DefaultRegistry()
	if err := r.Register(pro4.DeviceCPProbe, depth); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload := make([]byte, 4)
	putF32(payload, 12.5)
	frame, _ := pro4.EncodeResponse(pro4.ResponseCrc8, 9, 0, 0, payload)
	f, err := pro4.Decode(frame)
	if err != nil {
		t.Fatalf("pro4.Decode: %v", err)
	}
	rec, err := r.DecodeFrame(pro4.DeviceCPProbe, f)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if rec.(depthReading).Meters != 12.5 {
		t.Errorf("record = %+v", rec)
	}
}

func TestDecodeFrameRefusesBadChecksum(t *testing.T) {
	frame, _ := pro4.EncodeResponse(pro4.ResponseCrc32, 1, 0, 0, make([]byte, 17))
	frame[len(frame)-1] ^= 0xFF
	f, err := pro4.Decode(frame)
	if err != nil {
		t.Fatalf("pro4.Decode: %v", err)
	}
	_, err = DefaultRegistry().DecodeFrame(pro4.DeviceThruster, f)
	if !errors.Is(err, pro4.ErrTotalChecksumMismatch) {
		t.Errorf("err = %v, want ErrTotalChecksumMismatch", err)
	}
}

func TestPropulsionCommand(t *testing.T) {
	b, err := PropulsionCommand(0x81, 0.5, -1)
	if err != nil {
		t.Fatalf("PropulsionCommand: %v", err)
	}
	if len(b) != 10 || b[0] != PropulsionCommandID || b[1] != 0x81 {
		t.Fatalf("payload = %x", b)
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(b[6:])); v != -1 {
		t.Errorf("second power = %v, want -1", v)
	}
	if _, err := PropulsionCommand(1, make([]float32, 64)...); !errors.Is(err, ErrTooManyValues) {
		t.Errorf("64 powers: err = %v, want ErrTooManyValues", err)
	}
}
