package payload

import "github.com/goccy/go-json"

// MotorTelemetry is the reply payload of a thruster module.
type MotorTelemetry struct {
	RPM         float32 `json:"rpm"`
	BusVoltage  float32 `json:"bus_v"`
	BusCurrent  float32 `json:"bus_i"`
	Temperature float32 `json:"temp"`
	Fault       uint8   `json:"fault"`
}

func (MotorTelemetry) SchemaName() string { return "motor" }

// Motor is the 17-byte thruster telemetry layout.
var Motor = Schema{
	Name: "motor",
	Fields: []Field{
		{Name: "rpm", Kind: Float32},
		{Name: "bus_v", Kind: Float32},
		{Name: "bus_i", Kind: Float32},
		{Name: "temp", Kind: Float32},
		{Name: "fault", Kind: Uint8},
	},
	build: func(r *reader) Record {
		return MotorTelemetry{
			RPM:         r.f32(),
			BusVoltage:  r.f32(),
			BusCurrent:  r.f32(),
			Temperature: r.f32(),
			Fault:       r.u8(),
		}
	},
}

// LightTelemetry is the reply payload of a light module.
type LightTelemetry struct {
	DeviceType  uint8   `json:"device_type"`
	BusVoltage  float32 `json:"bus_v"`
	BusCurrent  float32 `json:"bus_i"`
	Temperature float32 `json:"temp"`
	Fault       uint8   `json:"fault"`
}

func (LightTelemetry) SchemaName() string { return "light" }

// Light is the 14-byte light telemetry layout.
var Light = Schema{
	Name: "light",
	Fields: []Field{
		{Name: "device_type", Kind: Uint8},
		{Name: "bus_v", Kind: Float32},
		{Name: "bus_i", Kind: Float32},
		{Name: "temp", Kind: Float32},
		{Name: "fault", Kind: Uint8},
	},
	build: func(r *reader) Record {
		return LightTelemetry{
			DeviceType:  r.u8(),
			BusVoltage:  r.f32(),
			BusCurrent:  r.f32(),
			Temperature: r.f32(),
			Fault:       r.u8(),
		}
	},
}

// SensorBundle is the combined sensor board ("BAM") reply: servo and GPIO
// state, per-channel currents and temperatures, humidity, attitude, supply
// rails and the depth sensor block.
type SensorBundle struct {
	Tag                 [4]byte    `json:"-"`
	Length              uint8      `json:"length"`
	Command             uint8      `json:"command"`
	Servo1              uint16     `json:"servo1"`
	Servo2              uint16     `json:"servo2"`
	GPIO1               uint8      `json:"gpio1"`
	GPIO2               uint8      `json:"gpio2"`
	Currents            [4]float32 `json:"currents"`
	Temperatures        [4]float32 `json:"temperatures"`
	Humidity            [2]float32 `json:"humidity"`
	Attitude            [3]float32 `json:"attitude"`
	SupplyVoltage       float32    `json:"supply_v"`
	SupplyCurrent       float32    `json:"supply_i"`
	Rail5V              float32    `json:"rail_5v"`
	Rail3V3             float32    `json:"rail_3v3"`
	Pressure            float32    `json:"pressure"`
	PressureTemperature float32    `json:"pressure_temp"`
	PressureStatus      uint8      `json:"pressure_status"`
	Reserved            [15]byte   `json:"-"`
}

func (SensorBundle) SchemaName() string { return "bam" }

// TagString returns the ASCII tag, "SCNI" on current firmware.
func (s SensorBundle) TagString() string { return string(s.Tag[:]) }

// MarshalJSON writes the bundle with its tag as a string.
func (s SensorBundle) MarshalJSON() ([]byte, error) {
	type bundle SensorBundle
	return json.Marshal(struct {
		Tag string `json:"tag"`
		bundle
	}{s.TagString(), bundle(s)})
}

// BAM is the 104-byte sensor bundle layout.
var BAM = Schema{
	Name: "bam",
	Fields: []Field{
		{Name: "tag", Kind: Bytes, Count: 4},
		{Name: "length", Kind: Uint8},
		{Name: "command", Kind: Uint8},
		{Name: "servo1", Kind: Uint16},
		{Name: "servo2", Kind: Uint16},
		{Name: "gpio1", Kind: Uint8},
		{Name: "gpio2", Kind: Uint8},
		{Name: "currents", Kind: Float32, Count: 4},
		{Name: "temperatures", Kind: Float32, Count: 4},
		{Name: "humidity", Kind: Float32, Count: 2},
		{Name: "attitude", Kind: Float32, Count: 3},
		{Name: "supply_v", Kind: Float32},
		{Name: "supply_i", Kind: Float32},
		{Name: "rail_5v", Kind: Float32},
		{Name: "rail_3v3", Kind: Float32},
		{Name: "pressure", Kind: Float32},
		{Name: "pressure_temp", Kind: Float32},
		{Name: "pressure_status", Kind: Uint8},
		{Name: "reserved", Kind: Bytes, Count: 15},
	},
	build: func(r *reader) Record {
		var s SensorBundle
		r.bytes(s.Tag[:])
		s.Length = r.u8()
		s.Command = r.u8()
		s.Servo1 = r.u16()
		s.Servo2 = r.u16()
		s.GPIO1 = r.u8()
		s.GPIO2 = r.u8()
		r.f32s(s.Currents[:])
		r.f32s(s.Temperatures[:])
		r.f32s(s.Humidity[:])
		r.f32s(s.Attitude[:])
		s.SupplyVoltage = r.f32()
		s.SupplyCurrent = r.f32()
		s.Rail5V = r.f32()
		s.Rail3V3 = r.f32()
		s.Pressure = r.f32()
		s.PressureTemperature = r.f32()
		s.PressureStatus = r.u8()
		r.bytes(s.Reserved[:])
		return s
	},
}
