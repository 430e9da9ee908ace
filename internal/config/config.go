package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.bug.st/serial"

	"pro4cap/pkg/pro4"
)

// EnvPrefix prefixes every environment override, e.g. PRO4CAP_SERIAL_BAUD.
const EnvPrefix = "PRO4CAP"

type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Capture CaptureConfig `mapstructure:"capture"`
	Link    LinkConfig    `mapstructure:"link"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

type SerialConfig struct {
	Port     string `mapstructure:"port"`
	Baud     int    `mapstructure:"baud"`
	DataBits int    `mapstructure:"databits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stopbits"`
}

type CaptureConfig struct {
	Output    string        `mapstructure:"output"`
	Silence   time.Duration `mapstructure:"silence"` // 0 = derive from serial settings
	BigEndian bool          `mapstructure:"bigendian"`
	Pipe      bool          `mapstructure:"pipe"`
	Split     bool          `mapstructure:"split"`
	Records   string        `mapstructure:"records"`
	Device    string        `mapstructure:"device"`
	Verbose   bool          `mapstructure:"verbose"`
}

type LinkConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.databits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stopbits", 1)
	v.SetDefault("capture.silence", time.Duration(0))
	v.SetDefault("capture.split", true)
	v.SetDefault("link.timeout", "250ms")
	v.SetDefault("log.level", "info")
}

// Load layers defaults, the optional config file at path, and PRO4CAP_*
// environment variables into v, then decodes and validates the result.
// Flags bound to v with BindPFlag take precedence over all of them.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Serial.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the serial settings without opening the port.
func (s SerialConfig) Validate() error {
	var errs []error
	if s.Baud <= 0 {
		errs = append(errs, fmt.Errorf("invalid baud rate %d", s.Baud))
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		errs = append(errs, fmt.Errorf("invalid data bits %d: use 5-8", s.DataBits))
	}
	if _, err := ParseParity(s.Parity); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseStopBits(s.StopBits); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Mode converts the settings for serial.Open.
func (s SerialConfig) Mode() (*serial.Mode, error) {
	parity, err := ParseParity(s.Parity)
	if err != nil {
		return nil, err
	}
	stopbits, err := ParseStopBits(s.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: s.Baud,
		DataBits: s.DataBits,
		Parity:   parity,
		StopBits: stopbits,
	}, nil
}

func ParseParity(s string) (serial.Parity, error) {
	switch s {
	case "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s)
	}
}

func ParseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %d: use 1 or 2", n)
	}
}

// CharBits returns the total number of bits per character on the wire
// (start + data + optional parity + stop).
func (s SerialConfig) CharBits() int {
	bits := 1 + s.DataBits // start + data
	if s.Parity != "none" {
		bits++
	}
	bits += s.StopBits
	return bits
}

// WireTime returns how long n bytes take on the line.
func (s SerialConfig) WireTime(n int) time.Duration {
	return time.Duration(float64(n*s.CharBits()) / float64(s.Baud) * float64(time.Second))
}

// DefaultSilence returns 3.5 character times.
func (s SerialConfig) DefaultSilence() time.Duration {
	charTime := float64(s.CharBits()) / float64(s.Baud)
	return time.Duration(3.5 * charTime * float64(time.Second))
}

// FrameSilence returns the wire time for a max-length PRO4 frame plus a
// fixed 25ms margin for USB serial adapter jitter.
func (s SerialConfig) FrameSilence() time.Duration {
	return s.WireTime(pro4.FrameSize(pro4.ResponseCrc32, pro4.MaxPayloadSize)) + 25*time.Millisecond
}

// SilenceThreshold picks the packet split gap for a capture.
func (c *Config) SilenceThreshold() time.Duration {
	switch {
	case c.Capture.Silence > 0:
		return c.Capture.Silence
	case c.Capture.Split:
		return c.Serial.FrameSilence()
	default:
		return c.Serial.DefaultSilence()
	}
}
