package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pro4cap/internal/link"
	"pro4cap/pkg/payload"
	"pro4cap/pkg/pro4"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] [serial-port]",
	Short: "Send one request frame and print the response",
	Long: `send builds a request frame from the flags, writes it to the serial line
and waits up to link.timeout for the first response. With --dry-run the
frame is printed and nothing is opened.`,
	Example: `  pro4cap send --id 0x3d --payload "aa 3d 00 00 00 00" /dev/ttyUSB0
  pro4cap send --id 61 --propulsion 0.25,0.25 --responder 61 --device thruster /dev/ttyUSB0
  pro4cap send --id 12 --reboot /dev/ttyUSB0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.Uint8("id", 0, "destination node id")
	f.Bool("relay", false, "set the relay-request flag on the id")
	f.Bool("multicast", false, "treat --id as a multicast group")
	f.Uint8("flags", 0, "flags byte")
	f.Uint8("csr", pro4.CSRCustomCommand, "CSR address")
	f.String("payload", "", "payload as hex")
	f.Bool("crc32", false, "use CRC-32 checksums instead of CRC-8")
	f.Bool("reboot", false, "send the utility-register reboot command")
	f.Float32Slice("propulsion", nil, "thruster power levels, -1..1, in node order")
	f.Uint8("responder", 0, "node that answers a propulsion command")
	f.String("device", "", "decode the response payload as this device type")
	f.Bool("dry-run", false, "print the request frame and exit")
	f.Duration("timeout", 0, "response timeout (default link.timeout)")

	bindFlags(f.Lookup, map[string]string{
		"link.timeout": "timeout",
	})
}

// sendOptions describes one request frame.
type sendOptions struct {
	id         uint8
	relay      bool
	multicast  bool
	flags      uint8
	csr        uint8
	payload    string
	crc32      bool
	reboot     bool
	propulsion []float32
	responder  uint8
}

func sendOptionsFrom(cmd *cobra.Command) sendOptions {
	f := cmd.Flags()
	var o sendOptions
	o.id, _ = f.GetUint8("id")
	o.relay, _ = f.GetBool("relay")
	o.multicast, _ = f.GetBool("multicast")
	o.flags, _ = f.GetUint8("flags")
	o.csr, _ = f.GetUint8("csr")
	o.payload, _ = f.GetString("payload")
	o.crc32, _ = f.GetBool("crc32")
	o.reboot, _ = f.GetBool("reboot")
	o.propulsion, _ = f.GetFloat32Slice("propulsion")
	o.responder, _ = f.GetUint8("responder")
	return o
}

func (o sendOptions) address() pro4.Address {
	id := pro4.Address(o.id)
	if o.multicast {
		id = pro4.Multicast(o.id)
	}
	if o.relay {
		id = pro4.WithRelay(id)
	}
	return id
}

// buildRequest encodes the request described by o. At most one of payload,
// reboot and propulsion may be given.
func buildRequest(o sendOptions) ([]byte, error) {
	sync := pro4.RequestCrc8
	if o.crc32 {
		sync = pro4.RequestCrc32
	}

	given := 0
	for _, set := range []bool{o.payload != "", o.reboot, len(o.propulsion) > 0} {
		if set {
			given++
		}
	}
	if given > 1 {
		return nil, errors.New("use only one of --payload, --reboot and --propulsion")
	}

	switch {
	case o.reboot:
		return pro4.RebootRequest(sync, o.address())
	case len(o.propulsion) > 0:
		p, err := payload.PropulsionCommand(o.responder, o.propulsion...)
		if err != nil {
			return nil, err
		}
		return pro4.Encode(sync, o.address(), o.flags, pro4.CSRCustomCommand, p)
	}

	var p []byte
	if o.payload != "" {
		var err error
		if p, err = parseHex(o.payload); err != nil {
			return nil, err
		}
	}
	return pro4.Encode(sync, o.address(), o.flags, o.csr, p)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := buildRequest(sendOptionsFrom(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "request:  %x\n", req)

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		return nil
	}

	device, _ := cmd.Flags().GetString("device")
	schema, err := lookupSchema(payload.DefaultRegistry(), device)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		cfg.Serial.Port = args[0]
	}
	if cfg.Serial.Port == "" {
		return errors.New("no serial port: pass it as an argument or set serial.port")
	}
	l, port, err := link.Open(cfg.Serial, cfg.Link.Timeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	resp, err := l.Transact(cmd.Context(), req)
	if errors.Is(err, link.ErrNoResponse) || errors.Is(err, context.Canceled) {
		return err
	}
	if resp.Size > 0 {
		fmt.Fprintf(out, "response: ")
		describeFrame(out, resp, schema)
	}
	return err
}
