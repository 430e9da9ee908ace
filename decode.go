package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pro4cap/pkg/decoder"
	"pro4cap/pkg/payload"
	"pro4cap/pkg/pro4"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [flags] <hex>...",
	Short: "Decode PRO4 frames from hex",
	Long: `decode splits the given bytes into PRO4 frames and prints each header,
its checksum status and, with --device, the decoded payload fields.`,
	Example: `  pro4cap decode fa af 3d 00 f0 06 ...
  pro4cap decode --device light fddf...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().String("device", "", "decode response payloads as this device type")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if _, _, err := loadConfig(); err != nil {
		return err
	}
	data, err := parseHex(args...)
	if err != nil {
		return err
	}
	device, _ := cmd.Flags().GetString("device")
	schema, err := lookupSchema(payload.DefaultRegistry(), device)
	if err != nil {
		return err
	}
	describeStream(cmd.OutOrStdout(), data, schema)
	return nil
}

// lookupSchema resolves a device name to its payload schema. An empty name
// means no payload decoding.
func lookupSchema(reg *payload.Registry, device string) (*payload.Schema, error) {
	if device == "" {
		return nil, nil
	}
	d, err := pro4.ParseDeviceType(device)
	if err != nil {
		return nil, err
	}
	s, err := reg.Lookup(d)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func describeStream(w io.Writer, data []byte, schema *payload.Schema) {
	frames, rest := decoder.SplitFramesPartial(data)
	for i, fr := range frames {
		if fr.Dir == decoder.DirUnknown {
			fmt.Fprintf(w, "#%d unframed %d bytes: %x\n", i, len(fr.Data), fr.Data)
			continue
		}
		f, err := pro4.Decode(fr.Data)
		if err != nil {
			fmt.Fprintf(w, "#%d %s: %v\n", i, fr.Dir, err)
			continue
		}
		fmt.Fprintf(w, "#%d ", i)
		describeFrame(w, f, schema)
	}
	if rest != nil {
		_, err := pro4.Decode(rest)
		fmt.Fprintf(w, "incomplete %d bytes: %v\n", len(rest), err)
	}
}

func describeFrame(w io.Writer, f pro4.DecodedFrame, schema *payload.Schema) {
	h := f.Header
	fmt.Fprintf(w, "%s id=%s flags=0x%02x csr=0x%02x len=%d header=%s total=%s\n",
		h.Sync, h.ID, h.Flags, h.CSR, h.PayloadLen,
		checkMark(f.HeaderChecksumValid), checkMark(f.TotalChecksumValid))
	if len(f.Payload) > 0 {
		fmt.Fprintf(w, "  payload: %x\n", f.Payload)
	}
	if schema == nil || !h.Sync.IsResponse() {
		return
	}
	if err := f.Validate(); err != nil {
		fmt.Fprintf(w, "  %s: not decoded: %v\n", schema.Name, err)
		return
	}
	values, err := payload.Values(*schema, f.Payload)
	if err != nil {
		fmt.Fprintf(w, "  %s: %v\n", schema.Name, err)
		return
	}
	for _, val := range values {
		if b, ok := val.Value.([]byte); ok {
			fmt.Fprintf(w, "  %-20s %x\n", val.Name, b)
			continue
		}
		fmt.Fprintf(w, "  %-20s %v\n", val.Name, val.Value)
	}
}

func checkMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "BAD"
}
