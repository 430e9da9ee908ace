package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"golang.org/x/term"

	"pro4cap/internal/config"
	"pro4cap/internal/metrics"
	"pro4cap/pkg/decoder"
	"pro4cap/pkg/payload"
	"pro4cap/pkg/pcap"
	"pro4cap/pkg/pro4"
)

var captureCmd = &cobra.Command{
	Use:   "capture [flags] [serial-port]",
	Short: "Record the serial line to a PCAP file or named pipe",
	Long: `capture reads the serial line and writes one PCAP packet per burst of
bytes, a burst ending after the silence threshold. With --split (the
default) bursts are cut into PRO4 frames and written with the RTAC Serial
link type so Wireshark shows request and response direction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

func init() {
	f := captureCmd.Flags()
	f.StringP("output", "o", "", "output PCAP file path (required)")
	f.Duration("silence", 0, "silence threshold (0 = auto from serial settings)")
	f.Bool("bigendian", false, "write PCAP in big-endian byte order")
	f.Bool("split", true, "split bursts into PRO4 frames")
	f.Bool("pipe", false, "create a named pipe (FIFO) for live Wireshark streaming (Unix only)")
	f.String("records", "", "also write one JSON record per frame to this file")
	f.String("device", "", "decode response payloads as this device type (thruster, light, sensor)")
	f.BoolP("verbose", "v", false, "show live capture status on stderr")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	bindFlags(f.Lookup, map[string]string{
		"capture.output":    "output",
		"capture.silence":   "silence",
		"capture.bigendian": "bigendian",
		"capture.split":     "split",
		"capture.pipe":      "pipe",
		"capture.records":   "records",
		"capture.device":    "device",
		"capture.verbose":   "verbose",
		"metrics.addr":      "metrics-addr",
	})
}

type readResult struct {
	data []byte
	ts   time.Time
}

// capturer turns timed chunks from the serial line into PCAP packets.
type capturer struct {
	split   bool
	silence time.Duration
	serial  config.SerialConfig
	pw      *pcap.Writer
	records *recordWriter
	log     zerolog.Logger

	packetBuf     []byte
	firstByteTime time.Time
	prevExtra     []byte
	prevExtraTime time.Time
	pipeBroken    bool

	packetCount  int
	txCount      int
	rxCount      int
	unknownCount int
}

func (c *capturer) add(chunk readResult) {
	if len(c.packetBuf) == 0 {
		c.firstByteTime = chunk.ts
	}
	c.packetBuf = append(c.packetBuf, chunk.data...)
}

func (c *capturer) flush() {
	if len(c.packetBuf) == 0 {
		return
	}
	defer func() { c.packetBuf = nil }()

	if !c.split {
		c.write(c.firstByteTime, decoder.Frame{Data: c.packetBuf, Dir: decoder.DirUnknown})
		return
	}

	extra := c.prevExtra
	extraTime := c.prevExtraTime
	c.prevExtra = nil
	c.prevExtraTime = time.Time{}

	// A remainder older than the silence threshold cannot belong to the
	// frame that starts this buffer; it goes out on its own.
	if extra != nil && c.firstByteTime.Sub(extraTime) > c.silence {
		c.log.Debug().
			Int("bytes", len(extra)).
			Dur("age", c.firstByteTime.Sub(extraTime)).
			Dur("silence", c.silence).
			Msg("expiring remainder")
		if !c.write(extraTime, decoder.Frame{Data: extra, Dir: decoder.DirUnknown}) {
			return
		}
		extra = nil
	}

	baseTime := c.firstByteTime
	data := c.packetBuf
	if extra != nil {
		data = make([]byte, 0, len(extra)+len(c.packetBuf))
		data = append(data, extra...)
		data = append(data, c.packetBuf...)
		baseTime = extraTime
	}
	frames, remainder := decoder.SplitFramesPartial(data)

	if len(frames) == 0 {
		if extra == nil && remainder != nil {
			c.prevExtra = remainder
			c.prevExtraTime = baseTime
			return
		}
		c.write(baseTime, decoder.Frame{Data: data, Dir: decoder.DirUnknown})
		return
	}

	parsed := 0
	for _, frame := range frames {
		ts := baseTime.Add(c.serial.WireTime(parsed))
		if !c.write(ts, frame) {
			return
		}
		parsed += len(frame.Data)
	}
	if remainder != nil {
		c.prevExtra = remainder
		c.prevExtraTime = baseTime.Add(c.serial.WireTime(parsed))
	}
}

// write emits one packet and reports false once the pipe reader is gone.
func (c *capturer) write(ts time.Time, frame decoder.Frame) bool {
	var err error
	if c.split {
		err = c.pw.WriteRTAC(ts, byte(frame.Dir), frame.Data)
	} else {
		err = c.pw.WritePacket(ts, frame.Data)
	}
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			c.pipeBroken = true
			return false
		}
		c.log.Error().Err(err).Msg("write packet")
	}
	c.packetCount++

	switch frame.Dir {
	case decoder.DirRequest:
		c.txCount++
	case decoder.DirResponse:
		c.rxCount++
	case decoder.DirUnknown:
		c.unknownCount++
	}
	if c.split {
		c.observe(frame)
	}

	if c.records != nil {
		if err := c.records.write(ts, frame); err != nil {
			c.log.Error().Err(err).Msg("write record")
		}
	}
	return true
}

// observe counts frame outcomes and returns the result label, or "" for
// bytes that hold no frame.
func (c *capturer) observe(frame decoder.Frame) string {
	f, err := pro4.Decode(frame.Data)
	dir := frame.Dir
	if dir == decoder.DirUnknown {
		// Frames with a failed header checksum reach us as unframed runs.
		if err != nil {
			metrics.RecordUnframed(len(frame.Data))
			return ""
		}
		dir = decoder.DirectionOf(f.Header.Sync)
		if extra := len(frame.Data) - f.Size; extra > 0 {
			metrics.RecordUnframed(extra)
		}
	}
	result := metrics.Result(f, err)
	metrics.RecordFrame(dir.String(), result)
	if result != metrics.ResultValid {
		c.log.Warn().
			Stringer("dir", dir).
			Str("result", result).
			Hex("frame", frame.Data).
			Msg("bad frame")
	}
	return result
}

// drain writes a held remainder that no later burst completed.
func (c *capturer) drain() {
	if c.prevExtra == nil {
		return
	}
	c.write(c.prevExtraTime, decoder.Frame{Data: c.prevExtra, Dir: decoder.DirUnknown})
	c.prevExtra = nil
	c.prevExtraTime = time.Time{}
}

func (c *capturer) status() string {
	if c.split {
		return fmt.Sprintf("\rpackets: %d (TX: %d  RX: %d  ?: %d)          ",
			c.packetCount, c.txCount, c.rxCount, c.unknownCount)
	}
	return fmt.Sprintf("\rpackets: %d          ", c.packetCount)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Serial.Port = args[0]
	}
	if cfg.Serial.Port == "" {
		return errors.New("no serial port: pass it as an argument or set serial.port")
	}
	if cfg.Capture.Output == "" {
		return errors.New("--output (PCAP file path) is required")
	}

	var records *recordWriter
	var recordsFile *os.File
	if cfg.Capture.Records != "" {
		recordsFile, err = os.Create(cfg.Capture.Records)
		if err != nil {
			return fmt.Errorf("create records file: %w", err)
		}
		defer func() { _ = recordsFile.Close() }()
		records = newRecordWriter(recordsFile, payload.DefaultRegistry())
		if cfg.Capture.Device != "" {
			d, err := pro4.ParseDeviceType(cfg.Capture.Device)
			if err != nil {
				return err
			}
			if _, err := records.registry.Lookup(d); err != nil {
				return err
			}
			records.decodeAs(d)
		}
	}

	mode, err := cfg.Serial.Mode()
	if err != nil {
		return err
	}
	port, err := serial.Open(cfg.Serial.Port, mode)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	defer func() { _ = port.Close() }()

	var out *os.File
	if cfg.Capture.Pipe {
		out, err = createPipe(logger, cfg.Capture.Output)
		if err != nil {
			return fmt.Errorf("create pipe: %w", err)
		}
		defer removePipe(cfg.Capture.Output)
	} else {
		out, err = os.Create(cfg.Capture.Output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
	}
	defer func() { _ = out.Close() }()

	var byteOrder binary.ByteOrder = binary.LittleEndian
	if cfg.Capture.BigEndian {
		byteOrder = binary.BigEndian
	}
	dlt := pcap.DLTUser0
	if cfg.Capture.Split {
		dlt = pcap.DLTRTACSer
	}
	pw, err := pcap.NewWriter(out, byteOrder, dlt)
	if err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(logger, cfg.Metrics.Addr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	c := &capturer{
		split:   cfg.Capture.Split,
		silence: cfg.SilenceThreshold(),
		serial:  cfg.Serial,
		pw:      pw,
		records: records,
		log:     logger,
	}

	showStatus := cfg.Capture.Verbose && term.IsTerminal(int(os.Stderr.Fd()))
	if showStatus {
		enableTerminalStatus()
	}

	logger.Info().
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.Baud).
		Str("output", cfg.Capture.Output).
		Dur("silence", c.silence).
		Bool("split", c.split).
		Msg("capturing")

	err = c.run(port, showStatus, os.Stderr)
	logger.Info().Int("packets", c.packetCount).Msg("capture finished")
	return err
}

// run pumps the port until a signal, a read error or a closed pipe.
func (c *capturer) run(port io.Reader, showStatus bool, statusOut io.Writer) error {
	dataChan := make(chan readResult, 64)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := port.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				ts := time.Now()
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				dataChan <- readResult{data: chunk, ts: ts}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	silenceTimer := time.NewTimer(0)
	if !silenceTimer.Stop() {
		<-silenceTimer.C
	}
	var lastStatus time.Time

	for {
		select {
		case chunk := <-dataChan:
			c.add(chunk)
			silenceTimer.Reset(c.silence)

		case <-silenceTimer.C:
			c.flush()
			if c.pipeBroken {
				c.log.Info().Msg("pipe closed by reader")
				return nil
			}
			if showStatus && time.Since(lastStatus) >= time.Second {
				fmt.Fprint(statusOut, c.status())
				lastStatus = time.Now()
			}

		case <-sigChan:
			c.flush()
			c.drain()
			if showStatus {
				fmt.Fprintln(statusOut)
			}
			return nil

		case err := <-errChan:
			c.flush()
			c.drain()
			if showStatus {
				fmt.Fprintln(statusOut)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func serveMetrics(logger zerolog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
