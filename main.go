package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pro4cap/internal/config"
	"pro4cap/internal/logging"
)

var Version = "dev"

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "pro4cap",
	Short: "Capture, decode and send PRO4 frames on a serial line",
	Long: `pro4cap talks to PRO4 devices (thrusters, lights, sensor modules) on an
RS-485 tether. It records the line to PCAP for Wireshark, decodes captured
frames and telemetry payloads, and sends single requests.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.Int("baud", 115200, "baud rate")
	pf.Int("databits", 8, "data bits (5-8)")
	pf.String("parity", "none", "parity: none, odd, even, mark, space")
	pf.Int("stopbits", 1, "stop bits: 1 or 2")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")

	bindFlags(pf.Lookup, map[string]string{
		"serial.baud":     "baud",
		"serial.databits": "databits",
		"serial.parity":   "parity",
		"serial.stopbits": "stopbits",
		"log.level":       "log-level",
	})

	rootCmd.AddCommand(captureCmd, sendCmd, decodeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the layered configuration and installs the process
// logger at the configured level.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	logger := logging.Configure(logging.ProfileRuntime)
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, logger, err
	}
	if lvl, ok := logging.ParseLevel(cfg.Log.Level); ok {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = log.Logger.Level(lvl)
		logger = log.Logger
	}
	return cfg, logger, nil
}
