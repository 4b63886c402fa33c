// goep-client is a command-line OBEX client built on the goep engine.
//
// It resolves an OBEX service on a peer, opens a session over TCP or UDP,
// and runs one operation against it.
//
// Usage:
//
//	goep-client [--config file] [--peer addr] [--bearer stream|packet] <command>
//
// Commands:
//
//	discover <service>               resolve the service endpoint
//	connect  <service>               OBEX connect and disconnect
//	get      <service> <name>        fetch an object
//	setpath  <service> [folder...]   change the current folder
//
// Example:
//
//	goep-client --peer 00:1A:7D:DA:71:13 get pbap telecom/pb.vcf --type x-bt/phonebook
package main

import (
	"fmt"
	"os"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile    string
	logLevel   string
	bearerFlag string
	peerFlag   string

	// Set during PersistentPreRun
	cfg           Config
	loggerFactory *logging.DefaultLoggerFactory
)

var rootCmd = &cobra.Command{
	Use:           "goep-client",
	Short:         "OBEX client for file transfer, phonebook and message access services",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cfgFile)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("bearer") {
			cfg.Bearer = bearerFlag
		}
		if flags.Changed("peer") {
			cfg.Peer = peerFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, _ := parseLogLevel(cfg.LogLevel)
		loggerFactory = logging.NewDefaultLoggerFactory()
		loggerFactory.DefaultLogLevel = level
		loggerFactory.Writer = cmd.ErrOrStderr()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: disabled, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().StringVar(&bearerFlag, "bearer", bearerStream, "bearer: stream (TCP) or packet (UDP)")
	rootCmd.PersistentFlags().StringVar(&peerFlag, "peer", "", "peer address (AA:BB:CC:DD:EE:FF)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
