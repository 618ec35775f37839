/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "servosched",
	Short: "Drive hobby servos from GPIO pins with staggered software PWM",
	Long: `servosched generates 50 Hz servo pulses on plain GPIO outputs.

Servos are split into groups; each group is switched on together, with a
short stagger between pins, and every pin is switched off by its own timer
when its pulse width has elapsed.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "servos.yaml", "servo config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides log_level in the config")
}

// newLogger returns a console logger at the flag level, else the config
// level, else info.
func newLogger(configured string) zerolog.Logger {
	name := logLevel
	if name == "" {
		name = configured
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
