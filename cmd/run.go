/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/servosched/pkg/config"
	"github.com/Seann-Moser/servosched/pkg/controller"
)

var noLock bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the configured servos until interrupted",
	Long: `Opens every servo pin in the config file and runs the output cycle.

The config file is watched; servos, positions, timing and poses follow edits
to it without a restart. A short press on the configured button starts or
stops the output, a long press centres every servo.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg.LogLevel)

		if !noLock {
			if err := lockMemory(); err != nil {
				log.Warn().Err(err).Msg("could not lock memory; pulse timing may jitter")
			}
		}

		c, err := controller.New(cfg,
			controller.WithLogger(log),
			controller.WithConfigPath(configPath),
		)
		if err != nil {
			return fmt.Errorf("starting controller: %w", err)
		}
		defer func() {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("releasing pins")
			}
		}()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := c.Run(ctx); err != nil {
			return err
		}
		log.Info().Uint64("cycles", c.Servos.Cycles()).Msg("servo command finished")
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&noLock, "no-mlock", false, "do not lock process memory")
	rootCmd.AddCommand(runCmd)
}
