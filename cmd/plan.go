/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Seann-Moser/servosched/pkg/config"
	"github.com/Seann-Moser/servosched/pkg/controller"
	pinio "github.com/Seann-Moser/servosched/pkg/io"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the group layout and pulse times for a config without touching hardware",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.IO.Backend = pinio.BackendDryRun
		c, err := controller.New(cfg, controller.WithLogger(newLogger(cfg.LogLevel)))
		if err != nil {
			return err
		}
		defer c.Close()
		fmt.Fprintln(cmd.OutOrStdout(), c.Plan())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
