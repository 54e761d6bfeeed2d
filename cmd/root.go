// Package cmd wires the harness CLI: running and resuming experiments,
// inspecting trial status, selective reruns, and report regeneration.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd assembles the gauntlet command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gauntlet",
		Short: "Tiered benchmark harness for AI coding agents",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "gauntlet.yaml", "experiment config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newRerunCmd())
	root.AddCommand(newReportCmd())
	return root
}
