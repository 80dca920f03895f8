// Package main implements the wispheap CLI.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wisp/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "wispheap",
	Short: "Wisp runtime heap stress and inspection toolchain",
	Long:  `wispheap drives the wisp runtime heap through seeded stress workloads and inspects the snapshots they leave behind`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "", "path to wisp.toml (discovered upward from the cwd when empty)")

	rootCmd.PersistentPreRunE = configureColor

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configureColor(cmd *cobra.Command, _ []string) error {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	mode, err := readColorMode(value)
	if err != nil {
		return err
	}
	color.NoColor = !shouldColor(mode)
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
