package main

import (
	"fmt"
	"os"

	"github.com/drfeelgood/core/cmd/feelgood/commands"
	"github.com/drfeelgood/core/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "feelgood",
		Short:         "Mood and reminder logger backed by a GitHub repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to YAML config file")

	rootCmd.AddCommand(commands.NewServeCommand(&configPath))
	rootCmd.AddCommand(commands.NewCheckCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "feelgood:", err)
		os.Exit(1)
	}
}
