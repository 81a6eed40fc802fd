// Package main provides the CLI entry point for cortextalk.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/normanking/cortextalk/internal/config"
	"github.com/normanking/cortextalk/internal/logging"
)

var (
	// Version information (set at build time)
	version = "dev"

	configPath string

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortextalk",
		Short: "Streaming voice chat widget with a talking avatar",
		Long: titleStyle.Render("cortextalk") + `

Serves the chat widget to browser pages over WebSocket, or runs one
conversational turn headless in the terminal.

` + dimStyle.Render("Use 'cortextalk [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.cortextalk/config.yaml)")

	rootCmd.AddCommand(newServeCmd(), newAskCmd(), newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger it describes.
func loadConfig(console bool) (*config.Config, *viper.Viper, *logging.Logger, error) {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Log.Level)
	logCfg.Console = console && cfg.Log.Console
	if cfg.Log.Dir != "" {
		logCfg.LogDir = cfg.Log.Dir
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, v, logger, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long:  "Print the configuration file in use and the values after defaults and environment overrides.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if initFile, _ := cmd.Flags().GetBool("init"); initFile {
				path, err := config.Save(cfg, configPath)
				if err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
				fmt.Println(userStyle.Render("✓ Wrote " + path))
				return nil
			}

			used := v.ConfigFileUsed()
			if used == "" {
				used = dimStyle.Render("(none, using defaults)")
			}
			fmt.Printf("%s %s\n\n", titleStyle.Render("Config file:"), used)
			keys := v.AllKeys()
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("  %-28s %v\n", key, v.Get(key))
			}
			return nil
		},
	}
	cmd.Flags().Bool("init", false, "write the effective configuration to the config file")
	return cmd
}
