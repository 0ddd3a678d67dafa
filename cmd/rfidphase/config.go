package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rfidphase/internal/config"
	"rfidphase/internal/display"
	"rfidphase/internal/router"
	"rfidphase/internal/tag"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the YAML config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(locateConfig())
		if err != nil {
			return err
		}
		display.NewPrinter(cmd.OutOrStdout()).ConfigSummary(cfg)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update one setting (target, phase-target, filter-target, count-mode, provider)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := locateConfig()
		// Edit the file as written so env overrides and defaults stay out of it.
		cfg, err := config.LoadRaw(path)
		if err != nil {
			return err
		}
		if err := applySetting(cfg, args[0], args[1]); err != nil {
			return err
		}
		check := *cfg
		if err := check.Validate(); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config saved")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func applySetting(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	switch key {
	case "target", "phase-target", "filter-target":
		epc, err := tag.ParseEPC(value)
		if err != nil {
			return err
		}
		hex := epc.Hex()
		if key != "filter-target" {
			cfg.Phase.TargetEPC = hex
		}
		if key != "phase-target" {
			cfg.Filter.TargetEPC = hex
		}
	case "count-mode":
		mode, err := router.ParseMode(value)
		if err != nil {
			return err
		}
		cfg.Filter.CountMode = mode.String()
	case "provider":
		cfg.Reader.Provider = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func locateConfig() string {
	if filepath.IsAbs(configPath) {
		return configPath
	}
	return filepath.Clean(configPath)
}
