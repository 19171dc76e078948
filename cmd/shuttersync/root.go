package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shuttersync/shuttersync/internal/config"
	"github.com/shuttersync/shuttersync/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "shuttersync",
	Short:         "ShutterSync moves photo shoots to local, backup and cloud destinations",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringP("server", "s", "", "relay server URL")

	rootCmd.AddCommand(importCmd, syncCmd, uploadCmd, serviceCmd, loginCmd, versionCmd)
}

// loadConfig reads the config file, binds flags and env overrides, and
// returns the validated configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	godotenv.Load()

	if cmd.Flag("config").Changed {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".shuttersync"))
		viper.AddConfigPath(filepath.Join(home, ".config/shuttersync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, exitWith(exitConfig, fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err))
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.SetEnvPrefix("SHUTTERSYNC")
	viper.AutomaticEnv()

	cfg := &config.Config{Path: viper.ConfigFileUsed()}
	if used := viper.ConfigFileUsed(); used != "" {
		loaded, err := config.Load(used)
		if err != nil {
			return nil, exitWith(exitConfig, err)
		}
		cfg = loaded
	}

	// flag and env overrides on top of the file
	if s := viper.GetString("server_url"); s != "" {
		cfg.ServerURL = s
	}
	if s := viper.GetString("data_dir"); s != "" {
		cfg.DataDir = s
	}
	if s := viper.GetString("email"); s != "" {
		cfg.Email = s
	}
	if d := viper.GetDuration("sync_interval"); d > 0 {
		cfg.SyncInterval = d
	}
	applyConfigDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *config.Config) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = config.DefaultServerURL
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = config.DefaultStateDir
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultConcurrency
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = config.DefaultSyncInterval
	}
	if cfg.Policy.Kind == "" {
		cfg.Policy.Kind = "none"
	}
}
