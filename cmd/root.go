// Package cmd wires the command line surface: flag parsing, config loading,
// and logger bootstrap happen here, before any engine code runs.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fareloom/fareloom/internal/config"
	"github.com/fareloom/fareloom/internal/observability"
)

var (
	cfgFile string
	appCfg  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fareloom",
	Short: "Flight fare scraping engine",
	Long: `Fareloom drives real browser sessions through airline and metasearch
sites, extracts fare data through per-site plugins, and emits the results
as JSON. Each retry attempt runs in a fresh browser process with randomized
window geometry and, optionally, a rotated proxy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bootstrap(cmd)
	},
}

// Execute runs the CLI. Errors are returned for main to report and exit on.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./fareloom.yaml)")
	pf.String("log-level", "", "log verbosity (debug, info, warn, error)")
	pf.String("log-file", "", "also write JSON logs to this file")
	pf.Bool("debug", false, "shortcut for --log-level=debug plus verbose engine output")
	pf.Bool("headless", true, "run browsers without a visible window")
}

// bootstrap loads configuration from defaults, file, environment, and flags
// (lowest to highest precedence) and initializes the global logger.
func bootstrap(cmd *cobra.Command) error {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("fareloom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/fareloom")
	}

	v.SetEnvPrefix("FARELOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Running purely on defaults, env, and flags is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	bindFlag(v, cmd, "logger.level", "log-level")
	bindFlag(v, cmd, "logger.log_file", "log-file")
	bindFlag(v, cmd, "engine.debug", "debug")
	bindFlag(v, cmd, "browser.headless", "headless")
	if v.GetBool("engine.debug") {
		v.Set("logger.level", "debug")
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	appCfg = cfg

	observability.InitializeLogger(cfg.Logger)
	return nil
}

// bindFlag overrides a config key with a flag value, but only when the flag
// was actually set so file and env values survive.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.Root().PersistentFlags().Lookup(flag)
	}
	if f == nil || !f.Changed {
		return
	}
	if f.Value.Type() == "bool" {
		v.Set(key, f.Value.String() == "true")
		return
	}
	v.Set(key, f.Value.String())
}
