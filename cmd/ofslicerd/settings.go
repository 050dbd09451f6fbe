package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ofslicer/ofslicer/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.ofslicer/settings.yaml.

Settings provide defaults for serve's flags and the client subcommands'
--api address:
  listen_addr                 Default --listen for serve
  redis_addr                  Default --redis-addr for serve
  log_level, log_json         Default logging configuration
  learn_idle_timeout_seconds  Default idle timeout applied to learned MACs

Examples:
  ofslicerd settings show
  ofslicerd settings set redis_addr 10.0.0.5:6379
  ofslicerd settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SETTING\tVALUE")
		fmt.Fprintln(w, "-------\t-----")

		printSetting := func(name, value string) {
			if value == "" {
				value = "(not set, default applies)"
			}
			fmt.Fprintf(w, "%s\t%s\n", name, value)
		}

		printSetting("listen_addr", s.ListenAddr)
		printSetting("redis_addr", s.RedisAddr)
		printSetting("log_level", s.LogLevel)
		if s.LogJSON {
			printSetting("log_json", "true")
		} else {
			printSetting("log_json", "")
		}
		if s.LearnIdleTimeoutSeconds > 0 {
			printSetting("learn_idle_timeout_seconds", fmt.Sprintf("%d", s.LearnIdleTimeoutSeconds))
		} else {
			printSetting("learn_idle_timeout_seconds", "")
		}

		w.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  listen_addr                 HTTP listen address for serve
  redis_addr                  Redis transport address for serve
  log_level                   debug, info, warn, or error
  log_json                    true or false
  learn_idle_timeout_seconds  idle timeout applied to newly learned MACs`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, value := args[0], args[1]

		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}

		switch setting {
		case "listen_addr":
			s.ListenAddr = value
		case "redis_addr":
			s.RedisAddr = value
		case "log_level":
			s.LogLevel = value
		case "log_json":
			s.LogJSON = value == "true" || value == "1"
		case "learn_idle_timeout_seconds":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
				return fmt.Errorf("learn_idle_timeout_seconds must be an integer: %w", err)
			}
			s.LearnIdleTimeoutSeconds = n
		default:
			return fmt.Errorf("unknown setting: %s", setting)
		}

		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", setting, value)
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settings.DefaultSettingsPath())
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}
