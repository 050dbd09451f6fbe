// ofslicerd runs the tuple-slicing OpenFlow controller and its HTTP
// configuration API, and doubles as a thin CLI client against a
// running instance for inspecting and changing a datapath's slice
// configuration.
//
// Noun-group pattern:
//
//	ofslicerd serve [--listen :8080] [--redis-addr host:port] [--dry-run]
//	ofslicerd config get <dpid>
//	ofslicerd config apply <dpid> <file.json>
//	ofslicerd config bulk <dpid> --ports <range> [--vlans <range>]
//	ofslicerd learn <dpid> <tuple> <mac> [--timeout 600]
//	ofslicerd shell <dpid>
//	ofslicerd settings show|set|clear|path
//	ofslicerd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "ofslicerd",
	Short:         "OpenFlow tuple-slicing controller",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `ofslicerd runs the tuple-slicing controller against switches reachable
through a Redis-backed wire bridge, and provides a CLI for driving a
running instance's HTTP configuration API.

  ofslicerd serve                    # run the controller + HTTP API
  ofslicerd config get <dpid>        # show a datapath's slices
  ofslicerd config apply <dpid> f.json
  ofslicerd learn <dpid> <tuple> <mac>
  ofslicerd shell <dpid>             # interactive REPL
  ofslicerd settings show            # no running instance needed`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isSettingsOrHelp(cmd) {
			return nil
		}
		return initLogging()
	},
}

var (
	apiAddr string
	verbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "ofslicerd API address for client subcommands (default from settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running the Controller:"},
		&cobra.Group{ID: "client", Title: "Client Commands:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	serveCmd.GroupID = "run"
	rootCmd.AddCommand(serveCmd)

	for _, cmd := range []*cobra.Command{configCmd, learnCmd} {
		cmd.GroupID = "client"
		rootCmd.AddCommand(cmd)
	}

	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(shellCmd)
}

// isSettingsOrHelp checks whether cmd (or any ancestor) is a settings,
// help, or version command — these don't need the API address or log
// level resolved from settings first.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}
