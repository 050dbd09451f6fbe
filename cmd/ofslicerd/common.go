package main

import (
	"strings"

	"github.com/ofslicer/ofslicer/pkg/cli"
	"github.com/ofslicer/ofslicer/pkg/settings"
	"github.com/ofslicer/ofslicer/pkg/util"
)

func initLogging() error {
	s, err := settings.Load()
	if err != nil {
		s = &settings.Settings{}
	}
	level := s.GetLogLevel()
	if verbose {
		level = "debug"
	}
	if s.LogJSON {
		util.SetJSONFormat()
	}
	return util.SetLogLevel(level)
}

// resolveAPIAddr returns the --api flag if set, otherwise derives an
// address from settings' HTTP listen address.
func resolveAPIAddr() string {
	if apiAddr != "" {
		return apiAddr
	}
	s, err := settings.Load()
	if err != nil {
		s = &settings.Settings{}
	}
	listen := s.GetListenAddr()
	if strings.HasPrefix(listen, ":") {
		return "http://127.0.0.1" + listen
	}
	return "http://" + listen
}

// Color helpers — delegate to pkg/cli.
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }

func cliTable(headers ...string) *cli.Table { return cli.NewTable(headers...) }
