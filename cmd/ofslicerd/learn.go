package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var learnTimeoutFlag int

var learnCmd = &cobra.Command{
	Use:   "learn <dpid> <tuple> <mac>",
	Short: "Manually learn a MAC address on a tuple",
	Long: `learn installs learned state for mac on tup as if a packet-in had
just arrived from it, by POSTing the running instance's "learn" request
shape with an empty slice/disused set.

tuple is written port[.vlan[.inner]], e.g. 3, 3.100, or 3.100.200.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpid, err := normalizeDpid(args[0])
		if err != nil {
			return err
		}
		wire, err := parseTupleArg(args[1])
		if err != nil {
			return err
		}

		body := map[string]interface{}{
			"learn": map[string]interface{}{
				"mac":   args[2],
				"tuple": wire,
			},
		}
		if cmd.Flags().Changed("timeout") {
			body["learn"].(map[string]interface{})["timeout"] = learnTimeoutFlag
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		return postConfig(dpid, payload)
	},
}

func init() {
	learnCmd.Flags().IntVar(&learnTimeoutFlag, "timeout", 600, "idle timeout in seconds for the learned entry")
}

// parseTupleArg parses "port[.vlan[.inner]]" into the HTTP API's wire
// tuple form ([]int64, 1-3 elements).
func parseTupleArg(s string) ([]int64, error) {
	fields := strings.Split(s, ".")
	if len(fields) < 1 || len(fields) > 3 {
		return nil, fmt.Errorf("tuple %q must have 1-3 dot-separated elements", s)
	}
	out := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tuple %q: element %d is not an integer: %w", s, i, err)
		}
		out[i] = n
	}
	return out, nil
}
