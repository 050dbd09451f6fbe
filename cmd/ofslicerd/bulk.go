package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ofslicer/ofslicer/pkg/util"
)

var (
	bulkPorts string
	bulkVLANs string
)

var configBulkCmd = &cobra.Command{
	Use:   "bulk <dpid>",
	Short: "Apply one slice per port (or per port/VLAN pair) from range notation",
	Long: `bulk expands --ports (and, if given, --vlans) range notation into one
whole-port or single-VLAN slice per combination and applies them in
a single request. Useful for provisioning a block of access ports, or a
block of ports each carrying the same set of VLANs, without hand-writing
a tuple per slice.

Range notation accepts comma-separated values and dashed ranges, e.g.
"1-24" or "1,3,5-8".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpid, err := normalizeDpid(args[0])
		if err != nil {
			return err
		}
		if bulkPorts == "" {
			return fmt.Errorf("--ports is required")
		}

		ports, err := util.ExpandRange(bulkPorts)
		if err != nil {
			return fmt.Errorf("parsing --ports: %w", err)
		}
		if len(ports) == 0 {
			return fmt.Errorf("--ports expanded to no values")
		}

		var vlans []int
		if bulkVLANs != "" {
			vlans, err = util.ExpandVLANRange(bulkVLANs)
			if err != nil {
				return fmt.Errorf("parsing --vlans: %w", err)
			}
		}

		var slices [][][]int64
		for _, port := range ports {
			if len(vlans) == 0 {
				slices = append(slices, [][]int64{{int64(port)}})
				continue
			}
			for _, vlan := range vlans {
				slices = append(slices, [][]int64{{int64(port), int64(vlan)}})
			}
		}

		util.Logger.WithField("count", len(slices)).Info("staging bulk slices")

		body := map[string]interface{}{"slices": slices}
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		return postConfig(dpid, payload)
	},
}

func init() {
	configBulkCmd.Flags().StringVar(&bulkPorts, "ports", "", "port range, e.g. \"1-24\"")
	configBulkCmd.Flags().StringVar(&bulkVLANs, "vlans", "", "VLAN range, e.g. \"100-105\" (optional)")
	configCmd.AddCommand(configBulkCmd)
}
