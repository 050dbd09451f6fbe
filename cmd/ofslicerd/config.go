package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ofslicer/ofslicer/pkg/tuple"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get or apply a datapath's slice configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <dpid>",
	Short: "Show a datapath's current slice configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpid, err := normalizeDpid(args[0])
		if err != nil {
			return err
		}

		body, err := httpGet(resolveAPIAddr() + "/slicer/api/v1/config/" + dpid)
		if err != nil {
			return fmt.Errorf("requesting config: %w", err)
		}

		var wire [][][]int64
		if err := json.Unmarshal(body, &wire); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		printSliceTable(dpid, wire)
		return nil
	},
}

var configApplyCmd = &cobra.Command{
	Use:   "apply <dpid> <file.json>",
	Short: "Apply a slice configuration from a JSON file",
	Long: `apply POSTs the given file verbatim to the running instance's
configuration endpoint. The file holds the same JSON body the HTTP API
accepts: {"slices": [[...]], "disused": [...], "learn": {...}}.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpid, err := normalizeDpid(args[0])
		if err != nil {
			return err
		}

		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}

		return postConfig(dpid, payload)
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configApplyCmd)
}

// normalizeDpid accepts either a bare hex datapath id ("1", "0000000000000001")
// or a decimal one and renders it as the 16-hex-digit form the API expects.
func normalizeDpid(raw string) (string, error) {
	base := 0
	if len(raw) > 1 && raw[0] == '0' && raw[1] != 'x' && raw[1] != 'X' {
		// Zero-padded ids are hex, not octal.
		base = 16
	}
	n, err := strconv.ParseUint(raw, base, 64)
	if err != nil {
		n, err = strconv.ParseUint(raw, 16, 64)
		if err != nil {
			return "", fmt.Errorf("malformed datapath id %q: %w", raw, err)
		}
	}
	return fmt.Sprintf("%016x", n), nil
}

// httpGet issues a GET and returns the response body, erroring on any
// non-200 status.
func httpGet(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func postConfig(dpid string, payload []byte) error {
	resp, err := http.Post(resolveAPIAddr()+"/slicer/api/v1/config/"+dpid, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Println(red("rejected:"))
		var wire [][][]int64
		if json.Unmarshal(body, &wire) == nil {
			printSliceTable(dpid, wire)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	var wire [][][]int64
	if err := json.Unmarshal(body, &wire); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Println(green("applied."))
	printSliceTable(dpid, wire)
	return nil
}

func printSliceTable(dpid string, wire [][][]int64) {
	fmt.Printf("Datapath %s: %d slice(s)\n\n", dpid, len(wire))
	if len(wire) == 0 {
		return
	}
	t := cliTable("SLICE", "TUPLES")
	for i, slice := range wire {
		var parts []string
		for _, w := range slice {
			parts = append(parts, wireToTuple(w).String())
		}
		t.Row(strconv.Itoa(i), strings.Join(parts, ", "))
	}
	t.Flush()
}

// wireToTuple converts a decoded JSON tuple (1-3 signed ints, the same
// shape the HTTP API speaks) into a tuple.Tuple for display.
func wireToTuple(w []int64) tuple.Tuple {
	switch len(w) {
	case 1:
		return tuple.New1(uint32(w[0]))
	case 2:
		return tuple.New2(uint32(w[0]), uint16(w[1]))
	default:
		return tuple.New3(uint32(w[0]), uint16(w[1]), uint16(w[2]))
	}
}
