package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// stagedConfig mirrors the HTTP API's POST body, accumulated by a
// composite-mode shell session before it is delivered in one request —
// the same begin/show/commit/discard shape the teacher's shell used
// for batching SONiC config-DB entries, applied here to staged slices.
type stagedConfig struct {
	Slices  [][][]int64 `json:"slices,omitempty"`
	Disused [][]int64   `json:"disused,omitempty"`
	Learn   interface{} `json:"learn,omitempty"`
}

func (s *stagedConfig) empty() bool {
	return len(s.Slices) == 0 && len(s.Disused) == 0 && s.Learn == nil
}

// Shell provides an interactive REPL against a single datapath's
// running slice configuration.
type Shell struct {
	dpid     string
	term     *term.Terminal
	staged   stagedConfig
	dirty    bool
	commands map[string]func(args []string)
}

// NewShell builds a shell reading/writing rw (a raw-mode terminal, or
// a plain stdio pair when stdin is not a terminal) for dpid.
func NewShell(rw io.ReadWriter, dpid string) *Shell {
	s := &Shell{
		dpid: dpid,
		term: term.NewTerminal(rw, ""),
	}
	s.term.SetPrompt(s.prompt())
	s.commands = map[string]func(args []string){
		"show":    func([]string) { s.cmdShow() },
		"add":     s.cmdAdd,
		"disuse":  s.cmdDisuse,
		"learn":   s.cmdLearn,
		"staged":  func([]string) { s.cmdStaged() },
		"commit":  func([]string) { s.cmdCommit() },
		"discard": func([]string) { s.cmdDiscard() },
		"help":    func([]string) { s.cmdHelp() },
		"?":       func([]string) { s.cmdHelp() },
	}
	return s
}

func (s *Shell) prompt() string {
	if s.dirty {
		return fmt.Sprintf("[staged] %s> ", s.dpid)
	}
	return fmt.Sprintf("%s> ", s.dpid)
}

// Run starts the interactive loop. It returns on EOF or a quit command.
func (s *Shell) Run() error {
	fmt.Fprintf(s.term, "Connected to datapath %s.\n", bold(s.dpid))
	fmt.Fprintln(s.term, "Type 'help' for available commands.")

	for {
		s.term.SetPrompt(s.prompt())
		line, err := s.term.ReadLine()
		if err != nil {
			return s.handleQuit()
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		args := strings.Fields(line)
		cmd := args[0]

		switch cmd {
		case "quit", "exit", "q":
			return s.handleQuit()
		default:
			if fn, ok := s.commands[cmd]; ok {
				fn(args[1:])
			} else {
				fmt.Fprintf(s.term, "Unknown command: %s (type 'help' for commands)\n", cmd)
			}
		}
	}
}

func (s *Shell) cmdShow() {
	resp, err := httpGet(resolveAPIAddr() + "/slicer/api/v1/config/" + s.dpid)
	if err != nil {
		fmt.Fprintf(s.term, "Error: %v\n", err)
		return
	}
	var wire [][][]int64
	if err := json.Unmarshal(resp, &wire); err != nil {
		fmt.Fprintf(s.term, "Error decoding response: %v\n", err)
		return
	}
	for i, slice := range wire {
		var parts []string
		for _, w := range slice {
			parts = append(parts, wireToTuple(w).String())
		}
		fmt.Fprintf(s.term, "  [%d] %s\n", i, strings.Join(parts, ", "))
	}
	if len(wire) == 0 {
		fmt.Fprintln(s.term, "  (no slices)")
	}
}

func (s *Shell) cmdAdd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.term, "Usage: add <tuple> [<tuple> ...]")
		return
	}
	var slice [][]int64
	for _, a := range args {
		w, err := parseTupleArg(a)
		if err != nil {
			fmt.Fprintf(s.term, "Error: %v\n", err)
			return
		}
		slice = append(slice, w)
	}
	s.staged.Slices = append(s.staged.Slices, slice)
	s.dirty = true
	fmt.Fprintln(s.term, "Staged. Use 'commit' to apply or 'discard' to cancel.")
}

func (s *Shell) cmdDisuse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.term, "Usage: disuse <tuple>")
		return
	}
	w, err := parseTupleArg(args[0])
	if err != nil {
		fmt.Fprintf(s.term, "Error: %v\n", err)
		return
	}
	s.staged.Disused = append(s.staged.Disused, w)
	s.dirty = true
	fmt.Fprintln(s.term, "Staged. Use 'commit' to apply or 'discard' to cancel.")
}

func (s *Shell) cmdLearn(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.term, "Usage: learn <tuple> <mac> [timeout]")
		return
	}
	w, err := parseTupleArg(args[0])
	if err != nil {
		fmt.Fprintf(s.term, "Error: %v\n", err)
		return
	}
	learn := map[string]interface{}{"mac": args[1], "tuple": w}
	if len(args) > 2 {
		timeout, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(s.term, "Error: invalid timeout %q\n", args[2])
			return
		}
		learn["timeout"] = timeout
	}
	s.staged.Learn = learn
	s.dirty = true
	fmt.Fprintln(s.term, "Staged. Use 'commit' to apply or 'discard' to cancel.")
}

func (s *Shell) cmdStaged() {
	b, _ := json.MarshalIndent(s.staged, "", "  ")
	fmt.Fprintln(s.term, string(b))
}

func (s *Shell) cmdCommit() {
	if s.staged.empty() {
		fmt.Fprintln(s.term, "Nothing staged.")
		return
	}
	payload, err := json.Marshal(s.staged)
	if err != nil {
		fmt.Fprintf(s.term, "Error: %v\n", err)
		return
	}
	if err := postConfig(s.dpid, payload); err != nil {
		fmt.Fprintf(s.term, "Error: %v\n", err)
		return
	}
	s.staged = stagedConfig{}
	s.dirty = false
}

func (s *Shell) cmdDiscard() {
	s.staged = stagedConfig{}
	s.dirty = false
	fmt.Fprintln(s.term, "Staged changes discarded.")
}

func (s *Shell) handleQuit() error {
	if s.dirty {
		fmt.Fprint(s.term, "Staged changes not committed. Discard them? [Y/n]: ")
		confirm, _ := s.term.ReadLine()
		confirm = strings.TrimSpace(strings.ToLower(confirm))
		if confirm != "n" && confirm != "no" {
			s.cmdDiscard()
		}
	}
	fmt.Fprintln(s.term, "Disconnecting...")
	return nil
}

func (s *Shell) cmdHelp() {
	fmt.Fprintln(s.term, "Commands:")
	fmt.Fprintln(s.term, "  show                    Show the datapath's current slices")
	fmt.Fprintln(s.term, "  add <tuple...>          Stage a new slice from 1-3 tuples")
	fmt.Fprintln(s.term, "  disuse <tuple>          Stage a tuple for removal")
	fmt.Fprintln(s.term, "  learn <tuple> <mac>     Stage a manual MAC learn")
	fmt.Fprintln(s.term, "  staged                  Show staged (uncommitted) changes")
	fmt.Fprintln(s.term, "  commit                  Apply staged changes")
	fmt.Fprintln(s.term, "  discard                 Drop staged changes")
	fmt.Fprintln(s.term, "  quit                    Disconnect")
	fmt.Fprintln(s.term, "  help                    Show this help")
}

// stdIO pairs os.Stdin and os.Stdout as the io.ReadWriter x/term's
// Terminal needs; neither alone implements both halves.
type stdIO struct {
	io.Reader
	io.Writer
}

var shellCmd = &cobra.Command{
	Use:    "shell <dpid>",
	Short:  "Interactive shell against a running datapath",
	Hidden: true,
	Long: `shell opens a raw-mode line-editing REPL against a datapath served by
a running "ofslicerd serve" instance, for exploratory configuration
changes without hand-writing JSON files.

Examples:
  ofslicerd shell 1
  ofslicerd --api http://10.0.0.5:8080 shell 0000000000000001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpid, err := normalizeDpid(args[0])
		if err != nil {
			return err
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			sh := NewShell(stdIO{os.Stdin, os.Stdout}, dpid)
			return sh.Run()
		}

		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)

		sh := NewShell(stdIO{os.Stdin, os.Stdout}, dpid)
		return sh.Run()
	},
}
