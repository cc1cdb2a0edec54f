/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"securedb/internal/banner"
)

// shellCommands lists the commands offered for tab completion.
var shellCommands = []string{"put", "get", "rm", "ls", "flush", "nonce", "stats", "health", "help", "exit"}

const shellHelp = `Commands:
  put <key> <value>   Insert or replace a value (value runs to end of line)
  get <key>           Print a value
  rm <key>            Remove a value
  ls [prefix]         List entries
  flush               Persist the nonce counter
  nonce               Allocate and print a fresh nonce
  stats               Print session metrics
  health              Run health checks
  help                Show this help
  exit                Leave the shell (also Ctrl+D)`

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.shell(cmd.OutOrStdout())
		},
	}
}

// getHistoryFilePath returns the path to the history file.
func getHistoryFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".securedb_history")
}

func createCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, c := range shellCommands {
		items = append(items, readline.PcItem(c))
	}
	return readline.NewPrefixCompleter(items...)
}

// filterInput disables Ctrl+Z.
func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

func (a *app) shell(w io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              info("securedb") + dimmed(">") + " ",
		HistoryFile:         getHistoryFilePath(),
		AutoComplete:        createCompleter(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
		Stdout:              w,
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	counter, err := a.db.Counter()
	if err != nil {
		return err
	}
	banner.PrintShell(w, a.cfg, banner.Session{Version: Version, Identity: a.db.Identity(), Counter: counter})
	fmt.Fprintln(w, dimmed("Type \"help\" for commands, Ctrl+D to exit."))
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Fprintln(w, dimmed("(Use exit or Ctrl+D to leave)"))
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := a.runLine(w, line)
		if err != nil {
			fmt.Fprintln(w, failure("Error:"), err)
		}
		if quit {
			return nil
		}
	}
}

// runLine executes one shell line. The value of put runs to the end of
// the line so it may contain spaces.
func (a *app) runLine(w io.Writer, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(name) {
	case "exit", "quit", `\q`:
		return true, nil
	case "help", `\h`, "?":
		fmt.Fprintln(w, shellHelp)
		return false, nil
	case "put":
		key, value, ok := strings.Cut(rest, " ")
		if !ok || key == "" {
			return false, errors.New("usage: put <key> <value>")
		}
		return false, a.put(w, key, []byte(strings.TrimLeft(value, " ")))
	case "get":
		if len(args) != 1 {
			return false, errors.New("usage: get <key>")
		}
		return false, a.get(w, args[0])
	case "rm", "remove", "del":
		if len(args) != 1 {
			return false, errors.New("usage: rm <key>")
		}
		return false, a.remove(w, args[0])
	case "ls", "list", "scan":
		if len(args) > 1 {
			return false, errors.New("usage: ls [prefix]")
		}
		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}
		return false, a.list(w, prefix)
	case "flush":
		return false, a.flush(w)
	case "nonce":
		return false, a.nonce(w)
	case "stats":
		return false, a.db.Stats().WritePrometheus(w)
	case "health":
		return false, a.health(w, false)
	default:
		return false, fmt.Errorf("unknown command %q (type help)", name)
	}
}
