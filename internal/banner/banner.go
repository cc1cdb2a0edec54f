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

/*
Package banner prints the SecureDB shell banner.

The ASCII logo is embedded from banner.txt at compile time. Colours come
from github.com/fatih/color and are dropped automatically when output is
not a terminal.

Usage:

	banner.PrintShell(os.Stdout, cfg, banner.Session{Version: v, Identity: id})
*/
package banner

import (
	_ "embed" // Required for the //go:embed directive
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"securedb/internal/config"
)

//go:embed banner.txt
var banner string

const (
	Copyright = "(c)2026 Firefly Software Solutions Inc"
	License   = "Licensed under Apache 2.0"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.FgRed, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

// Session describes the open database shown in the banner.
type Session struct {
	Version  string
	Identity [16]byte
	Counter  uint64
}

// PrintShell writes the shell banner followed by the effective
// configuration of the session.
func PrintShell(w io.Writer, cfg *config.Config, s Session) {
	fmt.Fprintln(w, red(strings.TrimRight(banner, "\n")))
	fmt.Fprintln(w, bold(fmt.Sprintf(":: SecureDB Shell ::%*s", 24, "(v"+s.Version+")")))
	fmt.Fprintln(w, dim("  Encrypted key-value store"))
	fmt.Fprintln(w)

	printConfigSource(w, cfg)

	const lineWidth = 60
	printSectionHeader(w, "Store", lineWidth)
	printRow2(w, fmtKV("Path", cfg.DBPath), fmtKV("Backend", green(cfg.Backend)))
	printRow2(w, fmtKV("Sync", fmtEnabled("on commit", cfg.SyncOnCommit)), fmtKV("Log", cfg.LogLevel))
	fmt.Fprintln(w)

	printSectionHeader(w, "Nonces", lineWidth)
	printRow2(w, fmtKV("Policy", green(cfg.NoncePolicy)), fmtKV("Interval", fmt.Sprint(cfg.NonceInterval)))
	printRow2(w, fmtKV("Identity", hex.EncodeToString(s.Identity[:])), fmtKV("Counter", fmt.Sprint(s.Counter)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, dim("  "+Copyright+" - "+License))
	fmt.Fprintln(w)
}

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+dim("Config: "))
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, yellow(cfg.ConfigFile))
	} else {
		fmt.Fprintln(w, dim("defaults + environment"))
	}
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s ]%s\n",
		dim(strings.Repeat("-", leftPad)), cyan(title), dim(strings.Repeat("-", rightPad)))
}

func fmtKV(key, value string) string {
	return dim(key+":") + " " + value
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return green(name)
	}
	return dim("off")
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}
