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
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"securedb/internal/securedb"
)

var errNotFound = errors.New("key not found")

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or replace a value",
		Long:  `Insert or replace a value. A value of "-" is read from stdin.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := []byte(args[1])
			if args[1] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read value: %w", err)
				}
				value = data
			}
			return a.put(cmd.OutOrStdout(), args[0], value)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.get(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove", "del"},
		Short:   "Remove a value",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remove(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls [prefix]",
		Aliases: []string{"list", "scan"},
		Short:   "List entries, optionally filtered by key prefix",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix string
			if len(args) == 1 {
				prefix = args[0]
			}
			return a.list(cmd.OutOrStdout(), prefix)
		},
	}
}

func (a *app) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Persist the nonce counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.flush(cmd.OutOrStdout())
		},
	}
}

func (a *app) nonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce",
		Short: "Allocate and print a fresh nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.nonce(cmd.OutOrStdout())
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print session metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.db.Stats().WritePrometheus(cmd.OutOrStdout())
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if write != "" {
				if err := a.cfg.SaveToFile(write); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), success("Configuration written to"), write)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), a.cfg.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "Write the configuration to a TOML file")
	return cmd
}

func (a *app) put(w io.Writer, key string, value []byte) error {
	prev, err := a.db.Insert([]byte(key), value)
	if err != nil {
		return err
	}
	if prev != nil {
		fmt.Fprintf(w, "%s %s %s\n", success("replaced"), key, dimmed("(was "+display(prev)+")"))
		return nil
	}
	fmt.Fprintf(w, "%s %s\n", success("inserted"), key)
	return nil
}

func (a *app) get(w io.Writer, key string) error {
	value, err := a.db.Get([]byte(key))
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("%w: %s", errNotFound, key)
	}
	fmt.Fprintln(w, display(value))
	return nil
}

func (a *app) remove(w io.Writer, key string) error {
	prev, err := a.db.Remove([]byte(key))
	if err != nil {
		return err
	}
	if prev == nil {
		fmt.Fprintf(w, "%s %s\n", warning("absent"), key)
		return nil
	}
	fmt.Fprintf(w, "%s %s %s\n", success("removed"), key, dimmed("(was "+display(prev)+")"))
	return nil
}

func (a *app) list(w io.Writer, prefix string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	n := 0
	err := a.db.Scan([]byte(prefix), func(key, value []byte) error {
		n++
		_, err := fmt.Fprintf(tw, "%s\t%s\n", display(key), display(value))
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, dimmed(fmt.Sprintf("(%d entries)", n)))
	return nil
}

func (a *app) flush(w io.Writer) error {
	if err := a.db.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s counter=%d\n", success("flushed"), a.db.Stats().PersistedCounter)
	return nil
}

func (a *app) nonce(w io.Writer) error {
	nonce, err := a.db.NextNonce()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "nonce\t%x\n", nonce)
	fmt.Fprintf(tw, "counter\t%d\n", securedb.NonceCounter(nonce))
	identity := securedb.NonceIdentity(nonce)
	fmt.Fprintf(tw, "identity\t%x\n", identity)
	return tw.Flush()
}

// display renders printable UTF-8 as is and anything else as hex.
func display(b []byte) string {
	if !utf8.Valid(b) {
		return "0x" + hex.EncodeToString(b)
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "0x" + hex.EncodeToString(b)
		}
	}
	return string(b)
}
