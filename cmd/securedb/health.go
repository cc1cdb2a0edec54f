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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"securedb/internal/health"
)

var errUnhealthy = errors.New("database is unhealthy")

func (a *app) healthCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check store readability, metadata and nonce headroom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.health(cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func (a *app) checker() *health.Checker {
	c := health.NewChecker(Version)
	c.RegisterCheck("store", health.StoreCheck(a.db.Check))
	c.RegisterCheck("nonce_headroom", health.NonceHeadroomCheck(a.db.Counter, health.DefaultHeadroom))
	c.RegisterCheck("decryption", health.DecryptionCheck(func() uint64 {
		return a.db.Stats().DecryptionFailures
	}))
	return c
}

func (a *app) health(w io.Writer, asJSON bool) error {
	report := a.checker().RunChecks()

	if asJSON {
		if err := report.WriteJSON(w); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE")
		for _, r := range report.Checks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, statusColour(r.Status), r.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w, "Overall:", statusColour(report.Status))
	}

	if report.Status == health.StatusUnhealthy {
		return errUnhealthy
	}
	return nil
}

func statusColour(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return success(string(s))
	case health.StatusDegraded:
		return warning(string(s))
	default:
		return failure(string(s))
	}
}
