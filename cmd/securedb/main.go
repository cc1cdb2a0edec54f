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
Command securedb is a command-line client for SecureDB databases.

Every invocation opens the database, runs one command, then flushes the
nonce counter and closes the store. The shell subcommand keeps the
database open for an interactive session.

Usage:

	securedb put <key> <value>     Insert or replace a value ("-" reads stdin)
	securedb get <key>             Print a value
	securedb rm <key>              Remove a value
	securedb ls [prefix]           List entries
	securedb flush                 Persist the nonce counter
	securedb nonce                 Allocate and print a fresh nonce
	securedb stats                 Print session metrics
	securedb health                Run health checks
	securedb shell                 Interactive session
	securedb config                Show the effective configuration

The master key is read from SECUREDB_MASTER_KEY (hex) or
SECUREDB_PASSPHRASE. A .env file in the working directory is loaded
first. When neither is set and stdin is a terminal, a passphrase is
prompted for.
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	a := newApp()
	if err := a.execute(os.Args[1:], os.Stdout, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, failure("Error:"), err)
		os.Exit(1)
	}
}
