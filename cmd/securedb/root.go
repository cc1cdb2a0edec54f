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
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"securedb/internal/config"
	"securedb/internal/crypto"
	"securedb/internal/logging"
	"securedb/internal/securedb"
)

// Version is set at build time.
var Version = "0.1.0"

// noStore marks commands that run without opening the database.
const noStore = "securedb/no-store"

var (
	success = color.New(color.FgGreen).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	info    = color.New(color.FgCyan).SprintFunc()
	dimmed  = color.New(color.Faint).SprintFunc()
)

// app holds the state shared by every command of one invocation.
type app struct {
	// Global flags
	configFile string
	dbPath     string
	backend    string
	logLevel   string

	cfg *config.Config
	db  *securedb.DB

	// readSecret prompts for a passphrase when no key is configured.
	readSecret func(prompt string) (string, error)
}

func newApp() *app {
	return &app{readSecret: promptPassphrase}
}

// execute runs one command line and always releases the store, even
// when the command failed.
func (a *app) execute(args []string, stdout io.Writer, stdin io.Reader) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetIn(stdin)
	err := root.Execute()
	if cerr := a.closeStore(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "securedb",
		Short: "Encrypted key-value store client",
		Long: `securedb reads and writes a SecureDB database.

Values are sealed with XChaCha20-Poly1305 under a key derived from the
master key. Keys are stored in the clear.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			if cmd.Annotations[noStore] != "" {
				return nil
			}
			return a.openStore()
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVarP(&a.dbPath, "db", "d", "", "Database path")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "Storage backend: bolt, wal, memory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		a.putCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.lsCmd(),
		a.flushCmd(),
		a.nonceCmd(),
		a.statsCmd(),
		a.healthCmd(),
		a.shellCmd(),
		a.configCmd(),
	)
	return root
}

// loadConfig resolves the configuration.
// Order: defaults -> config file -> .env and environment -> flags.
func (a *app) loadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(a.configFile); err != nil {
		return err
	}
	cfg := mgr.Get()
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(cfg.LoggingConfig())
	a.cfg = cfg
	return nil
}

func (a *app) openStore() error {
	key, err := a.masterKey()
	if err != nil {
		return err
	}
	defer crypto.Zero(key)

	opts, err := a.cfg.Options()
	if err != nil {
		return err
	}
	db, err := securedb.OpenWithOptions(a.cfg.DBPath, key, opts)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) masterKey() ([]byte, error) {
	key, err := a.cfg.MasterKey()
	if !errors.Is(err, config.ErrNoMasterKey) {
		return key, err
	}
	passphrase, perr := a.readSecret("Passphrase: ")
	if perr != nil {
		return nil, perr
	}
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	return crypto.PassphraseKey(passphrase, []byte(a.cfg.KDFSalt)), nil
}

// closeStore flushes the nonce counter and closes the database.
func (a *app) closeStore() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", config.ErrNoMasterKey
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
