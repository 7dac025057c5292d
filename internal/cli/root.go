// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli wires the command line onto the lock supervisor.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lollipopman/vlock/internal/config"
	"github.com/lollipopman/vlock/internal/log"
	"github.com/lollipopman/vlock/internal/supervisor"
	vlockerrors "github.com/lollipopman/vlock/pkg/errors"
)

// Version information, set from main before the root command is built.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// options holds the lock options from the command line.
type options struct {
	all        bool
	newVT      bool
	sysrq      bool
	timeout    int
	configPath string
}

// NewRootCommand creates the root Cobra command for vlock.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "vlock [options] [plugin ...]",
		Short: "vlock - lock virtual consoles",
		Long: `vlock locks the current terminal session until the user (or root)
authenticates. With --all, every virtual console on the system is
locked and console switching is disabled until the lock is released.

Additional plugins named on the command line are loaded after the
option plugins, in the order given.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, opts, args)
		},
	}

	cmd.SetVersionTemplate(fmt.Sprintf(
		"vlock version {{.Version}}\n  commit:     %s\n  build date: %s\n",
		commit, buildDate))

	cmd.Flags().BoolVarP(&opts.all, "all", "a", false,
		"Lock all consoles and disable console switching")
	cmd.Flags().BoolVarP(&opts.newVT, "new", "n", false,
		"Switch to a fresh virtual console before locking (implies --all)")
	cmd.Flags().BoolVarP(&opts.sysrq, "disable-sysrq", "s", false,
		"Disable SysRq while consoles are locked")
	cmd.Flags().IntVarP(&opts.timeout, "timeout", "t", 0,
		"Prompt timeout in seconds (0 waits forever)")
	cmd.Flags().StringVar(&opts.configPath, "config", "",
		"Path to config file (default: /etc/vlock/vlock.yaml)")

	return cmd
}

func runLock(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		cfg.PromptTimeout = opts.timeout
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	names := append(optionPlugins(opts), args...)

	lcfg := log.FromEnv()
	if cfg.Debug {
		lcfg.Level = "debug"
	}
	logger := log.New(lcfg)

	sup := supervisor.New(cfg, logger)
	if err := sup.Prepare(names); err != nil {
		return err
	}
	return sup.Run()
}

// optionPlugins maps the lock options onto the plugins implementing
// them. The new plugin pulls in all on its own.
func optionPlugins(opts *options) []string {
	var names []string
	if opts.all {
		names = append(names, "all")
	}
	if opts.newVT {
		names = append(names, "new")
	}
	if opts.sysrq {
		names = append(names, "sysrq")
	}
	return names
}

// HandleExitError reports err on stderr and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "vlock: %v\n", err)
	os.Exit(vlockerrors.ExitCode(err, 1))
}
