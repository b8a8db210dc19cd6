/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	platform "github.com/chazu/modport/cue"
	"github.com/chazu/modport/internal/runner"
	"github.com/chazu/modport/pkg/moduleloader"
)

func (a *app) runner(opts ...runner.Option) *runner.Runner {
	return runner.New(a.cfg, a.out, opts...)
}

// sampleRunner loads modules from the embedded sample platform. The entry
// defaults to the webservice module.
func (a *app) sampleRunner(args []string) (*runner.Runner, string) {
	entry := platform.WebserviceEntry
	if len(args) > 0 {
		entry = args[0]
	}
	return a.runner(
		runner.WithSourceReader(moduleloader.FSReader{FS: platform.PlatformFS}),
		runner.WithGetwd(func() (string, error) { return "/" + platform.PlatformDir, nil }),
	), entry
}

func (a *app) newRunCmd() *cobra.Command {
	var samples bool
	cmd := &cobra.Command{
		Use:   "run <entry>",
		Short: "Load an entry module and print its exports",
		Args:  entryArgs(&samples),
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples {
				r, entry := a.sampleRunner(args)
				return r.Run(cmd.Context(), entry)
			}
			return a.runner().Run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&samples, "samples", false, "load entry from the embedded sample CUE platform")
	return cmd
}

// entryArgs requires one entry, or at most one with --samples
func entryArgs(samples *bool) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if *samples {
			return cobra.MaximumNArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	}
}

func (a *app) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <entry>...",
		Short: "Load every entry in its own realm and report failures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner().Check(cmd.Context(), args)
		},
	}
}

func (a *app) newGraphCmd() *cobra.Command {
	var samples bool
	cmd := &cobra.Command{
		Use:   "graph <entry>",
		Short: "Print the modules loaded by an entry, dependencies first",
		Args:  entryArgs(&samples),
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples {
				r, entry := a.sampleRunner(args)
				return r.Graph(cmd.Context(), entry)
			}
			return a.runner().Graph(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&samples, "samples", false, "load entry from the embedded sample CUE platform")
	return cmd
}

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <entry>",
		Short: "Run an entry and run it again whenever a loaded module changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runner().Watch(ctx, args[0])
		},
	}
}
