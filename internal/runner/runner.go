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

// Package runner drives module hosts for the modport commands.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"github.com/chazu/modport/internal/config"
	"github.com/chazu/modport/pkg/moduleloader"
)

// Runner loads entry modules and reports on them
type Runner struct {
	cfg    config.Config
	out    io.Writer
	reader moduleloader.SourceReader
	getwd  func() (string, error)
}

// Option configures a Runner
type Option func(*Runner)

// WithSourceReader sets where module source is read from
func WithSourceReader(reader moduleloader.SourceReader) Option {
	return func(r *Runner) {
		r.reader = reader
	}
}

// WithGetwd sets the directory entries are resolved against
func WithGetwd(getwd func() (string, error)) Option {
	return func(r *Runner) {
		r.getwd = getwd
	}
}

// New creates a runner writing its reports to out
func New(cfg config.Config, out io.Writer, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		out:    out,
		reader: moduleloader.FileReader{},
		getwd:  os.Getwd,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run imports entry into a fresh realm and prints a summary of its exports
func (r *Runner) Run(ctx context.Context, entry string) error {
	h := r.newHosts()
	defer h.shutdown()

	rl := h.forEntry(entry).NewSession(ctx)
	defer rl.Close()

	module, err := r.load(ctx, rl, entry)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, summary(rl, module))
	return nil
}

// Check imports every entry in its own realm, in parallel up to
// MaxConcurrency, and prints one line per entry. The returned error joins
// the failures of all entries.
func (r *Runner) Check(ctx context.Context, entries []string) error {
	logger := logr.FromContextOrDiscard(ctx)
	h := r.newHosts()
	defer h.shutdown()

	lines := make([]string, len(entries))
	p := pool.New().WithMaxGoroutines(r.cfg.MaxConcurrency).WithErrors()
	for i, entry := range entries {
		p.Go(func() error {
			rl := h.forEntry(entry).NewSession(ctx)
			defer rl.Close()

			module, err := r.load(ctx, rl, entry)
			if err != nil {
				lines[i] = fmt.Sprintf("FAIL %s: %v", entry, err)
				return fmt.Errorf("%s: %w", entry, err)
			}
			lines[i] = fmt.Sprintf("ok   %s (%d modules)", entry, rl.Graph().Len())
			logger.V(1).Info("Entry checked", "entry", entry, "path", module.Path())
			return nil
		})
	}

	err := p.Wait()
	for _, line := range lines {
		fmt.Fprintln(r.out, line)
	}
	return err
}

// Graph imports entry and prints every loaded module, dependencies first,
// with its digest and size
func (r *Runner) Graph(ctx context.Context, entry string) error {
	h := r.newHosts()
	defer h.shutdown()

	eh := h.forEntry(entry)
	rl := eh.NewSession(ctx)
	defer rl.Close()

	module, err := r.load(ctx, rl, entry)
	if err != nil {
		return err
	}

	order, err := rl.Graph().Order()
	if err != nil {
		return err
	}

	records := make(map[string]*moduleloader.Record)
	for _, rec := range eh.Records(moduleloader.ForRealm(module.Realm())) {
		records[rec.Path] = rec
	}
	for _, path := range order {
		rec, ok := records[path]
		if !ok {
			continue
		}
		fmt.Fprintf(r.out, "%s %8d %s\n", rec.Digest, rec.Size, path)
	}
	return nil
}

// load imports and validates entry
func (r *Runner) load(ctx context.Context, rl realm, entry string) (*moduleloader.Module, error) {
	module, err := rl.Import(ctx, entry)
	if err != nil {
		return nil, err
	}
	if err := rl.Validate(module); err != nil {
		return nil, fmt.Errorf("%s: %w", module.Path(), err)
	}
	return module, nil
}

func summary(rl realm, module *moduleloader.Module) string {
	return fmt.Sprintf("%s %s (%d modules)", module.Path(), rl.Describe(module), rl.Graph().Len())
}
