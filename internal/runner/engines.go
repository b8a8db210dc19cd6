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

package runner

import (
	"context"

	"github.com/chazu/modport/internal/config"
	"github.com/chazu/modport/pkg/cuehost"
	"github.com/chazu/modport/pkg/importgraph"
	"github.com/chazu/modport/pkg/luahost"
	"github.com/chazu/modport/pkg/moduleloader"
)

// realm is the engine-independent view of a host realm
type realm interface {
	Import(ctx context.Context, specifier string) (*moduleloader.Module, error)
	Describe(module *moduleloader.Module) string
	Graph() *importgraph.Graph
	Close() int

	// Validate checks an imported module beyond parsing and linking
	Validate(module *moduleloader.Module) error

	// registryRealm is the realm records are registered under
	registryRealm() moduleloader.Realm
}

// host is the engine-independent view of a module host
type host interface {
	NewSession(ctx context.Context) realm
	Records(filter moduleloader.Filter) []*moduleloader.Record
	Shutdown() int
}

type luaHost struct {
	*luahost.Host
}

func (h luaHost) NewSession(ctx context.Context) realm {
	return luaRealm{h.NewRealm(ctx)}
}

type luaRealm struct {
	*luahost.Realm
}

// Validate is a no-op; a Lua module is valid once it has run
func (luaRealm) Validate(*moduleloader.Module) error {
	return nil
}

func (r luaRealm) registryRealm() moduleloader.Realm {
	return r.Realm
}

type cueHost struct {
	*cuehost.Host
}

func (h cueHost) NewSession(ctx context.Context) realm {
	return cueRealm{h.NewRealm(ctx)}
}

type cueRealm struct {
	*cuehost.Realm
}

// Validate reports conflicts left in the linked value
func (r cueRealm) Validate(module *moduleloader.Module) error {
	v, ok := r.Value(module)
	if !ok {
		return nil
	}
	return v.Validate()
}

func (r cueRealm) registryRealm() moduleloader.Realm {
	return r.Realm
}

// hosts holds one host per engine for a single command
type hosts struct {
	cfg config.Config
	lua host
	cue host
}

func (r *Runner) newHosts() *hosts {
	return &hosts{
		cfg: r.cfg,
		lua: luaHost{luahost.NewHost(
			luahost.WithSourceReader(r.reader),
			luahost.WithGetwd(r.getwd),
			luahost.WithStrictNotFound(r.cfg.StrictNotFound),
		)},
		cue: cueHost{cuehost.NewHost(
			cuehost.WithSourceReader(r.reader),
			cuehost.WithGetwd(r.getwd),
			cuehost.WithStrictNotFound(r.cfg.StrictNotFound),
		)},
	}
}

// forEntry returns the host of the engine that loads entry
func (h *hosts) forEntry(entry string) host {
	if h.cfg.EngineFor(entry) == config.EngineCUE {
		return h.cue
	}
	return h.lua
}

func (h *hosts) shutdown() int {
	return h.lua.Shutdown() + h.cue.Shutdown()
}
