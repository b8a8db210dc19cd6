package cuehost

import (
	"context"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/chazu/modport/pkg/importgraph"
	"github.com/chazu/modport/pkg/moduleloader"
)

const (
	// ImportsField is the top-level struct mapping dependency names to
	// specifiers
	ImportsField = "imports"

	// DepsField is where linked dependencies are filled, by name
	DepsField = "deps"
)

// Realm is one cue.Context with its own set of linked modules.
// A realm is not safe for concurrent use.
type Realm struct {
	id     uuid.UUID
	host   *Host
	cueCtx *cue.Context

	// refs is guarded by host.mu
	refs int

	log    logr.Logger
	graph  *importgraph.Graph
	closed bool
}

// ID implements moduleloader.Realm
func (r *Realm) ID() string {
	return r.id.String()
}

// Retain implements moduleloader.Realm
func (r *Realm) Retain() {
	r.refs++
}

// Release implements moduleloader.Realm
func (r *Realm) Release() {
	if r.refs == 0 {
		return
	}
	r.refs--
	if r.refs == 0 {
		r.cueCtx = nil
	}
}

// Context returns the CUE context, nil once the realm is released
func (r *Realm) Context() *cue.Context {
	return r.cueCtx
}

// Graph returns the imports observed in this realm
func (r *Realm) Graph() *importgraph.Graph {
	return r.graph
}

// Import resolves specifier against the working directory and links it
func (r *Realm) Import(ctx context.Context, specifier string) (*moduleloader.Module, error) {
	if r.closed || r.cueCtx == nil {
		return nil, ErrRealmClosed
	}
	module, _, err := r.link(ctx, specifier, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", specifier, err)
	}
	return module, nil
}

// Value returns the linked value of module
func (r *Realm) Value(module *moduleloader.Module) (cue.Value, bool) {
	u, ok := module.Unit().(*unit)
	if !ok || u.status != statusLinked {
		return cue.Value{}, false
	}
	return u.linked, true
}

// Describe summarizes the linked value of module
func (r *Realm) Describe(module *moduleloader.Module) string {
	v, ok := r.Value(module)
	if !ok {
		return "<not linked>"
	}
	if v.IncompleteKind() != cue.StructKind {
		return fmt.Sprintf("%v", v)
	}

	iter, err := v.Fields()
	if err != nil {
		return "struct"
	}
	var names []string
	for iter.Next() {
		name := iter.Selector().Unquoted()
		if name == ImportsField || name == DepsField {
			continue
		}
		names = append(names, name)
	}
	return "struct{" + strings.Join(names, ", ") + "}"
}

// Close releases every record of this realm and the host's reference on it
func (r *Realm) Close() int {
	if r.closed {
		return 0
	}
	r.closed = true
	n := r.host.release(r)
	r.log.V(1).Info("Realm closed", "engine", "cue", "realm", r.ID(), "released", n)
	return n
}

// link resolves specifier and links the module once per realm
func (r *Realm) link(ctx context.Context, specifier string, referrer *moduleloader.Module) (*moduleloader.Module, cue.Value, error) {
	module, err := r.host.resolve(ctx, specifier, referrer, r)
	if err != nil {
		return nil, cue.Value{}, err
	}

	if referrer != nil {
		err = r.graph.AddImport(referrer.Path(), module.Path())
	} else {
		err = r.graph.AddModule(module.Path())
	}
	if err != nil {
		return nil, cue.Value{}, err
	}

	u, ok := module.Unit().(*unit)
	if !ok {
		return nil, cue.Value{}, fmt.Errorf("module %s was not parsed by the cue engine", module.Path())
	}

	switch u.status {
	case statusLinked:
		return module, u.linked, nil
	case statusLinking:
		return nil, cue.Value{}, fmt.Errorf("%w: %s", ErrImportCycle, module.Path())
	}

	u.status = statusLinking
	linked, err := r.fill(ctx, module, u.value)
	if err != nil {
		u.status = statusPending
		return nil, cue.Value{}, err
	}
	u.linked = linked
	u.status = statusLinked

	logr.FromContextOrDiscard(ctx).V(1).Info("Module linked", "realm", r.ID(), "path", module.Path())
	return module, linked, nil
}

// fill links every entry of the module's imports struct into deps
func (r *Realm) fill(ctx context.Context, module *moduleloader.Module, v cue.Value) (cue.Value, error) {
	imports := v.LookupPath(cue.MakePath(cue.Str(ImportsField)))
	if !imports.Exists() {
		return v, nil
	}

	iter, err := imports.Fields()
	if err != nil {
		return cue.Value{}, fmt.Errorf("%s: invalid %s: %w", module.Path(), ImportsField, err)
	}

	for iter.Next() {
		name := iter.Selector().Unquoted()
		specifier, err := iter.Value().String()
		if err != nil {
			return cue.Value{}, fmt.Errorf("%s: %s.%s must be a string: %w", module.Path(), ImportsField, name, err)
		}

		_, dep, err := r.link(ctx, specifier, module)
		if err != nil {
			return cue.Value{}, &ImportError{Path: module.Path(), Name: name, Specifier: specifier, Err: err}
		}
		v = v.FillPath(cue.MakePath(cue.Str(DepsField), cue.Str(name)), dep)
	}

	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("%s: %w", module.Path(), err)
	}
	return v, nil
}

// ImportError is a failure to resolve or link one entry of a module's
// imports struct
type ImportError struct {
	// Path is the canonical path of the importing module
	Path string

	// Name is the field name under imports
	Name string

	// Specifier is the imported specifier, relative to Path
	Specifier string

	Err error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s: import %q: %v", e.Path, e.Name, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
