package moduleloader

import "time"

// Releaser is a counted reference held on an engine object.
// Retain adds one reference and Release drops one.
type Releaser interface {
	Retain()
	Release()
}

// Realm is an isolated execution environment owned by the engine.
// Realms are compared by identity, so implementations should be pointer types.
type Realm interface {
	Releaser

	// ID identifies the realm in logs and diagnostics
	ID() string
}

// Unit is a parsed module as produced by an Engine
type Unit interface {
	Releaser
}

// Engine parses module source text into a Unit bound to realm.
// resourceName is the specifier as written by the importer and is what the
// engine should report in diagnostics.
type Engine interface {
	Parse(realm Realm, source []byte, resourceName string) (Unit, error)
}

// recordKey identifies a record inside a Registry
type recordKey struct {
	realm Realm
	path  string
}

// Module is the handle returned to hosts for a resolved module.
// It does not own its record; Registry.Record recovers the record while it is
// still registered.
type Module struct {
	unit Unit
	key  recordKey
}

// Unit returns the parsed unit
func (m *Module) Unit() Unit {
	return m.unit
}

// Path returns the canonical path the module was resolved to
func (m *Module) Path() string {
	return m.key.path
}

// Realm returns the realm the module was parsed in
func (m *Module) Realm() Realm {
	return m.key.realm
}

// lease is a counted reference that is dropped at most once
type lease struct {
	ref Releaser
}

func newLease(ref Releaser) lease {
	ref.Retain()
	return lease{ref: ref}
}

func (l *lease) drop() {
	if l.ref == nil {
		return
	}
	l.ref.Release()
	l.ref = nil
}

// Record is one parsed module bound to one realm
type Record struct {
	// Path is the canonical absolute path of the module file
	Path string

	// BaseDirLen is DirectoryEnd(Path). Specifiers imported from this module
	// resolve against Path[:BaseDirLen].
	BaseDirLen int

	// ResourceName is the specifier the module was first imported with
	ResourceName string

	// Digest is the xxhash64 of the module source, hex encoded
	Digest string

	// Size is the source length in bytes
	Size int

	// LoadedAt is when the module was parsed
	LoadedAt time.Time

	module *Module
	realm  lease
	unit   lease
}

// BaseDir returns the directory of the module including the trailing separator
func (r *Record) BaseDir() string {
	return r.Path[:r.BaseDirLen]
}

// Module returns the handle for this record
func (r *Record) Module() *Module {
	return r.module
}

// Realm returns the realm this record belongs to
func (r *Record) Realm() Realm {
	return r.module.key.realm
}

// release drops the unit reference and then the realm reference
func (r *Record) release() {
	r.unit.drop()
	r.realm.drop()
}
