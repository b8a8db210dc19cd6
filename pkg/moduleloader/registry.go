package moduleloader

import (
	"container/list"

	"github.com/chazu/modport/pkg/metrics"
)

// Filter selects records for release or listing
type Filter struct {
	all   bool
	realm Realm
}

// All matches every record
func All() Filter {
	return Filter{all: true}
}

// ForRealm matches the records bound to realm
func ForRealm(realm Realm) Filter {
	return Filter{realm: realm}
}

// Matches reports whether a record bound to realm is selected
func (f Filter) Matches(realm Realm) bool {
	return f.all || f.realm == realm
}

func (f Filter) scope() string {
	if f.all {
		return metrics.ScopeAll
	}
	return metrics.ScopeRealm
}

// Registry holds the module records of every realm sharing one embedding.
// Records are kept most recently inserted first.
type Registry struct {
	// order holds *Record values, most recent at the front
	order *list.List

	// index maps (realm, canonical path) to its element in order
	index map[recordKey]*list.Element
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		order: list.New(),
		index: make(map[recordKey]*list.Element),
	}
}

// Lookup returns the module registered for path in realm
func (r *Registry) Lookup(realm Realm, path string) (*Module, bool) {
	elem, ok := r.index[recordKey{realm: realm, path: path}]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Record).module, true
}

// Record returns the live record behind module. It reports false once the
// record has been released.
func (r *Registry) Record(module *Module) (*Record, bool) {
	if module == nil {
		return nil, false
	}
	elem, ok := r.index[module.key]
	if !ok {
		return nil, false
	}
	rec := elem.Value.(*Record)
	if rec.module != module {
		return nil, false
	}
	return rec, true
}

// Insert adds rec at the front of the registry. It does not check for an
// existing record with the same key; callers Lookup first.
func (r *Registry) Insert(rec *Record) {
	r.index[rec.module.key] = r.order.PushFront(rec)
	metrics.RecordInsert()
}

// Release drops the unit and realm references of every record matching
// filter, removes those records and returns how many were released.
func (r *Registry) Release(filter Filter) int {
	released := 0
	for elem := r.order.Front(); elem != nil; {
		next := elem.Next()
		rec := elem.Value.(*Record)
		if filter.Matches(rec.Realm()) {
			r.order.Remove(elem)
			delete(r.index, rec.module.key)
			rec.release()
			released++
		}
		elem = next
	}
	metrics.RecordRelease(filter.scope(), released)
	return released
}

// Records returns the records matching filter, most recent first
func (r *Registry) Records(filter Filter) []*Record {
	var records []*Record
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		rec := elem.Value.(*Record)
		if filter.Matches(rec.Realm()) {
			records = append(records, rec)
		}
	}
	return records
}

// Len returns the number of records held
func (r *Registry) Len() int {
	return r.order.Len()
}
