package cuehost

import (
	"context"
	"errors"
	"sync"

	"cuelang.org/go/cue/cuecontext"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/chazu/modport/pkg/importgraph"
	"github.com/chazu/modport/pkg/moduleloader"
)

var (
	// ErrHostClosed is returned when resolving after Shutdown
	ErrHostClosed = errors.New("cue host is shut down")

	// ErrRealmClosed is returned when importing into a closed realm
	ErrRealmClosed = errors.New("cue realm is closed")

	// ErrImportCycle is returned when a module imports itself, directly or
	// through other modules, while it is being linked
	ErrImportCycle = errors.New("import cycle")
)

type options struct {
	reader         moduleloader.SourceReader
	getwd          func() (string, error)
	strictNotFound bool
}

// Option configures a Host
type Option func(*options)

// WithSourceReader sets where module source is read from
func WithSourceReader(reader moduleloader.SourceReader) Option {
	return func(o *options) {
		o.reader = reader
	}
}

// WithGetwd sets the working directory used for root imports
func WithGetwd(getwd func() (string, error)) Option {
	return func(o *options) {
		o.getwd = getwd
	}
}

// WithStrictNotFound reports missing modules as not-found errors instead of
// syntax errors
func WithStrictNotFound(strict bool) Option {
	return func(o *options) {
		o.strictNotFound = strict
	}
}

// Host owns the module registry shared by a set of CUE realms
type Host struct {
	mu       sync.Mutex
	registry *moduleloader.Registry
	resolver *moduleloader.Resolver
	closed   bool
}

// NewHost creates a CUE host
func NewHost(opts ...Option) *Host {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	registry := moduleloader.NewRegistry()
	return &Host{
		registry: registry,
		resolver: moduleloader.NewResolver(moduleloader.ResolverConfig{
			Registry:       registry,
			Engine:         engine{},
			Reader:         o.reader,
			Getwd:          o.getwd,
			StrictNotFound: o.strictNotFound,
		}),
	}
}

// NewRealm creates a realm backed by a fresh cue.Context
func (h *Host) NewRealm(ctx context.Context) *Realm {
	r := &Realm{
		id:     uuid.New(),
		host:   h,
		cueCtx: cuecontext.New(),
		refs:   1,
		log:    logr.FromContextOrDiscard(ctx),
		graph:  importgraph.New(),
	}
	r.log.V(1).Info("Realm created", "engine", "cue", "realm", r.ID())
	return r
}

// Records returns the registered records matching filter
func (h *Host) Records(filter moduleloader.Filter) []*moduleloader.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Records(filter)
}

// Len returns the number of registered records
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len()
}

// Shutdown releases every record of every realm and returns how many were
// released
func (h *Host) Shutdown() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	h.closed = true
	return h.registry.Release(moduleloader.All())
}

func (h *Host) resolve(ctx context.Context, specifier string, referrer *moduleloader.Module, realm *Realm) (*moduleloader.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	return h.resolver.Resolve(ctx, specifier, referrer, realm)
}

func (h *Host) release(realm *Realm) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.registry.Release(moduleloader.ForRealm(realm))
	realm.Release()
	return n
}
