package luahost

import (
	"context"
	"errors"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/chazu/modport/pkg/importgraph"
	"github.com/chazu/modport/pkg/moduleloader"
)

var (
	// ErrHostClosed is returned when resolving after Shutdown
	ErrHostClosed = errors.New("lua host is shut down")

	// ErrRealmClosed is returned when importing into a closed realm
	ErrRealmClosed = errors.New("lua realm is closed")

	// ErrImportCycle is raised when a module requires itself, directly or
	// through other modules, while it is still being evaluated
	ErrImportCycle = errors.New("circular require")
)

type options struct {
	reader         moduleloader.SourceReader
	getwd          func() (string, error)
	strictNotFound bool
	setup          []func(*lua.State)
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

// WithSetup registers fn to run on every new realm state after the standard
// libraries and require are installed
func WithSetup(fn func(*lua.State)) Option {
	return func(o *options) {
		o.setup = append(o.setup, fn)
	}
}

// Host owns the module registry shared by a set of Lua realms.
// Calls into the resolver and registry are serialized by the host.
type Host struct {
	mu       sync.Mutex
	registry *moduleloader.Registry
	resolver *moduleloader.Resolver
	setup    []func(*lua.State)
	closed   bool
}

// NewHost creates a Lua host
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
		setup: o.setup,
	}
}

// NewRealm creates a realm with the standard libraries and a require
// function bound to the host's resolver. The logger in ctx is used for
// requires issued while the realm evaluates modules.
func (h *Host) NewRealm(ctx context.Context) *Realm {
	l := lua.NewState()
	lua.OpenLibraries(l)

	r := &Realm{
		id:    uuid.New(),
		host:  h,
		state: l,
		refs:  1,
		ctx:   ctx,
		graph: importgraph.New(),
	}

	l.PushGoFunction(r.require)
	l.SetGlobal("require")
	for _, fn := range h.setup {
		fn(l)
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("Realm created", "engine", "lua", "realm", r.ID())
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
// released. Realms should be idle. Later imports fail with ErrHostClosed.
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

// release drops realm's records and the host's own reference on it
func (h *Host) release(realm *Realm) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.registry.Release(moduleloader.ForRealm(realm))
	realm.Release()
	return n
}
