package luahost

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/chazu/modport/pkg/importgraph"
	"github.com/chazu/modport/pkg/moduleloader"
)

// Realm is one Lua state with its own set of evaluated modules.
// A realm is not safe for concurrent use.
type Realm struct {
	id    uuid.UUID
	host  *Host
	state *lua.State

	// refs is guarded by host.mu
	refs int

	// ctx is the context of the import being evaluated
	ctx context.Context

	// evaluating is the stack of modules whose chunks are running
	evaluating []*moduleloader.Module

	// raised is the last Go error raised into Lua by require
	raised error

	graph  *importgraph.Graph
	chunks int
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

// Release implements moduleloader.Realm. The Lua state is dropped with the
// last reference.
func (r *Realm) Release() {
	if r.refs == 0 {
		return
	}
	r.refs--
	if r.refs == 0 {
		r.state = nil
	}
}

// Graph returns the imports observed in this realm
func (r *Realm) Graph() *importgraph.Graph {
	return r.graph
}

// State returns the underlying Lua state, nil once the realm is released
func (r *Realm) State() *lua.State {
	return r.state
}

// Import evaluates specifier as a root module, resolved against the working
// directory, and returns its module. Evaluating a module that is already
// evaluated returns it without running it again.
func (r *Realm) Import(ctx context.Context, specifier string) (*moduleloader.Module, error) {
	if r.closed || r.state == nil {
		return nil, ErrRealmClosed
	}

	prev := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = prev }()

	top := r.state.Top()
	module, err := r.load(specifier, nil)
	r.state.SetTop(top)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", specifier, err)
	}
	return module, nil
}

// Close releases every record of this realm and the host's reference on it.
// It returns the number of records released.
func (r *Realm) Close() int {
	if r.closed {
		return 0
	}
	r.closed = true
	n := r.host.release(r)
	logr.FromContextOrDiscard(r.ctx).V(1).Info("Realm closed", "engine", "lua", "realm", r.ID(), "released", n)
	return n
}

// require is the Lua global require(specifier). The specifier resolves
// against the module currently being evaluated.
func (r *Realm) require(l *lua.State) int {
	specifier := lua.CheckString(l, 1)

	var referrer *moduleloader.Module
	if n := len(r.evaluating); n > 0 {
		referrer = r.evaluating[n-1]
	}

	if _, err := r.load(specifier, referrer); err != nil {
		r.raised = err
		lua.Errorf(l, "%s", err.Error())
	}
	return 1
}

// load resolves specifier, evaluates its chunk if needed and pushes the
// module's exports
func (r *Realm) load(specifier string, referrer *moduleloader.Module) (*moduleloader.Module, error) {
	module, err := r.host.resolve(r.ctx, specifier, referrer, r)
	if err != nil {
		return nil, err
	}

	if referrer != nil {
		if err := r.graph.AddImport(referrer.Path(), module.Path()); err != nil {
			return nil, err
		}
	} else if err := r.graph.AddModule(module.Path()); err != nil {
		return nil, err
	}

	c, ok := module.Unit().(*chunk)
	if !ok {
		return nil, fmt.Errorf("module %s was not parsed by the lua engine", module.Path())
	}

	l := r.state
	switch c.status {
	case statusDone:
		l.Field(lua.RegistryIndex, c.exportsKey())
		return module, nil
	case statusRunning:
		return nil, fmt.Errorf("%w: %s", ErrImportCycle, module.Path())
	}

	top := l.Top()
	c.status = statusRunning
	l.Field(lua.RegistryIndex, c.key)
	r.evaluating = append(r.evaluating, module)
	err = l.ProtectedCall(0, 1, 0)
	r.evaluating = r.evaluating[:len(r.evaluating)-1]

	if err != nil {
		msg := err.Error()
		if l.Top() > top {
			if s, ok := l.ToString(-1); ok {
				msg = s
			}
		}
		l.SetTop(top)

		cause := err
		if r.raised != nil && strings.Contains(msg, r.raised.Error()) {
			cause = r.raised
		}
		r.raised = nil

		// Lua semantics: a failed module is run again by the next require
		c.status = statusPending
		return nil, &EvalError{Path: module.Path(), Message: msg, Err: cause}
	}

	if l.IsNil(-1) {
		l.Pop(1)
		l.PushBoolean(true)
	}
	l.PushValue(-1)
	l.SetField(lua.RegistryIndex, c.exportsKey())
	c.status = statusDone

	logr.FromContextOrDiscard(r.ctx).V(1).Info("Module evaluated", "realm", r.ID(), "path", module.Path())
	return module, nil
}

// Exports converts the exports of an evaluated module to Go values.
// Tables become map[string]any (string keys only), numbers float64.
func (r *Realm) Exports(module *moduleloader.Module) (any, bool) {
	c, ok := module.Unit().(*chunk)
	if !ok || c.status != statusDone || r.state == nil {
		return nil, false
	}

	l := r.state
	l.Field(lua.RegistryIndex, c.exportsKey())
	defer l.Pop(1)
	return toGo(l, -1, 0), true
}

// Describe summarizes the exports of an evaluated module
func (r *Realm) Describe(module *moduleloader.Module) string {
	c, ok := module.Unit().(*chunk)
	if !ok || c.status != statusDone || r.state == nil {
		return "<not evaluated>"
	}

	l := r.state
	l.Field(lua.RegistryIndex, c.exportsKey())
	defer l.Pop(1)

	switch l.TypeOf(-1) {
	case lua.TypeTable:
		var keys []string
		index := l.AbsIndex(-1)
		l.PushNil()
		for l.Next(index) {
			if l.TypeOf(-2) == lua.TypeString {
				key, _ := l.ToString(-2)
				keys = append(keys, key)
			}
			l.Pop(1)
		}
		sort.Strings(keys)
		return "table{" + strings.Join(keys, ", ") + "}"
	case lua.TypeString:
		s, _ := l.ToString(-1)
		return strconv.Quote(s)
	case lua.TypeNumber:
		n, _ := l.ToNumber(-1)
		return strconv.FormatFloat(n, 'g', -1, 64)
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(-1))
	default:
		return typeName(l.TypeOf(-1))
	}
}

// maxDepth bounds conversion of self-referencing tables
const maxDepth = 16

func toGo(l *lua.State, index, depth int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		if depth >= maxDepth {
			return nil
		}
		out := map[string]any{}
		index = l.AbsIndex(index)
		l.PushNil()
		for l.Next(index) {
			if l.TypeOf(-2) == lua.TypeString {
				key, _ := l.ToString(-2)
				out[key] = toGo(l, -1, depth+1)
			}
			l.Pop(1)
		}
		return out
	default:
		return nil
	}
}

func typeName(t lua.Type) string {
	switch t {
	case lua.TypeNil:
		return "nil"
	case lua.TypeFunction:
		return "function"
	case lua.TypeUserData, lua.TypeLightUserData:
		return "userdata"
	case lua.TypeThread:
		return "thread"
	default:
		return "value"
	}
}
