package luahost

import (
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/chazu/modport/pkg/moduleloader"
)

// SyntaxError is a Lua compile error for one module
type SyntaxError struct {
	// ResourceName is the specifier the module was imported with
	ResourceName string

	// Message is the Lua error message, including chunk name and line
	Message string

	Err error
}

func (e *SyntaxError) Error() string {
	return e.Message
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// EvalError is a runtime error raised while evaluating a module's chunk
type EvalError struct {
	// Path is the canonical path of the failing module
	Path string

	// Message is the Lua error message
	Message string

	Err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// engine compiles Lua chunks for the resolver
type engine struct{}

// Parse implements moduleloader.Engine
func (engine) Parse(realm moduleloader.Realm, source []byte, resourceName string) (moduleloader.Unit, error) {
	r, ok := realm.(*Realm)
	if !ok {
		return nil, fmt.Errorf("lua engine cannot parse into realm %s of type %T", realm.ID(), realm)
	}
	return r.compile(source, resourceName)
}

type chunkStatus int

const (
	statusPending chunkStatus = iota
	statusRunning
	statusDone
)

// chunk is a compiled module held in the realm's Lua registry
type chunk struct {
	realm  *Realm
	key    string
	refs   int
	status chunkStatus
}

func (c *chunk) exportsKey() string {
	return c.key + ":exports"
}

// Retain implements moduleloader.Unit
func (c *chunk) Retain() {
	c.refs++
}

// Release implements moduleloader.Unit. The compiled function and exports
// are removed from the Lua registry with the last reference.
func (c *chunk) Release() {
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	if l := c.realm.state; l != nil {
		l.PushNil()
		l.SetField(lua.RegistryIndex, c.key)
		l.PushNil()
		l.SetField(lua.RegistryIndex, c.exportsKey())
	}
	c.status = statusPending
}

// compile loads source as a text chunk named after resourceName and stores
// the function in the Lua registry
func (r *Realm) compile(source []byte, resourceName string) (*chunk, error) {
	l := r.state
	if l == nil {
		return nil, ErrRealmClosed
	}

	top := l.Top()
	if err := lua.LoadBuffer(l, string(source), "@"+resourceName, "t"); err != nil {
		msg := err.Error()
		if l.Top() > top {
			if s, ok := l.ToString(-1); ok {
				msg = s
			}
		}
		l.SetTop(top)
		return nil, &SyntaxError{ResourceName: resourceName, Message: msg, Err: err}
	}

	r.chunks++
	c := &chunk{
		realm: r,
		key:   fmt.Sprintf("modport:%s:%d", r.id, r.chunks),
	}
	l.SetField(lua.RegistryIndex, c.key)
	return c, nil
}
