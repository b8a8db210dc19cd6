package cuehost

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/chazu/modport/pkg/moduleloader"
)

// engine compiles CUE files for the resolver
type engine struct{}

// Parse implements moduleloader.Engine. Compile errors are returned as CUE
// errors positioned in resourceName.
func (engine) Parse(realm moduleloader.Realm, source []byte, resourceName string) (moduleloader.Unit, error) {
	r, ok := realm.(*Realm)
	if !ok {
		return nil, fmt.Errorf("cue engine cannot parse into realm %s of type %T", realm.ID(), realm)
	}
	if r.cueCtx == nil {
		return nil, ErrRealmClosed
	}

	v := r.cueCtx.CompileBytes(source, cue.Filename(resourceName))
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &unit{value: v}, nil
}

type linkStatus int

const (
	statusPending linkStatus = iota
	statusLinking
	statusLinked
)

// unit is a compiled CUE file and, once linked, its value with deps filled
type unit struct {
	value  cue.Value
	linked cue.Value
	refs   int
	status linkStatus
}

// Retain implements moduleloader.Unit
func (u *unit) Retain() {
	u.refs++
}

// Release implements moduleloader.Unit
func (u *unit) Release() {
	if u.refs == 0 {
		return
	}
	u.refs--
	if u.refs == 0 {
		u.value = cue.Value{}
		u.linked = cue.Value{}
		u.status = statusPending
	}
}
