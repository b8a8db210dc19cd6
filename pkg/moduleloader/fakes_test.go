package moduleloader

import (
	"errors"
	"strings"
	"testing/fstest"
)

var errFakeSyntax = errors.New("unexpected symbol near 'syntax'")

// fakeRealm counts the references taken on it
type fakeRealm struct {
	name     string
	refs     int
	retains  int
	releases int
}

func newFakeRealm(name string) *fakeRealm {
	return &fakeRealm{name: name, refs: 1}
}

func (r *fakeRealm) ID() string { return r.name }

func (r *fakeRealm) Retain() {
	r.refs++
	r.retains++
}

func (r *fakeRealm) Release() {
	r.refs--
	r.releases++
}

// fakeUnit records what it was parsed from
type fakeUnit struct {
	realm        Realm
	source       string
	resourceName string
	refs         int
	releases     int
}

func (u *fakeUnit) Retain() { u.refs++ }

func (u *fakeUnit) Release() {
	u.refs--
	u.releases++
}

// fakeEngine fails to parse any source starting with "syntax error"
type fakeEngine struct {
	parses int
	units  []*fakeUnit
}

func (e *fakeEngine) Parse(realm Realm, source []byte, resourceName string) (Unit, error) {
	e.parses++
	if strings.HasPrefix(string(source), "syntax error") {
		return nil, errFakeSyntax
	}
	unit := &fakeUnit{realm: realm, source: string(source), resourceName: resourceName}
	e.units = append(e.units, unit)
	return unit, nil
}

// countingReader counts reads per path
type countingReader struct {
	SourceReader
	reads map[string]int
}

func newCountingReader(files fstest.MapFS) *countingReader {
	return &countingReader{
		SourceReader: FSReader{FS: files},
		reads:        make(map[string]int),
	}
}

func (r *countingReader) ReadSource(path string) ([]byte, error) {
	r.reads[path]++
	return r.SourceReader.ReadSource(path)
}

func fixedGetwd(dir string) func() (string, error) {
	return func() (string, error) { return dir, nil }
}

func sampleTree() fstest.MapFS {
	return fstest.MapFS{
		"app/main.lua":      {Data: []byte(`local util = require("./lib/util.lua")`)},
		"app/lib/util.lua":  {Data: []byte(`return {}`)},
		"app/lib/other.lua": {Data: []byte(`return require("../main.lua")`)},
		"app/broken.lua":    {Data: []byte("syntax error here")},
		"app/dir/keep.txt":  {Data: []byte("")},
	}
}

// newTestResolver returns a resolver over sampleTree rooted at /app
func newTestResolver() (*Resolver, *fakeEngine, *countingReader) {
	engine := &fakeEngine{}
	reader := newCountingReader(sampleTree())
	resolver := NewResolver(ResolverConfig{
		Registry: NewRegistry(),
		Engine:   engine,
		Reader:   reader,
		Getwd:    fixedGetwd("/app"),
	})
	return resolver, engine, reader
}
