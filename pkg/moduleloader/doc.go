// Package moduleloader resolves module import specifiers to parsed module
// units and caches those units so each distinct module is parsed at most
// once per realm.
//
// The package is engine agnostic. An embedding supplies an Engine that parses
// source text inside a Realm, and a SourceReader that reads module files. The
// Resolver turns a specifier into a canonical absolute path, consults the
// Registry, and on a miss reads and parses the file and records the result.
//
// A Registry holds one Record per (realm, canonical path). Every record keeps
// exactly one counted reference on its realm and on its unit. Those references
// are dropped when the record is released, either for a single terminating
// realm (ForRealm) or for everything at shutdown (All).
//
// Nothing in this package locks. Callers that drive a Resolver or Registry
// from more than one goroutine must serialize those calls themselves.
package moduleloader
