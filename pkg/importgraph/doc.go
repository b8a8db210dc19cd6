// Package importgraph tracks the import relationships between modules loaded
// into one realm.
//
// Vertices are canonical module paths. An edge runs from a dependency to each
// module importing it, so Order yields a load order in which every module
// appears after everything it imports.
package importgraph
