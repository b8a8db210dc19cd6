// Package cuehost embeds CUE realms on top of moduleloader.
//
// A CUE module names its dependencies in a top-level imports struct. Each
// entry is resolved relative to the importing file, linked once per realm and
// filled into deps under the same name:
//
//	imports: lib: "./lib/common.cue"
//	deps: lib: _
//
//	replicas: deps.lib.defaultReplicas
package cuehost
