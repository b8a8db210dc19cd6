package importgraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// Graph records which modules import which, keyed by canonical path.
// An import of B by A is stored as the edge B -> A so a topological order
// lists dependencies before the modules that import them.
type Graph struct {
	// graph is the underlying graph structure from dominikbraun/graph
	graph graph.Graph[string, string]
}

// New creates an empty import graph
func New() *Graph {
	return &Graph{
		graph: graph.New(graph.StringHash, graph.Directed()),
	}
}

// AddModule adds path as a vertex. Adding a known module is a no-op.
func (g *Graph) AddModule(path string) error {
	if err := g.graph.AddVertex(path); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return fmt.Errorf("failed to add module %s: %w", path, err)
	}
	return nil
}

// AddImport records that importer imports dependency, adding either module
// when it is unknown. Repeated imports are recorded once.
func (g *Graph) AddImport(importer, dependency string) error {
	if err := g.AddModule(importer); err != nil {
		return err
	}
	if err := g.AddModule(dependency); err != nil {
		return err
	}

	// Note: AddEdge(source, target) means source -> target, and the
	// dependency must come first
	if err := g.graph.AddEdge(dependency, importer); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return fmt.Errorf("failed to add import %s -> %s: %w", importer, dependency, err)
	}
	return nil
}

// Order returns every module with dependencies before their importers.
// Ties are broken by path so the order is stable. Cyclic imports make the
// order undefined and yield an error.
func (g *Graph) Order() ([]string, error) {
	order, err := graph.StableTopologicalSort(g.graph, func(a, b string) bool {
		return a < b
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute module order (possible import cycle): %w", err)
	}
	return order, nil
}

// Imports returns the modules path imports directly, sorted
func (g *Graph) Imports(path string) ([]string, error) {
	predecessors, err := g.graph.PredecessorMap()
	if err != nil {
		return nil, err
	}
	deps, found := predecessors[path]
	if !found {
		return nil, fmt.Errorf("module %s not found", path)
	}
	return sortedKeys(deps), nil
}

// Importers returns the modules that import path directly, sorted
func (g *Graph) Importers(path string) ([]string, error) {
	adjacency, err := g.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	importers, found := adjacency[path]
	if !found {
		return nil, fmt.Errorf("module %s not found", path)
	}
	return sortedKeys(importers), nil
}

// Modules returns every module path, sorted
func (g *Graph) Modules() ([]string, error) {
	adjacency, err := g.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	return sortedKeys(adjacency), nil
}

// Len returns the number of modules in the graph
func (g *Graph) Len() int {
	order, err := g.graph.Order()
	if err != nil {
		return 0
	}
	return order
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
