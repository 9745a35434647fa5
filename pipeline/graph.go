package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// End is the sentinel node name that stops graph execution.
const End = "END"

var (
	// ErrEntryPointNotSet is returned by Compile when no entry point was set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when execution reaches an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned when a node has no edge to follow.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")
)

// Node is a named stage in a graph. The type parameter S is the state type
// threaded through the stage functions.
type Node[S any] struct {
	Name        string
	Description string
	Function    func(ctx context.Context, state S) (S, error)
}

// Edge connects two nodes by name.
type Edge struct {
	From string
	To   string
}

// Graph is a sequential state graph. Stages are added as named nodes, wired
// with static or conditional edges, and compiled into a Runnable.
//
// Example:
//
//	g := pipeline.NewGraph[myState]()
//	g.AddNode("fetch", "Fetch input", fetchFn)
//	g.AddNode("process", "Process input", processFn)
//	g.AddEdge("fetch", "process")
//	g.AddEdge("process", pipeline.End)
//	g.SetEntryPoint("fetch")
//	app, err := g.Compile()
type Graph[S any] struct {
	nodes            map[string]Node[S]
	edges            []Edge
	conditionalEdges map[string]func(ctx context.Context, state S) string
	entryPoint       string
}

// NewGraph creates an empty graph for the given state type.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]Node[S]),
		conditionalEdges: make(map[string]func(ctx context.Context, state S) string),
	}
}

// AddNode adds a stage with the given name, description and function.
func (g *Graph[S]) AddNode(name, description string, fn func(ctx context.Context, state S) (S, error)) {
	g.nodes[name] = Node[S]{
		Name:        name,
		Description: description,
		Function:    fn,
	}
}

// AddEdge wires a static edge from one node to the next.
func (g *Graph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddConditionalEdge wires an edge whose target is chosen at runtime from the
// state. A conditional edge takes precedence over static edges from the same
// node.
func (g *Graph[S]) AddConditionalEdge(from string, condition func(ctx context.Context, state S) string) {
	g.conditionalEdges[from] = condition
}

// SetEntryPoint sets the node execution starts from.
func (g *Graph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// Runnable is a compiled graph ready to execute.
type Runnable[S any] struct {
	graph *Graph[S]
}

// Compile validates the graph and returns a Runnable.
func (g *Graph[S]) Compile() (*Runnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	return &Runnable[S]{graph: g}, nil
}

// Invoke executes the graph from the entry point until it reaches End,
// threading the state through each stage in turn.
func (r *Runnable[S]) Invoke(ctx context.Context, initialState S) (S, error) {
	state := initialState
	current := r.graph.entryPoint

	for current != End {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, ok := r.graph.nodes[current]
		if !ok {
			var zero S
			return zero, fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		var err error
		state, err = node.Function(ctx, state)
		if err != nil {
			var zero S
			return zero, fmt.Errorf("error in node %s: %w", current, err)
		}

		current, err = r.nextNode(ctx, node.Name, state)
		if err != nil {
			var zero S
			return zero, err
		}
	}

	return state, nil
}

func (r *Runnable[S]) nextNode(ctx context.Context, from string, state S) (string, error) {
	if condition, ok := r.graph.conditionalEdges[from]; ok {
		next := condition(ctx, state)
		if next == "" {
			return "", fmt.Errorf("conditional edge returned empty next node from %s", from)
		}
		return next, nil
	}

	for _, edge := range r.graph.edges {
		if edge.From == from {
			return edge.To, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, from)
}
