package graph

import (
	"context"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart  NodeType = "start"
	NodeTypeEnd    NodeType = "end"
	NodeTypeRouter NodeType = "router"
	NodeTypeAgent  NodeType = "agent"
	NodeTypeCustom NodeType = "custom"
)

// StepFunc executes a node against the state and names the node to run next.
// The returned state replaces the current one.
type StepFunc[S any] func(ctx context.Context, state S) (next string, out S, err error)

// TransitionFunc observes every transition after the source node finished.
// Returning an error aborts execution; checkpointing hooks use this to make
// a failed save fatal for the turn.
type TransitionFunc[S any] func(ctx context.Context, from, to string, state S) error

// Node represents a node in the state machine
type Node[S any] struct {
	Name string
	Type NodeType
	Step StepFunc[S]
	// Edges lists the nodes Step may name. An empty list allows any
	// registered node.
	Edges []string
}

// Graph is a cyclic state machine interpreted by a plain loop: each node's
// step returns the next node id, and the loop stops at the end node.
type Graph[S any] struct {
	nodes       map[string]*Node[S]
	startNode   string
	endNode     string
	maxVisits   int
	transitions []TransitionFunc[S]
}

// NewGraph creates a new graph
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]*Node[S]),
		maxVisits: 10,
	}
}

func (g *Graph[S]) validateNode(node *Node[S]) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}
	if node.Type != NodeTypeEnd && node.Step == nil {
		panic(fmt.Sprintf("node %s of type %s must have non-nil Step function", node.Name, node.Type))
	}
}

// AddNode adds a node to the graph
func (g *Graph[S]) AddNode(node *Node[S]) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)

	g.nodes[node.Name] = node

	// Auto-set start and end nodes
	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
	if node.Type == NodeTypeEnd {
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph[S]) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph[S]) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits sets the maximum number of visits to a single node per run
func (g *Graph[S]) SetMaxVisits(maxVisits int) {
	g.maxVisits = maxVisits
}

// OnTransition registers a hook that runs after every transition.
func (g *Graph[S]) OnTransition(fn TransitionFunc[S]) {
	if fn != nil {
		g.transitions = append(g.transitions, fn)
	}
}

// GetNode returns a node by name
func (g *Graph[S]) GetNode(name string) (*Node[S], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Start returns the start node name.
func (g *Graph[S]) Start() string { return g.startNode }

// End returns the end node name.
func (g *Graph[S]) End() string { return g.endNode }

// Execute runs the graph from the start node until the end node is reached.
func (g *Graph[S]) Execute(ctx context.Context, state S) (S, error) {
	if g.startNode == "" {
		var zero S
		return zero, fmt.Errorf("start node not set")
	}
	return g.Resume(ctx, g.startNode, state)
}

// Resume runs the graph from the named node. It is how a caller re-enters
// the machine at a node other than the start, e.g. after out-of-band
// feedback.
func (g *Graph[S]) Resume(ctx context.Context, from string, state S) (S, error) {
	var zero S
	if g.endNode == "" {
		return zero, fmt.Errorf("end node not set")
	}

	visited := make(map[string]int)
	current := from
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		node, exists := g.nodes[current]
		if !exists {
			return zero, fmt.Errorf("node %s not found", current)
		}

		// Detect runaway loops by counting how many times we revisit a node.
		visited[current]++
		if visited[current] > g.maxVisits {
			return zero, fmt.Errorf("infinite loop detected at node %s", current)
		}

		if node.Type == NodeTypeEnd {
			if node.Step == nil {
				return state, nil
			}
			_, out, err := node.Step(ctx, state)
			if err != nil {
				return zero, fmt.Errorf("error executing node %s: %w", node.Name, err)
			}
			return out, nil
		}

		next, out, err := node.Step(ctx, state)
		if err != nil {
			return zero, fmt.Errorf("error executing node %s: %w", node.Name, err)
		}
		if err := g.checkEdge(node, next); err != nil {
			return zero, err
		}
		state = out

		for _, fn := range g.transitions {
			if err := fn(ctx, current, next, state); err != nil {
				return zero, fmt.Errorf("transition %s -> %s: %w", current, next, err)
			}
		}
		current = next
	}
}

func (g *Graph[S]) checkEdge(node *Node[S], next string) error {
	if next == "" {
		return fmt.Errorf("no next node specified for node %s", node.Name)
	}
	if _, exists := g.nodes[next]; !exists {
		return fmt.Errorf("node %s not found", next)
	}
	if len(node.Edges) == 0 {
		return nil
	}
	for _, edge := range node.Edges {
		if edge == next {
			return nil
		}
	}
	return fmt.Errorf("node %s has no edge to %s", node.Name, next)
}

// Then adapts a state function into a step that always proceeds to next.
func Then[S any](next string, fn func(context.Context, S) (S, error)) StepFunc[S] {
	return func(ctx context.Context, state S) (string, S, error) {
		out, err := fn(ctx, state)
		return next, out, err
	}
}

// Builder helps build graphs fluently
type Builder[S any] struct {
	graph *Graph[S]
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		graph: NewGraph[S](),
	}
}

// AddNode adds a node to the graph
func (b *Builder[S]) AddNode(name string, nodeType NodeType, step StepFunc[S]) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name: name,
		Type: nodeType,
		Step: step,
	})
	return b
}

// AddEdge declares that from may transition to to.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if node, exists := b.graph.nodes[from]; exists {
		node.Edges = append(node.Edges, to)
	}
	return b
}

// SetStart sets the start node
func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder[S]) SetEnd(name string) *Builder[S] {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder[S]) SetMaxVisits(maxVisits int) *Builder[S] {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// OnTransition registers a transition hook.
func (b *Builder[S]) OnTransition(fn TransitionFunc[S]) *Builder[S] {
	b.graph.OnTransition(fn)
	return b
}

// Build returns the constructed graph. Edges naming unknown nodes panic.
func (b *Builder[S]) Build() *Graph[S] {
	for _, node := range b.graph.nodes {
		for _, edge := range node.Edges {
			if _, exists := b.graph.nodes[edge]; !exists {
				panic(fmt.Sprintf("node %s has edge to unknown node %s", node.Name, edge))
			}
		}
	}
	return b.graph
}
