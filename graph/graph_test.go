package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type counter struct {
	trail []string
	n     int
}

func record(name string) func(context.Context, *counter) (*counter, error) {
	return func(_ context.Context, c *counter) (*counter, error) {
		c.trail = append(c.trail, name)
		return c, nil
	}
}

func TestAddNodeEmptyName(t *testing.T) {
	g := NewGraph[*counter]()

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected function to panic, but it did not")
		} else if r != "node name cannot be empty" {
			t.Errorf("Expected panic value to be 'node name cannot be empty', but got %v", r)
		}
	}()

	g.AddNode(&Node[*counter]{Name: "", Type: NodeTypeCustom, Step: Then("x", record("x"))})
}

func TestAddNodeDuplicate(t *testing.T) {
	g := NewGraph[*counter]()
	g.AddNode(&Node[*counter]{Name: "dup_node", Type: NodeTypeCustom, Step: Then("x", record("x"))})

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected function to panic, but it did not")
		} else if r != "node dup_node already exists" {
			t.Errorf("Expected panic value to be 'node dup_node already exists', but got %v", r)
		}
	}()
	g.AddNode(&Node[*counter]{Name: "dup_node", Type: NodeTypeCustom, Step: Then("x", record("x"))})
}

func TestAddNodeMissingStep(t *testing.T) {
	g := NewGraph[*counter]()

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for custom node without step")
		}
	}()
	g.AddNode(&Node[*counter]{Name: "broken", Type: NodeTypeCustom})
}

func TestAutoSetStartAndEnd(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("start", NodeTypeStart, Then("end", record("start"))).
		AddNode("end", NodeTypeEnd, nil).
		Build()

	if g.Start() != "start" {
		t.Errorf("Expected start node 'start', got %q", g.Start())
	}
	if g.End() != "end" {
		t.Errorf("Expected end node 'end', got %q", g.End())
	}
}

func TestSetStartNodeNotFound(t *testing.T) {
	g := NewGraph[*counter]()

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected function to panic, but it did not")
		} else if r != "node missing not found" {
			t.Errorf("Unexpected panic value %v", r)
		}
	}()
	g.SetStartNode("missing")
}

func TestExecuteSimpleLinearGraph(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("start", NodeTypeStart, Then("work", record("start"))).
		AddNode("work", NodeTypeCustom, Then("end", record("work"))).
		AddNode("end", NodeTypeEnd, Then("", record("end"))).
		Build()

	out, err := g.Execute(context.Background(), &counter{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := []string{"start", "work", "end"}
	if strings.Join(out.trail, ",") != strings.Join(want, ",") {
		t.Errorf("Expected trail %v, got %v", want, out.trail)
	}
}

func TestExecuteCycleWithRouter(t *testing.T) {
	// core visits the worker once, then routes to end on the second visit.
	core := func(_ context.Context, c *counter) (string, *counter, error) {
		c.trail = append(c.trail, "core")
		if c.n == 0 {
			return "worker", c, nil
		}
		return "end", c, nil
	}
	worker := func(_ context.Context, c *counter) (*counter, error) {
		c.trail = append(c.trail, "worker")
		c.n++
		return c, nil
	}

	g := NewBuilder[*counter]().
		AddNode("core", NodeTypeRouter, core).
		AddNode("worker", NodeTypeAgent, Then("core", worker)).
		AddNode("end", NodeTypeEnd, nil).
		AddEdge("core", "worker").
		AddEdge("core", "end").
		AddEdge("worker", "core").
		SetStart("core").
		Build()

	out, err := g.Execute(context.Background(), &counter{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := strings.Join(out.trail, ","); got != "core,worker,core" {
		t.Errorf("Unexpected trail %s", got)
	}
}

func TestTransitionHookSeesEveryHop(t *testing.T) {
	var hops []string
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("b", record("a"))).
		AddNode("b", NodeTypeCustom, Then("end", record("b"))).
		AddNode("end", NodeTypeEnd, nil).
		OnTransition(func(_ context.Context, from, to string, _ *counter) error {
			hops = append(hops, from+"->"+to)
			return nil
		}).
		Build()

	if _, err := g.Execute(context.Background(), &counter{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := strings.Join(hops, " "); got != "a->b b->end" {
		t.Errorf("Unexpected hops %s", got)
	}
}

func TestTransitionHookErrorAborts(t *testing.T) {
	saveErr := errors.New("save failed")
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("b", record("a"))).
		AddNode("b", NodeTypeCustom, Then("end", record("b"))).
		AddNode("end", NodeTypeEnd, nil).
		OnTransition(func(context.Context, string, string, *counter) error { return saveErr }).
		Build()

	_, err := g.Execute(context.Background(), &counter{})
	if !errors.Is(err, saveErr) {
		t.Errorf("Expected wrapped save error, got %v", err)
	}
}

func TestExecuteUndeclaredEdge(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("end", record("a"))).
		AddNode("b", NodeTypeCustom, Then("end", record("b"))).
		AddNode("end", NodeTypeEnd, nil).
		AddEdge("a", "b").
		Build()

	_, err := g.Execute(context.Background(), &counter{})
	if err == nil || !strings.Contains(err.Error(), "has no edge to end") {
		t.Errorf("Expected undeclared edge error, got %v", err)
	}
}

func TestExecuteNoStartNode(t *testing.T) {
	g := NewGraph[*counter]()
	if _, err := g.Execute(context.Background(), &counter{}); err == nil {
		t.Errorf("Expected error when start node not set")
	}
}

func TestExecuteNodeNotFound(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("ghost", record("a"))).
		AddNode("end", NodeTypeEnd, nil).
		Build()

	_, err := g.Execute(context.Background(), &counter{})
	if err == nil || !strings.Contains(err.Error(), "node ghost not found") {
		t.Errorf("Expected node not found error, got %v", err)
	}
}

func TestExecuteInfiniteLoop(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("b", record("a"))).
		AddNode("b", NodeTypeCustom, Then("a", record("b"))).
		AddNode("end", NodeTypeEnd, nil).
		SetMaxVisits(3).
		Build()

	_, err := g.Execute(context.Background(), &counter{})
	if err == nil || !strings.Contains(err.Error(), "infinite loop detected") {
		t.Errorf("Expected infinite loop error, got %v", err)
	}
}

func TestResumeFromMiddle(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("b", record("a"))).
		AddNode("b", NodeTypeCustom, Then("end", record("b"))).
		AddNode("end", NodeTypeEnd, nil).
		Build()

	out, err := g.Resume(context.Background(), "b", &counter{})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := strings.Join(out.trail, ","); got != "b" {
		t.Errorf("Expected only b to run, got %s", got)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	g := NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("end", record("a"))).
		AddNode("end", NodeTypeEnd, nil).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Execute(ctx, &counter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBuildRejectsUnknownEdge(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected Build to panic on unknown edge")
		}
	}()
	NewBuilder[*counter]().
		AddNode("a", NodeTypeStart, Then("end", record("a"))).
		AddNode("end", NodeTypeEnd, nil).
		AddEdge("a", "ghost").
		Build()
}
