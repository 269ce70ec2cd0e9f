// Package compiler turns a project's block graph into the Python DAG
// artifact the orchestrator picks up from its DAG directory.
package compiler

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/model"
)

// Node is one task of the compiled graph.
type Node struct {
	BlockID    uuid.UUID
	Name       string
	Image      string
	Entrypoint string
	// Environment is the flattened task environment: entrypoint envs
	// overlaid with every port config, rendered to strings.
	Environment map[string]string
}

// Edge is a task dependency between two blocks.
type Edge struct {
	From uuid.UUID
	To   uuid.UUID
}

// Graph is the validated, deterministic form of a project ready for
// rendering. Nodes and Edges are sorted by id so repeated compilations
// of the same project produce identical artifacts.
type Graph struct {
	ProjectID uuid.UUID
	Nodes     []*Node
	Edges     []Edge
}

// BuildGraph flattens the project into a Graph and validates it:
// the project must have blocks, the dependencies must be acyclic, and
// every block must be reachable from every other ignoring direction.
func BuildGraph(project *model.Project, deps []model.BlockDependency) (*Graph, error) {
	if len(project.Blocks) == 0 {
		return nil, apperr.Newf(apperr.CodeEmptyProject,
			"project %s has no blocks", project.ID)
	}

	g := &Graph{ProjectID: project.ID}
	known := make(map[uuid.UUID]struct{}, len(project.Blocks))
	for _, block := range project.Blocks {
		known[block.ID] = struct{}{}
		g.Nodes = append(g.Nodes, &Node{
			BlockID:     block.ID,
			Name:        block.CustomName,
			Image:       block.DockerImage,
			Entrypoint:  block.Entrypoint.Name,
			Environment: flattenEnvironment(block.Entrypoint),
		})
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		return strings.Compare(g.Nodes[i].BlockID.String(), g.Nodes[j].BlockID.String()) < 0
	})

	// several port edges between the same block pair are one task
	// dependency
	seen := make(map[Edge]struct{}, len(deps))
	for _, dep := range deps {
		edge := Edge{From: dep.UpstreamBlockID, To: dep.DownstreamBlockID}
		if _, dup := seen[edge]; dup {
			continue
		}
		if _, ok := known[edge.From]; !ok {
			continue
		}
		if _, ok := known[edge.To]; !ok {
			continue
		}
		seen[edge] = struct{}{}
		g.Edges = append(g.Edges, edge)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return strings.Compare(g.Edges[i].From.String(), g.Edges[j].From.String()) < 0
		}
		return strings.Compare(g.Edges[i].To.String(), g.Edges[j].To.String()) < 0
	})

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := g.checkConnected(); err != nil {
		return nil, err
	}
	return g, nil
}

// flattenEnvironment merges the entrypoint envs with every port config.
// Port configs win over envs; ports are walked in their stored order so
// the merge is stable.
func flattenEnvironment(ep *model.Entrypoint) map[string]string {
	env := make(map[string]string, len(ep.Envs))
	for key, value := range ep.Envs {
		env[key] = value.EnvString()
	}
	for _, port := range ep.Ports {
		for key, value := range port.Config {
			env[key] = value.EnvString()
		}
	}
	return env
}

func (g *Graph) checkAcyclic() error {
	inDegree := make(map[uuid.UUID]int, len(g.Nodes))
	out := make(map[uuid.UUID][]uuid.UUID, len(g.Nodes))
	for _, node := range g.Nodes {
		inDegree[node.BlockID] = 0
	}
	for _, edge := range g.Edges {
		out[edge.From] = append(out[edge.From], edge.To)
		inDegree[edge.To]++
	}

	queue := make([]uuid.UUID, 0, len(g.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range out[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.Nodes) {
		return apperr.Newf(apperr.CodeCyclic,
			"project %s contains a dependency cycle", g.ProjectID)
	}
	return nil
}

// checkConnected requires the graph to be weakly connected: one
// isolated block alongside others cannot run as a single workflow.
func (g *Graph) checkConnected() error {
	if len(g.Nodes) <= 1 {
		return nil
	}

	adj := make(map[uuid.UUID][]uuid.UUID, len(g.Nodes))
	for _, edge := range g.Edges {
		adj[edge.From] = append(adj[edge.From], edge.To)
		adj[edge.To] = append(adj[edge.To], edge.From)
	}

	reached := map[uuid.UUID]struct{}{g.Nodes[0].BlockID: {}}
	stack := []uuid.UUID{g.Nodes[0].BlockID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[id] {
			if _, ok := reached[next]; !ok {
				reached[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	if len(reached) != len(g.Nodes) {
		return apperr.Newf(apperr.CodeDisconnected,
			"project %s has blocks that are not connected to the workflow", g.ProjectID)
	}
	return nil
}
