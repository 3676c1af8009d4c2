package build

import (
	"fmt"
	"strings"

	"github.com/pyr-sh/dag"

	"github.com/zpmjs/zpm/internal/linker"
)

// validateEntryGraph checks that the build plan's entries form a DAG:
// two lifecycle-script-bearing packages depending on each other (directly
// or through a chain) leaves the scheduler with no valid run order, unlike
// an ordinary npm dependency cycle elsewhere in the install, which
// treeHash already tolerates by treating the cyclic nodes' hash as
// unknown.
func validateEntryGraph(entries []linker.BuildRequest, deps map[int]map[int]struct{}) error {
	var graph dag.AcyclicGraph
	for idx, entry := range entries {
		graph.Add(vertexFor(idx, entry))
	}
	for idx, set := range deps {
		for dep := range set {
			graph.Connect(dag.BasicEdge(vertexFor(idx, entries[idx]), vertexFor(dep, entries[dep])))
		}
	}

	cycles := graph.Cycles()
	if len(cycles) == 0 {
		return nil
	}

	lines := make([]string, len(cycles))
	for i, cycle := range cycles {
		names := make([]string, len(cycle))
		for j, v := range cycle {
			names[j] = v.(string)
		}
		lines[i] = "\t" + strings.Join(names, " -> ")
	}
	return fmt.Errorf("build: cyclic build-script dependency detected:\n%s", strings.Join(lines, "\n"))
}

func vertexFor(idx int, entry linker.BuildRequest) string {
	return fmt.Sprintf("%s (%s)", entry.Locator.String(), entry.Cwd)
}
