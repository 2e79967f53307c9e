package downgrade

import "github.com/sidequest/modkit/internal/catalog"

// buildGraph indexes a flat diff index by its from_version, so each node's
// outgoing edges can be looked up directly during the breadth-first search.
func buildGraph(index catalog.DiffIndex) map[string][]catalog.VersionDiffs {
	edges := make(map[string][]catalog.VersionDiffs)
	for _, diff := range index {
		edges[diff.FromVersion] = append(edges[diff.FromVersion], diff)
	}
	return edges
}

// AllAccessible returns every version reachable from fromVersion, mapped to
// the shortest sequence of diffs (by edge count, ties broken by catalog
// order) needed to reach it. fromVersion itself is excluded from the result.
func AllAccessible(index catalog.DiffIndex, fromVersion string) map[string][]catalog.VersionDiffs {
	edges := buildGraph(index)

	predecessors := map[string][]catalog.VersionDiffs{fromVersion: {}}
	queue := []string{fromVersion}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		for _, diff := range edges[curr] {
			if _, seen := predecessors[diff.ToVersion]; seen {
				continue
			}
			path := append(append([]catalog.VersionDiffs{}, predecessors[curr]...), diff)
			predecessors[diff.ToVersion] = path
			queue = append(queue, diff.ToVersion)
		}
	}

	delete(predecessors, fromVersion)
	return predecessors
}
