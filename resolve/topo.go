package resolve

import "slices"

// cyclicNodes returns the nodes of a directed graph that lie on a cycle or
// between two cycles. edges[i] lists the successors of node i. An empty
// result means the graph is acyclic.
func cyclicNodes(edges [][]int) []int {
	n := len(edges)
	indeg := make([]int, n)
	outdeg := make([]int, n)
	preds := make([][]int, n)
	for from, tos := range edges {
		for _, to := range tos {
			indeg[to]++
			outdeg[from]++
			preds[to] = append(preds[to], from)
		}
	}

	removed := make([]bool, n)
	queue := make([]int, 0, n)
	for i := range n {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed[id] = true
		for _, to := range edges[id] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
		for _, from := range preds[id] {
			outdeg[from]--
		}
	}

	// Second pass from the sinks drops nodes that merely hang off a cycle.
	for i := range n {
		if !removed[i] && outdeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed[id] = true
		for _, from := range preds[id] {
			if removed[from] {
				continue
			}
			outdeg[from]--
			if outdeg[from] == 0 {
				queue = append(queue, from)
			}
		}
	}

	var cycles []int
	for i := range n {
		if !removed[i] {
			cycles = append(cycles, i)
		}
	}
	slices.Sort(cycles)
	return cycles
}
