package pex

import "github.com/vk/sweepgridgo/internal/param"

// All enumerates every tuple of n from a fresh traversal and leaves n reset.
func All(n Node) []param.List {
	n.Reset()
	defer n.Reset()

	var out []param.List
	for n.HasMore() {
		out = append(out, n.Next())
	}
	return out
}

// Headers returns the parameter names of a full traversal in first-seen order.
func Headers(n Node) []string {
	seen := map[string]bool{}
	var headers []string
	for _, tuple := range All(n) {
		for _, p := range tuple {
			if !seen[p.Name] {
				seen[p.Name] = true
				headers = append(headers, p.Name)
			}
		}
	}
	return headers
}
