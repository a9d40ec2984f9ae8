// Package routing implements the Routing index (spec.md §4.4, C4): an
// O(1) map from (event_kind, tool_name) to the union of required signal
// names and an applicability flag, used to gate signal fetching and
// short-circuit events with no applicable policies. It does not gate
// rule execution inside the sandbox — the sandbox always evaluates
// every policy via the collection entry point.
package routing

import "github.com/cupcake-run/cupcake/pkg/metadata"

// policySet is a set of policy package names.
type policySet map[string]struct{}

func (s policySet) add(name string) {
	if s == nil {
		return
	}
	s[name] = struct{}{}
}

func (s policySet) slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// eventRoute is the per-event_kind routing entry (spec.md §4.4).
type eventRoute struct {
	byTool      map[string]policySet
	wildcard    policySet
	signalUnion map[string]struct{}
}

// Index is the compiled routing index, built once at load/reload time
// (spec.md §4.4) and shared read-only across concurrent evaluations.
type Index struct {
	routes map[string]*eventRoute
}

// Build constructs an Index from a policy set's parsed metadata.
func Build(all []metadata.Metadata) *Index {
	idx := &Index{routes: make(map[string]*eventRoute)}
	for _, md := range all {
		for _, eventKind := range md.RequiredEvents {
			route := idx.routeFor(eventKind)
			if len(md.RequiredTools) == 0 {
				route.wildcard.add(md.PackageName)
			} else {
				for _, tool := range md.RequiredTools {
					set, ok := route.byTool[tool]
					if !ok {
						set = make(policySet)
						route.byTool[tool] = set
					}
					set.add(md.PackageName)
				}
			}
			for _, sig := range md.RequiredSignals {
				route.signalUnion[sig] = struct{}{}
			}
		}
	}
	return idx
}

func (idx *Index) routeFor(eventKind string) *eventRoute {
	r, ok := idx.routes[eventKind]
	if !ok {
		r = &eventRoute{
			byTool:      make(map[string]policySet),
			wildcard:    make(policySet),
			signalUnion: make(map[string]struct{}),
		}
		idx.routes[eventKind] = r
	}
	return r
}

// Lookup implements the C4 contract: given an event_kind and optional
// tool_name, returns the union of required signal names and whether any
// policy applies at all.
func (idx *Index) Lookup(eventKind, toolName string) (signalUnion []string, applicable bool) {
	route, ok := idx.routes[eventKind]
	if !ok {
		return nil, false
	}

	applicable = len(route.wildcard) > 0
	if !applicable && toolName != "" {
		_, applicable = route.byTool[toolName]
	}
	if !applicable && toolName == "" {
		applicable = len(route.byTool) > 0 || len(route.wildcard) > 0
	}

	signalUnion = make([]string, 0, len(route.signalUnion))
	for s := range route.signalUnion {
		signalUnion = append(signalUnion, s)
	}
	return signalUnion, applicable
}

// PoliciesFor returns the set of policy package names applicable to a
// given event_kind/tool_name pair (wildcard policies plus any tool-keyed
// policies).
func (idx *Index) PoliciesFor(eventKind, toolName string) []string {
	route, ok := idx.routes[eventKind]
	if !ok {
		return nil
	}
	set := make(policySet)
	for k := range route.wildcard {
		set.add(k)
	}
	if toolName != "" {
		for k := range route.byTool[toolName] {
			set.add(k)
		}
	}
	return set.slice()
}

// EventKinds returns every event_kind mentioned by any loaded policy's
// metadata, used by the routing-completeness property test (spec.md §8).
func (idx *Index) EventKinds() []string {
	out := make([]string, 0, len(idx.routes))
	for k := range idx.routes {
		out = append(out, k)
	}
	return out
}
