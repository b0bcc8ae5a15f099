package config

import "context"

// Facade is a typed view rooted at a path inside the owner's tree (§4.2).
// The root facade is rooted at "sync" itself (the owner's tree IS that
// subtree); a per-service facade prepends "services", "<name>".
type Facade struct {
	owner *Owner
	base  []string
}

// NewFacade returns the root facade (rooted directly at the owner's tree).
func NewFacade(owner *Owner) *Facade {
	return &Facade{owner: owner}
}

// Service returns a facade scoped to this service's subtree.
func (f *Facade) Service(name string) *Facade {
	base := make([]string, 0, len(f.base)+2)
	base = append(base, f.base...)
	base = append(base, "services", name)
	return &Facade{owner: f.owner, base: base}
}

// Get reads the value at path (relative to the facade's base), returning
// def if any segment is missing.
func (f *Facade) Get(path []string, def interface{}) interface{} {
	node := navigate(f.owner.Snapshot(), append(append([]string{}, f.base...), path...))
	if node == nil {
		return def
	}
	return node
}

// Set writes value at path (relative to the facade's base) and persists.
func (f *Facade) Set(ctx context.Context, path []string, value interface{}) error {
	tree := clone(f.owner.Snapshot())
	setAt(tree, append(append([]string{}, f.base...), path...), value)
	return f.owner.Swap(ctx, tree)
}

// SetPatch merges patch's keys directly into the facade's base node
// (objectPatch form of set, §4.2).
func (f *Facade) SetPatch(ctx context.Context, patch Tree) error {
	tree := clone(f.owner.Snapshot())
	node := ensureMap(tree, f.base)
	for k, v := range patch {
		node[k] = v
	}
	return f.owner.Swap(ctx, tree)
}

// Clear wipes the facade's base node entirely (used to forget a service's
// subtree on Revoke, §4.5).
func (f *Facade) Clear(ctx context.Context) error {
	tree := clone(f.owner.Snapshot())
	removeAt(tree, f.base)
	return f.owner.Swap(ctx, tree)
}

// navigate walks path through tree, returning nil if any segment is
// missing or not itself a map when more segments remain.
func navigate(tree Tree, path []string) interface{} {
	var cur interface{} = tree
	for _, seg := range path {
		m, ok := cur.(Tree)
		if !ok {
			if mi, ok2 := cur.(map[string]interface{}); ok2 {
				m = mi
			} else {
				return nil
			}
		}
		v, ok := m[seg]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// ensureMap walks path through tree, creating intermediate maps as needed,
// and returns the map at path.
func ensureMap(tree Tree, path []string) Tree {
	cur := tree
	for _, seg := range path {
		next, ok := cur[seg].(Tree)
		if !ok {
			if mi, ok2 := cur[seg].(map[string]interface{}); ok2 {
				next = mi
			} else {
				next = Tree{}
			}
			cur[seg] = next
		}
		cur = next
	}
	return cur
}

// setAt writes value at path, creating intermediate maps as needed.
func setAt(tree Tree, path []string, value interface{}) {
	if len(path) == 0 {
		return
	}
	parent := ensureMap(tree, path[:len(path)-1])
	parent[path[len(path)-1]] = value
}

// removeAt deletes the key at path's tail from its parent map.
func removeAt(tree Tree, path []string) {
	if len(path) == 0 {
		return
	}
	parent := navigate(tree, path[:len(path)-1])
	m, ok := parent.(Tree)
	if !ok {
		return
	}
	delete(m, path[len(path)-1])
}
