package refdata

// BuildContextIndex flattens the context tree into a lookup map.
//
// The tree is walked once; each node receives the chain of its ancestors so
// that a leaf knows its institution, faculty, institute, course and class
// without further lookups. Nodes without an id are skipped along with their
// subtree.
func BuildContextIndex(root *RawContext) map[string]ContextNode {
	index := make(map[string]ContextNode)
	if root != nil {
		indexContext(index, *root, nil)
	}
	return index
}

func indexContext(index map[string]ContextNode, item RawContext, ancestors []ContextRef) {
	if item.ID == "" {
		return
	}

	ref := ContextRef{
		ID:   item.ID,
		Name: item.Name,
		Type: item.Type,
		// The CMS delivers German names only; EN falls back to the same value.
		DE: item.Name,
		EN: item.Name,
	}

	node := ContextNode{
		ContextRef: ref,
		Ancestors:  ancestors,
	}
	if p, ok := firstOfType(ancestors, TypeInstitution); ok {
		node.Institution = &p
	}
	if p, ok := firstOfType(ancestors, TypeFaculty); ok {
		node.Faculties = []ContextRef{p}
	}
	if p, ok := firstOfType(ancestors, TypeInstitute); ok {
		node.Institutes = []ContextRef{p}
	}
	if p, ok := firstOfType(ancestors, TypeCourse); ok {
		node.Courses = []ContextRef{p}
	}
	if p, ok := firstOfType(ancestors, TypeClass); ok {
		node.Classes = []ContextRef{p}
	}
	index[item.ID] = node

	// Capacity is clipped so siblings never share a backing array.
	chain := append(ancestors[:len(ancestors):len(ancestors)], ref)

	for _, children := range [][]RawContext{item.Faculties, item.Institutes, item.Courses, item.Classes} {
		for _, child := range children {
			indexContext(index, child, chain)
		}
	}
}

func firstOfType(chain []ContextRef, typ string) (ContextRef, bool) {
	for _, p := range chain {
		if p.Type == typ {
			return p, true
		}
	}
	return ContextRef{}, false
}
